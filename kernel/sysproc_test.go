package kernel

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xv6kernel/kernel/mem"
)

func TestUnknownSyscall(t *testing.T) {
	done := make(chan int, 1)
	_, console := boot(t, testConfig(), func(p *Proc) {
		done <- p.ecall(99)
	})
	assert.Equal(t, -1, await(t, done))
	assert.Contains(t, console.String(), "1 init: unknown sys call 99\n")
}

func TestGetSysCount(t *testing.T) {
	done := make(chan []int, 1)
	boot(t, testConfig(), func(p *Proc) {
		p.Getpid()
		p.Getpid()
		first := p.GetSysCount(1 << SYS_getpid)
		second := p.GetSysCount(1 << SYS_getpid)
		bad := p.GetSysCount(3)
		done <- []int{first, second, bad}
	})
	assert.Equal(t, []int{2, 0, -1}, await(t, done))
}

func TestSetTicketsSyscall(t *testing.T) {
	done := make(chan []int, 1)
	k, _ := boot(t, testConfig(), func(p *Proc) {
		done <- []int{p.SetTickets(0), p.SetTickets(5)}
	})
	assert.Equal(t, []int{-1, 5}, await(t, done))
	assert.Equal(t, 5, k.Procs()[0].Tickets)
}

func TestSbrk(t *testing.T) {
	type result struct {
		grow, shrink, bad int
		seen              string
		size              uint64
	}
	done := make(chan result, 1)
	boot(t, testConfig(), func(p *Proc) {
		var r result
		r.grow = p.Sbrk(2 * int(mem.PGSIZE))
		p.Store(2*mem.PGSIZE+100, []byte("heap"))
		r.seen = string(p.Load(2*mem.PGSIZE+100, 4))
		r.shrink = p.Sbrk(-2 * int(mem.PGSIZE))
		r.bad = p.Sbrk(-8 * int(mem.PGSIZE))
		r.size = p.Size()
		done <- r
	})

	r := await(t, done)
	assert.Equal(t, int(mem.PGSIZE), r.grow)
	assert.Equal(t, "heap", r.seen)
	assert.Equal(t, 3*int(mem.PGSIZE), r.shrink)
	assert.Equal(t, -1, r.bad)
	assert.Equal(t, mem.PGSIZE, r.size)
}

func TestBadAccessKillsProcess(t *testing.T) {
	type result struct {
		pid, got, status int
	}
	done := make(chan result, 1)
	boot(t, testConfig(), func(p *Proc) {
		var r result
		r.pid = p.Fork(func(c *Proc) {
			c.Store(64*mem.PGSIZE, []byte("x"))
			c.Exit(0)
		})
		r.got = p.Wait(32)
		r.status = status(p, 32)
		done <- r
	})

	r := await(t, done)
	assert.Equal(t, r.pid, r.got)
	assert.Equal(t, -1, r.status)
}

func TestSigAlarm(t *testing.T) {
	var fired atomic.Int32
	type result struct {
		early, negative, fired int
	}
	done := make(chan result, 1)
	k, _ := boot(t, testConfig(), func(p *Proc) {
		var r result
		r.early = p.SigReturn()
		r.negative = p.SigAlarm(-1, nil)
		p.SigAlarm(2, func(h *Proc) {
			fired.Add(1)
			h.SigReturn()
		})
		for fired.Load() < 2 {
			p.Checkpoint()
		}
		p.SigAlarm(0, nil)
		r.fired = int(fired.Load())
		done <- r
	})

	var r result
	require.Eventually(t, func() bool {
		k.Tick()
		select {
		case r = <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, -1, r.early)
	assert.Equal(t, -1, r.negative)
	assert.Equal(t, 2, r.fired)
}

func TestSigReturnRestoresTrapframe(t *testing.T) {
	k, _ := newTestKernel(t, testConfig())
	p, err := k.UserInit("init", nil)
	require.NoError(t, err)

	require.NoError(t, k.sigalarm(p, 1, func(*Proc) {}))
	p.trapframe.Epc = 0x40
	p.trapframe.A0 = 11
	p.alarmTicks = 1
	k.alarm(p)
	assert.True(t, p.alarmPending)

	p.trapframe.Epc = 0x99
	p.trapframe.A0 = 0
	assert.ErrorIs(t, k.sigalarm(p, 3, nil), ErrAlarmPending)
	assert.Equal(t, uint64(11), sysSigreturn(k, p))
	assert.Equal(t, uint64(0x40), p.trapframe.Epc)
	assert.False(t, p.alarmPending)
}
