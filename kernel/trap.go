package kernel

import (
	"context"
	"time"

	"xv6kernel/kernel/mem"
)

// scause values delivered to usertrap.
const (
	causeTimer          = 0x8000000000000005
	causeEcall          = 8
	causeLoadPageFault  = 13
	causeStorePageFault = 15
)

func (k *Kernel) clock(ctx context.Context) {
	ticker := time.NewTicker(k.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.clockintr()
		}
	}
}

// Tick delivers one timer interrupt.
func (k *Kernel) Tick() { k.clockintr() }

// Ticks reports timer interrupts since boot.
func (k *Kernel) Ticks() uint64 { return k.ticks.Load() }

func (k *Kernel) clockintr() {
	acquire(&k.tickslock)
	k.ticks.Add(1)
	k.updateTime()
	k.wakeup(nil, &k.ticks)
	release(&k.tickslock)
}

// updateTime charges the tick to every running process and asks it to
// give up the CPU at its next trap.
func (k *Kernel) updateTime() {
	for i := range k.proc {
		p := &k.proc[i]
		acquire(&p.lock)
		if p.state == RUNNING {
			p.rtime++
			if p.alarmInterval > 0 {
				p.alarmTicks++
			}
			p.resched.Store(true)
		}
		release(&p.lock)
	}
}

// handle an interrupt, exception, or system call from user space.
func (k *Kernel) usertrap(p *Proc, scause, stval uint64) {
	whichDev := 0

	switch scause {
	case causeEcall:
		// system call

		if k.killed(p) {
			k.exit(p, -1)
		}

		// sepc points to the ecall instruction,
		// but we want to return to the next instruction.
		p.trapframe.Epc += 4

		k.syscall(p)
	case causeStorePageFault:
		if err := k.kmem.CowFault(p.pagetable, stval); err != nil {
			k.printf("usertrap(): page fault pid=%d stval=%#x: %v\n", p.pid, stval, err)
			k.setkilled(p)
		}
	case causeTimer:
		whichDev = 2
	default:
		k.printf("usertrap(): unexpected scause %#x pid=%d\n", scause, p.pid)
		k.printf("            sepc=%#x stval=%#x\n", p.trapframe.Epc, stval)
		k.setkilled(p)
	}

	if k.killed(p) {
		k.exit(p, -1)
	}

	// give up the CPU if this is a timer interrupt.
	if whichDev == 2 {
		k.alarm(p)
		k.yield(p)
	}
}

// alarm runs p's alarm handler once interval ticks of running have
// passed, with the trapframe saved for sigreturn.
func (k *Kernel) alarm(p *Proc) {
	acquire(&p.lock)
	fire := p.alarmInterval > 0 && !p.alarmPending && p.alarmTicks >= p.alarmInterval
	var handler Task
	if fire {
		p.alarmTicks = 0
		p.alarmPending = true
		backup := *p.trapframe
		p.backup = &backup
		handler = p.alarmHandler
	}
	release(&p.lock)

	if fire && handler != nil {
		handler(p)
	}
}

// Checkpoint is a preemption point for user code: it takes a pending
// timer interrupt and exits if the process was killed.
func (p *Proc) Checkpoint() {
	if p.resched.Swap(false) {
		p.k.usertrap(p, causeTimer, 0)
		return
	}
	if p.k.killed(p) {
		p.k.exit(p, -1)
	}
}

// Yield gives up the CPU as if the timer had fired.
func (p *Proc) Yield() {
	p.resched.Store(false)
	p.k.usertrap(p, causeTimer, 0)
}

// Store writes data at user address va. A store to a shared page takes
// a copy-on-write fault; any other bad access kills the process.
func (p *Proc) Store(va uint64, data []byte) {
	for len(data) > 0 {
		va0 := mem.PGROUNDDOWN(va)
		pa, fault := p.k.kmem.Translate(p.pagetable, va0, true)
		if fault {
			p.k.usertrap(p, causeStorePageFault, va)
			continue
		}
		n := copy(p.k.kmem.Page(pa)[va-va0:], data)
		data = data[n:]
		va += uint64(n)
	}
}

// Load reads n bytes from user address va.
func (p *Proc) Load(va uint64, n int) []byte {
	out := make([]byte, 0, n)
	for len(out) < n {
		va0 := mem.PGROUNDDOWN(va)
		pa, fault := p.k.kmem.Translate(p.pagetable, va0, false)
		if fault {
			p.k.usertrap(p, causeLoadPageFault, va)
			continue
		}
		page := p.k.kmem.Page(pa)[va-va0:]
		if rest := n - len(out); len(page) > rest {
			page = page[:rest]
		}
		out = append(out, page...)
		va += uint64(len(page))
	}
	return out
}
