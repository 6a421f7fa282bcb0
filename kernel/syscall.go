package kernel

import (
	"context"
	"errors"
	"strconv"

	"xv6kernel/internal/tracing"
)

// System call numbers
const (
	SYS_fork        = 1
	SYS_exit        = 2
	SYS_wait        = 3
	SYS_kill        = 6
	SYS_getpid      = 11
	SYS_sbrk        = 12
	SYS_sleep       = 13
	SYS_uptime      = 14
	SYS_waitx       = 22
	SYS_getSysCount = 23
	SYS_settickets  = 24
	SYS_sigalarm    = 25
	SYS_sigreturn   = 26
	SYS_pagefaults  = 27

	NSYSCALL = 32
)

var errSyscall = errors.New("system call failed")

type syscallEntry struct {
	name string
	fn   func(k *Kernel, p *Proc) uint64
}

// syscalls is filled in by init: the handlers reach back into the
// dispatcher through fork and exit.
var syscalls [NSYSCALL]syscallEntry

func init() {
	syscalls = [NSYSCALL]syscallEntry{
		SYS_fork:        {"fork", sysFork},
		SYS_exit:        {"exit", sysExit},
		SYS_wait:        {"wait", sysWait},
		SYS_kill:        {"kill", sysKill},
		SYS_getpid:      {"getpid", sysGetpid},
		SYS_sbrk:        {"sbrk", sysSbrk},
		SYS_sleep:       {"sleep", sysSleep},
		SYS_uptime:      {"uptime", sysUptime},
		SYS_waitx:       {"waitx", sysWaitx},
		SYS_getSysCount: {"getSysCount", sysGetSysCount},
		SYS_settickets:  {"settickets", sysSettickets},
		SYS_sigalarm:    {"sigalarm", sysSigalarm},
		SYS_sigreturn:   {"sigreturn", sysSigreturn},
		SYS_pagefaults:  {"pagefaults", sysPagefaults},
	}
}

// Fetch the nth system call argument.
func argraw(p *Proc, n int) uint64 {
	tf := p.trapframe
	switch n {
	case 0:
		return tf.A0
	case 1:
		return tf.A1
	case 2:
		return tf.A2
	case 3:
		return tf.A3
	case 4:
		return tf.A4
	case 5:
		return tf.A5
	}
	panic("argraw")
}

func argint(p *Proc, n int) int { return int(int64(argraw(p, n))) }

func argaddr(p *Proc, n int) uint64 { return argraw(p, n) }

func retval(v int) uint64 { return uint64(int64(v)) }

func (k *Kernel) syscall(p *Proc) {
	num := int(p.trapframe.A7)
	if num <= 0 || num >= NSYSCALL || syscalls[num].fn == nil {
		k.printf("%d %s: unknown sys call %d\n", p.pid, p.name, num)
		p.trapframe.A0 = retval(-1)
		return
	}
	entry := syscalls[num]
	k.syscounts[num].Add(1)

	_, span := tracing.StartSpan(k.spanContext(), "syscall."+entry.name, "INTERNAL")
	span.WithAttributes(map[string]string{
		"pid":  strconv.Itoa(p.pid),
		"name": p.name,
	})
	var ret uint64
	// exit never returns; its span ends when the goroutine does.
	defer func() {
		var err error
		if int64(ret) < 0 {
			err = errSyscall
		}
		tracing.EndSpan(span, err)
	}()

	ret = entry.fn(k, p)
	p.trapframe.A0 = ret
}

func (k *Kernel) spanContext() context.Context {
	if k.ctx == nil {
		return context.Background()
	}
	return k.ctx
}

// getSysCount reports how often the system call selected by the single
// bit in mask was made, and resets every counter.
func (k *Kernel) getSysCount(mask int) (int64, bool) {
	num := -1
	for i := 0; i < NSYSCALL; i++ {
		if mask == 1<<i {
			num = i
			break
		}
	}
	if num < 0 {
		return 0, false
	}
	count := k.syscounts[num].Load()
	for i := range k.syscounts {
		k.syscounts[i].Store(0)
	}
	return count, true
}
