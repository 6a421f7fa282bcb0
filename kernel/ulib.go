package kernel

// User-side system call stubs. Each loads the call number and arguments
// into the trapframe and traps into the kernel.

func (p *Proc) ecall(num int, args ...uint64) int {
	tf := p.trapframe
	regs := []*uint64{&tf.A0, &tf.A1, &tf.A2, &tf.A3, &tf.A4, &tf.A5}
	for i, arg := range args {
		*regs[i] = arg
	}
	tf.A7 = uint64(num)
	p.k.usertrap(p, causeEcall, 0)
	return int(int64(p.trapframe.A0))
}

// Fork creates a child that shares this process's memory copy-on-write
// and runs child. A nil child exits at once with status 0. Returns the
// child's pid, or -1.
func (p *Proc) Fork(child Task) int {
	p.forkTask = child
	return p.ecall(SYS_fork)
}

// Exit ends the process with status. It does not return.
func (p *Proc) Exit(status int) {
	p.ecall(SYS_exit, retval(status))
	panic("exit returned")
}

// Wait reaps a child, storing its exit status as an int32 at addr when
// addr is not 0. Returns the child's pid or -1.
func (p *Proc) Wait(addr uint64) int {
	return p.ecall(SYS_wait, addr)
}

// Waitx is Wait that also stores the child's waiting and running ticks
// as uint32 values at waddr and raddr.
func (p *Proc) Waitx(addr, waddr, raddr uint64) int {
	return p.ecall(SYS_waitx, addr, waddr, raddr)
}

func (p *Proc) Kill(pid int) int { return p.ecall(SYS_kill, retval(pid)) }

func (p *Proc) Getpid() int { return p.ecall(SYS_getpid) }

// Sbrk grows memory by n bytes and returns the old size.
func (p *Proc) Sbrk(n int) int { return p.ecall(SYS_sbrk, retval(n)) }

func (p *Proc) Sleep(n int) int { return p.ecall(SYS_sleep, retval(n)) }

func (p *Proc) Uptime() int { return p.ecall(SYS_uptime) }

func (p *Proc) SetTickets(n int) int { return p.ecall(SYS_settickets, retval(n)) }

// SigAlarm runs handler after every interval ticks of CPU time. The
// handler must finish with SigReturn. An interval of 0 turns alarms off.
func (p *Proc) SigAlarm(interval int, handler Task) int {
	p.alarmTask = handler
	return p.ecall(SYS_sigalarm, retval(interval))
}

func (p *Proc) SigReturn() int { return p.ecall(SYS_sigreturn) }

func (p *Proc) GetSysCount(mask int) int { return p.ecall(SYS_getSysCount, retval(mask)) }

// PageFaults reports copy-on-write faults serviced machine-wide.
func (p *Proc) PageFaults() int { return p.ecall(SYS_pagefaults) }

// Pid reports the process id without a system call.
func (p *Proc) Pid() int { return p.pid }

func (p *Proc) Name() string { return p.name }

// Size reports the process's memory size in bytes.
func (p *Proc) Size() uint64 { return p.sz }
