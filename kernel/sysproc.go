package kernel

import (
	"encoding/binary"
	"errors"
)

func sysExit(k *Kernel, p *Proc) uint64 {
	k.exit(p, argint(p, 0))
	return 0 // not reached
}

func sysGetpid(k *Kernel, p *Proc) uint64 {
	return retval(p.pid)
}

func sysFork(k *Kernel, p *Proc) uint64 {
	child := p.forkTask
	p.forkTask = nil
	pid, err := k.fork(p, child)
	if err != nil {
		k.logger.Warn("fork failed", "pid", p.pid, "error", err)
		return retval(-1)
	}
	k.logger.Debug("fork", "parent", p.pid, "child", pid)
	return retval(pid)
}

func sysWait(k *Kernel, p *Proc) uint64 {
	pid, err := k.wait(p, argaddr(p, 0))
	if err != nil {
		return retval(-1)
	}
	return retval(pid)
}

func sysWaitx(k *Kernel, p *Proc) uint64 {
	addr := argaddr(p, 0)
	waddr := argaddr(p, 1)
	raddr := argaddr(p, 2)
	pid, wtime, rtime, err := k.waitx(p, addr)
	if err != nil {
		return retval(-1)
	}
	var buf [4]byte
	for _, out := range []struct {
		addr uint64
		val  uint64
	}{{waddr, wtime}, {raddr, rtime}} {
		if out.addr == 0 {
			continue
		}
		binary.LittleEndian.PutUint32(buf[:], uint32(out.val))
		if err := k.kmem.CopyOut(p.pagetable, out.addr, buf[:]); err != nil {
			return retval(-1)
		}
	}
	return retval(pid)
}

func sysSbrk(k *Kernel, p *Proc) uint64 {
	n := argint(p, 0)
	addr := p.sz
	if err := k.growproc(p, n); err != nil {
		return retval(-1)
	}
	return addr
}

func sysSleep(k *Kernel, p *Proc) uint64 {
	n := uint64(argint(p, 0))
	if argint(p, 0) < 0 {
		n = 0
	}
	acquire(&k.tickslock)
	ticks0 := k.Ticks()
	for k.Ticks()-ticks0 < n {
		if k.killed(p) {
			release(&k.tickslock)
			return retval(-1)
		}
		k.sleep(p, &k.ticks, &k.tickslock)
	}
	release(&k.tickslock)
	return 0
}

func sysKill(k *Kernel, p *Proc) uint64 {
	if err := k.kill(argint(p, 0)); err != nil {
		return retval(-1)
	}
	return 0
}

// return how many clock tick interrupts have occurred
// since start.
func sysUptime(k *Kernel, p *Proc) uint64 {
	return k.Ticks()
}

func sysGetSysCount(k *Kernel, p *Proc) uint64 {
	count, ok := k.getSysCount(argint(p, 0))
	if !ok {
		return retval(-1)
	}
	return uint64(count)
}

func sysSettickets(k *Kernel, p *Proc) uint64 {
	n, err := k.settickets(p, argint(p, 0))
	if err != nil {
		return retval(-1)
	}
	return retval(n)
}

func (k *Kernel) settickets(p *Proc, n int) (int, error) {
	if n < 1 {
		return 0, ErrBadTickets
	}
	acquire(&p.lock)
	p.tickets = n
	release(&p.lock)
	return n, nil
}

func sysSigalarm(k *Kernel, p *Proc) uint64 {
	interval := argint(p, 0)
	handler := p.alarmTask
	p.alarmTask = nil
	if err := k.sigalarm(p, interval, handler); err != nil {
		return retval(-1)
	}
	return 0
}

func (k *Kernel) sigalarm(p *Proc, interval int, handler Task) error {
	if interval < 0 {
		return errors.New("negative alarm interval")
	}
	acquire(&p.lock)
	defer release(&p.lock)
	if p.alarmPending {
		return ErrAlarmPending
	}
	if handler == nil {
		interval = 0
	}
	p.alarmInterval = interval
	p.alarmHandler = handler
	p.alarmTicks = 0
	return nil
}

func sysSigreturn(k *Kernel, p *Proc) uint64 {
	acquire(&p.lock)
	if !p.alarmPending || p.backup == nil {
		release(&p.lock)
		return retval(-1)
	}
	*p.trapframe = *p.backup
	p.backup = nil
	p.alarmPending = false
	p.alarmTicks = 0
	release(&p.lock)
	return p.trapframe.A0
}

func sysPagefaults(k *Kernel, p *Proc) uint64 {
	return k.kmem.CowFaults()
}
