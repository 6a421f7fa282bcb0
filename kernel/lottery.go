package kernel

// lottery draws a winning ticket among RUNNABLE processes and runs its
// holder. Killed processes hold no tickets; they run ahead of the draw
// so they can unwind.
type lottery struct {
	k    *Kernel
	lock spinlock // protects rng
	rng  *lcg
}

func newLottery(k *Kernel) *lottery {
	l := &lottery{k: k, rng: newLCG(k.cfg.Lottery.Seed)}
	initlock(&l.lock, "lottery")
	return l
}

func (l *lottery) draw(total int) int {
	acquire(&l.lock)
	defer release(&l.lock)
	return int(l.rng.next() % uint32(total))
}

func (l *lottery) SelectNext(c *CPU) *Proc {
	procs := l.k.proc

	for i := range procs {
		p := &procs[i]
		acquire(&p.lock)
		if p.state == RUNNABLE && p.killed {
			return p
		}
		release(&p.lock)
	}

	total := 0
	for i := range procs {
		p := &procs[i]
		acquire(&p.lock)
		if p.state == RUNNABLE && !p.killed {
			total += p.tickets
		}
		release(&p.lock)
	}
	if total == 0 {
		return nil
	}

	winner := l.draw(total)
	current := 0
	for i := range procs {
		p := &procs[i]
		acquire(&p.lock)
		if p.state == RUNNABLE && !p.killed {
			if winner < current+p.tickets {
				return p
			}
			current += p.tickets
		}
		release(&p.lock)
	}
	// the table changed since the count; draw again next time.
	return nil
}

func (l *lottery) Admit(*Proc)   {}
func (l *lottery) OnBlock(*Proc) {}
func (l *lottery) OnWake(*Proc)  {}
func (l *lottery) Remove(*Proc)  {}
