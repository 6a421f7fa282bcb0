package kernel

import "fmt"

// Policy decides which RUNNABLE process a CPU runs next.
//
// SelectNext returns a RUNNABLE process with its lock held, or nil when
// nothing is runnable. OnBlock is called with p.lock held after the
// process hands the CPU back. Admit, OnWake and Remove are called with
// p.lock held.
type Policy interface {
	Admit(p *Proc)
	SelectNext(c *CPU) *Proc
	OnBlock(p *Proc)
	OnWake(p *Proc)
	Remove(p *Proc)
}

func newPolicy(k *Kernel) (Policy, error) {
	switch k.cfg.Policy {
	case PolicyRR:
		return newRoundRobin(k), nil
	case PolicyMLFQ:
		return newMLFQ(k), nil
	case PolicyLottery:
		return newLottery(k), nil
	}
	return nil, fmt.Errorf("unknown scheduling policy %q", k.cfg.Policy)
}

// roundRobin scans the table in slot order, resuming after the slot
// each CPU ran last.
type roundRobin struct {
	k    *Kernel
	next []int
}

func newRoundRobin(k *Kernel) *roundRobin {
	return &roundRobin{k: k, next: make([]int, len(k.cpus))}
}

func (r *roundRobin) SelectNext(c *CPU) *Proc {
	n := len(r.k.proc)
	start := r.next[c.id]
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		p := &r.k.proc[idx]
		acquire(&p.lock)
		if p.state == RUNNABLE {
			r.next[c.id] = (idx + 1) % n
			return p
		}
		release(&p.lock)
	}
	return nil
}

func (r *roundRobin) Admit(*Proc)   {}
func (r *roundRobin) OnBlock(*Proc) {}
func (r *roundRobin) OnWake(*Proc)  {}
func (r *roundRobin) Remove(*Proc)  {}
