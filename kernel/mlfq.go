package kernel

// mlfq is a multi-level feedback queue. Level 0 has the highest
// priority. A process that uses up its level's timeslice in turns drops
// one level; one that wakes from sleep, or ages while sleeping, climbs
// one level.
//
// Each CPU works through a round: a snapshot of the queues taken level
// by level. Runnable entries are run, sleeping entries age.
type mlfq struct {
	k      *Kernel
	lock   spinlock // guards queues and every p.queue
	queues [][]*Proc
	slices []int
	aging  int
	rounds []mlfqRound
}

type mlfqRound struct {
	procs []*Proc
	next  int
}

func newMLFQ(k *Kernel) *mlfq {
	q := &mlfq{
		k:      k,
		queues: make([][]*Proc, len(k.cfg.MLFQ.Timeslices)),
		slices: k.cfg.MLFQ.Timeslices,
		aging:  k.cfg.MLFQ.Aging,
		rounds: make([]mlfqRound, len(k.cpus)),
	}
	initlock(&q.lock, "mlfq")
	return q
}

// caller holds q.lock.
func (q *mlfq) enqueue(level int, p *Proc) {
	q.queues[level] = append(q.queues[level], p)
	p.queue = level
}

// caller holds q.lock.
func (q *mlfq) remove(level int, p *Proc) bool {
	queue := q.queues[level]
	for i, pp := range queue {
		if pp == p {
			q.queues[level] = append(queue[:i], queue[i+1:]...)
			return true
		}
	}
	return false
}

func (q *mlfq) move(p *Proc, delta int) {
	acquire(&q.lock)
	defer release(&q.lock)
	level := p.queue + delta
	if level < 0 || level >= len(q.queues) {
		return
	}
	if q.remove(p.queue, p) {
		q.enqueue(level, p)
	}
}

func (q *mlfq) promote(p *Proc) { q.move(p, -1) }

func (q *mlfq) demote(p *Proc) { q.move(p, 1) }

func (q *mlfq) Admit(p *Proc) {
	acquire(&q.lock)
	defer release(&q.lock)
	if p.queue < 0 || p.queue >= len(q.queues) {
		p.queue = 0
	}
	q.remove(p.queue, p)
	q.enqueue(p.queue, p)
}

func (q *mlfq) Remove(p *Proc) {
	acquire(&q.lock)
	defer release(&q.lock)
	q.remove(p.queue, p)
	p.queue = 0
}

func (q *mlfq) OnWake(p *Proc) { q.promote(p) }

func (q *mlfq) OnBlock(p *Proc) {
	acquire(&q.lock)
	level := p.queue
	release(&q.lock)

	p.ticksUsed[level]++
	if p.ticksUsed[level] >= q.slices[level] {
		p.ticksUsed[level] = 0
		q.demote(p)
	}
}

// observe looks at one round entry with p.lock held. It reports whether
// p can run, aging p if it is asleep.
func (q *mlfq) observe(p *Proc) bool {
	switch p.state {
	case RUNNABLE:
		return true
	case SLEEPING:
		p.waitTime++
		if p.waitTime >= q.aging {
			p.waitTime = 0
			q.promote(p)
		}
	}
	return false
}

func (q *mlfq) snapshot() []*Proc {
	acquire(&q.lock)
	defer release(&q.lock)
	var procs []*Proc
	for _, queue := range q.queues {
		procs = append(procs, queue...)
	}
	return procs
}

func (q *mlfq) SelectNext(c *CPU) *Proc {
	r := &q.rounds[c.id]
	for attempt := 0; attempt < 2; attempt++ {
		for r.next < len(r.procs) {
			p := r.procs[r.next]
			r.next++
			acquire(&p.lock)
			if q.observe(p) {
				return p
			}
			release(&p.lock)
		}
		r.procs = q.snapshot()
		r.next = 0
	}
	return nil
}

// level reports the queue p sits in.
func (q *mlfq) level(p *Proc) int {
	acquire(&q.lock)
	defer release(&q.lock)
	return p.queue
}
