package kernel

// Long-term locks for processes
type sleeplock struct {
	locked bool     // Is the lock held?
	lk     spinlock // spinlock protecting this sleep lock

	// For debugging:
	name string // Name of lock.
	pid  int    // Process holding lock
}

func initsleeplock(lk *sleeplock, name string) {
	initlock(&lk.lk, "sleep lock")
	lk.name = name
	lk.locked = false
	lk.pid = 0
}

func (k *Kernel) acquiresleep(p *Proc, lk *sleeplock) {
	acquire(&lk.lk)
	for lk.locked {
		k.sleep(p, lk, &lk.lk)
	}
	lk.locked = true
	lk.pid = p.pid
	release(&lk.lk)
}

func (k *Kernel) releasesleep(p *Proc, lk *sleeplock) {
	acquire(&lk.lk)
	lk.locked = false
	lk.pid = 0
	k.wakeup(p, lk)
	release(&lk.lk)
}

func holdingsleep(p *Proc, lk *sleeplock) bool {
	acquire(&lk.lk)
	r := lk.locked && lk.pid == p.pid
	release(&lk.lk)
	return r
}
