package kernel

import (
	"runtime"
	"sync/atomic"
)

// Mutual exclusion spin lock. There is no owner: a lock taken by the
// scheduler may be released by the process it switched to, and the
// other way around.
//
// Waiters are served in ticket order, so a process that releases and
// re-acquires its own lock queues behind anyone already spinning on it.
type spinlock struct {
	next    atomic.Uint32 // next ticket to hand out
	serving atomic.Uint32 // ticket that owns the lock
	name    string
}

func initlock(lk *spinlock, name string) {
	lk.name = name
	lk.next.Store(0)
	lk.serving.Store(0)
}

// Acquire the lock.
// Loops (spins) until our ticket is served.
func acquire(lk *spinlock) {
	ticket := lk.next.Add(1) - 1
	for lk.serving.Load() != ticket {
		runtime.Gosched()
	}
}

// Release the lock.
func release(lk *spinlock) {
	if !holding(lk) {
		panic("release " + lk.name)
	}
	lk.serving.Add(1)
}

// Check whether the lock is held by anyone.
func holding(lk *spinlock) bool {
	return lk.next.Load() != lk.serving.Load()
}
