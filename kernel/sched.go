package kernel

import (
	"context"
	"time"
)

// Per-CPU process scheduler.
// Each CPU calls scheduler() after setting itself up.
// Scheduler never returns until ctx is done. It loops, doing:
//   - choose a process to run.
//   - swtch to start running that process.
//   - eventually that process transfers control
//     via swtch back to the scheduler.
func (k *Kernel) scheduler(ctx context.Context, c *CPU) {
	c.proc = nil
	for {
		if ctx.Err() != nil {
			return
		}

		p := k.policy.SelectNext(c)
		if p == nil {
			k.idle(ctx)
			continue
		}

		// Switch to chosen process. It is the process's job
		// to release its lock and then reacquire it
		// before jumping back to us.
		p.state = RUNNING
		p.cpu = c
		c.proc = p
		swtch(&c.context, &p.context)

		// Process is done running for now.
		// It should have changed its p.state before coming back.
		c.proc = nil
		k.policy.OnBlock(p)
		release(&p.lock)
	}
}

// idle parks a CPU with nothing to run until a process may have become
// runnable.
func (k *Kernel) idle(ctx context.Context) {
	timer := time.NewTimer(k.cfg.IdlePoll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-k.kick:
	case <-timer.C:
	}
}

// signal nudges one idle CPU.
func (k *Kernel) signal() {
	select {
	case k.kick <- struct{}{}:
	default:
	}
}
