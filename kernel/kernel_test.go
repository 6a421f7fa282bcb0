package kernel

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() Config {
	cfg := *DefaultConfig()
	cfg.NProc = 16
	cfg.NCPU = 2
	cfg.MemPages = 256
	cfg.TickInterval = 0
	cfg.IdlePoll = time.Millisecond
	return cfg
}

func newTestKernel(t *testing.T, cfg Config) (*Kernel, *lockedBuffer) {
	t.Helper()
	console := &lockedBuffer{}
	k, err := New(cfg,
		WithConsole(console),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return k, console
}

// boot runs body as init, then keeps init reaping orphans.
func boot(t *testing.T, cfg Config, body Task) (*Kernel, *lockedBuffer) {
	t.Helper()
	k, console := newTestKernel(t, cfg)
	_, err := k.UserInit("init", func(p *Proc) {
		body(p)
		for {
			if p.Wait(0) < 0 {
				p.Sleep(1)
			}
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	k.Start(ctx)
	return k, console
}

func await[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func (k *Kernel) stateOf(pid int) procstate {
	for i := range k.proc {
		p := &k.proc[i]
		acquire(&p.lock)
		if p.pid == pid && p.state != UNUSED {
			state := p.state
			release(&p.lock)
			return state
		}
		release(&p.lock)
	}
	return UNUSED
}

func (k *Kernel) parentOf(pid int) *Proc {
	acquire(&k.waitLock)
	defer release(&k.waitLock)
	for i := range k.proc {
		p := &k.proc[i]
		acquire(&p.lock)
		match := p.pid == pid && p.state != UNUSED
		release(&p.lock)
		if match {
			return p.parent
		}
	}
	return nil
}

// addRunnable allocates a process and hands it to the policy without
// starting the machine.
func addRunnable(t *testing.T, k *Kernel) *Proc {
	t.Helper()
	p, err := k.allocproc()
	require.NoError(t, err)
	p.state = RUNNABLE
	k.policy.Admit(p)
	release(&p.lock)
	return p
}
