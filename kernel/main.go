// Package kernel is a hosted xv6-style kernel core: a process table with
// fork, exit, wait and kill, sleep/wakeup, pluggable CPU scheduling and
// copy-on-write address spaces over a simulated physical memory.
//
// Every process is a goroutine running a Task and every CPU is a
// scheduler goroutine. Control passes between them only through swtch,
// so at most one process runs per CPU at a time.
package kernel

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"xv6kernel/internal/idgen"
	"xv6kernel/kernel/mem"
)

type Kernel struct {
	cfg        Config
	kmem       *mem.Kmem
	kpagetable mem.Pagetable
	trampoline uint64

	proc     []Proc
	cpus     []CPU
	initproc *Proc
	policy   Policy
	kick     chan struct{}
	ctx      context.Context

	nextpid int
	pidLock spinlock

	// helps ensure that wakeups of wait()ing
	// parents are not lost. helps obey the
	// memory model when using p.parent.
	// must be acquired before any p.lock.
	waitLock spinlock

	ticks     atomic.Uint64
	tickslock spinlock

	syscounts [NSYSCALL]atomic.Int64

	fs      FileSystem
	console io.Writer
	prlock  sync.Mutex
	logger  *slog.Logger
	bootID  string
	started atomic.Bool
}

// New boots a machine described by cfg: physical memory, the kernel
// page table with one stack per process slot, the process table and the
// scheduling policy. Nothing runs until Start.
func New(cfg Config, opts ...Option) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k := &Kernel{
		cfg:     cfg,
		nextpid: 1,
		kick:    make(chan struct{}, 1),
		ctx:     context.Background(),
		console: os.Stdout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.bootID = idgen.New()
	k.logger = k.logger.With("boot", k.bootID)

	initlock(&k.pidLock, "nextpid")
	initlock(&k.waitLock, "wait_lock")
	initlock(&k.tickslock, "time")

	k.printf("kinit... ")
	k.kinit()
	k.printf("OK\n")

	k.printf("procinit... ")
	k.procinit()
	k.printf("OK\n")

	k.printf("kvminit... ")
	k.kvminit()
	k.printf("OK\n")

	policy, err := newPolicy(k)
	if err != nil {
		return nil, err
	}
	k.policy = policy
	if k.fs == nil {
		k.fs = newMemFS(k)
	}

	k.logger.Info("boot", "nproc", cfg.NProc, "ncpu", cfg.NCPU, "pages", cfg.MemPages, "policy", cfg.Policy)
	return k, nil
}

func (k *Kernel) kinit() {
	start, end := mem.KERNBASE, mem.PhysTop(k.cfg.MemPages)
	k.printf("[%#x, %#x) ", start, end)
	k.kmem = mem.NewKmem(start, end)
}

// Initialize the one kernel page table: the trampoline at the top of
// the address space and a guarded stack for every process slot.
func (k *Kernel) kvminit() {
	pagetable, err := k.kmem.UvmCreate()
	if err != nil {
		panic("kvminit")
	}
	k.kpagetable = pagetable

	k.trampoline = k.kmem.Kalloc()
	if k.trampoline == 0 {
		panic("kvminit: trampoline")
	}
	k.kmem.Kvmmap(k.kpagetable, mem.TRAMPOLINE, k.trampoline, mem.PGSIZE, mem.PTE_R|mem.PTE_X)

	k.procMapStacks()
}

// Start launches one scheduler per CPU and, when configured, the clock.
// The machine stops when ctx is done.
func (k *Kernel) Start(ctx context.Context) {
	if !k.started.CompareAndSwap(false, true) {
		return
	}
	k.ctx = ctx
	for i := range k.cpus {
		go k.scheduler(ctx, &k.cpus[i])
	}
	if k.cfg.TickInterval > 0 {
		go k.clock(ctx)
	}
	k.logger.Info("start", "cpus", len(k.cpus))
}

// Kill marks the process with the given pid as killed.
func (k *Kernel) Kill(pid int) error { return k.kill(pid) }

func (k *Kernel) Kmem() *mem.Kmem { return k.kmem }

func (k *Kernel) Config() Config { return k.cfg }

func (k *Kernel) BootID() string { return k.bootID }
