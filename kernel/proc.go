package kernel

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sync/atomic"

	"xv6kernel/kernel/mem"
)

type procstate int

const (
	UNUSED procstate = iota
	USED
	SLEEPING
	RUNNABLE
	RUNNING
	ZOMBIE
)

var states = [...]string{
	UNUSED:   "unused",
	USED:     "used",
	SLEEPING: "sleep ",
	RUNNABLE: "runble",
	RUNNING:  "run   ",
	ZOMBIE:   "zombie",
}

func (s procstate) String() string {
	if s >= 0 && int(s) < len(states) {
		return states[s]
	}
	return "???"
}

// Task is the user-mode body of a process. It runs on the process's own
// goroutine and enters the kernel only through the Proc system calls.
type Task func(p *Proc)

// Saved registers for kernel context switches. A context is resumed by
// sending on its channel; a closed channel means the owner was freed.
type Context struct {
	resume chan struct{}
}

// swtch saves the current context in old and resumes new.
func swtch(old, new *Context) {
	wait := old.resume
	new.resume <- struct{}{}
	<-wait
}

// per-process data for the trap handling code.
type Trapframe struct {
	Epc uint64 // saved user program counter
	Ra  uint64
	Sp  uint64
	A0  uint64
	A1  uint64
	A2  uint64
	A3  uint64
	A4  uint64
	A5  uint64
	A6  uint64
	A7  uint64
}

// Per-CPU state.
type CPU struct {
	id      int
	proc    *Proc   // The process running on this cpu, or nil.
	context Context // swtch() here to enter scheduler().
}

// Per-process state
type Proc struct {
	lock spinlock
	k    *Kernel

	// p.lock must be held when using these:
	state  procstate // Process state
	wchan  any       // If non-nil, sleeping on wchan
	killed bool      // If true, have been killed
	xstate int       // Exit status to be returned to parent's wait
	pid    int       // Process ID
	ctime  uint64    // tick of creation
	etime  uint64    // tick of exit
	rtime  uint64    // ticks spent RUNNING
	cpu    *CPU

	// k.waitLock must be held when using this:
	parent *Proc

	// scheduling metadata, owned by the policy
	queue     int   // mlfq level
	ticksUsed []int // mlfq turns used at each level
	waitTime  int   // mlfq rounds observed sleeping
	arrival   uint64
	tickets   int

	// alarm state, p.lock
	alarmInterval int
	alarmTicks    int
	alarmHandler  Task
	alarmPending  bool
	backup        *Trapframe

	// these are private to the process, so p.lock need not be held.
	index     int
	kstack    uint64
	sz        uint64        // Size of process memory (bytes)
	pagetable mem.Pagetable // User page table
	tfpage    uint64        // frame mapped at TRAPFRAME
	trapframe *Trapframe
	context   Context
	ofile     []*File
	cwd       *Inode
	name      string
	task      Task
	forkTask  Task
	alarmTask Task
	resched   atomic.Bool
}

func (k *Kernel) procinit() {
	k.proc = make([]Proc, k.cfg.NProc)
	for i := range k.proc {
		p := &k.proc[i]
		initlock(&p.lock, "proc")
		p.index = i
		p.k = k
		p.state = UNUSED
		p.kstack = mem.KSTACK(i)
	}
	k.cpus = make([]CPU, k.cfg.NCPU)
	for i := range k.cpus {
		c := &k.cpus[i]
		c.id = i
		c.context = Context{resume: make(chan struct{}, 1)}
	}
}

// Allocate a page for each process's kernel stack.
// Map it high in memory, followed by an invalid
// guard page.
func (k *Kernel) procMapStacks() {
	for i := range k.proc {
		pa := k.kmem.Kalloc()
		if pa == 0 {
			panic("kalloc")
		}
		k.kmem.Kvmmap(k.kpagetable, mem.KSTACK(i), pa, mem.PGSIZE, mem.PTE_R|mem.PTE_W)
	}
}

func (k *Kernel) allocpid() int {
	acquire(&k.pidLock)
	pid := k.nextpid
	k.nextpid++
	release(&k.pidLock)
	return pid
}

// Look in the process table for an UNUSED proc.
// If found, initialize state required to run in the kernel,
// and return with p.lock held.
// If there are no free procs, or a memory allocation fails, return an error.
func (k *Kernel) allocproc() (*Proc, error) {
	var p *Proc
	for i := range k.proc {
		p = &k.proc[i]
		acquire(&p.lock)
		if p.state == UNUSED {
			goto found
		}
		release(&p.lock)
	}
	return nil, ErrNoProc

found:
	p.pid = k.allocpid()
	p.state = USED

	// Allocate a trapframe page.
	if p.tfpage = k.kmem.Kalloc(); p.tfpage == 0 {
		k.freeproc(p)
		release(&p.lock)
		return nil, mem.ErrNoMem
	}
	p.trapframe = &Trapframe{}

	// An empty user page table.
	pagetable, err := k.procPagetable(p)
	if err != nil {
		k.freeproc(p)
		release(&p.lock)
		return nil, err
	}
	p.pagetable = pagetable

	now := k.Ticks()
	p.ctime = now
	p.etime = 0
	p.rtime = 0
	p.arrival = now
	p.queue = 0
	p.ticksUsed = make([]int, len(k.cfg.MLFQ.Timeslices))
	p.waitTime = 0
	p.tickets = 1
	p.ofile = make([]*File, k.cfg.NOFile)

	// Set up new context to start executing at forkret.
	p.context = Context{resume: make(chan struct{}, 1)}
	go k.forkret(p, p.context)
	return p, nil
}

// free a proc structure and the data hanging from it,
// including user pages.
// p.lock must be held.
func (k *Kernel) freeproc(p *Proc) {
	if p.tfpage != 0 {
		k.kmem.Kfree(p.tfpage)
	}
	p.tfpage = 0
	p.trapframe = nil
	if p.pagetable != 0 {
		k.procFreePagetable(p.pagetable, p.sz)
	}
	p.pagetable = 0
	p.sz = 0
	k.policy.Remove(p)
	if p.parent != nil {
		p.parent = nil
	}
	if p.context.resume != nil {
		close(p.context.resume)
	}
	p.context = Context{}
	p.pid = 0
	p.name = ""
	p.wchan = nil
	p.killed = false
	p.xstate = 0
	p.cpu = nil
	p.ofile = nil
	p.cwd = nil
	p.task = nil
	p.forkTask = nil
	p.alarmTask = nil
	p.alarmInterval = 0
	p.alarmTicks = 0
	p.alarmHandler = nil
	p.alarmPending = false
	p.backup = nil
	p.resched.Store(false)
	p.ticksUsed = nil
	p.state = UNUSED
}

// Create a user page table for a given process, with no user memory,
// but with trampoline and trapframe pages.
func (k *Kernel) procPagetable(p *Proc) (mem.Pagetable, error) {
	pagetable, err := k.kmem.UvmCreate()
	if err != nil {
		return 0, err
	}

	// map the trampoline code (for system call return)
	// at the highest user virtual address.
	// only the supervisor uses it, on the way
	// to/from user space, so not PTE_U.
	if err := k.kmem.MapPages(pagetable, mem.TRAMPOLINE, mem.PGSIZE, k.trampoline, mem.PTE_R|mem.PTE_X); err != nil {
		k.kmem.UvmFree(pagetable, 0)
		return 0, err
	}

	// map the trapframe page just below the trampoline page.
	if err := k.kmem.MapPages(pagetable, mem.TRAPFRAME, mem.PGSIZE, p.tfpage, mem.PTE_R|mem.PTE_W); err != nil {
		k.kmem.UvmUnmap(pagetable, mem.TRAMPOLINE, 1, false)
		k.kmem.UvmFree(pagetable, 0)
		return 0, err
	}
	return pagetable, nil
}

// Free a process's page table, and free the
// physical memory it refers to.
func (k *Kernel) procFreePagetable(pagetable mem.Pagetable, sz uint64) {
	k.kmem.UvmUnmap(pagetable, mem.TRAMPOLINE, 1, false)
	k.kmem.UvmUnmap(pagetable, mem.TRAPFRAME, 1, false)
	k.kmem.UvmFree(pagetable, sz)
}

// UserInit sets up the first user process. It must be called before
// Start. The first process adopts every orphan and must never exit.
func (k *Kernel) UserInit(name string, task Task) (*Proc, error) {
	if k.started.Load() {
		return nil, ErrStarted
	}
	p, err := k.allocproc()
	if err != nil {
		return nil, err
	}

	// allocate one user page for the process's instructions and data.
	if err := k.kmem.UvmFirst(p.pagetable, initcode); err != nil {
		k.freeproc(p)
		release(&p.lock)
		return nil, err
	}
	k.initproc = p
	p.sz = mem.PGSIZE

	// prepare for the very first "return" from kernel to user.
	p.trapframe.Epc = 0         // user program counter
	p.trapframe.Sp = mem.PGSIZE // user stack pointer

	p.name = name
	p.task = task
	p.cwd = k.fs.Namei("/")
	console := k.fs.Open("console")
	p.ofile[0] = console
	p.ofile[1] = k.fs.Filedup(console)
	p.ofile[2] = k.fs.Filedup(console)

	p.state = RUNNABLE
	k.policy.Admit(p)
	release(&p.lock)

	k.logger.Info("userinit", "pid", p.pid, "name", name)
	return p, nil
}

var initcode = []byte("init\x00")

// Grow or shrink user memory by n bytes.
func (k *Kernel) growproc(p *Proc, n int) error {
	sz := p.sz
	switch {
	case n > 0:
		var err error
		if sz, err = k.kmem.UvmAlloc(p.pagetable, sz, sz+uint64(n), mem.PTE_W); err != nil {
			return err
		}
	case n < 0:
		if uint64(-n) > sz {
			return mem.ErrBadAddr
		}
		sz = k.kmem.UvmDealloc(p.pagetable, sz, sz-uint64(-n))
	}
	p.sz = sz
	return nil
}

// Create a new process, copying the parent.
// Sets up child kernel stack to return as if from fork() system call.
func (k *Kernel) fork(p *Proc, child Task) (int, error) {
	// Allocate process.
	np, err := k.allocproc()
	if err != nil {
		return -1, err
	}

	// Share user memory from parent to child.
	if err := k.kmem.UvmCopy(p.pagetable, np.pagetable, p.sz); err != nil {
		k.freeproc(np)
		release(&np.lock)
		return -1, err
	}
	np.sz = p.sz

	// copy saved user registers.
	*np.trapframe = *p.trapframe

	// Cause fork to return 0 in the child.
	np.trapframe.A0 = 0

	// increment reference counts on open file descriptors.
	for i, f := range p.ofile {
		if f != nil {
			np.ofile[i] = k.fs.Filedup(f)
		}
	}
	if p.cwd != nil {
		np.cwd = k.fs.Idup(p.cwd)
	}

	np.name = p.name
	if child == nil {
		child = func(*Proc) {}
	}
	np.task = child

	pid := np.pid

	release(&np.lock)

	acquire(&k.waitLock)
	np.parent = p
	release(&k.waitLock)

	acquire(&np.lock)
	np.state = RUNNABLE
	k.policy.Admit(np)
	release(&np.lock)
	k.signal()

	return pid, nil
}

// Pass p's abandoned children to init.
// Caller must hold k.waitLock.
func (k *Kernel) reparent(p *Proc) {
	for i := range k.proc {
		pp := &k.proc[i]
		if pp.parent == p {
			pp.parent = k.initproc
			k.wakeup(p, k.initproc)
		}
	}
}

// Exit the current process. Does not return.
// An exited process remains in the zombie state
// until its parent calls wait().
func (k *Kernel) exit(p *Proc, status int) {
	if p == k.initproc {
		panic("init exiting")
	}

	// Close all open files.
	for fd, f := range p.ofile {
		if f != nil {
			k.fs.Fileclose(f)
			p.ofile[fd] = nil
		}
	}

	k.fs.BeginOp()
	k.fs.Iput(p, p.cwd)
	k.fs.EndOp()
	p.cwd = nil

	acquire(&k.waitLock)

	// Give any children to init.
	k.reparent(p)

	// Parent might be sleeping in wait().
	k.wakeup(p, p.parent)

	acquire(&p.lock)

	p.xstate = status
	p.state = ZOMBIE
	p.etime = k.Ticks()

	release(&k.waitLock)

	k.logger.Debug("exit", "pid", p.pid, "status", status)

	// Jump into the scheduler, never to return: the parent's wait
	// frees the slot, which ends this goroutine.
	k.sched(p)
	runtime.Goexit()
}

// Wait for a child process to exit and return its pid.
func (k *Kernel) wait(p *Proc, addr uint64) (int, error) {
	pid, _, _, err := k.waitx(p, addr)
	return pid, err
}

// waitx is wait that also reports the child's ticks spent waiting to
// run and running.
func (k *Kernel) waitx(p *Proc, addr uint64) (pid int, wtime, rtime uint64, err error) {
	acquire(&k.waitLock)

	for {
		// Scan through table looking for exited children.
		havekids := false
		for i := range k.proc {
			pp := &k.proc[i]
			if pp.parent != p {
				continue
			}
			// make sure the child isn't still in exit() or swtch().
			acquire(&pp.lock)

			havekids = true
			if pp.state == ZOMBIE {
				// Found one.
				pid = pp.pid
				rtime = pp.rtime
				wtime = waitTicks(pp.ctime, pp.etime, pp.rtime)
				if addr != 0 {
					var buf [4]byte
					binary.LittleEndian.PutUint32(buf[:], uint32(int32(pp.xstate)))
					if err := k.kmem.CopyOut(p.pagetable, addr, buf[:]); err != nil {
						release(&pp.lock)
						release(&k.waitLock)
						return -1, 0, 0, err
					}
				}
				k.logger.Debug("reap", "parent", p.pid, "pid", pid, "status", pp.xstate)
				k.freeproc(pp)
				release(&pp.lock)
				release(&k.waitLock)
				return pid, wtime, rtime, nil
			}
			release(&pp.lock)
		}

		// No point waiting if we don't have any children.
		if !havekids {
			release(&k.waitLock)
			return -1, 0, 0, ErrNoChildren
		}
		if k.killed(p) {
			release(&k.waitLock)
			return -1, 0, 0, ErrKilled
		}

		// Wait for a child to exit.
		k.sleep(p, p, &k.waitLock)
	}
}

// ticks between creation and exit not spent running.
func waitTicks(ctime, etime, rtime uint64) uint64 {
	if etime < ctime || etime-ctime < rtime {
		return 0
	}
	return etime - ctime - rtime
}

// Switch to scheduler. Must hold only p.lock
// and have changed p.state.
func (k *Kernel) sched(p *Proc) {
	if !holding(&p.lock) {
		panic("sched p.lock")
	}
	if p.state == RUNNING {
		panic("sched running")
	}
	if p.cpu == nil {
		panic("sched: no cpu")
	}
	swtch(&p.context, &p.cpu.context)
}

// Give up the CPU for one scheduling round.
func (k *Kernel) yield(p *Proc) {
	acquire(&p.lock)
	p.state = RUNNABLE
	k.sched(p)
	release(&p.lock)
}

// A fork child's very first scheduling by scheduler()
// will swtch to forkret.
func (k *Kernel) forkret(p *Proc, c Context) {
	if _, ok := <-c.resume; !ok {
		// freed before it ever ran
		return
	}

	// Still holding p.lock from scheduler.
	release(&p.lock)

	if p.task != nil {
		p.task(p)
	}
	p.Exit(0)
}

// Atomically release lock and sleep on wchan.
// Reacquires lock when awakened.
func (k *Kernel) sleep(p *Proc, wchan any, lk *spinlock) {
	// Must acquire p.lock in order to
	// change p.state and then call sched.
	// Once we hold p.lock, we can be
	// guaranteed that we won't miss any wakeup
	// (wakeup locks p.lock),
	// so it's okay to release lk.
	acquire(&p.lock)
	release(lk)

	// Go to sleep.
	p.wchan = wchan
	p.state = SLEEPING

	k.sched(p)

	// Tidy up.
	p.wchan = nil

	// Reacquire original lock.
	release(&p.lock)
	acquire(lk)
}

// Wake up all processes sleeping on wchan, except self.
// Must be called without any p.lock.
func (k *Kernel) wakeup(self *Proc, wchan any) {
	woke := false
	for i := range k.proc {
		p := &k.proc[i]
		if p == self {
			continue
		}
		acquire(&p.lock)
		if p.state == SLEEPING && p.wchan == wchan {
			p.state = RUNNABLE
			k.policy.OnWake(p)
			woke = true
		}
		release(&p.lock)
	}
	if woke {
		k.signal()
	}
}

// Kill the process with the given pid.
// The victim won't exit until it tries to return
// to user space (see usertrap()).
func (k *Kernel) kill(pid int) error {
	for i := range k.proc {
		p := &k.proc[i]
		acquire(&p.lock)
		if p.pid == pid && p.state != UNUSED {
			p.killed = true
			if p.state == SLEEPING {
				// Wake process from sleep().
				p.state = RUNNABLE
			}
			release(&p.lock)
			k.signal()
			k.logger.Debug("kill", "pid", pid)
			return nil
		}
		release(&p.lock)
	}
	return fmt.Errorf("kill %d: %w", pid, ErrNoSuchPid)
}

func (k *Kernel) setkilled(p *Proc) {
	acquire(&p.lock)
	p.killed = true
	release(&p.lock)
}

func (k *Kernel) killed(p *Proc) bool {
	acquire(&p.lock)
	defer release(&p.lock)
	return p.killed
}
