// Package mem is the physical page allocator and the Sv39 address-space
// layer of the simulated machine. Physical memory is one byte arena;
// page-table pages and user pages both live inside it.
package mem

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var ErrNoMem = errors.New("out of physical memory")

const (
	allocJunk = 5 // fill for freshly allocated pages
	freeJunk  = 1 // fill for freed pages, catches dangling refs
)

// Kmem owns the arena [start, end). A free page stores the physical
// address of the next free page in its first 8 bytes, 0 ends the list.
type Kmem struct {
	lock     sync.Mutex
	freelist uint64
	nfree    int
	refcnt   []int32

	start uint64
	end   uint64
	mem   []byte

	cowFaults atomic.Uint64
}

// NewKmem rounds the range inward to page boundaries and frees every
// page in it.
func NewKmem(start, end uint64) *Kmem {
	start = PGROUNDUP(start)
	end = PGROUNDDOWN(end)
	if start == 0 || end <= start {
		panic(fmt.Sprintf("kinit: bad range [%#x, %#x)", start, end))
	}
	km := &Kmem{
		start:  start,
		end:    end,
		mem:    make([]byte, end-start),
		refcnt: make([]int32, (end-start)/PGSIZE),
	}
	km.freerange(start, end)
	return km
}

func (km *Kmem) freerange(pa_start, pa_end uint64) {
	for p := pa_start; p+PGSIZE <= pa_end; p += PGSIZE {
		km.refcnt[km.pn(p)] = 1
		km.Kfree(p)
	}
}

func (km *Kmem) pn(pa uint64) uint64 { return (pa - km.start) / PGSIZE }

func (km *Kmem) inRange(pa uint64) bool { return pa >= km.start && pa < km.end }

// Kfree drops one reference to the page at pa and puts the page back
// on the free list when no references remain.
func (km *Kmem) Kfree(pa uint64) {
	if pa%PGSIZE != 0 || !km.inRange(pa) {
		panic(fmt.Sprintf("kfree: bad pa %#x", pa))
	}
	km.lock.Lock()
	pn := km.pn(pa)
	if km.refcnt[pn] < 1 {
		km.lock.Unlock()
		panic(fmt.Sprintf("kfree: page %#x has no references", pa))
	}
	km.refcnt[pn]--
	last := km.refcnt[pn] == 0
	km.lock.Unlock()
	if last {
		km.reclaim(pa)
	}
}

func (km *Kmem) reclaim(pa uint64) {
	memset(km.Page(pa), freeJunk)

	km.lock.Lock()
	binary.LittleEndian.PutUint64(km.Page(pa), km.freelist)
	km.freelist = pa
	km.nfree++
	km.lock.Unlock()
}

// Kalloc allocates one 4096-byte page with a reference count of 1.
// Returns 0 if the memory cannot be allocated.
func (km *Kmem) Kalloc() uint64 {
	km.lock.Lock()
	pa := km.freelist
	if pa != 0 {
		pn := km.pn(pa)
		if km.refcnt[pn] != 0 {
			km.lock.Unlock()
			panic(fmt.Sprintf("kalloc: free page %#x has references", pa))
		}
		km.refcnt[pn] = 1
		km.freelist = binary.LittleEndian.Uint64(km.Page(pa))
		km.nfree--
	}
	km.lock.Unlock()

	if pa != 0 {
		memset(km.Page(pa), allocJunk)
	}
	return pa
}

func (km *Kmem) Incref(pa uint64) {
	if !km.inRange(pa) {
		panic(fmt.Sprintf("incref: bad pa %#x", pa))
	}
	km.lock.Lock()
	defer km.lock.Unlock()
	pn := km.pn(pa)
	if km.refcnt[pn] < 1 {
		panic(fmt.Sprintf("incref: page %#x is free", pa))
	}
	km.refcnt[pn]++
}

// Decref drops a reference held by a shared mapping. The page is
// reclaimed directly when the count reaches zero.
func (km *Kmem) Decref(pa uint64) {
	if !km.inRange(pa) {
		panic(fmt.Sprintf("decref: bad pa %#x", pa))
	}
	km.lock.Lock()
	pn := km.pn(pa)
	if km.refcnt[pn] < 1 {
		km.lock.Unlock()
		panic(fmt.Sprintf("decref: page %#x is free", pa))
	}
	km.refcnt[pn]--
	last := km.refcnt[pn] == 0
	km.lock.Unlock()
	if last {
		km.reclaim(pa)
	}
}

func (km *Kmem) Refcnt(pa uint64) int {
	if !km.inRange(pa) {
		panic(fmt.Sprintf("refcnt: bad pa %#x", pa))
	}
	km.lock.Lock()
	defer km.lock.Unlock()
	return int(km.refcnt[km.pn(pa)])
}

func (km *Kmem) NumFree() int {
	km.lock.Lock()
	defer km.lock.Unlock()
	return km.nfree
}

func (km *Kmem) OnFreeList(pa uint64) bool {
	km.lock.Lock()
	defer km.lock.Unlock()
	for r := km.freelist; r != 0; r = binary.LittleEndian.Uint64(km.Page(r)) {
		if r == pa {
			return true
		}
	}
	return false
}

// Page returns the arena bytes backing the page at pa.
func (km *Kmem) Page(pa uint64) []byte {
	if pa%PGSIZE != 0 || !km.inRange(pa) {
		panic(fmt.Sprintf("page: bad pa %#x", pa))
	}
	off := pa - km.start
	return km.mem[off : off+PGSIZE : off+PGSIZE]
}

// Range reports the arena bounds.
func (km *Kmem) Range() (start, end uint64) { return km.start, km.end }

func (km *Kmem) NumPages() int { return len(km.refcnt) }

// CowFaults counts copy-on-write faults serviced so far.
func (km *Kmem) CowFaults() uint64 { return km.cowFaults.Load() }
