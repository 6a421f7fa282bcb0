package mem

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrBadAddr = errors.New("bad user address")
	ErrNotCOW  = errors.New("not a copy-on-write page")
)

func (km *Kmem) pte(addr uint64) PTE {
	off := addr - km.start
	return PTE(binary.LittleEndian.Uint64(km.mem[off : off+8]))
}

func (km *Kmem) setPTE(addr uint64, pte PTE) {
	off := addr - km.start
	binary.LittleEndian.PutUint64(km.mem[off:off+8], uint64(pte))
}

// UvmCreate creates an empty page table.
func (km *Kmem) UvmCreate() (Pagetable, error) {
	pa := km.Kalloc()
	if pa == 0 {
		return 0, ErrNoMem
	}
	memset(km.Page(pa), 0)
	return Pagetable(pa), nil
}

// Walk returns the physical address of the PTE in page table pagetable
// that corresponds to virtual address va. If alloc is true, create any
// required page-table pages. Returns 0 if a page-table page is missing
// and alloc is false, or if the allocation fails.
//
// The risc-v Sv39 scheme has three levels of page-table
// pages. A page-table page contains 512 64-bit PTEs.
// A 64-bit virtual address is split into five fields:
//
//	39..63 -- must be zero.
//	30..38 -- 9 bits of level-2 index.
//	21..29 -- 9 bits of level-1 index.
//	12..20 -- 9 bits of level-0 index.
//	 0..11 -- 12 bits of byte offset within the page.
func (km *Kmem) Walk(pagetable Pagetable, va uint64, alloc bool) uint64 {
	if va >= MAXVA {
		panic("walk")
	}

	pt := uint64(pagetable)
	for level := 2; level > 0; level-- {
		addr := pt + PX(level, va)*8
		pte := km.pte(addr)
		if pte&PTE_V != 0 {
			pt = PTE2PA(pte)
		} else {
			if !alloc {
				return 0
			}
			newPage := km.Kalloc()
			if newPage == 0 {
				return 0
			}
			memset(km.Page(newPage), 0)
			km.setPTE(addr, PA2PTE(newPage)|PTE_V)
			pt = newPage
		}
	}
	return pt + PX(0, va)*8
}

// WalkAddr looks up a virtual address and returns the physical address
// of its page. Only user pages are visible.
func (km *Kmem) WalkAddr(pagetable Pagetable, va uint64) (uint64, error) {
	if va >= MAXVA {
		return 0, ErrBadAddr
	}
	addr := km.Walk(pagetable, va, false)
	if addr == 0 {
		return 0, ErrBadAddr
	}
	pte := km.pte(addr)
	if pte&PTE_V == 0 || pte&PTE_U == 0 {
		return 0, ErrBadAddr
	}
	return PTE2PA(pte), nil
}

// PTEOf returns the leaf PTE for va, or 0 if there is none.
func (km *Kmem) PTEOf(pagetable Pagetable, va uint64) PTE {
	if va >= MAXVA {
		return 0
	}
	addr := km.Walk(pagetable, va, false)
	if addr == 0 {
		return 0
	}
	return km.pte(addr)
}

// Kvmmap adds a mapping to a kernel page table during boot.
func (km *Kmem) Kvmmap(kpgtbl Pagetable, va, pa, sz uint64, perm uint64) {
	if err := km.MapPages(kpgtbl, va, sz, pa, perm); err != nil {
		panic("kvmmap")
	}
}

// MapPages creates PTEs for virtual addresses starting at va that refer
// to physical addresses starting at pa. va and size need not be
// page-aligned.
func (km *Kmem) MapPages(pagetable Pagetable, va, size, pa uint64, perm uint64) error {
	if size == 0 {
		panic("mappages: size")
	}

	a := PGROUNDDOWN(va)
	last := PGROUNDDOWN(va + size - 1)
	for {
		addr := km.Walk(pagetable, a, true)
		if addr == 0 {
			return ErrNoMem
		}
		if km.pte(addr)&PTE_V != 0 {
			panic("mappages: remap")
		}
		km.setPTE(addr, PA2PTE(pa)|PTE(perm|PTE_V))
		if a == last {
			break
		}
		a += PGSIZE
		pa += PGSIZE
	}
	return nil
}

// UvmUnmap removes npages of mappings starting from va. va must be
// page-aligned and the mappings must exist. Optionally drop the
// physical pages.
func (km *Kmem) UvmUnmap(pagetable Pagetable, va, npages uint64, doFree bool) {
	if va%PGSIZE != 0 {
		panic("uvmunmap: not aligned")
	}

	for a := va; a < va+npages*PGSIZE; a += PGSIZE {
		addr := km.Walk(pagetable, a, false)
		if addr == 0 {
			panic("uvmunmap: walk")
		}
		pte := km.pte(addr)
		if pte&PTE_V == 0 {
			panic("uvmunmap: not mapped")
		}
		if PTEFlags(pte) == PTE_V {
			panic("uvmunmap: not a leaf")
		}
		if doFree {
			km.Kfree(PTE2PA(pte))
		}
		km.setPTE(addr, 0)
	}
}

// UvmFirst loads src into address 0 of pagetable, for the very first
// process. len(src) must be less than a page.
func (km *Kmem) UvmFirst(pagetable Pagetable, src []byte) error {
	if uint64(len(src)) >= PGSIZE {
		panic("uvmfirst: more than a page")
	}
	pa := km.Kalloc()
	if pa == 0 {
		return ErrNoMem
	}
	page := km.Page(pa)
	memset(page, 0)
	if err := km.MapPages(pagetable, 0, PGSIZE, pa, PTE_W|PTE_R|PTE_X|PTE_U); err != nil {
		km.Kfree(pa)
		return err
	}
	copy(page, src)
	return nil
}

// UvmAlloc grows the process from oldsz to newsz, which need not be
// page aligned. Returns the new size.
func (km *Kmem) UvmAlloc(pagetable Pagetable, oldsz, newsz uint64, xperm uint64) (uint64, error) {
	if newsz < oldsz {
		return oldsz, nil
	}
	if newsz > TRAPFRAME {
		return 0, ErrBadAddr
	}

	oldsz = PGROUNDUP(oldsz)
	for a := oldsz; a < newsz; a += PGSIZE {
		pa := km.Kalloc()
		if pa == 0 {
			km.UvmDealloc(pagetable, a, oldsz)
			return 0, ErrNoMem
		}
		memset(km.Page(pa), 0)
		if err := km.MapPages(pagetable, a, PGSIZE, pa, PTE_R|PTE_U|xperm); err != nil {
			km.Kfree(pa)
			km.UvmDealloc(pagetable, a, oldsz)
			return 0, err
		}
	}
	return newsz, nil
}

// UvmDealloc shrinks the process size from oldsz to newsz. Neither
// needs to be page-aligned, nor does newsz need to be less than oldsz.
// Returns the new process size.
func (km *Kmem) UvmDealloc(pagetable Pagetable, oldsz, newsz uint64) uint64 {
	if newsz >= oldsz {
		return oldsz
	}

	if PGROUNDUP(newsz) < PGROUNDUP(oldsz) {
		npages := (PGROUNDUP(oldsz) - PGROUNDUP(newsz)) / PGSIZE
		km.UvmUnmap(pagetable, PGROUNDUP(newsz), npages, true)
	}
	return newsz
}

// freewalk recursively frees page-table pages.
// All leaf mappings must already have been removed.
func (km *Kmem) freewalk(pagetable Pagetable) {
	pt := uint64(pagetable)
	for i := uint64(0); i < 512; i++ {
		pte := km.pte(pt + i*8)
		if pte&PTE_V != 0 && pte&(PTE_R|PTE_W|PTE_X) == 0 {
			// this PTE points to a lower-level page table.
			km.freewalk(Pagetable(PTE2PA(pte)))
			km.setPTE(pt+i*8, 0)
		} else if pte&PTE_V != 0 {
			panic("freewalk: leaf")
		}
	}
	km.Kfree(pt)
}

// UvmFree frees user memory pages, then page-table pages.
func (km *Kmem) UvmFree(pagetable Pagetable, sz uint64) {
	if sz > 0 {
		km.UvmUnmap(pagetable, 0, PGROUNDUP(sz)/PGSIZE, true)
	}
	km.freewalk(pagetable)
}

// UvmCopy shares a parent's memory with a child. Writable pages become
// read-only copy-on-write in both page tables and every shared frame
// gains a reference. On failure the child mappings made so far are
// removed.
func (km *Kmem) UvmCopy(old, new Pagetable, sz uint64) error {
	for i := uint64(0); i < sz; i += PGSIZE {
		addr := km.Walk(old, i, false)
		if addr == 0 {
			panic("uvmcopy: pte should exist")
		}
		pte := km.pte(addr)
		if pte&PTE_V == 0 {
			panic("uvmcopy: page not present")
		}
		pa := PTE2PA(pte)
		flags := PTEFlags(pte)
		if flags&PTE_W != 0 {
			flags = (flags &^ PTE_W) | PTE_COW
			km.setPTE(addr, PA2PTE(pa)|PTE(flags))
		}
		if err := km.MapPages(new, i, PGSIZE, pa, flags); err != nil {
			km.UvmUnmap(new, 0, i/PGSIZE, true)
			return err
		}
		km.Incref(pa)
	}
	return nil
}

// CowFault gives the faulting page table a private writable copy of
// the copy-on-write page holding va and drops its reference to the
// shared frame.
func (km *Kmem) CowFault(pagetable Pagetable, va uint64) error {
	if va >= MAXVA {
		return ErrBadAddr
	}
	va = PGROUNDDOWN(va)
	addr := km.Walk(pagetable, va, false)
	if addr == 0 {
		return ErrBadAddr
	}
	pte := km.pte(addr)
	if pte&PTE_V == 0 || pte&PTE_U == 0 {
		return ErrBadAddr
	}
	if pte&PTE_COW == 0 {
		return ErrNotCOW
	}

	pa := PTE2PA(pte)
	mem := km.Kalloc()
	if mem == 0 {
		return ErrNoMem
	}
	copy(km.Page(mem), km.Page(pa))
	flags := (PTEFlags(pte) | PTE_W) &^ PTE_COW
	km.setPTE(addr, PA2PTE(mem)|PTE(flags))
	km.Decref(pa)
	km.cowFaults.Add(1)
	return nil
}

// Translate returns the physical page backing user address va when the
// access is permitted. A refused write to a copy-on-write page can be
// retried after CowFault.
func (km *Kmem) Translate(pagetable Pagetable, va uint64, write bool) (pa uint64, fault bool) {
	if va >= MAXVA {
		return 0, true
	}
	addr := km.Walk(pagetable, va, false)
	if addr == 0 {
		return 0, true
	}
	pte := km.pte(addr)
	if pte&PTE_V == 0 || pte&PTE_U == 0 {
		return 0, true
	}
	if write && pte&PTE_W == 0 {
		return 0, true
	}
	if !write && pte&PTE_R == 0 {
		return 0, true
	}
	return PTE2PA(pte), false
}

// CopyOut copies src to virtual address dstva in a given page table,
// breaking copy-on-write sharing on the way.
func (km *Kmem) CopyOut(pagetable Pagetable, dstva uint64, src []byte) error {
	for len(src) > 0 {
		va0 := PGROUNDDOWN(dstva)
		if va0 >= MAXVA {
			return ErrBadAddr
		}
		pa0, fault := km.Translate(pagetable, va0, true)
		if fault {
			if err := km.CowFault(pagetable, va0); err != nil {
				return fmt.Errorf("copyout %#x: %w", dstva, err)
			}
			pa0, _ = km.Translate(pagetable, va0, true)
		}
		off := dstva - va0
		n := copy(km.Page(pa0)[off:], src)
		src = src[n:]
		dstva = va0 + PGSIZE
	}
	return nil
}

// CopyIn copies len(dst) bytes from virtual address srcva.
func (km *Kmem) CopyIn(pagetable Pagetable, dst []byte, srcva uint64) error {
	for len(dst) > 0 {
		va0 := PGROUNDDOWN(srcva)
		pa0, fault := km.Translate(pagetable, va0, false)
		if fault {
			return fmt.Errorf("copyin %#x: %w", srcva, ErrBadAddr)
		}
		off := srcva - va0
		n := copy(dst, km.Page(pa0)[off:])
		dst = dst[n:]
		srcva = va0 + PGSIZE
	}
	return nil
}
