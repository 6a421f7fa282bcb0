package mem

// Physical memory layout of the simulated machine.
//
// 80000000 -- first page of the allocation arena
// PhysTop(n) -- end of an arena of n pages
//
// Frame identity is the physical address base + idx*PGSIZE.
const KERNBASE = uint64(0x80000000)

func PhysTop(pages int) uint64 { return KERNBASE + uint64(pages)*PGSIZE }

// map the trampoline page to the highest address,
// in both user and kernel space.
const TRAMPOLINE = MAXVA - PGSIZE

// map kernel stacks beneath the trampoline,
// each surrounded by invalid guard pages.
func KSTACK(p int) uint64 { return TRAMPOLINE - uint64(p+1)*2*PGSIZE }

// User memory layout.
// Address zero first:
//
//	text
//	original data and bss
//	expandable heap
//	...
//	TRAPFRAME (p.trapframe)
//	TRAMPOLINE (the same page as in the kernel)
const TRAPFRAME = TRAMPOLINE - PGSIZE
