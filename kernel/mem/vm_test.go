package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserSpace(t *testing.T, km *Kmem, pages int, perm uint64) Pagetable {
	pt, err := km.UvmCreate()
	require.NoError(t, err)
	sz, err := km.UvmAlloc(pt, 0, uint64(pages)*PGSIZE, perm)
	require.NoError(t, err)
	require.Equal(t, uint64(pages)*PGSIZE, sz)
	return pt
}

func TestMapPagesAndWalk(t *testing.T) {
	km := NewKmem(KERNBASE, PhysTop(64))
	pt, err := km.UvmCreate()
	require.NoError(t, err)

	pa := km.Kalloc()
	require.NoError(t, km.MapPages(pt, 0x5000, PGSIZE, pa, PTE_R|PTE_U))

	got, err := km.WalkAddr(pt, 0x5000)
	require.NoError(t, err)
	assert.Equal(t, pa, got)

	pte := km.PTEOf(pt, 0x5123)
	assert.Equal(t, uint64(PTE_V|PTE_R|PTE_U), PTEFlags(pte))

	_, err = km.WalkAddr(pt, 0x6000)
	assert.ErrorIs(t, err, ErrBadAddr)
	_, err = km.WalkAddr(pt, MAXVA)
	assert.ErrorIs(t, err, ErrBadAddr)

	assert.PanicsWithValue(t, "mappages: remap", func() {
		_ = km.MapPages(pt, 0x5000, PGSIZE, pa, PTE_R|PTE_U)
	})
}

func TestWalkAddrHidesKernelPages(t *testing.T) {
	km := NewKmem(KERNBASE, PhysTop(64))
	pt, err := km.UvmCreate()
	require.NoError(t, err)
	pa := km.Kalloc()
	km.Kvmmap(pt, TRAMPOLINE, pa, PGSIZE, PTE_R|PTE_X)

	_, err = km.WalkAddr(pt, TRAMPOLINE)
	assert.ErrorIs(t, err, ErrBadAddr)
	assert.NotZero(t, km.PTEOf(pt, TRAMPOLINE))
}

func TestUvmFreeRestoresFreeCount(t *testing.T) {
	km := NewKmem(KERNBASE, PhysTop(64))
	before := km.NumFree()

	pt := newUserSpace(t, km, 3, PTE_W)
	assert.Less(t, km.NumFree(), before-3)

	sz := km.UvmDealloc(pt, 3*PGSIZE, PGSIZE)
	assert.Equal(t, PGSIZE, sz)
	km.UvmFree(pt, sz)
	assert.Equal(t, before, km.NumFree())
}

func TestUvmAllocOutOfMemoryRollsBack(t *testing.T) {
	km := NewKmem(KERNBASE, PhysTop(8))
	pt, err := km.UvmCreate()
	require.NoError(t, err)
	free := km.NumFree()

	_, err = km.UvmAlloc(pt, 0, 64*PGSIZE, PTE_W)
	assert.ErrorIs(t, err, ErrNoMem)
	_, err = km.WalkAddr(pt, 0)
	assert.ErrorIs(t, err, ErrBadAddr)

	// the page-table pages created on the way stay with the table
	km.UvmFree(pt, 0)
	assert.Equal(t, free+1, km.NumFree())
}

func TestUvmCopySharesFrames(t *testing.T) {
	km := NewKmem(KERNBASE, PhysTop(64))
	parent := newUserSpace(t, km, 2, PTE_W)
	roPA := km.Kalloc()
	require.NoError(t, km.MapPages(parent, 2*PGSIZE, PGSIZE, roPA, PTE_R|PTE_U))
	sz := 3 * PGSIZE

	child, err := km.UvmCreate()
	require.NoError(t, err)
	require.NoError(t, km.UvmCopy(parent, child, sz))

	for va := uint64(0); va < sz; va += PGSIZE {
		ppa, err := km.WalkAddr(parent, va)
		require.NoError(t, err)
		cpa, err := km.WalkAddr(child, va)
		require.NoError(t, err)
		assert.Equal(t, ppa, cpa)
		assert.Equal(t, 2, km.Refcnt(ppa))
	}

	for _, pt := range []Pagetable{parent, child} {
		shared := km.PTEOf(pt, 0)
		assert.Zero(t, PTEFlags(shared)&PTE_W)
		assert.NotZero(t, PTEFlags(shared)&PTE_COW)

		ro := km.PTEOf(pt, 2*PGSIZE)
		assert.Zero(t, PTEFlags(ro)&PTE_COW, "read-only pages are shared as-is")
	}
}

func TestCowFault(t *testing.T) {
	km := NewKmem(KERNBASE, PhysTop(64))
	before := km.NumFree()
	parent := newUserSpace(t, km, 1, PTE_W)
	require.NoError(t, km.CopyOut(parent, 16, []byte("hello")))

	child, err := km.UvmCreate()
	require.NoError(t, err)
	require.NoError(t, km.UvmCopy(parent, child, PGSIZE))
	shared, err := km.WalkAddr(parent, 0)
	require.NoError(t, err)

	_, fault := km.Translate(child, 16, true)
	assert.True(t, fault)
	_, fault = km.Translate(child, 16, false)
	assert.False(t, fault)

	free := km.NumFree()
	require.NoError(t, km.CowFault(child, 16))
	assert.Equal(t, free-1, km.NumFree(), "exactly one new frame")
	assert.Equal(t, uint64(1), km.CowFaults())

	private, err := km.WalkAddr(child, 0)
	require.NoError(t, err)
	assert.NotEqual(t, shared, private)
	assert.Equal(t, 1, km.Refcnt(shared))
	assert.Equal(t, 1, km.Refcnt(private))

	pte := km.PTEOf(child, 0)
	assert.NotZero(t, PTEFlags(pte)&PTE_W)
	assert.Zero(t, PTEFlags(pte)&PTE_COW)

	got := make([]byte, 5)
	require.NoError(t, km.CopyIn(child, got, 16))
	assert.Equal(t, "hello", string(got))

	assert.ErrorIs(t, km.CowFault(child, 0), ErrNotCOW)
	assert.ErrorIs(t, km.CowFault(child, 8*PGSIZE), ErrBadAddr)

	km.UvmFree(parent, PGSIZE)
	km.UvmFree(child, PGSIZE)
	assert.Equal(t, before, km.NumFree())
}

func TestCopyOutBreaksSharing(t *testing.T) {
	km := NewKmem(KERNBASE, PhysTop(64))
	parent := newUserSpace(t, km, 2, PTE_W)
	require.NoError(t, km.CopyOut(parent, PGSIZE-2, []byte("abcd")))

	child, err := km.UvmCreate()
	require.NoError(t, err)
	require.NoError(t, km.UvmCopy(parent, child, 2*PGSIZE))

	// spans both pages
	require.NoError(t, km.CopyOut(child, PGSIZE-2, []byte("wxyz")))
	assert.Equal(t, uint64(2), km.CowFaults())

	got := make([]byte, 4)
	require.NoError(t, km.CopyIn(parent, got, PGSIZE-2))
	assert.Equal(t, "abcd", string(got))
	require.NoError(t, km.CopyIn(child, got, PGSIZE-2))
	assert.Equal(t, "wxyz", string(got))

	assert.Error(t, km.CopyOut(child, 5*PGSIZE, []byte("x")))
	assert.Error(t, km.CopyIn(child, got, 5*PGSIZE))
}
