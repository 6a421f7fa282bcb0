package mem

const (
	PGSIZE  = uint64(4096) // bytes per page
	PGSHIFT = 12           // bits of offset within a page
)

// one beyond the highest possible virtual address.
// MAXVA is actually one bit less than the max allowed by
// Sv39, to avoid having to sign-extend virtual addresses
// that have the high bit set.
const MAXVA = uint64(1) << (9 + 9 + 9 + 12 - 1)

const (
	PTE_V = 1 << 0 // valid
	PTE_R = 1 << 1
	PTE_W = 1 << 2
	PTE_X = 1 << 3
	PTE_U = 1 << 4 // user can access
	PTE_G = 1 << 5
	PTE_A = 1 << 6
	PTE_D = 1 << 7

	// RSW bit: page is shared copy-on-write and was writable before sharing.
	PTE_COW = 1 << 8
)

type PTE uint64

// Pagetable is the physical address of a 512-entry page-table page.
type Pagetable uint64

// PX extracts the three 9-bit page table indices from a virtual address.
func PX(level int, va uint64) uint64 { return (va >> (PGSHIFT + 9*uint64(level))) & 0x1FF }

// shift a physical address to the right place for a PTE.
func PA2PTE(pa uint64) PTE { return PTE((pa >> 12) << 10) }

func PTE2PA(pte PTE) uint64 { return (uint64(pte) >> 10) << 12 }

func PTEFlags(pte PTE) uint64 { return uint64(pte) & 0x3FF }

func PGROUNDUP(sz uint64) uint64 { return (sz + PGSIZE - 1) &^ (PGSIZE - 1) }

func PGROUNDDOWN(a uint64) uint64 { return a &^ (PGSIZE - 1) }
