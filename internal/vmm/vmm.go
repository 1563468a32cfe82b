// Package vmm builds and mutates page tables: it allocates a fresh
// address space by cloning the kernel's higher half, and installs or
// removes individual 4 KiB mappings by walking the four-level
// hierarchy, allocating intermediate tables from internal/pmm as
// needed.
//
// Grounded on biscuit/src/vm/as.go's Vm_t (PTE flag constants, the
// lock-then-walk-then-install shape of Page_insert/Page_remove) and on
// original_source/rOSkernel/src/mem/memory.rs (activeLevel4Table's
// dmap-offset indirection and new_address_space's higher-half copy).
// biscuit's copy-on-write refcounting and user-copy helpers
// (Userdmap8/K2user/User2k) are out of scope here: this kernel has no
// demand paging and no user/kernel copy boundary beyond the single
// Ring-3 vector spec names, so only the four operations spec §4.2
// actually calls for are kept.
package vmm

import (
	"sync"
	"unsafe"

	"kcore/internal/kernelerr"
	"kcore/internal/limits"
	"kcore/internal/pmm"
)

// PTE flag bits, named identically to biscuit/src/mem/mem.go's
// PTE_* constants.
const (
	PTE_P   uint64 = 1 << 0  // present
	PTE_W   uint64 = 1 << 1  // writable
	PTE_U   uint64 = 1 << 2  // user-accessible
	PTE_PCD uint64 = 1 << 4  // cache-disable (MMIO)
	PTE_PS  uint64 = 1 << 7  // large page
	PTE_G   uint64 = 1 << 8  // global
	PTE_NX  uint64 = 1 << 63 // no-execute

	pteAddrMask uint64 = 0x000ffffffffff000
)

// entriesPerTable is the fixed fan-out of every level of the hierarchy.
const entriesPerTable = 512

// higherHalfStart is the PML4 index (256) at which the upper half of
// the address space, and therefore the kernel's shared mappings,
// begins.
const higherHalfStart = 256

// table is one level of the page-table hierarchy: 512 raw PTEs.
type table [entriesPerTable]uint64

// Space is one process's address space: a PML4 root frame plus the
// physical-memory offset needed to dereference page-table frames
// directly (the kernel's direct map / dmap window).
type Space struct {
	mu     sync.Mutex
	root   pmm.Frame
	frames *pmm.Allocator
	dmap   uint64 // virtual = physical + dmap, for any frame holding a page table
}

// dmapTable returns the live page-table contents at the given physical
// frame, via the direct map.
func (s *Space) dmapTable(f pmm.Frame) *table {
	return (*table)(unsafe.Pointer(uintptr(uint64(f) + s.dmap)))
}

// NewKernelSpace wraps the bootloader-built root PML4 that is active at
// kernel entry, establishing the direct-map offset every subsequent
// Space will copy its higher half from.
func NewKernelSpace(root pmm.Frame, dmapOffset uint64, frames *pmm.Allocator) *Space {
	return &Space{root: root, frames: frames, dmap: dmapOffset}
}

// Root returns the physical address of this space's PML4, the value
// to load into CR3 to make it active.
func (s *Space) Root() pmm.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// PhysToVirt returns the direct-mapped kernel virtual address for a
// physical address, the same dmap-offset translation
// activeLevel4Table's physToVirt performs, exposed here for
// device drivers (internal/apic's LAPIC/IOAPIC MMIO windows) that
// need to touch a fixed physical address without a page-table walk.
func (s *Space) PhysToVirt(phys uint64) uint64 {
	return phys + s.dmap
}

// NewAddressSpace allocates a fresh PML4, zeros it, and copies the 256
// higher-half entries from kernel bit-for-bit, so every process shares
// identical kernel mappings (spec invariant: PML4[V] identical for all
// processes at any higher-half V).
func (s *Space) NewAddressSpace() (*Space, kernelerr.Err_t) {
	f, err := s.frames.Allocate()
	if !err.Ok() {
		return nil, err
	}
	child := &Space{root: f, frames: s.frames, dmap: s.dmap}

	s.mu.Lock()
	kernelTbl := s.dmapTable(s.root)
	s.mu.Unlock()

	childTbl := child.dmapTable(f)
	for i := range childTbl {
		childTbl[i] = 0
	}
	for i := higherHalfStart; i < entriesPerTable; i++ {
		childTbl[i] = kernelTbl[i]
	}
	return child, kernelerr.OK
}

// Map installs a 4 KiB mapping from virtual page va to physical frame
// pa, allocating any missing intermediate page-table frame along the
// way. flags is a PTE_* bitmask (always implicitly includes PTE_P).
func (s *Space) Map(va uint64, pa pmm.Frame, flags uint64) kernelerr.Err_t {
	if va%limits.PageSize != 0 {
		panic("vmm: Map: unaligned virtual address")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pte, err := s.walk(va, true)
	if !err.Ok() {
		return err
	}
	*pte = uint64(pa) | flags | PTE_P
	return kernelerr.OK
}

// Unmap clears the mapping at va, if any, and reports whether a
// mapping existed. It does not free the physical frame that was
// mapped: the caller owns that frame's lifetime.
func (s *Space) Unmap(va uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pte, err := s.walk(va, false)
	if !err.Ok() || pte == nil || *pte&PTE_P == 0 {
		return false
	}
	*pte = 0
	return true
}

// Translate returns the physical frame va currently maps to, if
// present.
func (s *Space) Translate(va uint64) (pmm.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pte, err := s.walk(va, false)
	if !err.Ok() || pte == nil || *pte&PTE_P == 0 {
		return 0, false
	}
	return pmm.Frame(*pte & pteAddrMask), true
}

// walk descends the four-level hierarchy for va, returning a pointer
// to the leaf PTE. When create is true, missing intermediate tables
// are allocated and zeroed; when false, a missing intermediate table
// yields (nil, OK) rather than allocating.
func (s *Space) walk(va uint64, create bool) (*uint64, kernelerr.Err_t) {
	idx := [4]uint64{
		(va >> 39) & 0x1ff,
		(va >> 30) & 0x1ff,
		(va >> 21) & 0x1ff,
		(va >> 12) & 0x1ff,
	}

	frame := s.root
	for level := 0; level < 3; level++ {
		tbl := s.dmapTable(frame)
		entry := &tbl[idx[level]]
		if *entry&PTE_P == 0 {
			if !create {
				return nil, kernelerr.OK
			}
			nf, err := s.frames.Allocate()
			if !err.Ok() {
				return nil, err
			}
			child := s.dmapTable(nf)
			for i := range child {
				child[i] = 0
			}
			*entry = uint64(nf) | PTE_P | PTE_W
		}
		frame = pmm.Frame(*entry & pteAddrMask)
	}
	leaf := s.dmapTable(frame)
	return &leaf[idx[3]], kernelerr.OK
}
