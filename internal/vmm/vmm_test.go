package vmm

import (
	"testing"
	"unsafe"

	"kcore/internal/bootinfo"
	"kcore/internal/limits"
	"kcore/internal/pmm"
)

// backedAllocator hands out frames backed by real, GC-pinned Go memory
// so the unsafe dereferences in walk()/dmapTable() land on addressable
// storage, with the direct-map offset fixed at zero (virtual ==
// "physical" for the purposes of this test).
type backedAllocator struct {
	*pmm.Allocator
	pin [][]byte // keeps backing arrays alive and unmoved by GC
}

func newBackedAllocator(n int) *backedAllocator {
	b := &backedAllocator{}
	info := bootinfo.Info{}
	for i := 0; i < n; i++ {
		// Over-allocate and align by hand: make's backing array isn't
		// guaranteed page-aligned, but UsableFrames expects region
		// bounds already aligned to the frame it hands out.
		buf := make([]byte, 2*limits.PageSize)
		b.pin = append(b.pin, buf)
		raw := uintptr(unsafe.Pointer(&buf[0]))
		aligned := (raw + limits.PageSize - 1) / limits.PageSize * limits.PageSize
		addr := uint64(aligned)
		info.Regions = append(info.Regions, bootinfo.Region{
			Start: addr, End: addr + limits.PageSize, Kind: bootinfo.Usable,
		})
	}
	b.Allocator = pmm.New(info)
	return b
}

func newTestSpace(t *testing.T, frames *pmm.Allocator) *Space {
	t.Helper()
	root, err := frames.Allocate()
	if !err.Ok() {
		t.Fatalf("allocate root: %v", err)
	}
	s := NewKernelSpace(root, 0, frames)
	tbl := s.dmapTable(root)
	for i := range tbl {
		tbl[i] = 0
	}
	return s
}

func TestMapUnmapTranslate(t *testing.T) {
	ba := newBackedAllocator(8)
	s := newTestSpace(t, ba.Allocator)

	target, err := ba.Allocate()
	if !err.Ok() {
		t.Fatalf("allocate target: %v", err)
	}
	const va = 0x0000_4000_0000

	if err := s.Map(va, target, PTE_W|PTE_U); !err.Ok() {
		t.Fatalf("Map: %v", err)
	}
	got, ok := s.Translate(va)
	if !ok || got != target {
		t.Fatalf("Translate: got (%#x,%v) want (%#x,true)", got, ok, target)
	}
	if !s.Unmap(va) {
		t.Fatal("Unmap: expected mapping to have existed")
	}
	if _, ok := s.Translate(va); ok {
		t.Fatal("Translate: expected no mapping after Unmap")
	}
	if s.Unmap(va) {
		t.Fatal("Unmap: expected false on already-unmapped page")
	}
}

func TestNewAddressSpaceSharesHigherHalf(t *testing.T) {
	ba := newBackedAllocator(8)
	kernel := newTestSpace(t, ba.Allocator)

	kernelTbl := kernel.dmapTable(kernel.root)
	kernelTbl[300] = 0xdeadb000 | PTE_P | PTE_W

	child, err := kernel.NewAddressSpace()
	if !err.Ok() {
		t.Fatalf("NewAddressSpace: %v", err)
	}
	childTbl := child.dmapTable(child.root)
	if childTbl[300] != kernelTbl[300] {
		t.Fatalf("higher-half entry not shared: got %#x want %#x", childTbl[300], kernelTbl[300])
	}
	for i := 0; i < higherHalfStart; i++ {
		if childTbl[i] != 0 {
			t.Fatalf("lower-half entry %d not zeroed: %#x", i, childTbl[i])
		}
	}
}

func TestHigherHalfIdenticalAcrossSpaces(t *testing.T) {
	ba := newBackedAllocator(12)
	kernel := newTestSpace(t, ba.Allocator)
	kernelTbl := kernel.dmapTable(kernel.root)
	kernelTbl[511] = 0xcafe0000 | PTE_P

	p1, err := kernel.NewAddressSpace()
	if !err.Ok() {
		t.Fatalf("NewAddressSpace p1: %v", err)
	}
	p2, err := kernel.NewAddressSpace()
	if !err.Ok() {
		t.Fatalf("NewAddressSpace p2: %v", err)
	}
	t1 := p1.dmapTable(p1.root)
	t2 := p2.dmapTable(p2.root)
	for i := higherHalfStart; i < entriesPerTable; i++ {
		if t1[i] != t2[i] {
			t.Fatalf("PML4[%d] differs between processes: %#x vs %#x", i, t1[i], t2[i])
		}
	}
}
