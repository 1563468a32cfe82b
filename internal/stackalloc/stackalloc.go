// Package stackalloc carves per-thread kernel stacks out of a
// dedicated virtual address range, mapping each with an unmapped guard
// page immediately below it so a stack overflow faults instead of
// silently corrupting whatever lies beneath.
//
// Grounded on original_source/rOSkernel/src/mem/stack.rs's
// allocStack/reserveStackMem: a monotonic virtual-address bump region
// reserves pages+1 pages per request, skips the first (the guard page,
// left unmapped), and maps the rest through the address space's
// mapper/frame allocator.
package stackalloc

import (
	"sync/atomic"

	"kcore/internal/kernelerr"
	"kcore/internal/limits"
	"kcore/internal/pmm"
	"kcore/internal/vmm"
)

// stackRegionStart is the base of the virtual range stack allocations
// are bumped through. Chosen to sit well clear of any identity or
// direct-map window, matching the role of stack.rs's fixed
// 0x5555_5555_0000 constant.
const stackRegionStart = 0x5555_5555_0000

// Bounds describes one allocated stack: [Start, End) is the mapped,
// usable range; the guard page lives at Start - PageSize and is never
// mapped.
type Bounds struct {
	Start uint64
	End   uint64
}

// Contains reports whether addr falls within the mapped stack range.
func (b Bounds) Contains(addr uint64) bool {
	return b.Start <= addr && addr < b.End
}

// GuardPage returns the address of the unmapped page directly below
// the stack, the page a stack overflow will fault against.
func (b Bounds) GuardPage() uint64 {
	return b.Start - limits.PageSize
}

// Allocator hands out kernel stacks from a single bump region shared
// by every call; pages is the number of 4 KiB frames each stack gets
// beyond its guard page.
type Allocator struct {
	next uint64 // atomically bumped; next unreserved virtual page
}

// NewAllocator creates a stack allocator starting at the fixed stack
// region base.
func NewAllocator() *Allocator {
	return &Allocator{next: stackRegionStart}
}

// reserve bumps the region by pages+1 (the +1 is the guard page) and
// returns the first page of the reservation.
func (a *Allocator) reserve(pages uint64) uint64 {
	span := (pages + 1) * limits.PageSize
	return atomic.AddUint64(&a.next, span) - span
}

// Alloc reserves a guard page plus pages mapped pages in space,
// mapping each with PRESENT|WRITABLE (kernel stacks are never
// user-accessible). It returns the bounds of the mapped range.
func Alloc(a *Allocator, pages uint64, space *vmm.Space, frames *pmm.Allocator) (Bounds, kernelerr.Err_t) {
	base := a.reserve(pages)
	stackStart := base + limits.PageSize // skip the guard page

	for i := uint64(0); i < pages; i++ {
		f, err := frames.Allocate()
		if !err.Ok() {
			return Bounds{}, err
		}
		va := stackStart + i*limits.PageSize
		if err := space.Map(va, f, vmm.PTE_W); !err.Ok() {
			return Bounds{}, err
		}
	}

	return Bounds{Start: stackStart, End: stackStart + pages*limits.PageSize}, kernelerr.OK
}
