// Package pmm implements the kernel's physical frame allocator: a bump
// pointer over the bootloader's usable-memory list with a LIFO
// free-list for reuse. No coalescing, no refcounting — a freed frame
// goes straight back onto the free-list and the next allocation prefers
// it over advancing the bump pointer.
//
// Grounded on biscuit/src/mem/mem.go's Physmem_t (Pa_t address type,
// free-list-of-indices shape) simplified to a single-CPU allocator per
// spec scope (biscuit's per-CPU free-list sharding and page reference
// counting do not apply: no SMP, and no page is ever mapped in more
// than one address space at a time under this kernel's model) and to
// original_source/rOSkernel/src/mem/memory.rs's BootInfoFrameAllocator
// (a pure bump allocator seeded by a pre-filtered frame list, which is
// where the Next/usable-frame-table shape comes from).
package pmm

import (
	"sync"

	"kcore/internal/bootinfo"
	"kcore/internal/kernelerr"
	"kcore/internal/limits"
)

// Frame is a physical address of a 4 KiB-aligned page frame.
type Frame uint64

// Allocator deals physical frames from the bootloader's usable-region
// list and accepts frees back onto a reuse list.
type Allocator struct {
	mu sync.Mutex

	frames []Frame // every usable frame, in ascending address order
	next   int      // bump index into frames: next never-yet-allocated frame

	free []Frame // LIFO free-list of previously-allocated, now-freed frames
}

// New builds an Allocator from a boot-time memory map. The frame table
// is materialized once at boot and never changes size afterward.
func New(info bootinfo.Info) *Allocator {
	raw := info.UsableFrames(limits.PageSize)
	frames := make([]Frame, len(raw))
	for i, f := range raw {
		frames[i] = Frame(f)
	}
	return &Allocator{frames: frames}
}

// Allocate deals one physical frame: the top of the free-list if
// non-empty, else the next frame in bump order. It returns
// kernelerr.OutOfFrames if both are exhausted.
func (a *Allocator) Allocate() (Frame, kernelerr.Err_t) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		f := a.free[n-1]
		a.free = a.free[:n-1]
		return f, kernelerr.OK
	}
	if a.next >= len(a.frames) {
		return 0, kernelerr.OutOfFrames
	}
	f := a.frames[a.next]
	a.next++
	return f, kernelerr.OK
}

// Deallocate returns a previously allocated frame to the free-list.
// There is no coalescing and no reference counting: the caller is
// responsible for not freeing a frame still in use.
func (a *Allocator) Deallocate(f Frame) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free = append(a.free, f)
}

// Total reports how many usable frames the boot-time memory map
// contained in all.
func (a *Allocator) Total() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.frames)
}

// Available reports how many frames could currently be allocated
// without exhausting the pool (free-list size plus un-bumped frames).
func (a *Allocator) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.free) + (len(a.frames) - a.next)
}
