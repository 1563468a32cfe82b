// Package heap implements the kernel's dynamic memory allocator: up to
// eight independently-growing Regions, each a lock-free bump allocator
// over small size-classed free-lists plus a large-object free-list
// whose head alone is checked for reuse. Regions are tried round-robin so concurrent allocators on
// different threads rarely contend on the same bump pointer.
//
// Grounded on original_source/rOSkernel/src/mem/heap.rs, translated
// line-for-line from Rust's atomic/CAS idiom into Go's
// sync/atomic-over-unsafe.Pointer idiom (the pattern
// biscuit/src/mem/mem.go itself uses for its free-lists). The
// AllocHeader layout, size-class table, bump-with-CAS retry loop,
// small free-list push/pop, and large free-list head check are all
// direct translations of heap.rs's Region methods of the same name.
package heap

import (
	"sync/atomic"
	"unsafe"

	"kcore/internal/kernelerr"
	"kcore/internal/limits"
)

// sizeToClass maps a requested size to its small size-class index
// (0..limits.SmallSizeClasses-1), per heap.rs's sizeToClass.
func sizeToClass(size uint64) uint64 {
	if size <= limits.SmallMinSize {
		return 0
	}
	class := uint64(0)
	s := uint64(limits.SmallMinSize)
	for s < size && class+1 < limits.SmallSizeClasses {
		s <<= 1
		class++
	}
	return class
}

// classSize returns the payload size of a small size class.
func classSize(class uint64) uint64 {
	return limits.SmallMinSize << class
}

func alignUp(addr, align uint64) uint64 {
	return (addr + (align - 1)) &^ (align - 1)
}

// allocHeader precedes every live allocation's payload. 16 bytes,
// 8-byte aligned: 8-byte size, 4-byte magic, 2-byte region index, 2
// bytes of padding.
type allocHeader struct {
	allocSize uint64
	magic     uint32
	regionIdx uint16
	_reserved uint16
}

const headerSize = uint64(unsafe.Sizeof(allocHeader{}))

func headerAt(addr uint64) *allocHeader {
	return (*allocHeader)(unsafe.Pointer(uintptr(addr)))
}

// freeNode is the shape a small free-list entry takes once freed: the
// header's address is reinterpreted as a single forward pointer to the
// next free node (or nil).
type freeNode struct {
	next unsafe.Pointer
}

// largeFreeNode is the shape a large free-list entry takes: a forward
// pointer followed by the total size (header + payload) of the block,
// so popLargeFree can judge whether a block is big enough without
// reading a header that no longer exists at that offset.
type largeFreeNode struct {
	next unsafe.Pointer
	size uint64
}

// Region is one independently-growing arena: a monotonically
// advancing bump pointer, one lock-free LIFO free-list per small size
// class, and one lock-free LIFO free-list for large objects, of which
// only the head is considered for reuse.
type Region struct {
	base uint64
	end  uint64
	bump uint64 // atomic

	smallFree [limits.SmallSizeClasses]unsafe.Pointer // atomic, *freeNode
	largeFree unsafe.Pointer                           // atomic, *largeFreeNode

	idx uint16
}

func (r *Region) init(base, size uint64, idx uint16) {
	r.base = base
	r.end = base + size
	atomic.StoreUint64(&r.bump, base)
	r.idx = idx
	for i := range r.smallFree {
		atomic.StorePointer(&r.smallFree[i], nil)
	}
	atomic.StorePointer(&r.largeFree, nil)
}

// alloc services one allocation request of size bytes aligned to
// align, trying the matching small free-list first (for small
// requests) or the head of the large free-list (for large requests),
// falling back to a CAS bump allocation in both cases.
func (r *Region) alloc(size, align uint64) unsafe.Pointer {
	if align == 0 {
		align = 1
	}
	if size <= limits.SmallMaxSize {
		class := sizeToClass(size)
		if p := r.popSmallFree(class); p != nil {
			// The free-list link overwrote the header; restore it.
			h := headerAt(uint64(uintptr(p)))
			h.allocSize = size
			h.regionIdx = r.idx
			h._reserved = 0
			h.magic = limits.AllocHeaderMagic
			return unsafe.Pointer(uintptr(uint64(uintptr(p))) + uintptr(headerSize))
		}
		allocSize := classSize(class)
		total := headerSize + allocSize
		payloadAlign := allocSize
		if align > payloadAlign {
			payloadAlign = align
		}
		return r.bumpAllocWithHeader(total, payloadAlign, size)
	}

	if p := r.popLargeFree(size, align); p != nil {
		return p
	}
	total := headerSize + size
	hdrAlign := uint64(8)
	if align > hdrAlign {
		hdrAlign = align
	}
	return r.bumpAllocWithHeader(total, hdrAlign, size)
}

// bumpAllocWithHeader CAS-advances the bump pointer by total bytes,
// positioning the payload at the first address >= bump+headerSize
// that satisfies align, and writes a fresh header immediately before
// it. It returns nil once the region is exhausted.
func (r *Region) bumpAllocWithHeader(total, align, size uint64) unsafe.Pointer {
	for {
		curr := atomic.LoadUint64(&r.bump)
		payloadCandidate := alignUp(curr+headerSize, align)
		headerBase := payloadCandidate - headerSize
		next := headerBase + total
		if next > r.end {
			return nil
		}
		if atomic.CompareAndSwapUint64(&r.bump, curr, next) {
			h := headerAt(headerBase)
			h.allocSize = size
			h.regionIdx = r.idx
			h._reserved = 0
			h.magic = limits.AllocHeaderMagic
			return unsafe.Pointer(uintptr(payloadCandidate))
		}
	}
}

// pushSmallFree returns a freed small allocation's header address to
// the LIFO free-list for its size class.
func (r *Region) pushSmallFree(class uint64, headerAddr uint64) {
	slot := &r.smallFree[class]
	node := (*freeNode)(unsafe.Pointer(uintptr(headerAddr)))
	for {
		old := atomic.LoadPointer(slot)
		node.next = old
		if atomic.CompareAndSwapPointer(slot, old, unsafe.Pointer(node)) {
			return
		}
	}
}

// popSmallFree pops the most recently freed header address for the
// given size class, or nil if the free-list is empty.
func (r *Region) popSmallFree(class uint64) unsafe.Pointer {
	slot := &r.smallFree[class]
	for {
		curr := atomic.LoadPointer(slot)
		if curr == nil {
			return nil
		}
		next := (*freeNode)(curr).next
		if atomic.CompareAndSwapPointer(slot, curr, next) {
			return curr
		}
	}
}

// pushLargeFree returns a freed large allocation (identified by its
// header address and total header+payload size) to the large
// free-list.
func (r *Region) pushLargeFree(headerAddr, totalSize uint64) {
	node := (*largeFreeNode)(unsafe.Pointer(uintptr(headerAddr)))
	for {
		old := atomic.LoadPointer(&r.largeFree)
		node.next = old
		node.size = totalSize
		if atomic.CompareAndSwapPointer(&r.largeFree, old, unsafe.Pointer(node)) {
			return
		}
	}
}

// popLargeFree checks whether the head of the large free-list has
// enough room for size bytes aligned to align, per heap.rs: the list
// is examined head-only (no skip-ahead past a too-small head), so a
// too-small head causes an immediate fall-through to bump allocation
// rather than a further list scan.
func (r *Region) popLargeFree(size, align uint64) unsafe.Pointer {
	curr := atomic.LoadPointer(&r.largeFree)
	if curr == nil {
		return nil
	}
	node := (*largeFreeNode)(curr)
	blockSize := node.size

	currAddr := uint64(uintptr(curr))
	payloadAddr := currAddr + headerSize
	alignedPayload := alignUp(payloadAddr, align)
	actualHeader := alignedPayload - headerSize
	spaceNeeded := (alignedPayload - currAddr) + size

	if blockSize < spaceNeeded {
		return nil
	}
	if !atomic.CompareAndSwapPointer(&r.largeFree, curr, node.next) {
		return nil
	}
	h := headerAt(actualHeader)
	h.allocSize = size
	h.regionIdx = r.idx
	h._reserved = 0
	h.magic = limits.AllocHeaderMagic
	return unsafe.Pointer(uintptr(alignedPayload))
}

// OOMMsg is sent on a Heap's OOM channel when every region has been
// exhausted. Need reports how many bytes the failing request wanted.
// Resume is a fresh channel created with each message; the heap never
// reads from it, and the failing Alloc has already returned nil
// without retrying by the time the message is received.
//
// Grounded on biscuit/src/oommsg/oommsg.go's Oommsg_t/OomCh: the
// teacher's OOM channel is a package-level global read by a single
// dedicated reclaim daemon; this kernel has no page-reclaim daemon (no
// demand paging, no swap, no evictable page cache under spec scope),
// so the channel is kept as a per-Heap, best-effort notification any
// interested component (diagnostics, a future reclaimer) can drain,
// rather than a rendezvous every allocation blocks on.
type OOMMsg struct {
	Need   uint64
	Resume chan bool
}

// Heap is the kernel's dynamic allocator: up to limits.MaxHeapRegions
// independently-growing Regions, selected round-robin per allocation.
type Heap struct {
	regions     [limits.MaxHeapRegions]Region
	regionCount uint64 // atomic
	rrNext      uint64 // atomic

	oomCh chan OOMMsg
}

// New returns an empty Heap with no regions; call AddRegion at boot to
// wire in each carved-out span of virtual address space.
func New() *Heap {
	return &Heap{oomCh: make(chan OOMMsg, 1)}
}

// OOMChannel returns the channel OOMMsg notifications are sent on. A
// full channel (an unconsumed prior notification) means a send is
// skipped rather than blocking the failing allocator.
func (h *Heap) OOMChannel() <-chan OOMMsg {
	return h.oomCh
}

func (h *Heap) notifyOOM(need uint64) {
	select {
	case h.oomCh <- OOMMsg{Need: need, Resume: make(chan bool, 1)}:
	default:
	}
}

// AddRegion registers a new arena [base, base+size) and returns its
// region index, or kernelerr.HeapFull if limits.MaxHeapRegions are
// already in use.
func (h *Heap) AddRegion(base, size uint64) (int, kernelerr.Err_t) {
	idx := atomic.AddUint64(&h.regionCount, 1) - 1
	if idx >= limits.MaxHeapRegions {
		atomic.AddUint64(&h.regionCount, ^uint64(0)) // undo
		return 0, kernelerr.HeapFull
	}
	h.regions[idx].init(base, size, uint16(idx))
	return int(idx), kernelerr.OK
}

// Alloc returns a pointer to a block of at least size bytes aligned to
// align, or nil if every region is exhausted. The block is not zeroed:
// a block reused from a free-list keeps its previous contents.
func (h *Heap) Alloc(size, align uint64) unsafe.Pointer {
	count := atomic.LoadUint64(&h.regionCount)
	if count == 0 {
		return nil
	}
	start := atomic.AddUint64(&h.rrNext, 1) % count
	for i := uint64(0); i < count; i++ {
		idx := (start + i) % count
		if p := h.regions[idx].alloc(size, align); p != nil {
			return p
		}
	}
	h.notifyOOM(size)
	return nil
}

// Free returns a previously allocated payload pointer to its region's
// appropriate free-list. Freeing clears the header magic, so a second
// Free of the same block is ignored. It is a no-op on a nil pointer or
// one whose header magic has been corrupted or whose region index is out of
// range (rather than panicking, matching heap.rs's deallocPayload,
// which treats a bad header as something to investigate, not crash
// over, since a crash in the allocator's own free path is worse than a
// leaked block).
func (h *Heap) Free(payload unsafe.Pointer) {
	if payload == nil {
		return
	}
	headerAddr := uint64(uintptr(payload)) - headerSize
	h.free(headerAddr)
}

func (h *Heap) free(headerAddr uint64) {
	hdr := headerAt(headerAddr)
	if hdr.magic != limits.AllocHeaderMagic {
		return
	}
	count := atomic.LoadUint64(&h.regionCount)
	if uint64(hdr.regionIdx) >= count {
		return
	}
	r := &h.regions[hdr.regionIdx]
	hdr.magic = 0 // a repeated free of this block now fails the check above
	if hdr.allocSize <= limits.SmallMaxSize {
		r.pushSmallFree(sizeToClass(hdr.allocSize), headerAddr)
	} else {
		r.pushLargeFree(headerAddr, headerSize+hdr.allocSize)
	}
}
