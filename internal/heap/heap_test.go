package heap

import (
	"testing"
	"unsafe"

	"kcore/internal/kernelerr"
	"kcore/internal/limits"
)

// newBackedRegion allocates a real, GC-pinned backing array large
// enough for one region and registers it with h. Returning the slice
// keeps it alive and unmoved for the caller's test duration.
func newBackedRegion(t *testing.T, h *Heap, size uint64) ([]byte, int) {
	t.Helper()
	buf := make([]byte, size+16) // slack for header alignment
	base := uint64(uintptr(unsafe.Pointer(&buf[0])))
	idx, err := h.AddRegion(base, size)
	if !err.Ok() {
		t.Fatalf("AddRegion: %v", err)
	}
	return buf, idx
}

func TestAllocWritesValidHeader(t *testing.T) {
	h := New()
	buf, _ := newBackedRegion(t, h, 4096)
	_ = buf

	p := h.Alloc(32, 8)
	if p == nil {
		t.Fatal("expected non-nil allocation")
	}
	hdr := headerAt(uint64(uintptr(p)) - headerSize)
	if hdr.magic != limits.AllocHeaderMagic {
		t.Fatalf("bad magic: %#x", hdr.magic)
	}
	if hdr.allocSize != 32 {
		t.Fatalf("got size %d want 32", hdr.allocSize)
	}
}

func TestAllocReturnsDistinctRegions(t *testing.T) {
	h := New()
	b1, _ := newBackedRegion(t, h, 4096)
	b2, _ := newBackedRegion(t, h, 4096)
	_, _ = b1, b2

	seen := map[unsafe.Pointer]bool{}
	for i := 0; i < 20; i++ {
		p := h.Alloc(16, 8)
		if p == nil {
			t.Fatalf("alloc %d: unexpected nil", i)
		}
		if seen[p] {
			t.Fatalf("alloc %d: duplicate pointer %p", i, p)
		}
		seen[p] = true
	}
}

func TestFreeThenReallocReusesSmallClass(t *testing.T) {
	h := New()
	newBackedRegion(t, h, 4096)

	p1 := h.Alloc(16, 8)
	if p1 == nil {
		t.Fatal("expected allocation")
	}
	h.Free(p1)
	p2 := h.Alloc(16, 8)
	if p2 != p1 {
		t.Fatalf("expected free-list reuse: p1=%p p2=%p", p1, p2)
	}
}

func TestNoDoubleFreeCorruption(t *testing.T) {
	h := New()
	newBackedRegion(t, h, 4096)

	p := h.Alloc(16, 8)
	h.Free(p)
	h.Free(p) // ignored: the first Free cleared the header magic

	a := h.Alloc(16, 8)
	b := h.Alloc(16, 8)
	if a == nil || b == nil {
		t.Fatal("expected both allocations to succeed")
	}
	if a == b {
		t.Fatalf("double free corrupted the free-list: a==b==%p", a)
	}
}

func TestHeapFullWhenRegionTableExhausted(t *testing.T) {
	h := New()
	for i := 0; i < limits.MaxHeapRegions; i++ {
		newBackedRegion(t, h, 64)
	}
	buf := make([]byte, 64)
	_, err := h.AddRegion(uint64(uintptr(unsafe.Pointer(&buf[0]))), 64)
	if err != kernelerr.HeapFull {
		t.Fatalf("expected HeapFull, got %v", err)
	}
}

func TestAllocExhaustionReturnsNil(t *testing.T) {
	h := New()
	newBackedRegion(t, h, 64)

	sawNil := false
	for i := 0; i < 1000; i++ {
		p := h.Alloc(8, 8)
		if p == nil {
			sawNil = true
			break
		}
	}
	if !sawNil {
		t.Fatal("expected an eventual nil once the region is exhausted")
	}
}

func TestLargeAllocationFirstFitReuse(t *testing.T) {
	h := New()
	newBackedRegion(t, h, 8192)

	big := h.Alloc(2048, 8)
	if big == nil {
		t.Fatal("expected large allocation to succeed")
	}
	h.Free(big)
	again := h.Alloc(2048, 8)
	if again != big {
		t.Fatalf("expected large free-list reuse: first=%p second=%p", big, again)
	}
}

func TestOOMChannelNotifiedOnExhaustion(t *testing.T) {
	h := New()
	newBackedRegion(t, h, 64)

	for {
		if h.Alloc(8, 8) == nil {
			break
		}
	}
	select {
	case msg := <-h.OOMChannel():
		if msg.Need != 8 {
			t.Fatalf("got Need=%d want 8", msg.Need)
		}
	default:
		t.Fatal("expected an OOM notification after exhaustion")
	}
}

func TestSizeClassBoundaries(t *testing.T) {
	cases := []struct {
		size uint64
		want uint64
	}{
		{1, 0}, {8, 0}, {9, 1}, {16, 1}, {17, 2},
		{1024, limits.SmallSizeClasses - 1},
	}
	for _, c := range cases {
		if got := sizeToClass(c.size); got != c.want {
			t.Fatalf("sizeToClass(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}
