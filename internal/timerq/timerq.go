// Package timerq is the kernel's deadline-ordered wake queue: callers
// arm a timer against a TSC-tick deadline and a thread to wake, and
// the timer IRQ handler drains whatever has expired on every tick.
//
// Grounded on original_source/rOSkernel/src/kernel/timer.rs's
// TimerQueue (a binary heap ordered by earliest deadline, popping
// every expired entry per tick); container/heap replaces the Rust
// BinaryHeap since no third-party priority-queue package appears
// anywhere in the example pack.
package timerq

import "container/heap"

// Payload distinguishes why a timer fired, mirroring
// original_source's TimerPayload variants.
type Payload int

const (
	// WakeThread means the named thread should move from Sleeping (or
	// SleepingNoDisturb) to Waking.
	WakeThread Payload = iota
	// DeferImportant means the named thread missed a soft deadline and
	// should be requeued ahead of the normal round-robin order.
	DeferImportant
)

// Expired is one timer that has reached its deadline.
type Expired struct {
	ThreadID uint64
	Kind     Payload
}

type entry struct {
	deadline uint64
	threadID uint64
	kind     Payload
}

// entryHeap implements container/heap.Interface as a min-heap on
// deadline, the direct analogue of original_source's reversed Ord
// impl (BinaryHeap in Rust is a max-heap, so it negates the
// comparison to get earliest-first; container/heap is a min-heap
// already, so no negation is needed here).
type entryHeap []entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Queue is a single-core deadline queue. Callers serialize access
// themselves (the scheduler already holds its own lock across a
// tick), matching how internal/sched's ready queue is not
// independently locked either.
type Queue struct {
	h entryHeap
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Add arms a new timer: threadID wakes (or is deferred, per kind) once
// the tick counter reaches deadline.
func (q *Queue) Add(deadline uint64, kind Payload, threadID uint64) {
	heap.Push(&q.h, entry{deadline: deadline, threadID: threadID, kind: kind})
}

// PopExpired removes and returns every timer whose deadline is at or
// before now, earliest first.
func (q *Queue) PopExpired(now uint64) []Expired {
	var out []Expired
	for len(q.h) > 0 && q.h[0].deadline <= now {
		e := heap.Pop(&q.h).(entry)
		out = append(out, Expired{ThreadID: e.threadID, Kind: e.kind})
	}
	return out
}

// Len reports how many timers are still armed.
func (q *Queue) Len() int {
	return len(q.h)
}
