// Package proc tracks per-thread bookkeeping that sits alongside
// internal/sched's scheduling decisions: accounted run time and a
// process-wide thread registry, the two concerns
// Oichkatzelesfrettschen-biscuit splits into internal/accnt and
// internal/tinfo.
package proc

import (
	"sync"
	"sync/atomic"
)

// Accnt accumulates a thread's consumed time in scheduler ticks.
// biscuit's Accnt_t measures in wall-clock nanoseconds via
// time.Now(); this kernel has no OS clock underneath it, so ticks
// (internal/sched's timer-quantum counter) are the only unit of time
// it can observe, and Userticks/Systicks replace Userns/Sysns.
type Accnt struct {
	Userticks int64
	Systicks  int64
}

// Utadd adds delta ticks to the user-time counter.
func (a *Accnt) Utadd(delta int64) {
	atomic.AddInt64(&a.Userticks, delta)
}

// Systadd adds delta ticks to the system-time counter.
func (a *Accnt) Systadd(delta int64) {
	atomic.AddInt64(&a.Systicks, delta)
}

// Add merges n's counters into a.
func (a *Accnt) Add(n *Accnt) {
	atomic.AddInt64(&a.Userticks, atomic.LoadInt64(&n.Userticks))
	atomic.AddInt64(&a.Systicks, atomic.LoadInt64(&n.Systicks))
}

// Snapshot returns a's counters without mutating them.
func (a *Accnt) Snapshot() (userticks, systicks int64) {
	return atomic.LoadInt64(&a.Userticks), atomic.LoadInt64(&a.Systicks)
}

// Note is a thread's liveness state: biscuit's Tnote_t tracks this
// via a runtime fork patched to carry a per-goroutine pointer
// (runtime.Gptr/Setgptr); this kernel runs on an unmodified Go
// toolchain, so Note is addressed by thread ID through Registry
// instead of a thread-local lookup.
type Note struct {
	mu       sync.Mutex
	Alive    bool
	Killed   bool
	Isdoomed bool
	Accnt    Accnt
}

// Doomed reports whether the thread has been marked for teardown.
func (n *Note) Doomed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Isdoomed
}

// Kill marks the thread doomed and killed.
func (n *Note) Kill() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Killed = true
	n.Isdoomed = true
}

// Registry tracks every live thread's Note, keyed by the thread ID
// internal/sched assigns in Scheduler.Spawn.
type Registry struct {
	mu    sync.Mutex
	notes map[uint64]*Note
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{notes: make(map[uint64]*Note)}
}

// Register creates and returns a new Note for threadID.
func (r *Registry) Register(threadID uint64) *Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := &Note{Alive: true}
	r.notes[threadID] = n
	return n
}

// Unregister drops threadID's Note, called once a thread has exited.
func (r *Registry) Unregister(threadID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.notes, threadID)
}

// Lookup returns threadID's Note, or nil if it has none.
func (r *Registry) Lookup(threadID uint64) *Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notes[threadID]
}
