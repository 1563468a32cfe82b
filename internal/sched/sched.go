// Package sched implements the preemptive round-robin scheduler: a
// ready queue of threads grouped into processes, a timer-tick quantum
// decrement, an internal/timerq-backed sleep queue, and the
// context-switch decision that hands internal/idt's timer stub a
// different stack pointer (and, when the incoming thread belongs to a
// different process, a different CR3) to resume at.
//
// The actual register save/restore is the timer IRQ's assembly
// epilogue in internal/idt/stubs_amd64.s (commonStubTimer); this
// package only ever deals in stack-pointer values, never registers
// directly, which is why there is no separate trampoline package —
// the trampoline IS the timer stub, and it already lives next to the
// rest of internal/idt's interrupt machinery rather than split out.
//
// Grounded on original_source/rOSkernel/src/kernel/interrupts.rs's
// timer handler (tick-driven, EOI then return) for the IRQ-level shape
// and on spec §4.11's own tick/need-switch description (fast path:
// quantum decrement, no switch; slow path: save, requeue, pick next,
// switch CR3, resize/restore extended state) — biscuit/src/proc is an
// empty stub module in the teacher, so there is no Go scheduler to
// adapt from; this package is original Go code built to the teacher's
// general style (small mutex-protected structs, explicit state enums)
// instead.
package sched

import (
	"sync"
	"unsafe"

	"kcore/internal/cpu"
	"kcore/internal/idt"
	"kcore/internal/kernelerr"
	"kcore/internal/limits"
	"kcore/internal/stackalloc"
	"kcore/internal/stats"
	"kcore/internal/timerq"
	"kcore/internal/vmm"
	"kcore/internal/xsave"
)

// State is a thread's lifecycle state (spec §4.10).
type State int

const (
	// Spawned is the general runnable-or-running state: ready to be
	// picked, or currently picked, by the scheduler.
	Spawned State = iota
	// Sleeping blocks a thread until an ordinary Wake or its deadline.
	Sleeping
	// SleepingNoDisturb blocks a thread until a WakeForce or its
	// deadline; an ordinary Wake does not affect it.
	SleepingNoDisturb
	// Waking is the transient state between a wake and the thread's
	// first post-wake schedule, at which point it becomes Spawned
	// again.
	Waking
	// Dead threads are garbage-collected the next time the scheduler
	// pops them off the ready queue.
	Dead
)

// PID identifies a process.
type PID uint64

// Process is one address space and the set of threads running in it
// (spec §3's Process: `{pid, parent_pid?, page_table_frame, threads}`).
// Processes are referenced, not owned, by their threads: a Thread's
// cr3 is a cached copy of Process.Space.Root() for fast access on
// every switch, not a second source of truth.
type Process struct {
	mu        sync.Mutex
	PID       PID
	ParentPID PID
	HasParent bool
	Space     *vmm.Space
	Threads   map[uint64]*Thread
}

// Thread is one schedulable unit: a process, a kernel stack, an
// extended-state save area, and the saved stack pointer used to
// resume it.
type Thread struct {
	ID          uint64
	ParentPID   PID
	State       State
	Quantum     int
	MaxQuantum  int
	Initialised bool

	proc *Process
	cr3  uint64 // proc.Space.Root(), duplicated for fast access (spec §3)

	stack     stackalloc.Bounds
	savedSP   uint64
	xsaveArea []byte
	xfeatures uint64 // XCR0 bitmap this thread wants enabled (spec §4.9)
	ticksRun  int64  // cumulative ticks spent as the running thread, sampled by Dump
}

// Process returns the thread's owning process.
func (t *Thread) Process() *Process { return t.proc }

// frameLayout mirrors the exact byte shape internal/idt's timer stub
// pushes on every preemption: GPRegisters, then the vector/errcode
// pair, then the InterruptFrame. Spawn synthesizes one of these at the
// top of a brand-new stack so the first switch-in looks, to the
// assembly epilogue, identical to resuming a previously-preempted
// thread.
type frameLayout struct {
	GP      idt.GPRegisters
	Vector  uint64
	ErrCode uint64
	Frame   idt.InterruptFrame
}

// Scheduler owns the process table, the ready queue, and the
// currently running thread. A single Scheduler instance drives
// exactly one core, matching this kernel's single-core scope (spec
// §4.11's `processes`/`current`/`ready`/`blocked`/`idle` state, held
// here instead of as free-floating globals).
type Scheduler struct {
	mu        sync.Mutex
	processes map[PID]*Process
	ready     []*Thread
	current   *Thread
	idle      *Thread
	nextID    uint64
	nextPID   PID
	byID      map[uint64]*Thread
	ticks     uint64
	timers    *timerq.Queue
	curCR3    uint64

	xsave   *xsave.Manager
	codeSel uint16
	dataSel uint16
}

// New builds a Scheduler and installs it as internal/idt's timer tick
// handler. codeSel/dataSel are the kernel code/data selectors
// internal/gdt built, used to populate new threads' synthesized
// interrupt frames.
func New(xs *xsave.Manager, codeSel, dataSel uint16) *Scheduler {
	s := &Scheduler{
		xsave:     xs,
		codeSel:   codeSel,
		dataSel:   dataSel,
		byID:      make(map[uint64]*Thread),
		processes: make(map[PID]*Process),
		timers:    timerq.New(),
	}
	idt.TickHook = s.tick
	return s
}

// NewProcess admits a new process around space (an already-built
// address space, typically from vmm.Space.NewAddressSpace), subject to
// limits.Syslimit.Processes. parent/hasParent record the optional
// parent_pid spec §3 names.
func (s *Scheduler) NewProcess(space *vmm.Space, parent PID, hasParent bool) (*Process, kernelerr.Err_t) {
	if !limits.Syslimit.Processes.Take() {
		return nil, kernelerr.NoQuota
	}
	s.mu.Lock()
	s.nextPID++
	p := &Process{
		PID:       s.nextPID,
		ParentPID: parent,
		HasParent: hasParent,
		Space:     space,
		Threads:   make(map[uint64]*Thread),
	}
	s.processes[p.PID] = p
	s.mu.Unlock()
	return p, kernelerr.OK
}

// Process looks up a live process by PID.
func (s *Scheduler) Process(pid PID) (*Process, kernelerr.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[pid]
	if !ok {
		return nil, kernelerr.NoSuchProcess
	}
	return p, kernelerr.OK
}

// spawn is the shared Spawn/SpawnIdle body: admit a thread against
// limits.Syslimit.Threads, synthesize its initial frame, and register
// it with both its process and the scheduler's by-ID table.
func (s *Scheduler) spawn(proc *Process, entry uintptr, stack stackalloc.Bounds) (*Thread, kernelerr.Err_t) {
	if !limits.Syslimit.Threads.Take() {
		return nil, kernelerr.NoQuota
	}
	t := &Thread{
		ParentPID:  proc.PID,
		State:      Spawned,
		Quantum:    limits.DefaultQuantum,
		MaxQuantum: limits.DefaultQuantum,
		stack:      stack,
		proc:       proc,
		cr3:        uint64(proc.Space.Root()),
	}
	if s.xsave != nil {
		t.xsaveArea = s.xsave.NewArea()
	}
	t.savedSP = s.synthesizeInitialFrame(stack, entry)

	s.mu.Lock()
	s.nextID++
	t.ID = s.nextID
	s.byID[t.ID] = t
	s.mu.Unlock()

	proc.mu.Lock()
	proc.Threads[t.ID] = t
	proc.mu.Unlock()

	return t, kernelerr.OK
}

// Spawn creates a new thread starting at entry, running on stack, in
// proc, and adds it to the ready queue.
func (s *Scheduler) Spawn(proc *Process, entry uintptr, stack stackalloc.Bounds) (*Thread, kernelerr.Err_t) {
	t, err := s.spawn(proc, entry, stack)
	if !err.Ok() {
		return nil, err
	}
	s.mu.Lock()
	s.ready = append(s.ready, t)
	s.mu.Unlock()
	return t, kernelerr.OK
}

// SpawnIdle creates the scheduler's idle thread: per spec §4.11's
// invariant, it is never pushed to ready and never blocks, and is only
// ever picked in tick's step 5 when nothing else is runnable. A
// Scheduler has at most one idle thread; spawning a second replaces
// the reference (the old one is simply no longer reachable as idle,
// though it remains a live, if now-unreferenced-as-idle, thread).
func (s *Scheduler) SpawnIdle(proc *Process, entry uintptr, stack stackalloc.Bounds) (*Thread, kernelerr.Err_t) {
	t, err := s.spawn(proc, entry, stack)
	if !err.Ok() {
		return nil, err
	}
	s.mu.Lock()
	s.idle = t
	s.mu.Unlock()
	return t, kernelerr.OK
}

// Exit marks t Dead. Per §4.10, a dead thread is garbage-collected
// (removed from its process, the by-ID table, and its admission-count
// quota returned) the next time the scheduler pops it off the ready
// queue, not synchronously here. Releasing its XSAVE area and
// unmapping its stack pages is a known gap (spec §9).
func (s *Scheduler) Exit(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.State = Dead
}

// Wake transitions t from Sleeping to Waking and re-admits it onto the
// ready queue. A no-op returning kernelerr.InvalidState for any other
// state — per §4.10, "wake affects Sleeping only".
func (s *Scheduler) Wake(t *Thread) kernelerr.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.State != Sleeping {
		return kernelerr.InvalidState
	}
	t.State = Waking
	s.ready = append(s.ready, t)
	return kernelerr.OK
}

// WakeForce transitions t from Sleeping or SleepingNoDisturb to
// Waking; the only operation that can rouse a SleepingNoDisturb thread
// (§4.10).
func (s *Scheduler) WakeForce(t *Thread) kernelerr.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.State != Sleeping && t.State != SleepingNoDisturb {
		return kernelerr.InvalidState
	}
	t.State = Waking
	s.ready = append(s.ready, t)
	return kernelerr.OK
}

// Prioritize moves t to the head of the ready queue without changing
// its status (§4.10: "prioritisation... doesn't change status"). A
// no-op if t is not currently in the ready queue — in particular, a
// currently-running thread is trivially already "first" and needs no
// prioritizing.
func (s *Scheduler) Prioritize(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.ready {
		if r == t {
			s.ready = append(s.ready[:i], s.ready[i+1:]...)
			s.ready = append([]*Thread{t}, s.ready...)
			return
		}
	}
}

// AddThreadXFeatures ORs xfeatures into t's wanted XCR0 feature
// bitmap. The next time t is switched in, tick's switch path notices
// the buffer is now too small for the grown feature set and resizes
// it (§4.9's concrete scenario: a thread starts using AVX partway
// through its life and its save area must grow to match).
func (s *Scheduler) AddThreadXFeatures(t *Thread, xfeatures uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.xfeatures |= xfeatures
}

// Sleep transitions t to Sleeping and arms a wake timer for deadline
// (a tick count, the scheduler's own clock); wakeExpired promotes it
// back once the deadline passes, equivalent to a WakeForce.
func (s *Scheduler) Sleep(t *Thread, deadline uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.State = Sleeping
	s.timers.Add(deadline, timerq.WakeThread, t.ID)
}

// SleepNoDisturb is Sleep's variant that only a WakeForce, not an
// ordinary Wake, can rouse before deadline (§4.10).
func (s *Scheduler) SleepNoDisturb(t *Thread, deadline uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.State = SleepingNoDisturb
	s.timers.Add(deadline, timerq.WakeThread, t.ID)
}

// wakeExpired moves every thread whose timer has reached now from
// Sleeping or SleepingNoDisturb back onto the ready queue as Waking —
// a deadline firing is a forced wake, the same as WakeForce, since a
// hard deadline must rouse a no-disturb thread too. Called with s.mu
// held, once per tick, before the quantum bookkeeping.
func (s *Scheduler) wakeExpired(now uint64) {
	for _, e := range s.timers.PopExpired(now) {
		t := s.byID[e.ThreadID]
		if t == nil || (t.State != Sleeping && t.State != SleepingNoDisturb) {
			continue
		}
		t.State = Waking
		s.ready = append(s.ready, t)
	}
}

// synthesizeInitialFrame writes a frameLayout at the top of stack so
// that resuming savedSP via the timer stub's pop/iret epilogue starts
// execution at entry with interrupts enabled.
func (s *Scheduler) synthesizeInitialFrame(stack stackalloc.Bounds, entry uintptr) uint64 {
	size := uint64(unsafe.Sizeof(frameLayout{}))
	addr := stack.End - size
	fl := (*frameLayout)(unsafe.Pointer(uintptr(addr)))
	*fl = frameLayout{}
	fl.Frame = idt.InterruptFrame{
		RIP:    uint64(entry),
		CS:     uint64(s.codeSel),
		RFlags: 0x202, // reserved bit 1 always set, IF (bit 9) set
		RSP:    stack.End,
		SS:     uint64(s.dataSel),
	}
	return addr
}

// tick is internal/idt's TickHook: called on every timer interrupt
// with the interrupted thread's saved stack pointer, it implements
// spec §4.11's tick/need-switch decision.
func (s *Scheduler) tick(currentSP uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats.RecordIRQ(int(idt.TimerIRQ))
	s.ticks++
	s.wakeExpired(s.ticks)

	cur := s.current

	// Step 1: no current thread.
	if cur == nil {
		if len(s.ready) == 0 && s.idle == nil {
			return currentSP
		}
		return s.switchTo(currentSP)
	}

	cur.savedSP = currentSP
	cur.ticksRun++

	// Step 2: current already not runnable.
	if cur.State == Dead || cur.State == Sleeping || cur.State == SleepingNoDisturb {
		return s.switchTo(currentSP)
	}

	// Step 3: fast path, no switch.
	if cur.Quantum > 0 && cur.Initialised {
		cur.Quantum--
		return currentSP // same thread keeps running, no state saved
	}

	// Step 4: quantum exhausted, refill and switch.
	cur.Quantum = cur.MaxQuantum
	return s.switchTo(currentSP)
}

// switchTo implements §4.11's "need-switch" steps 1-8: save the
// current thread's extended state, requeue it if still runnable, pick
// the next thread (or idle, or fall back to resuming current), switch
// CR3 if the incoming thread belongs to a different process, and
// resize/restore its extended state.
func (s *Scheduler) switchTo(currentSP uint64) uint64 {
	cur := s.current
	if cur != nil && s.xsave != nil {
		s.xsave.Save(cur.xsaveArea)
	}
	// Requeue only a thread that is actually runnable: Dead and both
	// Sleeping states are excluded, so a blocked thread is never
	// simultaneously present in ready (the invariant §4.11 states
	// explicitly: "current never appears in ready or blocked
	// simultaneously" generalizes to no thread being in both at once).
	if cur != nil && cur != s.idle && cur.State != Dead && cur.State != Sleeping && cur.State != SleepingNoDisturb {
		s.ready = append(s.ready, cur)
	}

	next := s.pickNext()
	if next == nil {
		if s.idle != nil {
			next = s.idle
		} else if cur != nil {
			return cur.savedSP
		} else {
			return currentSP
		}
	}

	if next.cr3 != s.curCR3 {
		cpu.WriteCR3(next.cr3)
		s.curCR3 = next.cr3
	}
	if s.xsave != nil {
		next.xsaveArea = s.xsave.GrowIfNeeded(next.xsaveArea, next.xfeatures)
		s.xsave.Restore(next.xsaveArea)
	}

	next.Initialised = true
	s.current = next
	return next.savedSP
}

// pickNext pops threads off the front of the ready queue (the
// round-robin policy) until it finds one worth returning: Dead
// entries are reaped (removed from their process, the by-ID table,
// and given back to limits.Syslimit.Threads) and skipped, and Waking
// entries become Spawned on this pass, per §4.10/§4.11.
func (s *Scheduler) pickNext() *Thread {
	for len(s.ready) > 0 {
		t := s.ready[0]
		s.ready = s.ready[1:]
		if t.State == Dead {
			s.reap(t)
			continue
		}
		if t.State == Waking {
			t.State = Spawned
		}
		return t
	}
	return nil
}

// reap removes a Dead thread from its process and the scheduler's
// by-ID table and returns its admission-control quota.
func (s *Scheduler) reap(t *Thread) {
	delete(s.byID, t.ID)
	if t.proc != nil {
		t.proc.mu.Lock()
		delete(t.proc.Threads, t.ID)
		t.proc.mu.Unlock()
	}
	limits.Syslimit.Threads.Give(1)
}

// Current returns the thread currently selected to run, or nil before
// the first tick.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Idle returns the scheduler's idle thread, or nil if none has been
// spawned yet.
func (s *Scheduler) Idle() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

// Ticks returns the number of timer interrupts handled so far, the
// clock internal/timerq deadlines are measured against.
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}
