package sched

import (
	"testing"
	"unsafe"

	"kcore/internal/bootinfo"
	"kcore/internal/idt"
	"kcore/internal/limits"
	"kcore/internal/pmm"
	"kcore/internal/stackalloc"
	"kcore/internal/vmm"
)

func backedStack(t *testing.T, pages uint64) stackalloc.Bounds {
	t.Helper()
	size := pages*limits.PageSize + limits.PageSize
	buf := make([]byte, size)
	raw := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (raw + uintptr(limits.PageSize) - 1) / uintptr(limits.PageSize) * uintptr(limits.PageSize)
	start := uint64(aligned)
	return stackalloc.Bounds{Start: start, End: start + pages*limits.PageSize}
}

// pinnedFrames keeps backedFrameAllocator's buffers referenced.
var pinnedFrames [][]byte

// backedFrameAllocator builds a pmm.Allocator over real, GC-pinned Go
// memory, the same shape internal/vmm's own tests use, so a *vmm.Space
// built on top of it can actually be dereferenced.
func backedFrameAllocator(t *testing.T, n int) *pmm.Allocator {
	t.Helper()
	info := bootinfo.Info{}
	for i := 0; i < n; i++ {
		buf := make([]byte, 2*limits.PageSize)
		pinnedFrames = append(pinnedFrames, buf)
		raw := uintptr(unsafe.Pointer(&buf[0]))
		aligned := (raw + limits.PageSize - 1) / limits.PageSize * limits.PageSize
		addr := uint64(aligned)
		info.Regions = append(info.Regions, bootinfo.Region{
			Start: addr, End: addr + limits.PageSize, Kind: bootinfo.Usable,
		})
	}
	return pmm.New(info)
}

// testProcess builds a Process around a real, zeroed root page table
// so Spawn/switchTo's CR3 read (proc.Space.Root()) has somewhere valid
// to point at.
func testProcess(t *testing.T, s *Scheduler) *Process {
	t.Helper()
	frames := backedFrameAllocator(t, 4)
	root, err := frames.Allocate()
	if !err.Ok() {
		t.Fatalf("allocate root frame: %v", err)
	}
	space := vmm.NewKernelSpace(root, 0, frames)
	p, err := s.NewProcess(space, 0, false)
	if !err.Ok() {
		t.Fatalf("NewProcess: %v", err)
	}
	return p
}

func TestSynthesizeInitialFrameBuildsValidIretTarget(t *testing.T) {
	s := &Scheduler{codeSel: 0x08, dataSel: 0x10}
	stack := backedStack(t, 4)

	entry := uintptr(0x1234_5000)
	sp := s.synthesizeInitialFrame(stack, entry)

	fl := (*frameLayout)(unsafe.Pointer(uintptr(sp)))
	if fl.Frame.RIP != uint64(entry) {
		t.Fatalf("got RIP %#x want %#x", fl.Frame.RIP, entry)
	}
	if fl.Frame.CS != 0x08 || fl.Frame.SS != 0x10 {
		t.Fatalf("got CS/SS %#x/%#x want 0x08/0x10", fl.Frame.CS, fl.Frame.SS)
	}
	if fl.Frame.RFlags&(1<<9) == 0 {
		t.Fatal("expected IF set in synthesized RFLAGS")
	}
	if fl.Frame.RSP != stack.End {
		t.Fatalf("got RSP %#x want %#x", fl.Frame.RSP, stack.End)
	}
	if sp+uint64(unsafe.Sizeof(frameLayout{})) != stack.End {
		t.Fatal("synthesized frame must sit at the very top of the stack")
	}
}

func TestTickFastPathKeepsRunningSameThread(t *testing.T) {
	s := New(nil, 0x08, 0x10)
	th := &Thread{ID: 1, State: Spawned, Quantum: 5, Initialised: true, savedSP: 0xAAAA}
	s.current = th

	next := s.tick(0xBBBB)
	if next != 0xBBBB {
		t.Fatalf("fast path must resume the same SP, got %#x", next)
	}
	if th.Quantum != 4 {
		t.Fatalf("expected quantum decremented to 4, got %d", th.Quantum)
	}
}

func TestTickFastPathSkippedBeforeFirstSwitchIn(t *testing.T) {
	// A never-yet-switched-in thread (Initialised == false) must not
	// take the fast path even with quantum remaining: it has to go
	// through switchTo once to pick up its CR3/xsave restore.
	s := New(nil, 0x08, 0x10)
	th := &Thread{ID: 1, State: Spawned, Quantum: 5, savedSP: 0xAAAA}
	s.current = th

	s.tick(0xBBBB)
	if !th.Initialised {
		t.Fatal("expected thread to be marked Initialised after its first switchTo")
	}
}

func TestTickSlowPathRoundRobins(t *testing.T) {
	s := New(nil, 0x08, 0x10)
	a := &Thread{ID: 1, State: Spawned, Quantum: 0, MaxQuantum: 1, Initialised: true, savedSP: 0x1000}
	b := &Thread{ID: 2, State: Spawned, Quantum: limits.DefaultQuantum, savedSP: 0x2000}
	s.current = a
	s.ready = []*Thread{b}

	next := s.tick(0x1111)
	if next != b.savedSP {
		t.Fatalf("expected switch to b's saved SP %#x, got %#x", b.savedSP, next)
	}
	if s.current != b {
		t.Fatal("expected current to become b")
	}
	if a.State != Spawned {
		t.Fatal("expected a requeued as Spawned")
	}
	if len(s.ready) != 1 || s.ready[0] != a {
		t.Fatalf("expected a re-enqueued at the back, got %+v", s.ready)
	}
}

func TestTickWithNoRunnableThreadsResumesCurrent(t *testing.T) {
	s := New(nil, 0x08, 0x10)
	a := &Thread{ID: 1, State: Spawned, Quantum: 0, MaxQuantum: 1, Initialised: true, savedSP: 0x3000}
	s.current = a

	// tick records the interrupted SP (0x4444) as a's saved SP before
	// requeuing a and picking it straight back.
	next := s.tick(0x4444)
	if next != 0x4444 {
		t.Fatalf("expected to resume current thread's saved SP, got %#x", next)
	}
}

func TestTickWithNoRunnableThreadsPicksIdle(t *testing.T) {
	s := New(nil, 0x08, 0x10)
	a := &Thread{ID: 1, State: Sleeping, Quantum: 0, MaxQuantum: 1, Initialised: true, savedSP: 0x3000}
	idle := &Thread{ID: 2, State: Spawned, Quantum: limits.DefaultQuantum, savedSP: 0x9000}
	s.current = a
	s.idle = idle

	next := s.tick(0x4444)
	if next != idle.savedSP {
		t.Fatalf("expected switch to idle's saved SP %#x, got %#x", idle.savedSP, next)
	}
	if s.current != idle {
		t.Fatal("expected current to become idle")
	}
	for _, r := range s.ready {
		if r == idle {
			t.Fatal("idle thread must never be pushed to the ready queue")
		}
	}
}

func TestSleepBlocksThreadUntilDeadline(t *testing.T) {
	s := New(nil, 0x08, 0x10)
	a := &Thread{ID: 1, State: Spawned, Quantum: 1, Initialised: true, savedSP: 0x1000}
	b := &Thread{ID: 2, savedSP: 0x2000}
	s.current = a
	s.byID[b.ID] = b
	s.Sleep(b, 3)

	// Tick 1: a's quantum (1) still covers the fast path, so the tick
	// is a no-op switch-wise and b's deadline (tick 3) hasn't arrived.
	s.tick(0x1111)
	if b.State != Sleeping {
		t.Fatalf("expected b still Sleeping before its deadline, got %v", b.State)
	}

	// Tick 2: a's quantum is now exhausted, forcing a switch; with
	// nothing else ready it just resumes a.
	s.tick(0x2222)
	if s.current != a {
		t.Fatalf("expected a still current at tick 2, got thread %d", s.current.ID)
	}

	// Tick 3: b's deadline fires during wakeExpired, so when a's own
	// quantum forces another switch this tick, b is the thing picked.
	s.tick(0x3333)
	if b.State == Sleeping {
		t.Fatal("expected b to have woken once its deadline passed")
	}
	if s.current != b {
		t.Fatalf("expected b to have been scheduled in, current is thread %d", s.current.ID)
	}
}

func TestSleepNoDisturbIgnoresOrdinaryWake(t *testing.T) {
	s := New(nil, 0x08, 0x10)
	b := &Thread{ID: 1, State: Spawned}
	s.byID[b.ID] = b
	s.SleepNoDisturb(b, 100)

	if err := s.Wake(b); err.Ok() {
		t.Fatal("expected ordinary Wake to be rejected for a SleepingNoDisturb thread")
	}
	if b.State != SleepingNoDisturb {
		t.Fatalf("expected b to remain SleepingNoDisturb, got %v", b.State)
	}

	if err := s.WakeForce(b); !err.Ok() {
		t.Fatalf("expected WakeForce to succeed, got %v", err)
	}
	if b.State != Waking {
		t.Fatalf("expected b to become Waking, got %v", b.State)
	}
}

func TestWakeOnlyAffectsSleeping(t *testing.T) {
	s := New(nil, 0x08, 0x10)
	a := &Thread{ID: 1, State: Spawned}
	if err := s.Wake(a); err.Ok() {
		t.Fatal("expected Wake on a non-Sleeping thread to report InvalidState")
	}

	b := &Thread{ID: 2, State: Sleeping}
	if err := s.Wake(b); !err.Ok() {
		t.Fatalf("expected Wake to succeed on a Sleeping thread, got %v", err)
	}
	if b.State != Waking {
		t.Fatalf("expected b to become Waking, got %v", b.State)
	}
}

func TestPrioritizeMovesThreadToHeadOfReady(t *testing.T) {
	s := New(nil, 0x08, 0x10)
	a := &Thread{ID: 1}
	b := &Thread{ID: 2}
	c := &Thread{ID: 3}
	s.ready = []*Thread{a, b, c}

	s.Prioritize(c)
	if s.ready[0] != c {
		t.Fatalf("expected c at the head of ready, got %+v", s.ready)
	}
	if len(s.ready) != 3 {
		t.Fatalf("expected Prioritize to reorder in place, got len %d", len(s.ready))
	}
}

func TestWakingBecomesSpawnedOnNextSchedule(t *testing.T) {
	s := New(nil, 0x08, 0x10)
	a := &Thread{ID: 1, State: Spawned, Quantum: 0, MaxQuantum: 1, Initialised: true, savedSP: 0x1000}
	b := &Thread{ID: 2, State: Waking, savedSP: 0x2000}
	s.current = a
	s.ready = []*Thread{b}

	s.tick(0x1111)
	if b.State != Spawned {
		t.Fatalf("expected Waking thread picked off ready to become Spawned, got %v", b.State)
	}
}

func TestExitMarksThreadDeadAndPickNextReapsIt(t *testing.T) {
	s := New(nil, 0x08, 0x10)
	a := &Thread{ID: 1, State: Spawned, Quantum: 0, MaxQuantum: 1, Initialised: true, savedSP: 0x1000}
	dead := &Thread{ID: 2, savedSP: 0x2000}
	alive := &Thread{ID: 3, State: Spawned, savedSP: 0x3000}
	s.current = a
	s.byID[dead.ID] = dead
	s.byID[alive.ID] = alive
	s.ready = []*Thread{dead, alive}

	s.Exit(dead)
	next := s.tick(0x1111)
	if next != alive.savedSP {
		t.Fatalf("expected dead thread skipped and alive picked, got SP %#x", next)
	}
	if _, ok := s.byID[dead.ID]; ok {
		t.Fatal("expected dead thread reaped from by-ID table")
	}
}

func TestSpawnInstallsTickHookAndAdmitsProcessAndThread(t *testing.T) {
	old := idt.TickHook
	defer func() { idt.TickHook = old }()

	s := New(nil, 0x08, 0x10)
	if idt.TickHook == nil {
		t.Fatal("expected New to install idt.TickHook")
	}
	proc := testProcess(t, s)
	stack := backedStack(t, 2)
	th, err := s.Spawn(proc, uintptr(0xdead0000), stack)
	if !err.Ok() {
		t.Fatalf("Spawn: %v", err)
	}
	if th.State != Spawned {
		t.Fatalf("expected new thread Spawned, got %v", th.State)
	}
	if th.cr3 != uint64(proc.Space.Root()) {
		t.Fatalf("expected thread cr3 to match its process's page table, got %#x want %#x", th.cr3, uint64(proc.Space.Root()))
	}
	if len(s.ready) != 1 {
		t.Fatalf("expected 1 ready thread, got %d", len(s.ready))
	}
	if proc.Threads[th.ID] != th {
		t.Fatal("expected thread registered under its process")
	}
}

func TestSpawnIdleIsNeverPushedToReady(t *testing.T) {
	s := New(nil, 0x08, 0x10)
	proc := testProcess(t, s)
	stack := backedStack(t, 2)

	idle, err := s.SpawnIdle(proc, uintptr(0xdead1000), stack)
	if !err.Ok() {
		t.Fatalf("SpawnIdle: %v", err)
	}
	if s.Idle() != idle {
		t.Fatal("expected SpawnIdle to register the idle thread")
	}
	if len(s.ready) != 0 {
		t.Fatalf("expected idle thread not enqueued on ready, got %d entries", len(s.ready))
	}
}

func TestSwitchingProcessesWritesNewCR3(t *testing.T) {
	s := New(nil, 0x08, 0x10)
	procA := testProcess(t, s)
	procB := testProcess(t, s)
	stackA := backedStack(t, 2)
	stackB := backedStack(t, 2)

	a, err := s.Spawn(procA, uintptr(0x1000), stackA)
	if !err.Ok() {
		t.Fatalf("Spawn a: %v", err)
	}
	b, err := s.Spawn(procB, uintptr(0x2000), stackB)
	if !err.Ok() {
		t.Fatalf("Spawn b: %v", err)
	}
	// Spawn appended both a and b to ready; pull a out and make it
	// current directly so the tick below has exactly one switch target.
	a.Quantum = 0
	a.MaxQuantum = 1
	a.Initialised = true
	s.current = a
	s.ready = []*Thread{b}

	s.tick(a.savedSP)
	if s.current != b {
		t.Fatal("expected switch to b")
	}
	if s.curCR3 != uint64(procB.Space.Root()) {
		t.Fatalf("expected curCR3 to track b's process root, got %#x want %#x", s.curCR3, uint64(procB.Space.Root()))
	}
}
