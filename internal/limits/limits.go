// Package limits collects the kernel's compile-time tunables and the
// atomically-enforced admission counters derived from them.
//
// Grounded on biscuit/src/limits/limits.go's Syslimit_t/Sysatomic_t
// pattern, repurposed from POSIX resource limits (vnodes, futexes, TCP
// segments) to the handful of limits this kernel's four core subsystems
// actually need.
package limits

import "sync/atomic"

const (
	// PageSize is the size in bytes of a physical frame / virtual page.
	PageSize = 4096

	// MaxHeapRegions is the fixed capacity of the heap's region table
	// (spec §3, "up to eight Regions").
	MaxHeapRegions = 8

	// SmallSizeClasses is K in spec §3 ("K = 8 size classes").
	SmallSizeClasses = 8

	// SmallMinSize is the smallest heap size class, in bytes.
	SmallMinSize = 8

	// SmallMaxSize is the largest small-object size class, in bytes
	// (SmallMinSize << (SmallSizeClasses-1) == 1024).
	SmallMaxSize = SmallMinSize << (SmallSizeClasses - 1)

	// AllocHeaderMagic is the sentinel written into every allocation
	// header (spec §3 "Allocation Header").
	AllocHeaderMagic uint32 = 0x1BADF00D

	// DefaultQuantum is a thread's scheduling credit in timer ticks
	// when none is specified.
	DefaultQuantum = 20

	// ISTStackSize is the size of each of the three dedicated IST
	// stacks (spec §4.6).
	ISTStackSize = 20 * 1024

	// TimerQuantumMillis is the LAPIC-timer run-mode period (spec
	// §4.12 "10 ms quantum").
	TimerQuantumMillis = 10

	// MaxProcesses is the initial Syslimit.Processes quota: the number
	// of processes that may be live at once. Process IDs themselves are
	// not bounded by it.
	MaxProcesses = 1 << 16

	// MaxThreadsPerProcess is the initial Syslimit.Threads quota: the
	// number of threads that may be live at once across all processes
	// together. No single process's thread table is checked against it.
	MaxThreadsPerProcess = 1 << 12

	// StackGuardPages is the number of unmapped guard pages reserved
	// below every thread stack (spec §4.3: exactly one).
	StackGuardPages = 1

	// BootStackPages is the number of mapped pages internal/boot
	// reserves for the idle thread's and the kernel-init thread's
	// kernel stacks.
	BootStackPages = 4
)

// Sysatomic_t is an atomically adjustable resource counter: a quota that
// starts at some capacity and is drawn down by Taken / replenished by
// Given. Adapted from limits.Sysatomic_t, trimmed to the admission
// counters this kernel needs (live process count, live thread count).
type Sysatomic_t int64

// Taken tries to decrement the counter by n. It returns false (and leaves
// the counter unchanged) if doing so would drive it negative.
func (s *Sysatomic_t) Taken(n uint) bool {
	delta := int64(n)
	g := atomic.AddInt64((*int64)(s), -delta)
	if g >= 0 {
		return true
	}
	atomic.AddInt64((*int64)(s), delta)
	return false
}

// Given increments the counter by n, returning quota to the pool.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64((*int64)(s), int64(n))
}

// Take is shorthand for Taken(1).
func (s *Sysatomic_t) Take() bool { return s.Taken(1) }

// Give is shorthand for Given(1).
func (s *Sysatomic_t) Give() { s.Given(1) }

// Load returns the current counter value.
func (s *Sysatomic_t) Load() int64 { return atomic.LoadInt64((*int64)(s)) }

// Syslimit is the process-wide admission-control state: how many
// processes and threads may currently be live.
var Syslimit = newSyslimit()

type syslimit_t struct {
	Processes Sysatomic_t
	Threads   Sysatomic_t
}

func newSyslimit() *syslimit_t {
	s := &syslimit_t{}
	s.Processes.Given(MaxProcesses)
	s.Threads.Given(MaxThreadsPerProcess)
	return s
}
