package idt

import "unsafe"

// stubAddr returns the entry-point address of v's hand-written
// assembly stub (internal/idt/stubs_amd64.s). Only the vectors this
// kernel actually wires have one; anything else is a programming
// error caught at Install time rather than at fault time.
func stubAddr(v Vector) uintptr {
	switch v {
	case NMI:
		return funcPC(stubNMI)
	case Breakpoint:
		return funcPC(stubBreakpoint)
	case InvalidOpcode:
		return funcPC(stubInvalidOpcode)
	case DoubleFault:
		return funcPC(stubDoubleFault)
	case InvalidTSS:
		return funcPC(stubInvalidTSS)
	case SegmentNotPresent:
		return funcPC(stubSegmentNotPresent)
	case StackSegmentFault:
		return funcPC(stubStackSegmentFault)
	case GPFault:
		return funcPC(stubGPFault)
	case PageFault:
		return funcPC(stubPageFault)
	case TimerIRQ:
		return funcPC(stubTimerIRQ)
	case KeyboardIRQ:
		return funcPC(stubKeyboardIRQ)
	case FloppyIRQ:
		return funcPC(stubFloppyIRQ)
	case RTCIRQ:
		return funcPC(stubRTCIRQ)
	case SyscallVector:
		return funcPC(stubSyscall)
	case SpuriousVector:
		return funcPC(stubSpurious)
	default:
		panic("idt: no assembly stub for vector")
	}
}

// funcPC returns the entry address of a bodyless asm stub declared
// below. The stubs themselves live in stubs_amd64.s; these
// declarations exist only so Go has a symbol to take the address of.
func funcPC(stub func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&stub))
}

func stubNMI()
func stubBreakpoint()
func stubInvalidOpcode()
func stubDoubleFault()
func stubInvalidTSS()
func stubSegmentNotPresent()
func stubStackSegmentFault()
func stubGPFault()
func stubPageFault()
func stubTimerIRQ()
func stubKeyboardIRQ()
func stubFloppyIRQ()
func stubRTCIRQ()
func stubSyscall()
func stubSpurious()

// loadIDTTable renders t into a pseudo-descriptor and loads it,
// implemented in assembly alongside the stubs.
func loadIDTTable(t *Table)

// active is the single live IDT, set by Load. The kernel runs one
// core's worth of this code at a time under spec's scope, so a
// package-level singleton is sufficient (mirrors internal/gdt's single
// live Table).
var active *Table

// goDispatch is the common entry point every stub calls into after
// building the GPRegisters/InterruptFrame on the stack. It is called
// directly by symbol name from assembly, which resolves to the
// compiler-generated ABI0 wrapper for this function.
func goDispatch(v Vector, gp *GPRegisters, errcode uint64, frame *InterruptFrame) {
	if active == nil {
		return
	}
	r := &Registers{GP: *gp, ErrCode: errcode, Frame: *frame}
	active.dispatch(v, r)
}

// TickHook, when set by internal/sched, decides the next thread to
// run on every timer interrupt. It receives the interrupted thread's
// kernel stack pointer (pointing at its saved GPRegisters block) and
// returns the stack pointer to resume — the same value to continue
// the interrupted thread, or a different thread's previously-saved
// stack pointer to switch. Left nil, the timer tick never switches
// threads.
var TickHook func(currentSP uint64) uint64

// goDispatchTimer is commonStubTimer's Go half: it runs the timer
// vector's installed handler (EOI, IRQ counters) and then consults
// TickHook for where execution should resume.
func goDispatchTimer(gp *GPRegisters, errcode uint64, frame *InterruptFrame) uint64 {
	currentSP := uint64(uintptr(unsafe.Pointer(gp)))
	if active != nil {
		r := &Registers{GP: *gp, ErrCode: errcode, Frame: *frame}
		active.dispatch(TimerIRQ, r)
	}
	if TickHook == nil {
		return currentSP
	}
	return TickHook(currentSP)
}
