package idt

import (
	"fmt"
	"io"
)

// GPRegisters is the fixed-layout block of general-purpose registers
// the interrupt stubs (commonStub/commonStubTimer in stubs_amd64.s) push onto the
// interrupted stack, r15 first through rax last, matching spec §4.8's
// GPRegisters layout exactly: the scheduler's assembly trampoline
// depends on this field order.
type GPRegisters struct {
	R15, R14, R13, R12 uint64
	R11, R10, R9, R8   uint64
	RBP                uint64
	RDI, RSI           uint64
	RDX, RCX, RBX, RAX uint64
}

// InterruptFrame is the 5-field frame the CPU itself pushes before
// invoking a gate handler (and what IRETQ pops on return).
type InterruptFrame struct {
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// Registers is the complete register snapshot handed to a Go handler:
// the pushed GPRegisters, the CPU-pushed error code (0 if the vector
// carries none), and the interrupt return frame.
//
// Grounded on gopheros/kernel/gate/gate_amd64.go's Registers (the
// flat struct of named GP fields plus an Info/frame tail); split here
// into GPRegisters/InterruptFrame to match the two separately-typed
// pointers spec §4.8 says the trampoline passes to its C-ABI callee.
type Registers struct {
	GP       GPRegisters
	ErrCode  uint64
	Frame    InterruptFrame
}

// DumpTo writes a human-readable register dump to w, in the same
// field groupings gate_amd64.go's DumpTo uses.
func (r *Registers) DumpTo(w io.Writer) {
	fmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.GP.RAX, r.GP.RBX)
	fmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.GP.RCX, r.GP.RDX)
	fmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.GP.RSI, r.GP.RDI)
	fmt.Fprintf(w, "RBP = %16x\n", r.GP.RBP)
	fmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.GP.R8, r.GP.R9)
	fmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.GP.R10, r.GP.R11)
	fmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.GP.R12, r.GP.R13)
	fmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.GP.R14, r.GP.R15)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "RIP = %16x CS  = %16x\n", r.Frame.RIP, r.Frame.CS)
	fmt.Fprintf(w, "RSP = %16x SS  = %16x\n", r.Frame.RSP, r.Frame.SS)
	fmt.Fprintf(w, "RFL = %16x ERR = %16x\n", r.Frame.RFlags, r.ErrCode)
}
