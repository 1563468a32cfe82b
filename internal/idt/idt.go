// Package idt builds the kernel's interrupt descriptor table: the
// "minimum set" of CPU exception vectors plus the four IRQ lines and
// the single syscall vector spec names, each wired to a Go handler
// through a small per-vector assembly stub.
//
// Grounded on gopher-os-gopher-os/src/gopheros/kernel/gate/
// gate_amd64.go for the overall shape (a Registers snapshot struct,
// named InterruptNumber-style vector constants, a declarative
// HandleInterrupt(vector, istOffset, handler) registration API backed
// by assembly) and on
// original_source/rOSkernel/src/kernel/interrupts.rs for which
// vectors this kernel actually wires and to which IST index
// (double-fault→IST0, page-fault→IST2, general-protection→IST3,
// matching internal/gdt's assignments) and for the EOI-at-end-of-IRQ
// convention.
package idt

import "kcore/internal/gdt"

// Vector identifies one IDT slot.
type Vector uint8

// CPU exception vectors spec §4.7 names as the minimum set.
const (
	NMI               Vector = 2
	Breakpoint        Vector = 3
	InvalidOpcode     Vector = 6
	DoubleFault       Vector = 8
	InvalidTSS        Vector = 10
	SegmentNotPresent Vector = 11
	StackSegmentFault Vector = 12
	GPFault           Vector = 13
	PageFault         Vector = 14
)

// IRQ vectors, remapped off the legacy 0-15 range (the 8259 is masked
// entirely; these are the vectors internal/apic programs into the
// IOAPIC redirection table entries).
const (
	TimerIRQ    Vector = 32
	KeyboardIRQ Vector = 33
	FloppyIRQ   Vector = 38
	RTCIRQ      Vector = 40
)

// SpuriousVector is what the LAPIC's SVR (0x1FF) names as its
// spurious-interrupt vector.
const SpuriousVector Vector = 0xFF

// SyscallVector is the kernel's single Ring-3-callable vector (spec's
// "0xAA" placeholder future syscall ABI entry point).
const SyscallVector Vector = 0xAA

// errCodeVectors is the set of vectors the CPU pushes an error code
// for before calling the handler.
var errCodeVectors = map[Vector]bool{
	InvalidTSS:        true,
	SegmentNotPresent: true,
	StackSegmentFault: true,
	GPFault:           true,
	PageFault:         true,
	DoubleFault:       true,
}

// HasErrorCode reports whether v's handler frame includes a
// CPU-pushed error code.
func (v Vector) HasErrorCode() bool { return errCodeVectors[v] }

// gateEntry is one raw 16-byte amd64 interrupt-gate descriptor.
type gateEntry struct {
	offsetLow  uint16
	selector   uint16
	istAndZero uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

const (
	gateTypeInterrupt uint8 = 0xE // 64-bit interrupt gate
	gatePresent       uint8 = 1 << 7
)

func makeGate(handler uintptr, selector uint16, ist uint8, dpl uint8) gateEntry {
	return gateEntry{
		offsetLow:  uint16(handler),
		selector:   selector,
		istAndZero: ist & 0x7,
		typeAttr:   gatePresent | (dpl&0x3)<<5 | gateTypeInterrupt,
		offsetMid:  uint16(handler >> 16),
		offsetHigh: uint32(handler >> 32),
	}
}

// Table is the kernel's 256-entry IDT.
type Table struct {
	entries  [256]gateEntry
	handlers [256]func(*Registers)
}

// New returns an empty, all-non-present table.
func New() *Table {
	return &Table{}
}

// Install wires vector to handler, running it on the IST stack at
// index ist (0 means "use the current stack", matching the TSS
// convention where IST index 0 in a gate descriptor means "no IST
// switch"; internal/gdt's DoubleFaultIST/PageFaultIST/
// GeneralProtectionIST constants are 1-biased for this reason when
// passed here — callers pass ist+1 for those three).
func (t *Table) Install(v Vector, codeSelector uint16, ist uint8, dpl uint8, handler func(*Registers)) {
	stub := stubAddr(v)
	t.entries[v] = makeGate(stub, codeSelector, ist, dpl)
	t.handlers[v] = handler
}

// Load installs this table into IDTR and makes it the table goDispatch
// routes into.
func (t *Table) Load() {
	active = t
	loadIDTTable(t)
}

// dispatch looks up and runs v's registered handler, if any.
func (t *Table) dispatch(v Vector, r *Registers) {
	h := t.handlers[v]
	if h == nil {
		return
	}
	h(r)
}

// istField maps internal/gdt's 0-biased IST indices to the
// 1-biased values an interrupt-gate descriptor's IST field expects.
func istField(gdtIndex int) uint8 {
	return uint8(gdtIndex + 1)
}

var (
	doubleFaultIST       = istField(gdt.DoubleFaultIST)
	pageFaultIST         = istField(gdt.PageFaultIST)
	generalProtectionIST = istField(gdt.GeneralProtectionIST)
)
