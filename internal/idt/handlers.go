package idt

import (
	"fmt"
	"io"
	"unsafe"

	"golang.org/x/arch/x86/x86asm"

	"kcore/internal/cpu"
	"kcore/internal/gdt"
	"kcore/internal/stats"
)

// Init builds the complete minimum-set table over the already-built
// GDT (for its kernel code selector and the three IST indices) and
// installs default handlers: the nine CPU exceptions, the four IRQ
// lines, and the syscall/spurious vectors. Logging goes to w (the
// kernel console in normal operation).
//
// Grounded on original_source/rOSkernel/src/kernel/interrupts.rs's
// init_idt(), which wires this same vector set with this same IST
// assignment.
func Init(sel gdt.Selectors, w io.Writer) *Table {
	t := New()
	code := uint16(sel.KernelCode)

	fault := func(name string) func(*Registers) {
		return func(r *Registers) { logFault(w, name, r); haltForever() }
	}

	t.Install(NMI, code, 0, 0, fault("non-maskable interrupt"))
	t.Install(Breakpoint, code, 0, 0, func(r *Registers) { logFault(w, "breakpoint", r) })
	t.Install(InvalidOpcode, code, 0, 0, faultWithDecode(w, "invalid opcode"))
	t.Install(DoubleFault, code, doubleFaultIST, 0, func(r *Registers) {
		logFault(w, "double fault", r)
		haltForever()
	})
	t.Install(InvalidTSS, code, 0, 0, fault("invalid TSS"))
	t.Install(SegmentNotPresent, code, 0, 0, fault("segment not present"))
	t.Install(StackSegmentFault, code, 0, 0, fault("stack segment fault"))
	t.Install(GPFault, code, generalProtectionIST, 0, faultWithDecode(w, "general protection fault"))
	t.Install(PageFault, code, pageFaultIST, 0, faultWithDecode(w, "page fault"))

	t.Install(TimerIRQ, code, 0, 0, irqHandler(TimerIRQ))
	t.Install(KeyboardIRQ, code, 0, 0, irqHandler(KeyboardIRQ))
	t.Install(FloppyIRQ, code, 0, 0, irqHandler(FloppyIRQ))
	t.Install(RTCIRQ, code, 0, 0, irqHandler(RTCIRQ))
	t.Install(SyscallVector, code, 0, 3, func(r *Registers) { logFault(w, "syscall", r) })
	t.Install(SpuriousVector, code, 0, 0, func(*Registers) {})

	return t
}

// irqHandler is the default handler for the four IRQ lines: it only
// counts the IRQ and sends no end-of-interrupt. internal/kernel
// replaces it, once the APIC is up, with a handler that also signals
// EOI to the local APIC.
func irqHandler(v Vector) func(*Registers) {
	return func(r *Registers) {
		stats.RecordIRQ(int(v))
	}
}

// haltForever parks the core on an unrecoverable fault: there is no
// process-level fault isolation under this kernel's scope, so an
// exception with no defined recovery stops the core rather than
// returning to a possibly-corrupt context.
func haltForever() {
	for {
		cpu.DisableInterrupts()
		cpu.Halt()
	}
}

func logFault(w io.Writer, name string, r *Registers) {
	fmt.Fprintf(w, "kernel: %s at rip=%#x\n", name, r.Frame.RIP)
	r.DumpTo(w)
}

// faultWithDecode logs the fault and, if the faulting RIP points at
// readable code in this address space, decodes and prints the
// offending instruction — #UD, #GP, and #PF are the three vectors
// where the instruction bytes themselves are usually the interesting
// part of the diagnosis. It then halts the core, like every other
// fatal exception handler.
func faultWithDecode(w io.Writer, name string) func(*Registers) {
	return func(r *Registers) {
		defer haltForever()
		logFault(w, name, r)
		code := readCodeAt(r.Frame.RIP, 15)
		if code == nil {
			return
		}
		inst, err := x86asm.Decode(code, 64)
		if err != nil {
			fmt.Fprintf(w, "  (could not decode instruction at rip: %v)\n", err)
			return
		}
		fmt.Fprintf(w, "  faulting instruction: %s\n", x86asm.GNUSyntax(inst, uint64(r.Frame.RIP), nil))
	}
}

// readCodeAt reads n bytes starting at a kernel virtual address. This
// only ever runs against the currently executing address space (a
// fault handler inspecting its own RIP), so no cross-space translation
// through internal/vmm is needed.
func readCodeAt(addr uint64, n int) []byte {
	if addr == 0 {
		return nil
	}
	defer func() { recover() }()
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), n)
}
