package apic

import (
	"kcore/internal/acpi"
	"kcore/internal/idt"
	"kcore/internal/vmm"
)

// Controller owns the running core's local APIC and every I/O APIC
// the MADT describes, and is the handle the scheduler/IRQ handlers
// use to send EOI and IPIs.
type Controller struct {
	LAPIC   *LAPIC
	IOAPICs []*IOAPIC
}

// Init enables the local APIC, masks the legacy 8259 pair, and
// programs every I/O APIC redirection entry the minimum IRQ set
// needs: the PIT/timer, keyboard, floppy, and RTC lines, each routed
// to the running core's local APIC ID.
//
// Grounded on AdvancedPic::new's ioApic loop: for each I/O APIC, the
// PIT (ISA IRQ 0), keyboard (IRQ 1), and RTC (IRQ 8) GSIs are resolved
// via isaIRQtoGSI and programmed into every controller whose GSI base
// is at or below the GSI. Only that lower bound is checked: the upper
// end of a controller's GSI range (its redirection-entry count) is not
// read or compared. Floppy (IRQ 6) is added here since spec's minimum
// IRQ set names it alongside the other three.
func Init(space *vmm.Space, madt *acpi.MADT) *Controller {
	lapic := NewLAPIC(space, uint8(idt.SpuriousVector))
	c := &Controller{LAPIC: lapic}

	type wiredLine struct {
		isaIRQ uint8
		vector uint8
	}
	lines := []wiredLine{
		{isaIRQ: 0, vector: uint8(idt.TimerIRQ)},
		{isaIRQ: 1, vector: uint8(idt.KeyboardIRQ)},
		{isaIRQ: 6, vector: uint8(idt.FloppyIRQ)},
		{isaIRQ: 8, vector: uint8(idt.RTCIRQ)},
	}

	for _, ioEntry := range madt.IOAPICs {
		io := NewIOAPIC(space, uint64(ioEntry.Address))
		c.IOAPICs = append(c.IOAPICs, io)

		for _, line := range lines {
			gsi := madt.ISAIRQToGSI(line.isaIRQ)
			if gsi < ioEntry.GlobalSystemInterruptBase {
				continue
			}
			idx := gsi - ioEntry.GlobalSystemInterruptBase
			io.SetRedirEntry(idx, line.vector, lapic.ID(), false)
		}
	}

	return c
}
