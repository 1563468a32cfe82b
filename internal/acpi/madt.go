package acpi

import "unsafe"

// MADTSignature is the 4-byte ASCII signature identifying the MADT
// among an RSDT/XSDT's entries.
var MADTSignature = [4]byte{'A', 'P', 'I', 'C'}

// madtFixedHeader is the MADT's header plus its two fixed fields,
// before the variable-length record list begins.
type madtFixedHeader struct {
	SDTHeader
	LocalAPICAddress uint32
	Flags            uint32
}

// recordHeader is the 2-byte type/length prefix every MADT record
// starts with.
type recordHeader struct {
	Type   uint8
	Length uint8
}

// MADT record type codes, matching structures/madt.rs's MADTEntry
// discriminants.
const (
	recProcLocalAPIC        uint8 = 0
	recIOAPIC               uint8 = 1
	recIOAPICIntSrcOverride uint8 = 2
	recIOAPICNMISource      uint8 = 3
	recLocalAPICNMI         uint8 = 4
	recLocalAPICAddrOverride uint8 = 5
	recProcLocalX2APIC      uint8 = 9
)

// LocalAPICEntry describes one processor's local APIC (MADTRecord_ProcLocalAPIC).
type LocalAPICEntry struct {
	ACPIProcessorID uint8
	APICID          uint8
	Enabled         bool
}

// IOAPICEntry describes one I/O APIC controller (MADTRecord_IOAPIC).
type IOAPICEntry struct {
	IOAPICID                 uint8
	Address                  uint32
	GlobalSystemInterruptBase uint32
}

// InterruptOverride reroutes a legacy ISA IRQ to a different global
// system interrupt (MADTRecord_IOAPIC_IntSrcOvrrd).
type InterruptOverride struct {
	BusSource              uint8
	Source                 uint8
	GlobalSystemInterrupt  uint32
}

// MADT is the decoded Multiple APIC Description Table: enough of it
// for internal/apic to program the local APIC and every I/O APIC's
// redirection table.
type MADT struct {
	LocalAPICAddress uint32
	LocalAPICs       []LocalAPICEntry
	IOAPICs          []IOAPICEntry
	Overrides        []InterruptOverride
}

// ParseMADT decodes the MADT at the given physical address.
func (l *Locator) ParseMADT(phys uint64) *MADT {
	fixed := (*madtFixedHeader)(unsafe.Pointer(uintptr(phys + l.dmap)))
	m := &MADT{LocalAPICAddress: fixed.LocalAPICAddress}

	recordsStart := phys + uint64(unsafe.Sizeof(madtFixedHeader{}))
	end := phys + uint64(fixed.Length)

	for addr := recordsStart; addr < end; {
		rh := (*recordHeader)(unsafe.Pointer(uintptr(addr + l.dmap)))
		if rh.Length == 0 {
			break // malformed table; stop rather than loop forever
		}
		switch rh.Type {
		case recProcLocalAPIC:
			type rec struct {
				recordHeader
				ACPIProcessorID uint8
				APICID          uint8
				APICFlags       uint32
			}
			r := (*rec)(unsafe.Pointer(uintptr(addr + l.dmap)))
			m.LocalAPICs = append(m.LocalAPICs, LocalAPICEntry{
				ACPIProcessorID: r.ACPIProcessorID,
				APICID:          r.APICID,
				Enabled:         r.APICFlags&1 != 0,
			})
		case recIOAPIC:
			type rec struct {
				recordHeader
				IOAPICID                  uint8
				Reserved                  uint8
				Address                   uint32
				GlobalSystemInterruptBase uint32
			}
			r := (*rec)(unsafe.Pointer(uintptr(addr + l.dmap)))
			m.IOAPICs = append(m.IOAPICs, IOAPICEntry{
				IOAPICID:                  r.IOAPICID,
				Address:                   r.Address,
				GlobalSystemInterruptBase: r.GlobalSystemInterruptBase,
			})
		case recIOAPICIntSrcOverride:
			type rec struct {
				recordHeader
				BusSource             uint8
				Source                uint8
				GlobalSystemInterrupt uint32
				Flags                 uint16
			}
			r := (*rec)(unsafe.Pointer(uintptr(addr + l.dmap)))
			m.Overrides = append(m.Overrides, InterruptOverride{
				BusSource:             r.BusSource,
				Source:                r.Source,
				GlobalSystemInterrupt: r.GlobalSystemInterrupt,
			})
		}
		addr += uint64(rh.Length)
	}
	return m
}

// ISAIRQToGSI resolves a legacy ISA IRQ line to its global system
// interrupt number, following any interrupt source override, or
// falling back to the identity mapping against the first I/O APIC's
// base.
//
// Grounded on AdvancedPic::isaIRQtoGSI.
func (m *MADT) ISAIRQToGSI(isaIRQ uint8) uint32 {
	for _, ov := range m.Overrides {
		if ov.Source == isaIRQ {
			return ov.GlobalSystemInterrupt
		}
	}
	if len(m.IOAPICs) == 0 {
		return uint32(isaIRQ)
	}
	return m.IOAPICs[0].GlobalSystemInterruptBase + uint32(isaIRQ)
}
