// Package acpi walks the fixed-format ACPI tables the APIC driver and
// boot sequence need: RSDP/RSDT/XSDT discovery and MADT decoding. It
// deliberately stops at fixed-format tables — DSDT/SSDT are AML
// bytecode and stay out of scope, an external collaborator's job.
//
// Grounded on original_source/rOSkernel/src/acpi/SystemDescriptorPointer.rs,
// SystemDescriptorTable.rs, mod.rs, and structures/madt.rs: the RSDP/XSDP
// layouts, the ACPISDTHeader-plus-checksum validation scheme
// (impl_acpitable_defaults!'s validate()), and the MADT record set are
// carried over field-for-field. OEMID/OEMTableID are sanitized to Go
// strings here rather than left as raw byte arrays, since nothing else
// in this kernel can safely print a non-NUL-terminated fixed-width
// array.
package acpi

import (
	"bytes"
	"unsafe"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// SDTHeader is the common 36-byte header every ACPI system description
// table begins with.
type SDTHeader struct {
	Signature       [4]byte
	Length          uint32
	Revision        uint8
	Checksum        uint8
	OEMID           [6]byte
	OEMTableID      [8]byte
	OEMRevision     uint32
	CreatorID       uint32
	CreatorRevision uint32
}

// OEMIDString returns the OEMID field sanitized to a plain Go string.
func (h *SDTHeader) OEMIDString() string { return sanitizeASCII(h.OEMID[:]) }

// OEMTableIDString returns the OEMTableID field sanitized to a plain Go string.
func (h *SDTHeader) OEMTableIDString() string { return sanitizeASCII(h.OEMTableID[:]) }

// nonPrintableToQuestionMark is the runes.Map transformer's policy:
// firmware-owned fixed-width fields may hold any byte pattern, so
// anything outside printable ASCII is replaced rather than trusted.
var nonPrintableToQuestionMark = runes.Map(func(r rune) rune {
	if r < 0x20 || r > 0x7e {
		return '?'
	}
	return r
})

// sanitizeASCII truncates b at its first NUL and replaces any
// remaining non-printable byte with '?', run through
// golang.org/x/text/transform/runes rather than a hand-rolled loop
// since these fields arrive straight out of firmware-owned memory
// with no encoding guarantee.
func sanitizeASCII(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	out, _, err := transform.String(nonPrintableToQuestionMark, string(b))
	if err != nil {
		return string(b)
	}
	return out
}

// Locator finds and validates ACPI tables through the kernel's direct
// map: every address it deals in is physical, and dmapOffset
// translates to the virtual address actually worth dereferencing.
type Locator struct {
	dmap uint64
}

// NewLocator returns a Locator that translates physical addresses
// through the given direct-map offset (vmm.Space.PhysToVirt's offset).
func NewLocator(dmapOffset uint64) *Locator {
	return &Locator{dmap: dmapOffset}
}

func (l *Locator) header(phys uint64) *SDTHeader {
	return (*SDTHeader)(unsafe.Pointer(uintptr(phys + l.dmap)))
}

// checksumOK sums every byte of the table (header included) for
// length bytes and reports whether they add to zero mod 256, the
// validation every ACPI table must satisfy.
func (l *Locator) checksumOK(phys uint64, length uint32) bool {
	base := (*byte)(unsafe.Pointer(uintptr(phys + l.dmap)))
	bytes := unsafe.Slice(base, length)
	var sum byte
	for _, b := range bytes {
		sum += b
	}
	return sum == 0
}

// RSDPInfo is the result of parsing the Root System Description
// Pointer the bootloader hands the kernel.
type RSDPInfo struct {
	Revision    uint8
	SDTPhysAddr uint64 // RSDT address (rev 0) or XSDT address (rev >= 2)
	Is64        bool   // true if SDTPhysAddr names an XSDT (8-byte entries)
}

// rsdpV1 is the ACPI 1.0 20-byte RSDP layout.
type rsdpV1 struct {
	Signature    [8]byte
	Checksum     uint8
	OEMID        [6]byte
	Revision     uint8
	RsdtAddress  uint32
}

// rsdpV2 extends rsdpV1 with the ACPI 2.0+ fields.
type rsdpV2 struct {
	rsdpV1
	Length           uint32
	XsdtAddress      uint64
	ExtendedChecksum uint8
	Reserved         [3]byte
}

// ParseRSDP reads the RSDP at the given physical address (typically
// found via the EBDA or BIOS area scan the bootloader already did) and
// reports which root table to use.
func (l *Locator) ParseRSDP(phys uint64) *RSDPInfo {
	v1 := (*rsdpV1)(unsafe.Pointer(uintptr(phys + l.dmap)))
	if v1.Revision < 2 {
		return &RSDPInfo{Revision: v1.Revision, SDTPhysAddr: uint64(v1.RsdtAddress), Is64: false}
	}
	v2 := (*rsdpV2)(unsafe.Pointer(uintptr(phys + l.dmap)))
	return &RSDPInfo{Revision: v2.Revision, SDTPhysAddr: v2.XsdtAddress, Is64: true}
}

// FindTable scans the RSDT/XSDT's entry list for a table whose
// signature matches sig and whose checksum validates, returning its
// physical address.
func (l *Locator) FindTable(info *RSDPInfo, sig [4]byte) (uint64, bool) {
	hdr := l.header(info.SDTPhysAddr)
	entrySize := uint32(4)
	if info.Is64 {
		entrySize = 8
	}
	count := (hdr.Length - uint32(unsafe.Sizeof(SDTHeader{}))) / entrySize
	entriesBase := info.SDTPhysAddr + uint64(unsafe.Sizeof(SDTHeader{}))

	for i := uint32(0); i < count; i++ {
		var entryPhys uint64
		if info.Is64 {
			p := (*uint64)(unsafe.Pointer(uintptr(entriesBase + l.dmap + uint64(i)*8)))
			entryPhys = *p
		} else {
			p := (*uint32)(unsafe.Pointer(uintptr(entriesBase + l.dmap + uint64(i)*4)))
			entryPhys = uint64(*p)
		}
		h := l.header(entryPhys)
		if h.Signature == sig && l.checksumOK(entryPhys, h.Length) {
			return entryPhys, true
		}
	}
	return 0, false
}
