package cpu

// IsIntel reports whether the CPUID vendor string identifies an Intel
// processor. Grounded on gopheros/kernel/cpu/cpu_amd64.go's IsIntel.
func IsIntel() bool {
	_, ebx, ecx, edx := ID(0, 0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// HasXSAVE reports whether leaf 1's ECX.XSAVE bit (26) is set.
func HasXSAVE() bool {
	_, _, ecx, _ := ID(1, 0)
	return ecx&(1<<26) != 0
}

// HasAPIC reports whether leaf 1's EDX.APIC bit (9) is set.
func HasAPIC() bool {
	_, _, _, edx := ID(1, 0)
	return edx&(1<<9) != 0
}

// XSaveAreaSize returns the size in bytes of the XSAVE area required
// for the feature set enabled in XCR0, via CPUID leaf 0x0D subleaf 0.
func XSaveAreaSize() uint32 {
	_, ebx, _, _ := ID(0x0D, 0)
	return ebx
}

// XSaveAreaSizeForMask returns the XSAVE area size required for
// exactly the feature set in mask, by temporarily programming XCR0 to
// mask, reading CPUID leaf 0x0D subleaf 0's EBX (the size for whatever
// is currently enabled), then restoring XCR0. Used when a thread's
// wanted feature set differs from whatever the processor is currently
// configured for.
func XSaveAreaSizeForMask(mask uint64) uint32 {
	saved := ReadXCR0()
	WriteXCR0(mask)
	_, ebx, _, _ := ID(0x0D, 0)
	WriteXCR0(saved)
	return ebx
}
