// Package cpu wraps the handful of amd64 privileged instructions the
// kernel needs directly: port I/O, control-register access, CPUID,
// the timestamp counter, and the XSAVE feature-enable registers.
//
// Grounded on gopheros/kernel/cpu/cpu_amd64.go's pattern: each
// primitive is declared here as a bodyless Go function and implemented
// in the matching .s file. gopheros itself only needed a handful of
// these (EnableInterrupts, Halt, CPUID); this kernel's scheduler, APIC
// driver, and XSAVE layer need a larger set, so the set below is
// broadened accordingly but keeps the same declare-in-Go,
// implement-in-asm split.
package cpu

// EnableInterrupts executes STI.
func EnableInterrupts()

// DisableInterrupts executes CLI.
func DisableInterrupts()

// Halt executes HLT.
func Halt()

// Pause executes PAUSE, the recommended spin-loop hint.
func Pause()

// InB reads one byte from the given I/O port.
func InB(port uint16) uint8

// OutB writes one byte to the given I/O port.
func OutB(port uint16, val uint8)

// InW reads one 16-bit word from the given I/O port.
func InW(port uint16) uint16

// OutW writes one 16-bit word to the given I/O port.
func OutW(port uint16, val uint16)

// InL reads one 32-bit dword from the given I/O port.
func InL(port uint16) uint32

// OutL writes one 32-bit dword to the given I/O port.
func OutL(port uint16, val uint32)

// ReadCR0 returns the value of CR0.
func ReadCR0() uint64

// WriteCR0 loads CR0.
func WriteCR0(v uint64)

// ReadCR2 returns the faulting address recorded by the last page fault.
func ReadCR2() uint64

// ReadCR3 returns the physical address of the active PML4.
func ReadCR3() uint64

// WriteCR3 loads a new PML4 root and flushes the TLB.
func WriteCR3(physAddr uint64)

// ReadCR4 returns the value of CR4.
func ReadCR4() uint64

// WriteCR4 loads CR4.
func WriteCR4(v uint64)

// ID executes CPUID with EAX=leaf, ECX=subleaf and returns EAX, EBX,
// ECX, EDX.
func ID(leaf, subleaf uint32) (uint32, uint32, uint32, uint32)

// ReadTSC executes RDTSC and returns the 64-bit cycle counter.
func ReadTSC() uint64

// ReadXCR0 executes XGETBV on XCR0, reporting which extended state
// components the processor is configured to save.
func ReadXCR0() uint64

// WriteXCR0 executes XSETBV on XCR0.
func WriteXCR0(v uint64)

// LoadIDT loads the interrupt descriptor table register from the
// 10-byte pseudo-descriptor at ptr.
func LoadIDT(ptr uintptr)

// LoadGDT loads the global descriptor table register from the 10-byte
// pseudo-descriptor at ptr.
func LoadGDT(ptr uintptr)

// LoadTR loads the task register with the given GDT selector.
func LoadTR(selector uint16)

// ReloadCS performs a far return to reload CS with the given selector,
// the only way to change CS on amd64 outside of an interrupt return.
func ReloadCS(selector uint16)

// SetDataSegments loads DS, ES, and SS with the given selector.
func SetDataSegments(selector uint16)

// FXSave writes the legacy 512-byte FXSAVE region at ptr.
func FXSave(ptr uintptr)

// FXRstor restores processor state from the 512-byte FXSAVE region at ptr.
func FXRstor(ptr uintptr)

// XSave writes the XSAVE area at ptr, saving the state components
// selected by the mask in edx:eax.
func XSave(ptr uintptr, eax, edx uint32)

// XRstor restores the XSAVE area at ptr, for the components selected
// by the mask in edx:eax.
func XRstor(ptr uintptr, eax, edx uint32)

// ReadMSR executes RDMSR on the given model-specific register.
func ReadMSR(reg uint32) uint64

// WriteMSR executes WRMSR on the given model-specific register.
func WriteMSR(reg uint32, val uint64)
