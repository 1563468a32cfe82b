// Package xsave manages each thread's extended processor state (SSE
// and, where available, AVX/AVX-512 register files) across context
// switches: a fixed-size save area per thread, restored on every
// switch in and saved on every switch out.
//
// Grounded on internal/cpu's FXSave/FXRstor/XSave/XRstor primitives
// (added to internal/cpu for exactly this purpose) and on
// gopher-os-gopher-os's general posture of probing CPUID before
// committing to an extended instruction — XSAVE is only used when
// internal/cpu.HasXSAVE reports the feature and CR4.OSXSAVE has been
// set; everything else falls back to the legacy FXSAVE area every
// amd64 CPU has.
package xsave

import (
	"kcore/internal/cpu"
)

// legacyAreaSize is the fixed size of the FXSAVE/FXRSTOR region.
const legacyAreaSize = 512

// areaAlign is the alignment every save area (legacy or XSAVE) is
// carved to. XSAVE strictly requires 64 bytes; FXSAVE only needs 16,
// but over-aligning it costs nothing and keeps NewArea/grow a single
// code path.
const areaAlign = 64

// Legacy FXSAVE/XSAVE-area field offsets for the fields every area,
// regardless of mode, must carry initialized per the FXSAVE layout:
// FCW at offset 0, MXCSR at offset 24.
const (
	fcwOffset   = 0
	mxcsrOffset = 24
)

// fcwInit and mxcsrInit are the legacy control-word values a freshly
// allocated or regrown save area is initialized to.
const (
	fcwInit   uint16 = 0x037F
	mxcsrInit uint32 = 0x1F80
)

// Mode selects which save/restore instruction pair a Manager uses.
type Mode int

const (
	ModeFXSave Mode = iota
	ModeXSave
)

// Manager decides once, at boot, which extended-state instruction
// pair to use and how large each thread's save area must be, then
// performs that save/restore for every context switch.
type Manager struct {
	mode     Mode
	areaSize uint32
	xcr0     uint64
}

// Probe inspects CPUID/XCR0 and returns a Manager configured for this
// processor. enableXSave lets the caller force the FXSAVE-only path
// even on hardware that supports XSAVE (spec leaves the choice to
// policy, not pure capability detection — some kernels keep XSAVE
// disabled because XSAVE's bigger area costs more per switch than the
// AVX state it preserves is worth for a given workload).
func Probe(enableXSave bool) *Manager {
	if !enableXSave || !cpu.HasXSAVE() {
		return &Manager{mode: ModeFXSave, areaSize: legacyAreaSize}
	}

	enableXSaveInstructions()
	return &Manager{
		mode:     ModeXSave,
		areaSize: cpu.XSaveAreaSize(),
		xcr0:     cpu.ReadXCR0(),
	}
}

// enableXSaveInstructions sets CR4.OSXSAVE (bit 18) so XSAVE/XRSTOR
// and XGETBV/XSETBV become available outside ring 0 as well, and
// CR0.MP/EM (bits 1/2) so the FPU/SSE state the legacy path also needs
// is never silently disabled.
func enableXSaveInstructions() {
	cr0 := cpu.ReadCR0()
	cr0 |= 1 << 1  // MP
	cr0 &^= 1 << 2 // EM
	cpu.WriteCR0(cr0)

	cr4 := cpu.ReadCR4()
	cr4 |= 1 << 9  // OSFXSR
	cr4 |= 1 << 18 // OSXSAVE
	cpu.WriteCR4(cr4)
}

// AreaSize is the number of bytes a thread's save area must reserve.
func (m *Manager) AreaSize() uint32 { return m.areaSize }

// AreaSizeFor returns the save-area size a thread wanting xfeatures
// enabled needs. In FXSave mode this is always the fixed legacy size,
// since the legacy area has no notion of extra features; in XSave
// mode it is queried per xfeatures mask, since a thread that has only
// asked for SSE needs less room than one that has also asked for AVX.
func (m *Manager) AreaSizeFor(xfeatures uint64) uint32 {
	if m.mode != ModeXSave {
		return legacyAreaSize
	}
	size := cpu.XSaveAreaSizeForMask(xfeatures)
	if size < m.areaSize {
		// CPUID never reports less than the area covering XCR0's
		// currently-enabled legacy components (x87/SSE); floor at the
		// Manager's own baseline so a zero/unset mask never produces
		// a too-small area.
		size = m.areaSize
	}
	return size
}

// alloc carves a zeroed, areaAlign-aligned buffer of exactly size
// bytes out of a larger Go allocation (XSAVE and FXSAVE both demand
// alignment stricter than the Go allocator guarantees) and
// initializes the legacy control-word fields every area must start
// with, per §4.9: FCW=0x037F, MXCSR=0x1F80.
func alloc(size uint32) []byte {
	buf := make([]byte, uint64(size)+areaAlign)
	addr := sliceAddr(buf)
	aligned := (addr + areaAlign - 1) &^ (areaAlign - 1)
	offset := aligned - addr
	area := buf[offset : offset+uint64(size)]
	initLegacyFields(area)
	return area
}

// initLegacyFields writes the FXSAVE-layout control-word defaults
// into area's legacy region. Safe to call on any area at least
// mxcsrOffset+4 bytes long, XSave areas included: the legacy region
// sits at the same fixed offsets regardless of which optional
// components follow it.
func initLegacyFields(area []byte) {
	area[fcwOffset] = byte(fcwInit & 0xFF)
	area[fcwOffset+1] = byte(fcwInit >> 8)
	area[mxcsrOffset] = byte(mxcsrInit & 0xFF)
	area[mxcsrOffset+1] = byte(mxcsrInit >> 8)
	area[mxcsrOffset+2] = byte(mxcsrInit >> 16)
	area[mxcsrOffset+3] = byte(mxcsrInit >> 24)
}

// NewArea allocates a zeroed, correctly-sized, legacy-initialized save
// area for a new thread at the Manager's baseline size (the size for
// whatever feature set CR0/CR4/XCR0 were configured with at Probe
// time).
func (m *Manager) NewArea() []byte {
	return alloc(m.areaSize)
}

// NewAreaFor is NewArea sized for a specific thread's wanted
// xfeatures rather than the Manager's boot-time baseline.
func (m *Manager) NewAreaFor(xfeatures uint64) []byte {
	return alloc(m.AreaSizeFor(xfeatures))
}

// GrowIfNeeded implements §4.9's context-switch-time resize: if area
// is already large enough for xfeatures, it is returned unchanged;
// otherwise a new, larger, legacy-initialized area is allocated, the
// old area's state is copied into it, and the new area is returned.
// The old area is left for the garbage collector — there is no
// separate free list for save areas, same as every other Go-backed
// allocation in this kernel.
func (m *Manager) GrowIfNeeded(area []byte, xfeatures uint64) []byte {
	want := m.AreaSizeFor(xfeatures)
	if uint32(len(area)) >= want {
		return area
	}
	grown := alloc(want)
	copy(grown, area)
	return grown
}

// Save writes the calling thread's current extended state into area.
func (m *Manager) Save(area []byte) {
	ptr := sliceAddr(area)
	switch m.mode {
	case ModeXSave:
		eax, edx := uint32(m.xcr0), uint32(m.xcr0>>32)
		cpu.XSave(uintptr(ptr), eax, edx)
	default:
		cpu.FXSave(uintptr(ptr))
	}
}

// Restore loads the extended state in area into the processor.
func (m *Manager) Restore(area []byte) {
	ptr := sliceAddr(area)
	switch m.mode {
	case ModeXSave:
		eax, edx := uint32(m.xcr0), uint32(m.xcr0>>32)
		cpu.XRstor(uintptr(ptr), eax, edx)
	default:
		cpu.FXRstor(uintptr(ptr))
	}
}
