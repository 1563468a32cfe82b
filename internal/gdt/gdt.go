// Package gdt builds the kernel's global descriptor table and task
// state segment: kernel and user code/data segments, plus a TSS
// carrying three dedicated interrupt-stack-table entries so
// double-fault, page-fault, and general-protection-fault handlers
// always run on a known-good stack even if the faulting thread's own
// stack is the cause of the fault.
//
// Grounded on original_source/rOSkernel/src/kernel/gdt.rs: the four
// segment descriptors (kernel code/data, user code/data) and the
// three-entry IST table (double-fault, page-fault, general-protection)
// are carried over with the same index assignments; gdt.rs's
// lazy_static GDT/TSS pair becomes a single Table built once at boot
// and installed by Init, in the once-cell kernel-singleton style
// SPEC_FULL's ambient stack calls for.
package gdt

import (
	"kcore/internal/cpu"
	"kcore/internal/limits"
)

// Descriptor flag bits, matching the x86_64 crate's DescriptorFlags
// bits gdt.rs builds its segments from.
const (
	flagAccessed   uint64 = 1 << 40
	flagWritable   uint64 = 1 << 41
	flagExecutable uint64 = 1 << 43
	flagUserSeg    uint64 = 1 << 44
	flagDPL3       uint64 = 3 << 45
	flagPresent    uint64 = 1 << 47
	flagLongMode   uint64 = 1 << 53
)

// IST stack indices, matching gdt.rs's DOUBLE_FAULT_IST_INDEX (0),
// PAGE_FAULT_IST_INDEX (2), GENERAL_FAULT_IST_INDEX (3).
const (
	DoubleFaultIST      = 0
	PageFaultIST        = 2
	GeneralProtectionIST = 3
	numISTEntries        = 7
)

// Selector is a GDT/LDT segment selector: index<<3 | RPL.
type Selector uint16

func selectorFor(index int, rpl uint8) Selector {
	return Selector(index<<3 | int(rpl))
}

// tss is the 104-byte amd64 Task State Segment, laid out exactly per
// the Intel SDM (reserved fields included so field offsets match).
type tss struct {
	reserved0 uint32
	rsp       [3]uint64
	reserved1 uint64
	ist       [numISTEntries]uint64
	reserved2 uint64
	reserved3 uint16
	iomapBase uint16
}

// Selectors are the segment selectors Init loads into the
// segment/task registers once the table is built.
type Selectors struct {
	KernelCode Selector
	KernelData Selector
	UserCode   Selector
	UserData   Selector
	TSS        Selector
}

// Table is the kernel's complete GDT: raw 8-byte descriptor entries
// plus the TSS they describe. entries[0] is always the null
// descriptor.
type Table struct {
	entries []uint64
	tss     tss
	sel     Selectors
	gdtr    pseudoDescriptorBuf

	istStacks [3][]byte // backing storage for the three IST stacks
}

// New builds the kernel's segment table: null, kernel code, kernel
// data, user code, user data, then a TSS descriptor (which occupies
// two 8-byte slots on amd64, since a system-segment descriptor is
// 128 bits). The three IST stacks are allocated here as plain Go byte
// slices — not part of any process's virtual address space, so
// internal/vmm and internal/pmm are not involved — per
// limits.ISTStackSize each.
func New() *Table {
	t := &Table{entries: []uint64{0}}

	kernelCode := flagUserSeg | flagPresent | flagExecutable | flagLongMode
	kernelData := flagUserSeg | flagPresent | flagLongMode
	userCode := flagUserSeg | flagPresent | flagExecutable | flagLongMode | flagDPL3
	userData := flagUserSeg | flagPresent | flagLongMode | flagWritable | flagDPL3

	t.sel.KernelCode = selectorFor(t.append(kernelCode), 0)
	t.sel.KernelData = selectorFor(t.append(kernelData), 0)
	t.sel.UserCode = selectorFor(t.append(userCode), 3)
	t.sel.UserData = selectorFor(t.append(userData), 3)

	for i := range t.istStacks {
		t.istStacks[i] = make([]byte, limits.ISTStackSize)
	}
	t.tss.ist[DoubleFaultIST] = istTop(t.istStacks[0])
	t.tss.ist[PageFaultIST] = istTop(t.istStacks[1])
	t.tss.ist[GeneralProtectionIST] = istTop(t.istStacks[2])

	tssIdx := len(t.entries)
	t.entries = append(t.entries, tssDescriptorLow(&t.tss), tssDescriptorHigh(&t.tss))
	t.sel.TSS = selectorFor(tssIdx, 0)

	return t
}

// istTop returns the initial stack-pointer value for an IST entry:
// stacks grow down, so it is the address one past the end of the
// backing array.
func istTop(stack []byte) uint64 {
	if len(stack) == 0 {
		return 0
	}
	return byteSliceAddr(stack) + uint64(len(stack))
}

func (t *Table) append(flags uint64) int {
	idx := len(t.entries)
	t.entries = append(t.entries, flags)
	return idx
}

// Selectors returns the selectors assigned to each segment.
func (t *Table) Selectors() Selectors { return t.sel }

// Init loads this table into GDTR, reloads CS/DS/ES/SS, and loads the
// task register, matching gdt.rs's init(): GDT.0.load() then
// CS::set_reg/DS::set_reg/load_tss.
func (t *Table) Init() {
	cpu.LoadGDT(t.pseudoDescriptor())
	cpu.ReloadCS(uint16(t.sel.KernelCode))
	cpu.SetDataSegments(uint16(t.sel.KernelData))
	cpu.LoadTR(uint16(t.sel.TSS))
}
