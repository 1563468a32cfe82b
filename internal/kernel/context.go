package kernel

import (
	"sync"

	"kcore/internal/acpi"
	"kcore/internal/apic"
	"kcore/internal/bootinfo"
	"kcore/internal/gdt"
	"kcore/internal/heap"
	"kcore/internal/idt"
	"kcore/internal/limits"
	"kcore/internal/pmm"
	"kcore/internal/proc"
	"kcore/internal/sched"
	"kcore/internal/stackalloc"
	"kcore/internal/stats"
	"kcore/internal/vmm"
	"kcore/internal/xsave"
)

// Context is the kernel's complete set of process-wide singletons,
// wired together once at boot by Init. Every other package that needs
// "the" memory manager, scheduler, or interrupt table reaches it
// through Current rather than taking its own independent copy —
// there is exactly one of each per running kernel, the same
// single-instance assumption internal/idt's "active" table and
// internal/gdt's single live Table already make.
type Context struct {
	Console *Console
	Frames  *pmm.Allocator
	Space   *vmm.Space
	Stacks  *stackalloc.Allocator
	Heap    *heap.Heap
	GDT     *gdt.Table
	IDT     *idt.Table
	APIC    *apic.Controller
	XSave   *xsave.Manager
	Sched   *sched.Scheduler
	Procs   *proc.Registry
}

var (
	currentOnce sync.Once
	current     *Context
)

// Init runs the boot sequence exactly once: physical/virtual memory,
// segment and interrupt tables, ACPI/APIC discovery, extended-state
// probing, the scheduler, and the kernel heap, in the dependency order
// each stage requires (GDT before IDT, since IDT gates reference GDT
// selectors; IDT before APIC, since APIC's redirection entries target
// IDT vectors; XSave before Sched, since Sched allocates per-thread
// save areas sized by it).
//
// Grounded on original_source/rOSkernel/src/kernel/mod.rs's
// KernelContext (a single OnceCell-guarded struct of
// OnceCell-wrapped subsystem handles: mapper, frameAllocator, apic,
// timerQueue, ...) for the shape of having one lazily-built singleton
// rather than a pile of independent package-level globals, with
// sync.Once replacing OnceCell/Mutex as Go's idiomatic equivalent; the
// boot ordering itself (gdt→idt→device discovery→interrupt-enable)
// follows original_source/rOSkernel/src/main.rs's init().
func Init(info bootinfo.Info, rsdpPhys uint64) *Context {
	currentOnce.Do(func() {
		current = boot(info, rsdpPhys)
	})
	return current
}

// Current returns the singleton Context built by Init, or nil if Init
// has not run yet.
func Current() *Context {
	return current
}

func boot(info bootinfo.Info, rsdpPhys uint64) *Context {
	c := &Context{Console: &Console{}}

	c.Frames = pmm.New(info)
	rootFrame, err := c.Frames.Allocate()
	if !err.Ok() {
		panic("kernel: out of frames for root page table")
	}
	c.Space = vmm.NewKernelSpace(rootFrame, info.PhysicalMemoryOffset, c.Frames)

	c.GDT = gdt.New()
	c.GDT.Init()

	c.IDT = idt.Init(c.GDT.Selectors(), c.Console)
	c.IDT.Load()

	locator := acpi.NewLocator(info.PhysicalMemoryOffset)
	rsdp := locator.ParseRSDP(rsdpPhys)
	if rsdp != nil {
		if madtPhys, ok := locator.FindTable(rsdp, acpi.MADTSignature); ok {
			madt := locator.ParseMADT(madtPhys)
			c.APIC = apic.Init(c.Space, madt)
			// Replace idt.Init's count-only IRQ handlers with ones that
			// also signal end-of-interrupt to the local APIC.
			code := uint16(c.GDT.Selectors().KernelCode)
			for _, v := range []idt.Vector{idt.TimerIRQ, idt.KeyboardIRQ, idt.FloppyIRQ, idt.RTCIRQ} {
				c.IDT.Install(v, code, 0, 0, func(*idt.Registers) {
					stats.RecordIRQ(int(v))
					c.APIC.LAPIC.EOI()
				})
			}
			c.APIC.LAPIC.StartTimer(uint8(idt.TimerIRQ))
		}
	}

	// Policy prefers the legacy FXSAVE path even on hardware that
	// supports XSAVE; see internal/xsave's own doc comment.
	c.XSave = xsave.Probe(false)

	sel := c.GDT.Selectors()
	c.Sched = sched.New(c.XSave, uint16(sel.KernelCode), uint16(sel.KernelData))
	c.Procs = proc.NewRegistry()

	c.Stacks = stackalloc.NewAllocator()

	c.Heap = heap.New()
	for _, region := range info.Regions {
		if region.Kind != bootinfo.Usable || region.Len() < limits.PageSize {
			continue
		}
		c.Heap.AddRegion(info.PhysicalMemoryOffset+region.Start, region.Len())
		break // one region is enough to bootstrap the allocator; spec's up-to-eight-region cap allows more via AddRegion later.
	}

	return c
}
