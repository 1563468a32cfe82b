// Package boot is the kernel's single entry point: everything
// cmd/kernel's main does after the assembly/bootloader handoff is
// Run, which builds the kernel.Context singleton, spawns the boot
// process's idle and kernel-init threads, and hands control over to
// the scheduler by enabling interrupts.
//
// Grounded on original_source/rOSkernel/src/main.rs's kMain: init()
// (gdt, idt, device discovery, interrupt enable) followed by an
// infinite hlt loop once nothing else is left to do at boot; the
// spawn-then-enable-interrupts order is spec §2's data flow ("spawn
// kernel-init thread → enable interrupts → APIC-timer IRQs drive
// scheduler").
package boot

import (
	"fmt"
	"unsafe"

	"kcore/internal/bootinfo"
	"kcore/internal/cpu"
	"kcore/internal/kernel"
	"kcore/internal/limits"
	"kcore/internal/stackalloc"
)

// funcPC returns the entry address of a genuine Go function value,
// the same trick internal/idt uses for its asm stubs: a func value is
// a pointer to a funcval whose first word is the code pointer.
// Duplicated locally rather than imported from internal/idt since that
// package's funcPC is declared alongside stub symbols this package has
// no business depending on.
func funcPC(fn func()) uintptr {
	return **(**uintptr)(unsafe.Pointer(&fn))
}

// idleLoop is the boot process's idle thread: the scheduler resumes it
// whenever nothing else is runnable (spec §4.11 step 5), and it simply
// halts until the next interrupt.
func idleLoop() {
	for {
		cpu.Halt()
	}
}

// kernelInit is the boot process's first real thread. Once later
// subsystems (filesystem, drivers, user-process loading) exist they
// start here; for now it has nothing left to do and idles alongside
// idleLoop rather than exiting, since exiting it would leave its
// process threadless with nothing left to ever schedule it back in.
func kernelInit() {
	for {
		cpu.Halt()
	}
}

// Run builds the kernel.Context from the bootloader-supplied memory
// map and ACPI RSDP physical address, spawns the boot process's idle
// and kernel-init threads, and enables interrupts so the APIC timer
// starts driving the scheduler. It never returns in a real boot; tests
// call the pieces it wires (kernel.Init, Scheduler.Spawn) independently
// instead of Run itself.
func Run(info bootinfo.Info, rsdpPhys uint64) {
	ctx := kernel.Init(info, rsdpPhys)
	fmt.Fprintf(ctx.Console, "kcore: boot complete, %d frames available\n", ctx.Frames.Available())

	proc, err := ctx.Sched.NewProcess(ctx.Space, 0, false)
	if !err.Ok() {
		kernel.Panic("boot: cannot admit boot process: " + err.String())
	}

	idleStack, err := stackalloc.Alloc(ctx.Stacks, limits.BootStackPages, ctx.Space, ctx.Frames)
	if !err.Ok() {
		kernel.Panic("boot: cannot allocate idle stack: " + err.String())
	}
	if _, err := ctx.Sched.SpawnIdle(proc, funcPC(idleLoop), idleStack); !err.Ok() {
		kernel.Panic("boot: cannot spawn idle thread: " + err.String())
	}

	initStack, err := stackalloc.Alloc(ctx.Stacks, limits.BootStackPages, ctx.Space, ctx.Frames)
	if !err.Ok() {
		kernel.Panic("boot: cannot allocate kernel-init stack: " + err.String())
	}
	if _, err := ctx.Sched.Spawn(proc, funcPC(kernelInit), initStack); !err.Ok() {
		kernel.Panic("boot: cannot spawn kernel-init thread: " + err.String())
	}

	cpu.EnableInterrupts()
	for {
		cpu.Halt()
	}
}
