// Command kernel is the boot entry point. The bootloader handoff
// itself — producing a BootInfo record from BIOS/UEFI memory-map and
// ACPI data — is an external collaborator, out of this kernel's
// scope; Kmain is the symbol that handoff trampoline calls once it
// has that record, the same division gopher-os draws between its rt0
// assembly and kernel.Kmain(multibootInfoPtr uintptr).
package main

import (
	"kcore/internal/boot"
	"kcore/internal/bootinfo"
)

// Kmain receives the already-decoded BootInfo and the physical
// address of the ACPI RSDP and runs the kernel. It never returns.
//
//go:noinline
func Kmain(info bootinfo.Info, rsdpPhys uint64) {
	boot.Run(info, rsdpPhys)
}

// main exists so this package builds as a normal Go binary; a real
// boot image is produced by linking this package's object code
// against the bootloader-handoff trampoline that calls Kmain
// directly rather than through this function.
func main() {}
