package kernel

import (
	"fmt"

	"kcore/internal/cpu"
)

// Panic is the kernel's unrecoverable-error path: write reason into
// the console (if a Context with one exists), mask interrupts, and
// halt forever. Mirrors the teacher's direct-panic style (no
// recover/retry path anywhere in the corpus for an out-of-memory or
// fatal-fault condition) rather than Go's own panic/recover, since
// there is no runtime left underneath this kernel to unwind into.
func Panic(reason string) {
	if current != nil && current.Console != nil {
		fmt.Fprintf(current.Console, "panic: %s\n", reason)
	}
	cpu.DisableInterrupts()
	for {
		cpu.Halt()
	}
}
