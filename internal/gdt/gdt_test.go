package gdt

import "testing"

func TestSelectorsAreDistinctAndIndexOrdered(t *testing.T) {
	tbl := New()
	sel := tbl.Selectors()

	if sel.KernelCode == 0 {
		t.Fatal("kernel code selector must not be the null selector")
	}
	seen := map[Selector]bool{}
	for _, s := range []Selector{sel.KernelCode, sel.KernelData, sel.UserCode, sel.UserData, sel.TSS} {
		if seen[s] {
			t.Fatalf("duplicate selector %#x", s)
		}
		seen[s] = true
	}
	if sel.UserCode&3 != 3 {
		t.Fatalf("user code selector RPL must be 3, got %#x", sel.UserCode)
	}
	if sel.KernelCode&3 != 0 {
		t.Fatalf("kernel code selector RPL must be 0, got %#x", sel.KernelCode)
	}
}

func TestISTStacksAreDistinctAndNonZero(t *testing.T) {
	tbl := New()
	top0 := tbl.tss.ist[DoubleFaultIST]
	top1 := tbl.tss.ist[PageFaultIST]
	top2 := tbl.tss.ist[GeneralProtectionIST]

	if top0 == 0 || top1 == 0 || top2 == 0 {
		t.Fatal("expected all three IST stack pointers to be non-zero")
	}
	if top0 == top1 || top1 == top2 || top0 == top2 {
		t.Fatal("expected all three IST stacks to be distinct allocations")
	}
}

func TestTSSDescriptorEncodesPresentAndType(t *testing.T) {
	tbl := New()
	// the TSS descriptor is the last two entries appended.
	low := tbl.entries[len(tbl.entries)-2]
	if low&tssPresent == 0 {
		t.Fatal("expected TSS descriptor present bit set")
	}
	gotType := (low >> 40) & 0xf
	if gotType != tssTypeAvailable64 {
		t.Fatalf("got type %#x want %#x", gotType, tssTypeAvailable64)
	}
}

func TestPseudoDescriptorLimitMatchesTableSize(t *testing.T) {
	tbl := New()
	tbl.pseudoDescriptor()
	want := uint16(len(tbl.entries)*8 - 1)
	if tbl.gdtr.limit != want {
		t.Fatalf("got limit %d want %d", tbl.gdtr.limit, want)
	}
}
