package sched

import (
	"bytes"
	"testing"
)

func TestDumpProducesOneSamplePerThread(t *testing.T) {
	s := New(nil, 0x08, 0x10)
	a := &Thread{ID: 1, ticksRun: 5}
	b := &Thread{ID: 2, ticksRun: 9}
	s.byID[a.ID] = a
	s.byID[b.ID] = b

	var buf bytes.Buffer
	if err := s.Dump(&buf); err != nil {
		t.Fatalf("Dump returned error: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected Dump to write a non-empty pprof payload")
	}
}
