package proc

import "testing"

func TestAccntAddMergesCounters(t *testing.T) {
	a := &Accnt{}
	a.Utadd(5)
	a.Systadd(3)

	b := &Accnt{}
	b.Utadd(10)
	b.Systadd(1)

	a.Add(b)
	u, s := a.Snapshot()
	if u != 15 || s != 4 {
		t.Fatalf("got user=%d sys=%d want user=15 sys=4", u, s)
	}
}

func TestRegistryRegisterLookupUnregister(t *testing.T) {
	r := NewRegistry()
	n := r.Register(7)
	if !n.Alive {
		t.Fatal("expected newly registered note to be Alive")
	}
	if r.Lookup(7) != n {
		t.Fatal("expected Lookup to return the same Note")
	}
	r.Unregister(7)
	if r.Lookup(7) != nil {
		t.Fatal("expected Lookup to return nil after Unregister")
	}
}

func TestNoteKillMarksDoomed(t *testing.T) {
	n := &Note{Alive: true}
	n.Kill()
	if !n.Doomed() {
		t.Fatal("expected Kill to mark the note doomed")
	}
}
