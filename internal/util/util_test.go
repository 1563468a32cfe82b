package util

import "testing"

func TestMinMax(t *testing.T) {
	if Min(3, 7) != 3 {
		t.Fatal("min wrong")
	}
	if Max(3, 7) != 7 {
		t.Fatal("max wrong")
	}
}

func TestRoundupRounddown(t *testing.T) {
	cases := []struct{ v, b, up, down int }{
		{0, 8, 0, 0},
		{1, 8, 8, 0},
		{8, 8, 8, 8},
		{9, 8, 16, 8},
	}
	for _, c := range cases {
		if got := Roundup(c.v, c.b); got != c.up {
			t.Fatalf("Roundup(%d,%d)=%d want %d", c.v, c.b, got, c.up)
		}
		if got := Rounddown(c.v, c.b); got != c.down {
			t.Fatalf("Rounddown(%d,%d)=%d want %d", c.v, c.b, got, c.down)
		}
	}
}

func TestIsPow2(t *testing.T) {
	for _, v := range []int{1, 2, 4, 1024} {
		if !IsPow2(v) {
			t.Fatalf("%d should be pow2", v)
		}
	}
	for _, v := range []int{0, 3, 5, 1023} {
		if IsPow2(v) {
			t.Fatalf("%d should not be pow2", v)
		}
	}
}

func TestReadWriten(t *testing.T) {
	buf := make([]uint8, 16)
	Writen(buf, 8, 0, 0x1122334455667788)
	if got := Readn(buf, 8, 0); got != 0x1122334455667788 {
		t.Fatalf("got %x", got)
	}
	Writen(buf, 4, 8, 42)
	if got := Readn(buf, 4, 8); got != 42 {
		t.Fatalf("got %d", got)
	}
}
