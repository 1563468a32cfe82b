package kernel

import "testing"

func TestWriteThenDrainRoundTrips(t *testing.T) {
	var c Console
	c.Write([]byte("hello"))
	buf := make([]byte, 16)
	n := c.Drain(buf)
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q want %q", buf[:n], "hello")
	}
	if c.Used() != 0 {
		t.Fatalf("expected empty after drain, got %d", c.Used())
	}
}

func TestWriteOverflowDiscardsOldest(t *testing.T) {
	var c Console
	big := make([]byte, consoleSize+100)
	for i := range big {
		big[i] = byte('a' + i%26)
	}
	c.Write(big)
	if c.Used() != consoleSize {
		t.Fatalf("expected full buffer, got %d", c.Used())
	}
	buf := make([]byte, consoleSize)
	n := c.Drain(buf)
	if n != consoleSize {
		t.Fatalf("got %d want %d", n, consoleSize)
	}
	if buf[0] != big[100] {
		t.Fatalf("expected oldest 100 bytes discarded: got %q want %q", buf[0], big[100])
	}
}

func TestDrainSmallerThanUsedTruncatesFromFront(t *testing.T) {
	var c Console
	c.Write([]byte("0123456789"))
	buf := make([]byte, 4)
	n := c.Drain(buf)
	if n != 4 || string(buf) != "6789" {
		t.Fatalf("got %q (n=%d), want %q (n=4)", buf, n, "6789")
	}
}
