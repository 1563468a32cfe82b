// Package kernel holds the kernel's process-wide singletons: the
// early-console writer every other package logs through, and the
// once-initialized Context struct that wires the memory manager,
// scheduler, and interrupt layer together during boot.
package kernel

import "sync"

// consoleSize is the capacity of the console ring buffer, one page,
// matching the single-page backing circbuf.Circbuf_t always allocates
// (biscuit never sizes a circbuf larger than mem.PGSIZE).
const consoleSize = 4096

// Console is a fixed-capacity circular byte buffer: writes past
// capacity overwrite the oldest unread bytes rather than blocking or
// failing, the behavior an always-live kernel log needs (there is no
// reader to apply backpressure against before the buffer is next
// drained).
//
// Grounded on biscuit/src/circbuf/circbuf.go's Circbuf_t: the
// head/tail-modulo-bufsz indexing and the two-segment wraparound copy
// in Copyin/Copyout carry over directly. Dropped: the lazy
// physical-page backing (Cb_ensure/Cb_init_phys) and the
// fdops.Userio_i source/sink indirection — this console has a single,
// always-resident backing array and only ever moves bytes to/from
// plain []byte, so neither applies here.
type Console struct {
	mu   sync.Mutex
	buf  [consoleSize]byte
	head int // next write position, monotonically increasing
	tail int // oldest unread position, monotonically increasing
}

// Write appends p to the ring buffer, advancing tail (discarding the
// oldest bytes) if p would overrun the buffer's capacity. It always
// returns len(p), nil, satisfying io.Writer.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range p {
		c.buf[c.head%consoleSize] = b
		c.head++
		if c.head-c.tail > consoleSize {
			c.tail = c.head - consoleSize
		}
	}
	return len(p), nil
}

// Drain copies every unread byte into dst and marks the buffer empty,
// returning the number of bytes copied. If dst is too small the
// oldest unread bytes are dropped, same truncate-from-the-front
// behavior as Copyout_n's max parameter.
func (c *Console) Drain(dst []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	used := c.head - c.tail
	if used > len(dst) {
		c.tail = c.head - len(dst)
		used = len(dst)
	}
	n := 0
	for i := 0; i < used; i++ {
		dst[n] = c.buf[(c.tail+i)%consoleSize]
		n++
	}
	c.tail = c.head
	return n
}

// Used reports how many unread bytes the console currently holds.
func (c *Console) Used() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head - c.tail
}
