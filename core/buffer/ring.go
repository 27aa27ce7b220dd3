// File: core/buffer/ring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RingBuffer is a fixed-capacity byte ring moving data between sockets and
// owned payloads. Not safe for concurrent use: a ring belongs to one loop.

package buffer

import (
	"io"

	"github.com/momentics/hioload-relay/api"
)

// RingBuffer is a circular byte buffer with exact occupancy accounting.
type RingBuffer struct {
	buf  []byte
	r    int // next byte to get
	w    int // next free slot
	used int
}

// NewRingBuffer allocates a ring of the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Cap returns the fixed capacity.
func (rb *RingBuffer) Cap() int { return len(rb.buf) }

// Used returns the number of occupied bytes.
func (rb *RingBuffer) Used() int { return rb.used }

// Free returns the number of bytes that can still be put.
func (rb *RingBuffer) Free() int { return len(rb.buf) - rb.used }

// Empty reports whether nothing is buffered.
func (rb *RingBuffer) Empty() bool { return rb.used == 0 }

// Reset discards all content.
func (rb *RingBuffer) Reset() {
	rb.r, rb.w, rb.used = 0, 0, 0
}

// PutByte appends one byte, false when the ring is full.
func (rb *RingBuffer) PutByte(b byte) bool {
	if rb.used == len(rb.buf) {
		return false
	}
	rb.buf[rb.w] = b
	rb.w = rb.advance(rb.w, 1)
	rb.used++
	return true
}

// Put appends all of p or nothing.
func (rb *RingBuffer) Put(p []byte) bool {
	if len(p) > rb.Free() {
		return false
	}
	rb.put(p)
	return true
}

// PutSome copies as much of p as fits and returns the count.
// The unconsumed remainder of the source is p[n:].
func (rb *RingBuffer) PutSome(p []byte) int {
	n := min(len(p), rb.Free())
	rb.put(p[:n])
	return n
}

// Fill performs a single read from r into free space. It returns the count
// read; a source reporting "nothing yet" yields (0, nil).
func (rb *RingBuffer) Fill(r io.Reader) (int, error) {
	switch rb.used {
	case len(rb.buf):
		return 0, nil
	case 0:
		// an empty ring offers its whole capacity to one read
		rb.r, rb.w = 0, 0
	}
	// the free region starting at w is contiguous up to the end or up to r
	end := len(rb.buf)
	if rb.w < rb.r {
		end = rb.r
	}
	n, err := r.Read(rb.buf[rb.w:end])
	if n > 0 {
		rb.w = rb.advance(rb.w, n)
		rb.used += n
	}
	return n, err
}

// GetByte removes one byte.
func (rb *RingBuffer) GetByte() (byte, error) {
	if rb.used == 0 {
		return 0, api.ErrUnderflow
	}
	b := rb.buf[rb.r]
	rb.r = rb.advance(rb.r, 1)
	rb.used--
	return b, nil
}

// Get removes exactly n bytes into a new slice.
func (rb *RingBuffer) Get(n int) ([]byte, error) {
	if n < 0 || n > rb.used {
		return nil, api.ErrUnderflow
	}
	out := make([]byte, n)
	rb.get(out)
	return out, nil
}

// GetSome copies min(len(dst), Used()) bytes into dst and returns the count.
func (rb *RingBuffer) GetSome(dst []byte) int {
	n := min(len(dst), rb.used)
	rb.get(dst[:n])
	return n
}

// Drain writes buffered bytes to w until the ring is empty or w stops
// accepting (short or zero write). Written bytes are consumed.
func (rb *RingBuffer) Drain(w io.Writer) (int, error) {
	total := 0
	for rb.used > 0 {
		span := min(rb.used, len(rb.buf)-rb.r)
		n, err := w.Write(rb.buf[rb.r : rb.r+span])
		if n > 0 {
			rb.r = rb.advance(rb.r, n)
			rb.used -= n
			total += n
		}
		if err != nil {
			return total, err
		}
		if n < span {
			break
		}
	}
	if rb.used == 0 {
		rb.r, rb.w = 0, 0
	}
	return total, nil
}

func (rb *RingBuffer) put(p []byte) {
	n := len(p)
	if n == 0 {
		return
	}
	maxContiguous := len(rb.buf) - rb.w
	if n <= maxContiguous {
		copy(rb.buf[rb.w:], p)
	} else {
		copy(rb.buf[rb.w:], p[:maxContiguous])
		copy(rb.buf, p[maxContiguous:])
	}
	rb.w = rb.advance(rb.w, n)
	rb.used += n
}

func (rb *RingBuffer) get(dst []byte) {
	n := len(dst)
	if n == 0 {
		return
	}
	maxContiguous := len(rb.buf) - rb.r
	if n <= maxContiguous {
		copy(dst, rb.buf[rb.r:rb.r+n])
	} else {
		copy(dst, rb.buf[rb.r:])
		copy(dst[maxContiguous:], rb.buf[:n-maxContiguous])
	}
	rb.r = rb.advance(rb.r, n)
	rb.used -= n
}

func (rb *RingBuffer) advance(pos, n int) int {
	return (pos + n) % len(rb.buf)
}
