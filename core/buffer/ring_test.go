// File: core/buffer/ring_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/momentics/hioload-relay/api"
)

func checkInvariant(t *testing.T, rb *RingBuffer) {
	t.Helper()
	if rb.Used()+rb.Free() != rb.Cap() {
		t.Fatalf("used %d + free %d != cap %d", rb.Used(), rb.Free(), rb.Cap())
	}
}

func TestRingCapacityInvariant(t *testing.T) {
	rb := NewRingBuffer(5)
	ops := []func(){
		func() { rb.PutByte(1) },
		func() { rb.Put([]byte{2, 3}) },
		func() { _, _ = rb.GetByte() },
		func() { rb.PutSome([]byte{4, 5, 6, 7}) },
		func() { _, _ = rb.Get(2) },
		func() { rb.GetSome(make([]byte, 1)) },
		func() { rb.Reset() },
	}
	for i, op := range ops {
		op()
		checkInvariant(t, rb)
		if rb.Used() < 0 || rb.Used() > rb.Cap() {
			t.Fatalf("op %d: used %d out of range", i, rb.Used())
		}
	}
}

func TestRingWrapAroundFIFO(t *testing.T) {
	rb := NewRingBuffer(3)
	for _, b := range []byte{'a', 'b', 'c'} {
		if !rb.PutByte(b) {
			t.Fatalf("PutByte(%c) refused", b)
		}
	}
	if rb.PutByte('x') {
		t.Fatal("PutByte accepted on a full ring")
	}
	if b, _ := rb.GetByte(); b != 'a' {
		t.Fatalf("GetByte = %c, want a", b)
	}
	rb.PutByte('d')
	got, err := rb.Get(3)
	if err != nil || string(got) != "bcd" {
		t.Fatalf("Get(3) = %q, %v; want bcd", got, err)
	}
	checkInvariant(t, rb)
	if !rb.Empty() {
		t.Fatalf("ring not empty")
	}
}

func TestRingBulkPutTruncates(t *testing.T) {
	rb := NewRingBuffer(2)
	src := []byte{'x', 'y', 'z'}
	n := rb.PutSome(src)
	if n != 2 {
		t.Fatalf("PutSome = %d, want 2", n)
	}
	if string(src[n:]) != "z" {
		t.Fatalf("remainder = %q, want z", src[n:])
	}
	if rb.Put([]byte{'q'}) {
		t.Fatal("Put accepted on a full ring")
	}
	got, _ := rb.Get(2)
	if string(got) != "xy" {
		t.Fatalf("Get = %q, want xy", got)
	}
}

func TestRingAllOrNothingPut(t *testing.T) {
	rb := NewRingBuffer(4)
	rb.Put([]byte("ab"))
	if rb.Put([]byte("cde")) {
		t.Fatal("Put larger than free space accepted")
	}
	if rb.Used() != 2 {
		t.Fatalf("failed Put changed occupancy to %d", rb.Used())
	}
}

func TestRingUnderflow(t *testing.T) {
	rb := NewRingBuffer(4)
	if _, err := rb.GetByte(); !errors.Is(err, api.ErrUnderflow) {
		t.Fatalf("GetByte on empty = %v, want ErrUnderflow", err)
	}
	rb.Put([]byte("ab"))
	if _, err := rb.Get(3); !errors.Is(err, api.ErrUnderflow) {
		t.Fatalf("Get beyond occupancy = %v, want ErrUnderflow", err)
	}
	if rb.Used() != 2 {
		t.Fatalf("failed Get consumed bytes")
	}
	if n := rb.GetSome(make([]byte, 8)); n != 2 {
		t.Fatalf("GetSome = %d, want 2", n)
	}
}

// chunkReader returns at most max bytes per Read, then (0, nil) when dry.
type chunkReader struct {
	data []byte
	max  int
	eof  bool
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := min(len(p), r.max, len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

// shortWriter accepts at most limit bytes in total.
type shortWriter struct {
	bytes.Buffer
	limit int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	n := min(len(p), w.limit-w.Len())
	w.Buffer.Write(p[:n])
	return n, nil
}

func TestRingFillAndDrainAcrossWrap(t *testing.T) {
	rb := NewRingBuffer(8)
	rb.Put([]byte("123456"))
	rb.Get(5)
	// r=5, w=6: free span wraps
	src := &chunkReader{data: []byte("abcdefgh"), max: 16, eof: true}
	n, err := rb.Fill(src)
	if err != nil || n != 2 {
		t.Fatalf("Fill = %d, %v; want 2 bytes up to the end", n, err)
	}
	n, err = rb.Fill(src)
	if err != nil || n != 5 {
		t.Fatalf("second Fill = %d, %v; want 5", n, err)
	}
	if rb.Free() != 0 {
		t.Fatalf("ring should be full, free=%d", rb.Free())
	}
	if n, err := rb.Fill(src); n != 0 || err != nil {
		t.Fatalf("Fill on full ring = %d, %v", n, err)
	}

	w := &shortWriter{limit: 3}
	n, err = rb.Drain(w)
	if err != nil || n != 3 || w.String() != "6ab" {
		t.Fatalf("Drain = %d, %v, %q", n, err, w.String())
	}
	w.limit = 100
	rb.Drain(w)
	if w.String() != "6abcdefg" || !rb.Empty() {
		t.Fatalf("drained %q, empty=%v", w.String(), rb.Empty())
	}

	src.data = nil
	if _, err := rb.Fill(src); !errors.Is(err, io.EOF) {
		t.Fatalf("Fill at end of stream = %v, want EOF", err)
	}
}

func TestRingCapacityThreeSequence(t *testing.T) {
	rb := NewRingBuffer(3)
	if !rb.Put([]byte{0, 1, 2}) {
		t.Fatal("Put([0 1 2]) refused")
	}
	expect := func(want byte) {
		t.Helper()
		b, err := rb.GetByte()
		if err != nil || b != want {
			t.Fatalf("GetByte = %d, %v; want %d", b, err, want)
		}
		checkInvariant(t, rb)
	}
	expect(0)
	if !rb.Put([]byte{5}) {
		t.Fatal("Put([5]) refused")
	}
	expect(1)
	expect(2)
	if !rb.Put([]byte{7}) {
		t.Fatal("Put([7]) refused")
	}
	expect(5)
	expect(7)
	if !rb.Empty() {
		t.Fatalf("used = %d after draining", rb.Used())
	}
}

func TestRingCapacityTwoRejectsOversizedPut(t *testing.T) {
	rb := NewRingBuffer(2)
	if rb.Put([]byte{0, 1, 2}) {
		t.Fatal("Put of 3 bytes accepted by a ring of 2")
	}
	if rb.Used() != 0 {
		t.Fatalf("rejected Put left used = %d", rb.Used())
	}
	checkInvariant(t, rb)
}

func TestRingFillUsesWholeCapacityWhenEmpty(t *testing.T) {
	rb := NewRingBuffer(8)
	rb.Put([]byte("12345"))
	rb.Get(5)
	// empty, but the cursors sit mid-buffer
	src := &chunkReader{data: bytes.Repeat([]byte{'z'}, 100), max: 100}
	n, err := rb.Fill(src)
	if err != nil || n != 8 {
		t.Fatalf("Fill = %d, %v; want the full 8 bytes", n, err)
	}
	got, _ := rb.Get(8)
	if string(got) != "zzzzzzzz" {
		t.Fatalf("Get = %q", got)
	}
}
