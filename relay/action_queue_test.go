// File: relay/action_queue_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import (
	"errors"
	"sync"
	"testing"

	"github.com/momentics/hioload-relay/api"
)

func TestActionQueueBoundAndArming(t *testing.T) {
	aq := NewActionQueue(2, nil)
	first, err := aq.Add(NewWriteAction([]byte("a")))
	if err != nil || !first {
		t.Fatalf("first Add = (%v, %v), want (true, nil)", first, err)
	}
	first, err = aq.Add(NewWriteAction([]byte("b")))
	if err != nil || first {
		t.Fatalf("second Add = (%v, %v), want (false, nil)", first, err)
	}
	if !aq.Full() {
		t.Fatalf("queue should be full")
	}
	if _, err := aq.Add(NewWriteAction([]byte("c"))); !errors.Is(err, api.ErrBackpressure) {
		t.Fatalf("Add on full queue = %v, want ErrBackpressure", err)
	}
	if _, err := aq.Add(NewCloseAction()); err != nil {
		t.Fatalf("Close must bypass the bound: %v", err)
	}
	if _, err := aq.Add(NewWriteAction([]byte("d"))); err == nil {
		t.Fatalf("write after close accepted")
	}
	if aq.Len() != 3 {
		t.Fatalf("Len = %d, want 3", aq.Len())
	}
}

func TestActionQueueCurrentSkipsCompleted(t *testing.T) {
	var recycled [][]byte
	aq := NewActionQueue(4, func(b []byte) { recycled = append(recycled, b) })
	for _, s := range []string{"one", "two"} {
		if _, err := aq.Add(NewWriteAction([]byte(s))); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	a := aq.Current()
	if string(a.Remaining()) != "one" {
		t.Fatalf("Current = %q, want %q", a.Remaining(), "one")
	}
	if aq.Advance(a, 2) {
		t.Fatalf("partial advance reported completion")
	}
	if got := string(aq.Current().Remaining()); got != "e" {
		t.Fatalf("Remaining = %q, want %q", got, "e")
	}
	if !aq.Advance(a, 1) {
		t.Fatalf("advance to the end not complete")
	}
	if got := string(aq.Current().Remaining()); got != "two" {
		t.Fatalf("Current after completion = %q, want %q", got, "two")
	}
	if len(recycled) != 1 || string(recycled[0]) != "one" {
		t.Fatalf("recycled = %q", recycled)
	}
	if aq.Full() {
		t.Fatalf("completed write still counted")
	}
}

func TestActionQueueDisarmRace(t *testing.T) {
	aq := NewActionQueue(4, nil)
	if first, _ := aq.Add(NewWriteAction([]byte("x"))); !first {
		t.Fatalf("writer not armed")
	}
	if aq.Disarm() {
		t.Fatalf("disarmed with pending data")
	}
	a := aq.Current()
	aq.Advance(a, 1)
	if !aq.Disarm() {
		t.Fatalf("disarm refused on empty queue")
	}
	if aq.Armed() {
		t.Fatalf("still armed")
	}
	if first, _ := aq.Add(NewWriteAction([]byte("y"))); !first {
		t.Fatalf("Add after disarm must re-arm")
	}
}

func TestActionQueueSuspendResume(t *testing.T) {
	aq := NewActionQueue(1, nil)
	if aq.Suspend() {
		t.Fatalf("suspended with free space")
	}
	aq.Add(NewWriteAction([]byte("x")))
	if !aq.Suspend() || !aq.Suspended() {
		t.Fatalf("suspend refused on full queue")
	}
	if aq.Resume() {
		t.Fatalf("resumed while still full")
	}
	aq.Advance(aq.Current(), 1)
	if !aq.Resume() {
		t.Fatalf("resume refused after space appeared")
	}
	if aq.Resume() {
		t.Fatalf("second resume must be a no-op")
	}
}

func TestActionQueueRelease(t *testing.T) {
	aq := NewActionQueue(2, nil)
	aq.Add(NewWriteAction([]byte("x")))
	aq.Release()
	if aq.HasData() {
		t.Fatalf("data after release")
	}
	if _, err := aq.Add(NewWriteAction([]byte("y"))); !errors.Is(err, api.ErrChannelClosed) {
		t.Fatalf("Add after release = %v, want ErrChannelClosed", err)
	}
}

func TestActionQueueConcurrentProducerConsumer(t *testing.T) {
	const total = 1000
	aq := NewActionQueue(8, nil)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if _, err := aq.Add(NewWriteAction([]byte{byte(i)})); err == nil {
				i++
			}
		}
	}()
	got := 0
	for got < total {
		a := aq.Current()
		if a == nil {
			continue
		}
		if want := byte(got); a.Remaining()[0] != want {
			t.Fatalf("action %d carries %d", got, a.Remaining()[0])
		}
		aq.Advance(a, 1)
		got++
	}
	wg.Wait()
}
