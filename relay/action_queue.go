// File: relay/action_queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ActionQueue is the bounded FIFO between the reading and the writing side
// of a Direction. The two sides may run on different loops, so the queue and
// the arm/suspend flags share one mutex: a reader can never miss a writer
// that is about to disarm, and the writer can never miss a suspended reader.

package relay

import (
	"fmt"
	"sync"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-relay/api"
)

// DefaultQueueCapacity bounds pending Writes per Direction.
const DefaultQueueCapacity = 16

// ActionQueue holds pending actions of one Direction.
type ActionQueue struct {
	mu        sync.Mutex
	q         *queue.Queue
	capacity  int
	writes    int  // pending Write actions, the current one included
	armed     bool // destination WRITE interest requested
	suspended bool // source READ interest cancelled because the queue was full
	closing   bool // a Close was queued
	released  bool
	recycle   func([]byte)
}

// NewActionQueue creates a queue bounded to capacity Writes. recycle, when
// set, receives payloads of completed Writes.
func NewActionQueue(capacity int, recycle func([]byte)) *ActionQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &ActionQueue{q: queue.New(), capacity: capacity, recycle: recycle}
}

// Add appends a at the tail. A Write is refused with api.ErrBackpressure when
// the queue is full; a Close is always accepted, at most once. first reports
// that the destination writer was idle and must be armed by the caller.
func (aq *ActionQueue) Add(a *Action) (first bool, err error) {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	if aq.released {
		return false, api.ErrChannelClosed
	}
	switch a.Kind {
	case ActionWrite:
		if aq.closing {
			return false, fmt.Errorf("write after close: %w", api.ErrInvalidArgument)
		}
		if aq.writes >= aq.capacity {
			return false, api.ErrBackpressure
		}
		aq.writes++
	case ActionClose:
		if aq.closing {
			return false, nil
		}
		aq.closing = true
	}
	aq.q.Add(a)
	if !aq.armed {
		aq.armed = true
		first = true
	}
	return first, nil
}

// Current returns the oldest incomplete action, nil when nothing is pending.
// Completed actions at the head are discarded on the way.
func (aq *ActionQueue) Current() *Action {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	return aq.current()
}

func (aq *ActionQueue) current() *Action {
	for aq.q.Length() > 0 {
		a := aq.q.Peek().(*Action)
		if !a.done {
			return a
		}
		aq.q.Remove()
		if a.Kind == ActionWrite {
			aq.writes--
			if aq.recycle != nil && a.payload != nil {
				aq.recycle(a.payload)
			}
			a.payload = nil
		}
	}
	return nil
}

// Advance records n bytes of a as written and reports whether a is complete.
// A completed head action is discarded at once, freeing its slot.
func (aq *ActionQueue) Advance(a *Action, n int) bool {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	a.Advance(n)
	if a.done {
		aq.current()
	}
	return a.done
}

// Complete marks a as performed and discards it.
func (aq *ActionQueue) Complete(a *Action) {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	a.Complete()
	aq.current()
}

// HasData reports whether any incomplete action is pending.
func (aq *ActionQueue) HasData() bool {
	return aq.Current() != nil
}

// Full reports whether another Write would be refused.
func (aq *ActionQueue) Full() bool {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	return aq.writes >= aq.capacity
}

// Len returns the number of queued actions, completed ones not yet discarded
// included.
func (aq *ActionQueue) Len() int {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	return aq.q.Length()
}

// Cap returns the Write bound.
func (aq *ActionQueue) Cap() int { return aq.capacity }

// Disarm clears the armed flag when nothing is pending. It returns false,
// leaving the writer armed, if an action arrived meanwhile.
func (aq *ActionQueue) Disarm() bool {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	if aq.current() != nil {
		return false
	}
	aq.armed = false
	return true
}

// Armed reports whether the writer is armed.
func (aq *ActionQueue) Armed() bool {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	return aq.armed
}

// Suspend marks the reader suspended if the queue is still full. A false
// result means space appeared and the reader should keep going.
func (aq *ActionQueue) Suspend() bool {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	if aq.writes < aq.capacity {
		return false
	}
	aq.suspended = true
	return true
}

// Resume clears the suspended flag once space is available and reports
// whether the caller must re-register the reader.
func (aq *ActionQueue) Resume() bool {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	if !aq.suspended || aq.writes >= aq.capacity {
		return false
	}
	aq.suspended = false
	return true
}

// Suspended reports whether the reader is suspended.
func (aq *ActionQueue) Suspended() bool {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	return aq.suspended
}

// Release drops every pending action. Payloads are left to the garbage
// collector since a writer on another loop may still hold one. Later Adds
// fail with api.ErrChannelClosed.
func (aq *ActionQueue) Release() {
	aq.mu.Lock()
	defer aq.mu.Unlock()
	aq.released = true
	for aq.q.Length() > 0 {
		aq.q.Remove()
	}
	aq.writes = 0
	aq.armed = false
	aq.suspended = false
}
