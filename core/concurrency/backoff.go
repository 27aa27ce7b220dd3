// File: core/concurrency/backoff.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Idle backoff policies for poll loops. A policy instance belongs to one loop
// and is not safe for concurrent use.

package concurrency

import (
	"runtime"
	"time"
)

const (
	DefaultBackoffMin = time.Microsecond
	DefaultBackoffMax = time.Millisecond
)

// ExponentialBackoff sleeps Min after the first idle iteration and doubles the
// pause on every further idle iteration up to Max. Any dispatched key resets it.
type ExponentialBackoff struct {
	Min time.Duration
	Max time.Duration

	cur   time.Duration
	sleep func(time.Duration)
}

// NewExponentialBackoff returns a policy with the given bounds, defaults when zero.
func NewExponentialBackoff(min, max time.Duration) *ExponentialBackoff {
	if min <= 0 {
		min = DefaultBackoffMin
	}
	if max < min {
		max = DefaultBackoffMax
		if max < min {
			max = min
		}
	}
	return &ExponentialBackoff{Min: min, Max: max, sleep: time.Sleep}
}

// Pause implements api.Backoff.
func (b *ExponentialBackoff) Pause(processed int) {
	if processed > 0 {
		b.cur = 0
		return
	}
	if b.cur == 0 {
		b.cur = b.Min
	} else {
		b.cur *= 2
		if b.cur > b.Max {
			b.cur = b.Max
		}
	}
	b.sleep(b.cur)
}

// Current returns the pause applied on the last idle iteration.
func (b *ExponentialBackoff) Current() time.Duration {
	return b.cur
}

// YieldBackoff only yields the processor when idle. Lowest latency, busiest CPU.
type YieldBackoff struct{}

// Pause implements api.Backoff.
func (YieldBackoff) Pause(processed int) {
	if processed == 0 {
		runtime.Gosched()
	}
}
