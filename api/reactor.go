// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for event-driven readiness multiplexers.

package api

// Registrar accepts interest registrations from any goroutine.
// Registrations take effect on the next loop iteration of the owning reactor.
type Registrar interface {
	Register(ch Channel, interest Interest, h Handler) error
}

// Backoff decides how long a loop idles after an iteration.
// processed is the number of keys dispatched; 0 means the loop was idle.
type Backoff interface {
	Pause(processed int)
}

// BackoffFunc adapts a function to Backoff.
type BackoffFunc func(processed int)

// Pause calls f(processed).
func (f BackoffFunc) Pause(processed int) {
	f(processed)
}
