// File: api/handler.go
// Package api defines readiness handler contracts.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Key is the registration handle passed to a handler, scoped to one interest.
// Its methods must only be called from the goroutine running the owning loop.
type Key interface {
	Channel() Channel
	Interest() Interest
	// Valid is false once the interest was cancelled or the channel closed.
	Valid() bool
	// Cancel clears this interest only; siblings stay registered.
	Cancel()
}

// Handler processes a readiness notification.
type Handler interface {
	HandleReady(key Key) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(key Key) error

// HandleReady calls f(key).
func (f HandlerFunc) HandleReady(key Key) error {
	return f(key)
}

// FailureHandler is optionally implemented by handlers that want to contain
// their own failures (returned errors and panics) after the reactor cancelled the interest.
type FailureHandler interface {
	HandleFailure(key Key, err error)
}
