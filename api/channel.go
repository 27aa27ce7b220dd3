// File: api/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking channel contracts consumed by the reactor and relay.

package api

import "io"

// Channel is anything a Multiplexer can watch.
type Channel interface {
	// Fd returns the OS descriptor used for poller registration.
	Fd() int
	// IsOpen reports false once Close has been called.
	IsOpen() bool
	Close() error
}

// StreamChannel is a non-blocking byte stream.
//
// Read returns n > 0 for data, (0, nil) when nothing is available yet and
// (0, io.EOF) once the peer has finished sending. Write returns (0, nil) when
// the socket send buffer is full.
type StreamChannel interface {
	Channel
	io.Reader
	io.Writer
}

// HalfCloser is implemented by channels able to shut down only their write side.
type HalfCloser interface {
	CloseWrite() error
}

// Aborter is implemented by channels able to reset the connection instead of a graceful close.
type Aborter interface {
	Abort() error
}

// CloseNotifier lets the reactor learn about channels closed outside the loop.
type CloseNotifier interface {
	OnClose(fn func())
}
