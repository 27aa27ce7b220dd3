// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by components that release loops, sockets
// and other resources on exit.
type GracefulShutdown interface {
	// Shutdown stops all internal services. Safe to call more than once.
	Shutdown() error
}
