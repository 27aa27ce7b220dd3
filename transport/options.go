// File: transport/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket configuration applied once at channel creation; the core never
// re-reads it afterwards.

package transport

import "time"

// Options is a plain socket configuration value.
// Zero values keep the operating system defaults.
type Options struct {
	RecvBufferSize  int           // SO_RCVBUF in bytes
	SendBufferSize  int           // SO_SNDBUF in bytes
	LingerEnabled   bool          // SO_LINGER on/off
	Linger          time.Duration // SO_LINGER timeout, whole seconds
	ReuseAddr       bool          // SO_REUSEADDR, listeners only
	ReusePort       bool          // SO_REUSEPORT, listeners only
	KeepAlive       bool          // SO_KEEPALIVE
	KeepAlivePeriod time.Duration // TCP_KEEPIDLE/TCP_KEEPINTVL
	NoDelay         bool          // TCP_NODELAY
	Backlog         int           // listen backlog
}

// DefaultOptions returns options suited to a forwarding proxy.
func DefaultOptions() Options {
	return Options{
		ReuseAddr:       true,
		KeepAlive:       true,
		KeepAlivePeriod: 30 * time.Second,
		NoDelay:         true,
		Backlog:         1024,
	}
}
