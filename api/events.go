// File: api/events.go
// Package api defines connection lifecycle events.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "net"

// ConnEventKind enumerates connection lifecycle transitions.
type ConnEventKind int

const (
	ConnOpened ConnEventKind = iota
	ConnClosed
)

func (k ConnEventKind) String() string {
	switch k {
	case ConnOpened:
		return "opened"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnEvent describes one lifecycle transition of a relayed connection.
type ConnEvent struct {
	Kind   ConnEventKind
	ID     uint64
	Client net.Addr
	Server net.Addr
}

// ConnectionListener observes relayed connections. Callbacks run on loop goroutines
// and must not block.
type ConnectionListener interface {
	OnOpen(ev ConnEvent)
	OnClose(ev ConnEvent)
}
