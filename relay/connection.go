// File: relay/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection owns a client/server socket pair and its two Directions.
// Each Direction reports its own completion; the second report, or any
// failure, closes the whole connection exactly once.

package relay

import (
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/proxyproto"
	"go.uber.org/zap"
)

// ConnectionConfig holds Connection parameters.
type ConnectionConfig struct {
	ID            uint64
	Client        api.StreamChannel
	Server        api.StreamChannel
	ClientEngine  *Engine // loop the client socket is registered on
	ServerEngine  *Engine // loop the server socket is registered on
	QueueCapacity int
	Manager       *Manager // optional
	Logger        *zap.Logger
}

// Connection relays a client and a server in both directions.
type Connection struct {
	id       uint64
	client   api.StreamChannel
	server   api.StreamChannel
	upstream *Direction // client -> server
	down     *Direction // server -> client
	manager  *Manager
	log      *zap.Logger
	opened   time.Time

	halfClosed atomic.Bool
	closed     atomic.Bool
}

// NewConnection wires both Directions. Nothing is registered until Start.
func NewConnection(cfg ConnectionConfig) *Connection {
	if cfg.ServerEngine == nil {
		cfg.ServerEngine = cfg.ClientEngine
	}
	if cfg.Logger == nil {
		cfg.Logger = cfg.ClientEngine.log
	}
	c := &Connection{
		id:      cfg.ID,
		client:  cfg.Client,
		server:  cfg.Server,
		manager: cfg.Manager,
		log:     cfg.Logger.With(zap.Uint64("conn", cfg.ID)),
		opened:  time.Now(),
	}
	c.upstream = newDirection(c, "client->server", cfg.Client, cfg.Server,
		cfg.ClientEngine, cfg.ServerEngine, cfg.QueueCapacity)
	c.down = newDirection(c, "server->client", cfg.Server, cfg.Client,
		cfg.ServerEngine, cfg.ClientEngine, cfg.QueueCapacity)
	return c
}

// ID returns the connection identifier.
func (c *Connection) ID() uint64 { return c.id }

// Client returns the accepted socket.
func (c *Connection) Client() api.StreamChannel { return c.client }

// Server returns the outbound socket.
func (c *Connection) Server() api.StreamChannel { return c.server }

// Upstream returns the client to server direction.
func (c *Connection) Upstream() *Direction { return c.upstream }

// Downstream returns the server to client direction.
func (c *Connection) Downstream() *Direction { return c.down }

// Age returns the time since the connection was built.
func (c *Connection) Age() time.Duration { return time.Since(c.opened) }

// HalfClosed reports whether exactly one direction has finished.
func (c *Connection) HalfClosed() bool { return c.halfClosed.Load() && !c.closed.Load() }

// IsClosed reports whether Close ran.
func (c *Connection) IsClosed() bool { return c.closed.Load() }

// SetPreamble queues h ahead of all client bytes. Call before Start.
func (c *Connection) SetPreamble(h *proxyproto.Header) {
	c.upstream.preamble = h
}

// Start registers both sources for reading. On error the connection is closed.
func (c *Connection) Start() error {
	err := c.upstream.start()
	if err == nil {
		err = c.down.start()
	}
	if err != nil {
		c.log.Debug("start failed", zap.Error(err))
		c.Close()
		return err
	}
	return nil
}

// directionClosed is called once per Direction that completed normally.
func (c *Connection) directionClosed(d *Direction) {
	if c.halfClosed.CompareAndSwap(false, true) {
		c.log.Debug("half-closed", zap.String("finished", d.name))
		return
	}
	c.Close()
}

// fail tears the connection down after an I/O failure in d.
func (c *Connection) fail(d *Direction, err error) {
	if c.closed.Load() {
		return
	}
	lvl := zap.DebugLevel
	if !errors.Is(err, api.ErrIOFailure) {
		lvl = zap.WarnLevel
	}
	c.log.Log(lvl, "relay failed", zap.String("direction", d.name), zap.Error(err))
	c.Close()
}

// Close is idempotent: it closes both sockets, drops pending actions and
// reports the connection to its Manager.
func (c *Connection) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	for _, d := range [...]*Direction{c.upstream, c.down} {
		d.closed.Store(true)
		d.setState(StateClosed)
	}
	if err := c.client.Close(); err != nil {
		c.log.Debug("close client", zap.Error(err))
	}
	if err := c.server.Close(); err != nil {
		c.log.Debug("close server", zap.Error(err))
	}
	c.upstream.queue.Release()
	c.down.queue.Release()
	if c.manager != nil {
		c.manager.remove(c)
	}
}

// Abort closes the client with a reset instead of a FIN.
func (c *Connection) Abort() {
	if a, ok := c.client.(api.Aborter); ok && c.client.IsOpen() {
		_ = a.Abort()
	}
	c.Close()
}

// Addrs returns the remote addresses of client and server when known.
func (c *Connection) Addrs() (client, server *net.TCPAddr) {
	type remote interface{ RemoteAddr() *net.TCPAddr }
	if r, ok := c.client.(remote); ok {
		client = r.RemoteAddr()
	}
	if r, ok := c.server.(remote); ok {
		server = r.RemoteAddr()
	}
	return client, server
}
