// File: relay/manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Manager tracks live connections and publishes their lifecycle.
// Listeners are invoked synchronously on the loop that opened or closed the
// connection; subscribers receive events through unbounded channels so a
// slow consumer never stalls a loop.

package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
	"github.com/smallnest/chanx"
	"go.uber.org/zap"
)

// Manager is a concurrent-safe registry of Connections.
type Manager struct {
	mu        sync.RWMutex
	conns     map[uint64]*Connection
	listeners []api.ConnectionListener
	subs      map[uint64]*subscription
	nextID    atomic.Uint64
	nextSub   uint64

	opened  *atomic.Int64
	closed  *atomic.Int64
	aborted *atomic.Int64
	log     *zap.Logger
}

type subscription struct {
	ctx context.Context
	ch  *chanx.UnboundedChan[api.ConnEvent]
}

// NewManager creates a Manager publishing counters into mr.
func NewManager(mr *control.MetricsRegistry, log *zap.Logger) *Manager {
	if mr == nil {
		mr = control.NewMetricsRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		conns:   make(map[uint64]*Connection),
		subs:    make(map[uint64]*subscription),
		opened:  mr.Counter(MetricConnectionsOpened),
		closed:  mr.Counter(MetricConnectionsClosed),
		aborted: mr.Counter(MetricConnectionsAborted),
		log:     log.Named("manager"),
	}
	mr.Gauge(MetricConnectionsActive, func() int64 { return int64(m.Len()) })
	return m
}

// NextID returns a fresh connection identifier, starting at 1.
func (m *Manager) NextID() uint64 {
	return m.nextID.Add(1)
}

// Add registers c and emits ConnOpened.
func (m *Manager) Add(c *Connection) {
	m.mu.Lock()
	m.conns[c.id] = c
	m.mu.Unlock()
	m.opened.Add(1)
	client, server := c.Addrs()
	m.log.Debug("connection opened", zap.Uint64("conn", c.id),
		zap.Stringer("client", client), zap.Stringer("server", server))
	m.publish(m.event(api.ConnOpened, c))
}

// remove unregisters c and emits ConnClosed. Connection.Close calls it once.
func (m *Manager) remove(c *Connection) {
	m.mu.Lock()
	_, ok := m.conns[c.id]
	delete(m.conns, c.id)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.closed.Add(1)
	m.log.Debug("connection closed", zap.Uint64("conn", c.id), zap.Duration("age", c.Age()))
	m.publish(m.event(api.ConnClosed, c))
}

// CountAbort records a connection that failed before relaying started.
func (m *Manager) CountAbort() {
	m.aborted.Add(1)
}

// Get returns the live connection with id.
func (m *Manager) Get(id uint64) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	return c, ok
}

// Len returns the number of live connections.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Range calls fn for every live connection until fn returns false.
func (m *Manager) Range(fn func(c *Connection) bool) {
	m.mu.RLock()
	snapshot := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		snapshot = append(snapshot, c)
	}
	m.mu.RUnlock()
	for _, c := range snapshot {
		if !fn(c) {
			return
		}
	}
}

// CloseAll closes every live connection. Call only once the loops stopped.
func (m *Manager) CloseAll() {
	m.Range(func(c *Connection) bool {
		c.Close()
		return true
	})
}

// AddListener appends a synchronous lifecycle observer.
func (m *Manager) AddListener(l api.ConnectionListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners[:len(m.listeners):len(m.listeners)], l)
}

// Subscribe streams lifecycle events until ctx is done.
func (m *Manager) Subscribe(ctx context.Context) <-chan api.ConnEvent {
	sub := &subscription{ctx: ctx, ch: chanx.NewUnboundedChan[api.ConnEvent](ctx, 16)}
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = sub
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}()
	return sub.ch.Out
}

func (m *Manager) publish(ev api.ConnEvent) {
	m.mu.RLock()
	listeners := m.listeners
	subs := make([]*subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	for _, l := range listeners {
		m.notify(l, ev)
	}
	for _, s := range subs {
		select {
		case s.ch.In <- ev:
		case <-s.ctx.Done():
		}
	}
}

func (m *Manager) notify(l api.ConnectionListener, ev api.ConnEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("listener panicked", zap.Stringer("event", ev.Kind), zap.Any("panic", r))
		}
	}()
	if ev.Kind == api.ConnOpened {
		l.OnOpen(ev)
	} else {
		l.OnClose(ev)
	}
}

func (m *Manager) event(kind api.ConnEventKind, c *Connection) api.ConnEvent {
	ev := api.ConnEvent{Kind: kind, ID: c.id}
	client, server := c.Addrs()
	if client != nil {
		ev.Client = client
	}
	if server != nil {
		ev.Server = server
	}
	return ev
}
