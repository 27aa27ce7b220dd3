// File: reactor/multiplexer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Multiplexer is a single-goroutine readiness loop. Registration requests may
// come from any goroutine and are queued; only the loop goroutine touches the
// poller and the dispatch tables, so dispatch state needs no locks.

package reactor

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/core/concurrency"
	"go.uber.org/zap"
)

const (
	DefaultMaxEvents = 128
	DefaultQueueSize = 4096

	// sweepEvery bounds how long records of silently closed channels survive.
	sweepEvery = 4096
)

const (
	stateIdle int32 = iota
	stateRunning
	stateStopping
	stateStopped
)

// Config holds Multiplexer parameters.
type Config struct {
	Name      string      // identifier used in logs and stats
	MaxEvents int         // ready events handled per poll
	QueueSize int         // capacity of the registration request queue
	Backoff   api.Backoff // idle policy, exponential by default
	Logger    *zap.Logger
}

// Stats is a point-in-time view of loop counters, safe to read from any goroutine.
type Stats struct {
	Name          string
	Registrations int64
	Pending       int
	Iterations    int64
	Dispatched    int64
	PollFailures  int64
	Failures      int64
}

// Multiplexer owns one OS selector and its per-channel registrations.
type Multiplexer struct {
	name     string
	poller   poller
	requests *concurrency.LockFreeQueue[request]
	regs     map[int]*registration
	events   []readyEvent
	backoff  api.Backoff
	log      *zap.Logger

	state     atomic.Int32
	done      chan struct{}
	sweep     atomic.Bool
	closed    atomic.Bool
	gen       int32
	iteration int64

	registrations atomic.Int64
	iterations    atomic.Int64
	dispatched    atomic.Int64
	pollFailures  atomic.Int64
	failures      atomic.Int64
}

var _ api.Registrar = (*Multiplexer)(nil)

// New creates a Multiplexer and its OS selector.
func New(cfg Config) (*Multiplexer, error) {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Backoff == nil {
		cfg.Backoff = concurrency.NewExponentialBackoff(0, 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "mux"
	}
	p, err := newPoller(cfg.MaxEvents)
	if err != nil {
		return nil, err
	}
	return &Multiplexer{
		name:     cfg.Name,
		poller:   p,
		requests: concurrency.NewLockFreeQueue[request](cfg.QueueSize),
		regs:     make(map[int]*registration),
		events:   make([]readyEvent, cfg.MaxEvents),
		backoff:  cfg.Backoff,
		log:      cfg.Logger.Named("reactor").With(zap.String("loop", cfg.Name)),
		done:     make(chan struct{}),
	}, nil
}

// Name returns the loop identifier.
func (m *Multiplexer) Name() string { return m.name }

// Register asks the loop to watch ch for interest and dispatch to h.
// Safe from any goroutine; never blocks. The registration takes effect on the
// next loop iteration. Additional interests on an already registered channel
// are merged, keeping the handlers of the other interests.
func (m *Multiplexer) Register(ch api.Channel, interest api.Interest, h api.Handler) error {
	if err := interest.Validate(); err != nil {
		return fmt.Errorf("register %s: %w", interest, err)
	}
	if ch == nil || h == nil {
		return fmt.Errorf("register %s: nil channel or handler: %w", interest, api.ErrInvalidArgument)
	}
	if m.closed.Load() || m.state.Load() == stateStopped {
		return fmt.Errorf("register on %s: %w", m.name, api.ErrClosed)
	}
	if !m.requests.Enqueue(request{kind: reqRegister, ch: ch, interest: interest, handler: h}) {
		return fmt.Errorf("register on %s: request queue full: %w", m.name, api.ErrBackpressure)
	}
	return nil
}

// Run loops until Stop is called. The running flag is checked at the top of
// every iteration; in-flight dispatch of the current iteration completes first.
func (m *Multiplexer) Run() error {
	if !m.state.CompareAndSwap(stateIdle, stateRunning) {
		if m.state.Load() == stateStopped {
			return api.ErrClosed
		}
		return api.ErrAlreadyRunning
	}
	defer close(m.done)
	m.log.Debug("loop started")
	for m.state.Load() == stateRunning {
		m.backoff.Pause(m.RunOnce())
	}
	m.drain()
	m.state.Store(stateStopped)
	m.log.Debug("loop stopped", zap.Int64("iterations", m.iterations.Load()))
	return nil
}

// RunOnce performs one loop iteration: poll, apply queued registrations,
// dispatch ready keys. It returns the number of keys processed.
// Must not be called concurrently with Run.
func (m *Multiplexer) RunOnce() int {
	m.iteration++
	m.iterations.Add(1)

	n, err := m.poller.wait(m.events, 0)
	if err != nil {
		m.pollFailures.Add(1)
		m.log.Warn("poll failed", zap.Error(fmt.Errorf("%w: %w", api.ErrPollFailure, err)))
		n = 0
	}

	m.drain()

	processed := 0
	for i := 0; i < n; i++ {
		if m.dispatch(m.events[i]) {
			processed++
		}
	}
	if processed > 0 {
		m.dispatched.Add(int64(processed))
	}
	return processed
}

// Stop transitions running to stopping. Non-blocking; use Done to wait.
func (m *Multiplexer) Stop() {
	if m.state.CompareAndSwap(stateIdle, stateStopped) {
		close(m.done)
		return
	}
	m.state.CompareAndSwap(stateRunning, stateStopping)
}

// Done is closed once the loop has exited.
func (m *Multiplexer) Done() <-chan struct{} {
	return m.done
}

// Close stops the loop, waits for it and releases the OS selector.
// It must not be called from the loop goroutine.
func (m *Multiplexer) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.Stop()
	<-m.done
	return m.poller.close()
}

// KeyFor returns the handle of a registered interest of ch. Loop goroutine only.
func (m *Multiplexer) KeyFor(ch api.Channel, interest api.Interest) (api.Key, bool) {
	idx := interest.Index()
	if idx < 0 {
		return nil, false
	}
	reg, ok := m.regs[ch.Fd()]
	if !ok || reg.ch != ch || reg.interests&interest == 0 {
		return nil, false
	}
	return &reg.keys[idx], true
}

// Stats returns loop counters.
func (m *Multiplexer) Stats() Stats {
	return Stats{
		Name:          m.name,
		Registrations: m.registrations.Load(),
		Pending:       m.requests.Len(),
		Iterations:    m.iterations.Load(),
		Dispatched:    m.dispatched.Load(),
		PollFailures:  m.pollFailures.Load(),
		Failures:      m.failures.Load(),
	}
}

// drain applies every queued request.
func (m *Multiplexer) drain() {
	for {
		req, ok := m.requests.Dequeue()
		if !ok {
			break
		}
		switch req.kind {
		case reqRegister:
			m.apply(req)
		case reqDeregister:
			if reg, ok := m.regs[req.ch.Fd()]; ok && reg.ch == req.ch {
				m.discard(reg)
			}
		}
	}
	if m.sweep.Swap(false) || m.iteration%sweepEvery == 0 {
		for _, reg := range m.regs {
			if !reg.ch.IsOpen() {
				m.discard(reg)
			}
		}
	}
}

func (m *Multiplexer) apply(req request) {
	if !req.ch.IsOpen() {
		m.log.Debug("registration dropped",
			zap.Stringer("interest", req.interest), zap.Error(api.ErrChannelClosed))
		return
	}
	fd := req.ch.Fd()
	reg, ok := m.regs[fd]
	if ok && reg.ch != req.ch {
		// fd number reused by a new channel after the old one was closed
		m.discard(reg)
		ok = false
	}
	if !ok {
		reg = newRegistration(m, req.ch)
		m.regs[fd] = reg
		m.registrations.Add(1)
		if cn, isNotifier := req.ch.(api.CloseNotifier); isNotifier {
			ch := req.ch
			cn.OnClose(func() { m.channelClosed(ch) })
		}
	}

	prev := reg.interests
	next := prev | req.interest
	var err error
	switch {
	case prev == 0:
		m.gen++
		reg.gen = m.gen
		err = m.poller.add(fd, next, reg.gen)
	case next != prev:
		err = m.poller.modify(fd, next, reg.gen)
	}
	if err != nil {
		m.log.Warn("registration failed",
			zap.Int("fd", fd), zap.Stringer("interest", req.interest), zap.Error(err))
		if prev == 0 {
			m.discard(reg)
		}
		return
	}
	reg.bind(req.interest, req.handler)
}

// cancel clears one interest; the last one removes fd from the poller.
func (m *Multiplexer) cancel(reg *registration, kind api.Interest) {
	if reg.dead || reg.interests&kind == 0 {
		return
	}
	reg.unbind(kind)
	var err error
	if reg.interests == 0 {
		err = m.poller.remove(reg.fd)
	} else {
		err = m.poller.modify(reg.fd, reg.interests, reg.gen)
	}
	if err != nil && reg.ch.IsOpen() {
		m.log.Debug("cancel failed", zap.Int("fd", reg.fd), zap.Stringer("interest", kind), zap.Error(err))
	}
}

// discard drops a record entirely.
func (m *Multiplexer) discard(reg *registration) {
	if reg.dead {
		return
	}
	if reg.interests != 0 {
		_ = m.poller.remove(reg.fd)
	}
	reg.interests = 0
	reg.handlers = [len(api.InterestKinds)]api.Handler{}
	reg.dead = true
	if cur, ok := m.regs[reg.fd]; ok && cur == reg {
		delete(m.regs, reg.fd)
	}
	m.registrations.Add(-1)
}

// channelClosed runs on whichever goroutine closed ch.
func (m *Multiplexer) channelClosed(ch api.Channel) {
	if m.closed.Load() {
		return
	}
	if !m.requests.Enqueue(request{kind: reqDeregister, ch: ch}) {
		m.sweep.Store(true)
	}
}

// dispatch invokes the handlers of every ready interest still registered.
// It reports whether any handler ran.
func (m *Multiplexer) dispatch(ev readyEvent) bool {
	reg, ok := m.regs[ev.fd]
	if !ok || reg.gen != ev.tag || !reg.active() {
		return false
	}
	if !reg.ch.IsOpen() {
		m.discard(reg)
		return false
	}
	fired := false
	for i, kind := range api.InterestKinds {
		if ev.ready&kind == 0 || reg.interests&kind == 0 {
			continue
		}
		if reg.dead || !reg.ch.IsOpen() {
			break
		}
		fired = true
		m.invoke(reg.handlers[i], &reg.keys[i])
	}
	if !reg.dead && !reg.ch.IsOpen() {
		m.discard(reg)
	}
	return fired
}

// invoke is the dispatch boundary: errors and panics of a handler cancel its
// interest and are handed to the handler's failure hook.
func (m *Multiplexer) invoke(h api.Handler, k *key) {
	err := m.call(h, k)
	if err == nil {
		return
	}
	m.failures.Add(1)
	m.log.Debug("handler failed",
		zap.Int("fd", k.reg.fd), zap.Stringer("interest", k.interest), zap.Error(err))
	k.Cancel()
	if fh, ok := h.(api.FailureHandler); ok {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("failure handler panicked", zap.Any("panic", r))
				}
			}()
			fh.HandleFailure(k, err)
		}()
	}
}

func (m *Multiplexer) call(h api.Handler, k *key) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: handler panic: %v", api.ErrIOFailure, r)
		}
	}()
	return h.HandleReady(k)
}
