// File: relay/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Engine is the per-loop context shared by every Direction whose source is
// registered on that loop. The scratch ring is only touched by handlers of
// that loop, so one ring serves all of its connections.

package relay

import (
	"sync/atomic"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/core/buffer"
	"go.uber.org/zap"
)

// DefaultScratchSize is the read granularity of a loop.
const DefaultScratchSize = 64 * 1024

// Metric names published by the relay.
const (
	MetricConnectionsOpened  = "relay.connections.opened"
	MetricConnectionsClosed  = "relay.connections.closed"
	MetricConnectionsActive  = "relay.connections.active"
	MetricConnectionsAborted = "relay.connections.aborted"
	MetricBytesRead          = "relay.bytes.read"
	MetricBytesWritten       = "relay.bytes.written"
	MetricReadsSuspended     = "relay.reads.suspended"
	MetricAccepted           = "relay.accepted"
	MetricAcceptPaused       = "relay.accept.paused"
)

// counters caches metric pointers for hot paths.
type counters struct {
	bytesRead      *atomic.Int64
	bytesWritten   *atomic.Int64
	readsSuspended *atomic.Int64
}

func newCounters(mr *control.MetricsRegistry) *counters {
	if mr == nil {
		mr = control.NewMetricsRegistry()
	}
	return &counters{
		bytesRead:      mr.Counter(MetricBytesRead),
		bytesWritten:   mr.Counter(MetricBytesWritten),
		readsSuspended: mr.Counter(MetricReadsSuspended),
	}
}

// EngineConfig holds Engine parameters.
type EngineConfig struct {
	Registrar   api.Registrar // loop the engine's sources are registered on
	ScratchSize int
	Pool        *buffer.Pool
	Metrics     *control.MetricsRegistry
	Logger      *zap.Logger
}

// Engine bundles the loop-local resources used by Direction handlers.
type Engine struct {
	reg     api.Registrar
	scratch *buffer.RingBuffer
	pool    *buffer.Pool
	stats   *counters
	log     *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.ScratchSize <= 0 {
		cfg.ScratchSize = DefaultScratchSize
	}
	if cfg.Pool == nil {
		cfg.Pool = buffer.NewPool()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		reg:     cfg.Registrar,
		scratch: buffer.NewRingBuffer(cfg.ScratchSize),
		pool:    cfg.Pool,
		stats:   newCounters(cfg.Metrics),
		log:     cfg.Logger.Named("relay"),
	}
}

// Registrar returns the loop of this engine.
func (e *Engine) Registrar() api.Registrar { return e.reg }

// Pool returns the payload pool.
func (e *Engine) Pool() *buffer.Pool { return e.pool }
