// File: facade/hioload.go
// Unified facade layer for hioload-relay.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// This file defines the Relay struct, which aggregates the acceptor loop,
// the worker loop group, the proxy front, the connection manager and the
// control plane behind a single facade built from one immutable Config.

package facade

import (
	"fmt"
	"sync"
	"time"

	"github.com/momentics/hioload-relay/adapters"
	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/proxyproto"
	"github.com/momentics/hioload-relay/reactor"
	"github.com/momentics/hioload-relay/relay"
	"github.com/momentics/hioload-relay/transport"
	"go.uber.org/zap"
)

// Config holds parameters immutable per run.
// Only the log level can change at runtime, through Control.
type Config struct {
	ListenAddr            string             // address accepting clients
	TargetAddr            string             // upstream "host:port"
	Workers               int                // worker loops; NumCPU when <= 0
	QueueCapacity         int                // pending writes per direction
	ScratchSize           int                // read granularity per loop
	RegistrationQueueSize int                // cross-thread registration queue per loop
	MaxEvents             int                // ready events per poll
	AcceptBatch           int                // accepts per listener readiness
	ProxyProtocol         proxyproto.Version // PROXY preamble sent upstream
	ResolveTTL            time.Duration      // upstream resolution cache lifetime
	PinCPUs               bool               // bind worker loops to CPUs
	BackoffMin            time.Duration      // first idle pause of a loop
	BackoffMax            time.Duration      // longest idle pause of a loop
	Listen                transport.Options  // options of the listener and accepted sockets
	Upstream              transport.Options  // options of outbound sockets
	Logger                *zap.Logger
	LogLevel              *zap.AtomicLevel // optional; enables "log.level" updates
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:            ":8080",
		TargetAddr:            "127.0.0.1:8081",
		Workers:               0,
		QueueCapacity:         relay.DefaultQueueCapacity,
		ScratchSize:           relay.DefaultScratchSize,
		RegistrationQueueSize: reactor.DefaultQueueSize,
		MaxEvents:             reactor.DefaultMaxEvents,
		AcceptBatch:           relay.DefaultAcceptBatch,
		ProxyProtocol:         proxyproto.VersionNone,
		ResolveTTL:            relay.DefaultResolveTTL,
		PinCPUs:               false,
		BackoffMin:            50 * time.Microsecond,
		BackoffMax:            time.Millisecond,
		Listen:                transport.DefaultOptions(),
		Upstream:              transport.DefaultOptions(),
	}
}

// Relay is the main facade type.
// It implements api.GracefulShutdown to allow unified shutdown logic.
type Relay struct {
	config   *Config
	acceptor *reactor.Group
	workers  *reactor.Group
	proxy    *relay.Proxy
	manager  *relay.Manager
	resolver *relay.Resolver
	control  *adapters.ControlAdapter
	log      *zap.Logger

	mu      sync.Mutex
	started bool
	stopped bool
}

// Ensure compliance with api.GracefulShutdown.
var _ api.GracefulShutdown = (*Relay)(nil)

// New constructs the loops, the proxy and the control plane. Nothing runs
// and no socket is bound until Start.
func New(cfg *Config) (*Relay, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.TargetAddr == "" {
		return nil, fmt.Errorf("facade: target address required: %w", api.ErrInvalidArgument)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := &Relay{
		config:  cfg,
		control: adapters.NewControlAdapter(nil, nil),
		log:     log.Named("facade"),
	}
	metrics := r.control.Metrics()

	var err error
	r.acceptor, err = reactor.NewGroup(reactor.GroupConfig{
		Name:       "acceptor",
		Size:       1,
		MaxEvents:  cfg.MaxEvents,
		QueueSize:  cfg.RegistrationQueueSize,
		BackoffMin: cfg.BackoffMin,
		BackoffMax: cfg.BackoffMax,
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("acceptor init failure: %w", err)
	}
	r.workers, err = reactor.NewGroup(reactor.GroupConfig{
		Name:       "worker",
		Size:       cfg.Workers,
		PinCPUs:    cfg.PinCPUs,
		MaxEvents:  cfg.MaxEvents,
		QueueSize:  cfg.RegistrationQueueSize,
		BackoffMin: cfg.BackoffMin,
		BackoffMax: cfg.BackoffMax,
		Logger:     log,
	})
	if err != nil {
		r.acceptor.Stop()
		return nil, fmt.Errorf("worker init failure: %w", err)
	}

	r.manager = relay.NewManager(metrics, log)
	r.resolver = relay.NewResolver(cfg.ResolveTTL, nil)
	r.proxy, err = relay.NewProxy(relay.ProxyConfig{
		ListenAddr:    cfg.ListenAddr,
		TargetAddr:    cfg.TargetAddr,
		Listen:        cfg.Listen,
		Upstream:      cfg.Upstream,
		Acceptor:      r.acceptor.Loops()[0],
		Workers:       r.workers,
		Manager:       r.manager,
		Resolver:      r.resolver,
		Metrics:       metrics,
		ProxyProtocol: cfg.ProxyProtocol,
		ScratchSize:   cfg.ScratchSize,
		QueueCapacity: cfg.QueueCapacity,
		AcceptBatch:   cfg.AcceptBatch,
		Logger:        log,
	})
	if err != nil {
		r.acceptor.Stop()
		r.workers.Stop()
		return nil, err
	}

	r.registerProbes()
	// Expose configuration values via Control for observability and reload.
	r.control.SetConfig(map[string]any{
		"listen_addr":    cfg.ListenAddr,
		"target_addr":    cfg.TargetAddr,
		"workers":        r.workers.Size(),
		"queue_capacity": cfg.QueueCapacity,
		"scratch_size":   cfg.ScratchSize,
		"proxy_protocol": cfg.ProxyProtocol.String(),
	})
	if cfg.LogLevel != nil {
		r.control.SetConfig(map[string]any{"log.level": cfg.LogLevel.Level().String()})
		r.control.OnReload(r.applyLogLevel)
	}
	return r, nil
}

func (r *Relay) registerProbes() {
	metrics := r.control.Metrics()
	r.control.RegisterDebugProbe("relay.connections", func() any {
		return r.manager.Len()
	})
	r.control.RegisterDebugProbe("relay.resolver.cached", func() any {
		return r.resolver.Len()
	})
	r.control.RegisterDebugProbe("reactor.loops", func() any {
		return append(r.acceptor.Stats(), r.workers.Stats()...)
	})
	metrics.Gauge("reactor.poll.failures", func() int64 {
		var n int64
		for _, st := range append(r.acceptor.Stats(), r.workers.Stats()...) {
			n += st.PollFailures
		}
		return n
	})
}

func (r *Relay) applyLogLevel(changed map[string]any) {
	v, ok := changed["log.level"]
	if !ok {
		return
	}
	if err := r.config.LogLevel.UnmarshalText([]byte(fmt.Sprint(v))); err != nil {
		r.log.Warn("invalid log level", zap.Any("level", v), zap.Error(err))
		return
	}
	r.log.Info("log level changed", zap.Stringer("level", r.config.LogLevel.Level()))
}

// Start runs the loops and begins accepting.
// Subsequent calls to Start() have no effect.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return api.ErrClosed
	}
	if r.started {
		return nil
	}
	r.workers.Start()
	r.acceptor.Start()
	if err := r.proxy.Start(); err != nil {
		r.acceptor.Stop()
		r.workers.Stop()
		r.stopped = true
		return err
	}
	r.started = true
	return nil
}

// Stop stops the acceptor loop, closes the listener, stops the workers and
// then closes the remaining connections. The listener is only closed once no
// accept can be in flight on it. Calling Stop() on a non-started facade
// releases the loops.
func (r *Relay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil
	}
	r.stopped = true
	r.acceptor.Stop()
	err := r.proxy.Close()
	r.workers.Stop()
	r.manager.CloseAll()
	r.log.Info("relay stopped", zap.Int64("connections", r.control.Metrics().Get(relay.MetricConnectionsOpened)))
	return err
}

// Shutdown implements api.GracefulShutdown by delegating to Stop().
func (r *Relay) Shutdown() error {
	return r.Stop()
}

// Addr returns the bound listen address, nil before Start.
func (r *Relay) Addr() string {
	if a := r.proxy.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// GetControl returns the Control interface for dynamic config and metrics.
func (r *Relay) GetControl() api.Control {
	return r.control
}

// Manager returns the connection registry.
func (r *Relay) Manager() *relay.Manager {
	return r.manager
}

// Metrics returns the metric registry.
func (r *Relay) Metrics() *control.MetricsRegistry {
	return r.control.Metrics()
}

// DumpState returns the output of every debug probe.
func (r *Relay) DumpState() map[string]any {
	return r.control.Debug().DumpState()
}
