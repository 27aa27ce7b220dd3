// File: relay/proxy.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Proxy accepts client connections on one loop, connects each to the
// upstream target without blocking and hands the pair to a worker loop.

package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/core/buffer"
	"github.com/momentics/hioload-relay/proxyproto"
	"github.com/momentics/hioload-relay/reactor"
	"github.com/momentics/hioload-relay/transport"
	"go.uber.org/zap"
)

const (
	DefaultAcceptBatch    = 64
	DefaultResolveTimeout = 5 * time.Second

	// bounds of the pause after a failed accept
	acceptRetryMin = 10 * time.Millisecond
	acceptRetryMax = time.Second
)

// acceptSource is the listening side of the proxy.
type acceptSource interface {
	api.Channel
	Accept() (*transport.Socket, error)
}

// ProxyConfig holds Proxy parameters.
type ProxyConfig struct {
	ListenAddr     string
	TargetAddr     string
	Listen         transport.Options
	Upstream       transport.Options
	Acceptor       *reactor.Multiplexer
	Workers        *reactor.Group
	Manager        *Manager
	Resolver       *Resolver
	Metrics        *control.MetricsRegistry
	ProxyProtocol  proxyproto.Version
	ScratchSize    int
	QueueCapacity  int
	AcceptBatch    int
	ResolveTimeout time.Duration
	Logger         *zap.Logger
}

// Proxy is the accept/connect front of the relay.
type Proxy struct {
	cfg      ProxyConfig
	listener *transport.Listener
	engines  map[*reactor.Multiplexer]*Engine
	accepted *atomic.Int64
	paused   *atomic.Int64
	closed   atomic.Bool
	log      *zap.Logger

	// acceptor loop only, except the timer callback of pauseAccept
	source      acceptSource
	acceptLoop  api.Registrar
	acceptDelay time.Duration
	after       func(d time.Duration, fn func())
}

// NewProxy validates cfg and builds one Engine per worker loop.
func NewProxy(cfg ProxyConfig) (*Proxy, error) {
	if cfg.Acceptor == nil || cfg.Workers == nil {
		return nil, fmt.Errorf("proxy: acceptor and workers required: %w", api.ErrInvalidArgument)
	}
	if cfg.TargetAddr == "" {
		return nil, fmt.Errorf("proxy: empty target: %w", api.ErrInvalidArgument)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = control.NewMetricsRegistry()
	}
	if cfg.Manager == nil {
		cfg.Manager = NewManager(cfg.Metrics, cfg.Logger)
	}
	if cfg.Resolver == nil {
		cfg.Resolver = NewResolver(DefaultResolveTTL, nil)
	}
	if cfg.AcceptBatch <= 0 {
		cfg.AcceptBatch = DefaultAcceptBatch
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	p := &Proxy{
		cfg:        cfg,
		engines:    make(map[*reactor.Multiplexer]*Engine, cfg.Workers.Size()),
		accepted:   cfg.Metrics.Counter(MetricAccepted),
		paused:     cfg.Metrics.Counter(MetricAcceptPaused),
		log:        cfg.Logger.Named("proxy"),
		acceptLoop: cfg.Acceptor,
		after:      func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
	pool := buffer.NewPool()
	for _, loop := range cfg.Workers.Loops() {
		p.engines[loop] = NewEngine(EngineConfig{
			Registrar:   loop,
			ScratchSize: cfg.ScratchSize,
			Pool:        pool,
			Metrics:     cfg.Metrics,
			Logger:      cfg.Logger.With(zap.String("loop", loop.Name())),
		})
	}
	return p, nil
}

// Start binds the listener and registers it on the acceptor loop.
func (p *Proxy) Start() error {
	l, err := transport.Listen(p.cfg.ListenAddr, p.cfg.Listen)
	if err != nil {
		return fmt.Errorf("proxy listen %s: %w", p.cfg.ListenAddr, err)
	}
	p.listener = l
	p.source = l

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ResolveTimeout)
	defer cancel()
	if _, err := p.cfg.Resolver.Resolve(ctx, p.cfg.TargetAddr); err != nil {
		p.log.Warn("upstream not resolvable yet", zap.String("target", p.cfg.TargetAddr), zap.Error(err))
	}

	if err := p.acceptLoop.Register(l, api.InterestAccept, api.HandlerFunc(p.onAccept)); err != nil {
		_ = l.Close()
		return fmt.Errorf("proxy register accept: %w", err)
	}
	p.log.Info("proxy listening",
		zap.Stringer("addr", l.Addr()), zap.String("target", p.cfg.TargetAddr),
		zap.Stringer("proxy_protocol", p.cfg.ProxyProtocol))
	return nil
}

// Addr returns the bound listen address, nil before Start.
func (p *Proxy) Addr() *net.TCPAddr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// Manager returns the connection registry.
func (p *Proxy) Manager() *Manager { return p.cfg.Manager }

// Close stops accepting. Live connections are left to Manager.CloseAll.
// The listener is closed from the caller's goroutine, so the acceptor loop
// must be stopped first.
func (p *Proxy) Close() error {
	if !p.closed.CompareAndSwap(false, true) || p.listener == nil {
		return nil
	}
	return p.listener.Close()
}

// onAccept accepts up to AcceptBatch clients per readiness.
func (p *Proxy) onAccept(key api.Key) error {
	for i := 0; i < p.cfg.AcceptBatch; i++ {
		client, err := p.source.Accept()
		if err != nil {
			p.pauseAccept(key, err)
			return nil
		}
		p.acceptDelay = 0
		if client == nil {
			return nil
		}
		p.accepted.Add(1)
		p.dial(client)
	}
	return nil
}

// pauseAccept parks the listener after a failed accept. Errors like EMFILE
// persist while the condition lasts and a level-triggered listener would
// report readiness on every iteration. The listener is re-armed after a
// delay doubling up to acceptRetryMax.
func (p *Proxy) pauseAccept(key api.Key, err error) {
	key.Cancel()
	if p.closed.Load() || errors.Is(err, api.ErrChannelClosed) {
		return
	}
	p.acceptDelay = min(max(2*p.acceptDelay, acceptRetryMin), acceptRetryMax)
	p.paused.Add(1)
	p.log.Warn("accept failed, pausing listener", zap.Duration("retry_in", p.acceptDelay), zap.Error(err))
	p.resumeAccept(p.acceptDelay)
}

func (p *Proxy) resumeAccept(delay time.Duration) {
	p.after(delay, func() {
		if p.closed.Load() {
			return
		}
		err := p.acceptLoop.Register(p.source, api.InterestAccept, api.HandlerFunc(p.onAccept))
		switch {
		case err == nil, errors.Is(err, api.ErrClosed):
		default:
			p.log.Warn("re-arm listener", zap.Error(err))
			p.resumeAccept(delay)
		}
	})
}

// dial connects client to the upstream. A cache miss resolves off-loop.
func (p *Proxy) dial(client *transport.Socket) {
	if addr, ok := p.cfg.Resolver.Cached(p.cfg.TargetAddr); ok {
		p.connect(client, addr)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ResolveTimeout)
		defer cancel()
		addr, err := p.cfg.Resolver.Resolve(ctx, p.cfg.TargetAddr)
		if err != nil {
			p.abort(client, nil, err)
			return
		}
		p.connect(client, addr)
	}()
}

func (p *Proxy) connect(client *transport.Socket, addr *net.TCPAddr) {
	server, err := transport.Connect(addr, p.cfg.Upstream)
	if err != nil {
		p.cfg.Resolver.Forget(p.cfg.TargetAddr)
		p.abort(client, nil, err)
		return
	}
	loop := p.cfg.Workers.Next()
	pc := &pendingConnect{p: p, client: client, server: server, eng: p.engines[loop], started: time.Now()}
	if err := loop.Register(server, api.InterestConnect, pc); err != nil {
		p.abort(client, server, err)
	}
}

// abort resets the client and drops the half-built upstream.
func (p *Proxy) abort(client, server *transport.Socket, err error) {
	p.cfg.Manager.CountAbort()
	p.log.Debug("connection aborted",
		zap.Stringer("client", client.RemoteAddr()), zap.String("target", p.cfg.TargetAddr), zap.Error(err))
	if server != nil {
		_ = server.Close()
	}
	if aerr := client.Abort(); aerr != nil {
		_ = client.Close()
	}
}

// pendingConnect completes one outbound connect on a worker loop.
type pendingConnect struct {
	p       *Proxy
	client  *transport.Socket
	server  *transport.Socket
	eng     *Engine
	started time.Time
}

func (pc *pendingConnect) HandleReady(key api.Key) error {
	key.Cancel()
	p := pc.p
	if err := pc.server.FinishConnect(); err != nil {
		p.cfg.Resolver.Forget(p.cfg.TargetAddr)
		p.abort(pc.client, pc.server, err)
		return nil
	}

	c := NewConnection(ConnectionConfig{
		ID:            p.cfg.Manager.NextID(),
		Client:        pc.client,
		Server:        pc.server,
		ClientEngine:  pc.eng,
		ServerEngine:  pc.eng,
		QueueCapacity: p.cfg.QueueCapacity,
		Manager:       p.cfg.Manager,
		Logger:        pc.eng.log,
	})
	if p.cfg.ProxyProtocol != proxyproto.VersionNone {
		h, err := proxyproto.NewHeader(p.cfg.ProxyProtocol, pc.client.RemoteAddr(), pc.client.LocalAddr())
		if err != nil {
			p.abort(pc.client, pc.server, err)
			return nil
		}
		c.SetPreamble(h)
	}
	p.cfg.Manager.Add(c)
	if err := c.Start(); err == nil {
		pc.eng.log.Debug("relaying", zap.Uint64("conn", c.ID()), zap.Duration("connect", time.Since(pc.started)))
	}
	return nil
}

func (pc *pendingConnect) HandleFailure(_ api.Key, err error) {
	pc.p.abort(pc.client, pc.server, err)
}
