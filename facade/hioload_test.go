//go:build linux
// +build linux

package facade_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/facade"
	"github.com/momentics/hioload-relay/internal/selftest"
	"github.com/momentics/hioload-relay/proxyproto"
	"github.com/momentics/hioload-relay/relay"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func startRelay(t *testing.T, target string, mutate func(*facade.Config)) *facade.Relay {
	t.Helper()
	cfg := facade.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.TargetAddr = target
	cfg.Workers = 2
	cfg.QueueCapacity = 4
	cfg.ScratchSize = 8 * 1024
	cfg.Logger = zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	if mutate != nil {
		mutate(cfg)
	}
	r, err := facade.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Shutdown() })
	return r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Test the full lifecycle: cyclic stream through the relay, half-close
// propagation, lifecycle events and metrics.
func TestRelayCyclicStream(t *testing.T) {
	echo, err := selftest.StartEcho("127.0.0.1:0", false, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer echo.Close()
	r := startRelay(t, echo.Addr(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	events := r.Manager().Subscribe(ctx)

	const total = 2 << 20
	res, err := selftest.RunCyclic(ctx, r.Addr(), total, 16*1024)
	if err != nil {
		t.Fatalf("cyclic run: %v (sent %d, received %d)", err, res.Sent, res.Received)
	}
	if res.Received != total {
		t.Fatalf("received %d of %d", res.Received, total)
	}

	for _, want := range []api.ConnEventKind{api.ConnOpened, api.ConnClosed} {
		select {
		case ev := <-events:
			if ev.Kind != want {
				t.Fatalf("event %s, want %s", ev.Kind, want)
			}
		case <-ctx.Done():
			t.Fatalf("no %s event", want)
		}
	}
	waitFor(t, "connection removal", func() bool { return r.Manager().Len() == 0 })

	m := r.Metrics()
	if got := m.Get(relay.MetricBytesRead); got != 2*total {
		t.Errorf("bytes read = %d, want %d", got, 2*total)
	}
	if got := m.Get(relay.MetricBytesWritten); got != 2*total {
		t.Errorf("bytes written = %d, want %d", got, 2*total)
	}
	if m.Get(relay.MetricConnectionsOpened) != 1 || m.Get(relay.MetricConnectionsClosed) != 1 {
		t.Errorf("opened=%d closed=%d", m.Get(relay.MetricConnectionsOpened), m.Get(relay.MetricConnectionsClosed))
	}
	state := r.DumpState()
	if state["relay.connections"] != 0 {
		t.Errorf("probe relay.connections = %v", state["relay.connections"])
	}
}

func TestRelayConcurrentClients(t *testing.T) {
	echo, err := selftest.StartEcho("127.0.0.1:0", false, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer echo.Close()
	r := startRelay(t, echo.Addr(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	const clients = 8
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := selftest.RunCyclic(ctx, r.Addr(), 256*1024, 8*1024); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	waitFor(t, "all connections closed", func() bool { return r.Manager().Len() == 0 })
	if got := echo.Accepted(); got != clients {
		t.Errorf("upstream accepted %d, want %d", got, clients)
	}
}

func TestRelaySendsProxyHeader(t *testing.T) {
	echo, err := selftest.StartEcho("127.0.0.1:0", true, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer echo.Close()
	r := startRelay(t, echo.Addr(), func(cfg *facade.Config) {
		cfg.ProxyProtocol = proxyproto.Version2
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := selftest.RunCyclic(ctx, r.Addr(), 64*1024, 4096); err != nil {
		t.Fatalf("cyclic run with PROXY header: %v", err)
	}
	headers := echo.Headers()
	if len(headers) != 1 {
		t.Fatalf("headers = %d, want 1", len(headers))
	}
	dst, ok := headers[0].DestinationAddr.(*net.TCPAddr)
	if !ok || dst.String() != r.Addr() {
		t.Errorf("header destination = %v, want %s", headers[0].DestinationAddr, r.Addr())
	}
}

func TestRelayUnreachableUpstreamResetsClient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dead := ln.Addr().String()
	ln.Close()
	r := startRelay(t, dead, nil)

	conn, err := net.Dial("tcp", r.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if n, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatalf("read %d bytes from a relay without upstream", n)
	}
	waitFor(t, "abort counter", func() bool {
		return r.Metrics().Get(relay.MetricConnectionsAborted) == 1
	})
	if r.Manager().Len() != 0 {
		t.Errorf("aborted connection registered")
	}
}

func TestRelayLogLevelReload(t *testing.T) {
	lvl := zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg := facade.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Workers = 1
	cfg.LogLevel = &lvl
	r, err := facade.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Shutdown()
	if err := r.GetControl().SetConfig(map[string]any{"log.level": "debug"}); err != nil {
		t.Fatal(err)
	}
	if lvl.Level() != zap.DebugLevel {
		t.Errorf("level = %s, want debug", lvl.Level())
	}
	if got := r.GetControl().GetConfig()["target_addr"]; got != cfg.TargetAddr {
		t.Errorf("target_addr = %v", got)
	}
}

func TestNewRejectsEmptyTarget(t *testing.T) {
	cfg := facade.DefaultConfig()
	cfg.TargetAddr = ""
	if _, err := facade.New(cfg); err == nil {
		t.Fatal("empty target accepted")
	}
}

// Stop while clients keep connecting: the acceptor is stopped before the
// listener closes, so Stop completes and the port stops accepting.
func TestRelayStopWhileAccepting(t *testing.T) {
	echo, err := selftest.StartEcho("127.0.0.1:0", false, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer echo.Close()
	r := startRelay(t, echo.Addr(), nil)
	addr := r.Addr()

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				c, err := net.DialTimeout("tcp", addr, time.Second)
				if err == nil {
					c.Close()
				}
			}
		}()
	}
	waitFor(t, "accepted clients", func() bool {
		return r.Metrics().Get(relay.MetricAccepted) >= 8
	})

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop() }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	close(done)
	wg.Wait()

	if c, err := net.DialTimeout("tcp", addr, time.Second); err == nil {
		c.Close()
		t.Fatal("listener still accepting after Stop")
	}
	if n := r.Manager().Len(); n != 0 {
		t.Errorf("%d connections left after Stop", n)
	}
}
