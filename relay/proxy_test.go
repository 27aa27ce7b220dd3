// File: relay/proxy_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/transport"
	"go.uber.org/zap/zaptest"
)

// failingSource fails the next `fail` accepts with err, then reports no
// pending connection.
type failingSource struct {
	fail    int
	err     error
	accepts int
	open    bool
}

func (s *failingSource) Fd() int      { return 3 }
func (s *failingSource) IsOpen() bool { return s.open }
func (s *failingSource) Close() error { s.open = false; return nil }

func (s *failingSource) Accept() (*transport.Socket, error) {
	s.accepts++
	if s.fail > 0 {
		s.fail--
		return nil, s.err
	}
	return nil, nil
}

type acceptFixture struct {
	p       *Proxy
	loop    *manualLoop
	src     *failingSource
	delays  []time.Duration
	pending []func()
	metrics *control.MetricsRegistry
}

func newAcceptFixture(t *testing.T, fail int, err error) *acceptFixture {
	f := &acceptFixture{
		loop:    newManualLoop(),
		src:     &failingSource{fail: fail, err: err, open: true},
		metrics: control.NewMetricsRegistry(),
	}
	f.p = &Proxy{
		cfg:        ProxyConfig{AcceptBatch: 4},
		accepted:   f.metrics.Counter(MetricAccepted),
		paused:     f.metrics.Counter(MetricAcceptPaused),
		log:        zaptest.NewLogger(t),
		source:     f.src,
		acceptLoop: f.loop,
		after: func(d time.Duration, fn func()) {
			f.delays = append(f.delays, d)
			f.pending = append(f.pending, fn)
		},
	}
	if err := f.loop.Register(f.src, api.InterestAccept, api.HandlerFunc(f.p.onAccept)); err != nil {
		t.Fatal(err)
	}
	return f
}

// runTimers runs the scheduled re-arms.
func (f *acceptFixture) runTimers() {
	pending := f.pending
	f.pending = nil
	for _, fn := range pending {
		fn()
	}
}

func TestAcceptFailurePausesListener(t *testing.T) {
	f := newAcceptFixture(t, 2, errors.New("accept: too many open files"))

	f.loop.fire(f.src, api.InterestAccept)
	if f.loop.registered(f.src, api.InterestAccept) {
		t.Fatal("listener still armed after a failed accept")
	}
	if f.src.accepts != 1 {
		t.Fatalf("accepts = %d, want 1 per failed readiness", f.src.accepts)
	}
	if len(f.delays) != 1 || f.delays[0] != acceptRetryMin {
		t.Fatalf("delays = %v, want [%v]", f.delays, acceptRetryMin)
	}
	if f.loop.fire(f.src, api.InterestAccept) {
		t.Fatal("paused listener dispatched")
	}

	f.runTimers()
	if !f.loop.registered(f.src, api.InterestAccept) {
		t.Fatal("listener not re-armed after the pause")
	}
	f.loop.fire(f.src, api.InterestAccept)
	if len(f.delays) != 2 || f.delays[1] != 2*acceptRetryMin {
		t.Fatalf("delays = %v, want doubling", f.delays)
	}

	f.runTimers()
	f.loop.fire(f.src, api.InterestAccept)
	if !f.loop.registered(f.src, api.InterestAccept) {
		t.Fatal("healthy listener disarmed")
	}
	if f.p.acceptDelay != 0 {
		t.Errorf("delay not reset after a clean accept: %v", f.p.acceptDelay)
	}
	if got := f.metrics.Get(MetricAcceptPaused); got != 2 {
		t.Errorf("paused = %d, want 2", got)
	}
}

func TestAcceptPauseCapped(t *testing.T) {
	f := newAcceptFixture(t, 100, errors.New("accept: no buffer space"))
	for i := 0; i < 20; i++ {
		f.loop.fire(f.src, api.InterestAccept)
		f.runTimers()
	}
	if last := f.delays[len(f.delays)-1]; last != acceptRetryMax {
		t.Fatalf("last delay = %v, want %v", last, acceptRetryMax)
	}
}

func TestAcceptOnClosedListenerNotRetried(t *testing.T) {
	f := newAcceptFixture(t, 1, api.ErrChannelClosed)
	f.loop.fire(f.src, api.InterestAccept)
	if f.loop.registered(f.src, api.InterestAccept) || len(f.pending) != 0 {
		t.Fatalf("closed listener re-armed: pending=%d", len(f.pending))
	}
}

func TestAcceptRetryAfterCloseIsDropped(t *testing.T) {
	f := newAcceptFixture(t, 1, errors.New("accept: too many open files"))
	f.loop.fire(f.src, api.InterestAccept)
	f.p.closed.Store(true)
	f.runTimers()
	if f.loop.registered(f.src, api.InterestAccept) {
		t.Fatal("listener re-armed after the proxy closed")
	}
}
