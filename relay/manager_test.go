// File: relay/manager_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import (
	"context"
	"testing"
	"time"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
	"go.uber.org/zap/zaptest"
)

func TestManagerLifecycleAndSubscribe(t *testing.T) {
	mr := control.NewMetricsRegistry()
	log := zaptest.NewLogger(t)
	mgr := NewManager(mr, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := mgr.Subscribe(ctx)

	eng := NewEngine(EngineConfig{Registrar: newManualLoop(), Logger: log})
	c := NewConnection(ConnectionConfig{
		ID:           mgr.NextID(),
		Client:       newMemChannel(3),
		Server:       newMemChannel(4),
		ClientEngine: eng,
		Manager:      mgr,
	})
	mgr.Add(c)
	if got, ok := mgr.Get(c.ID()); !ok || got != c {
		t.Fatalf("Get(%d) = %v, %v", c.ID(), got, ok)
	}
	if mr.Get(MetricConnectionsActive) != 1 {
		t.Fatalf("active gauge = %d, want 1", mr.Get(MetricConnectionsActive))
	}
	c.Close()
	c.Close()
	if mgr.Len() != 0 {
		t.Fatalf("Len = %d after close", mgr.Len())
	}

	want := []api.ConnEventKind{api.ConnOpened, api.ConnClosed}
	for i, kind := range want {
		select {
		case ev := <-events:
			if ev.Kind != kind || ev.ID != c.ID() {
				t.Fatalf("event %d = %+v, want %s of %d", i, ev, kind, c.ID())
			}
		case <-time.After(time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	if mr.Get(MetricConnectionsOpened) != 1 || mr.Get(MetricConnectionsClosed) != 1 {
		t.Fatalf("counters opened=%d closed=%d", mr.Get(MetricConnectionsOpened), mr.Get(MetricConnectionsClosed))
	}
}

type panickingListener struct{}

func (panickingListener) OnOpen(api.ConnEvent)  { panic("listener bug") }
func (panickingListener) OnClose(api.ConnEvent) {}

func TestManagerSurvivesListenerPanic(t *testing.T) {
	mgr := NewManager(nil, zaptest.NewLogger(t))
	mgr.AddListener(panickingListener{})
	counter := &countingListener{}
	mgr.AddListener(counter)
	eng := NewEngine(EngineConfig{Registrar: newManualLoop()})
	c := NewConnection(ConnectionConfig{
		ID: mgr.NextID(), Client: newMemChannel(1), Server: newMemChannel(2),
		ClientEngine: eng, Manager: mgr,
	})
	mgr.Add(c)
	if opened, _ := counter.counts(); opened != 1 {
		t.Fatalf("listener after a panicking one got %d opens", opened)
	}
	mgr.CloseAll()
	if _, closed := counter.counts(); closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}
}
