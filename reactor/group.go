// File: reactor/group.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Group runs several independent Multiplexers, each on a dedicated OS thread,
// for horizontal scaling of accept/read/write work. Loop identifiers are
// assigned deterministically at construction: "<name>-0", "<name>-1", ...

package reactor

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-relay/core/concurrency"
	"go.uber.org/zap"
)

// GroupConfig holds Group parameters.
type GroupConfig struct {
	Name       string
	Size       int  // number of loops, runtime.NumCPU() when <= 0
	PinCPUs    bool // bind loop i to CPU i % NumCPU
	MaxEvents  int
	QueueSize  int
	BackoffMin time.Duration
	BackoffMax time.Duration
	Logger     *zap.Logger
}

// Group is a fixed set of loops with round-robin assignment.
type Group struct {
	loops   []*Multiplexer
	next    atomic.Uint64
	pin     bool
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
	log     *zap.Logger
}

// NewGroup constructs cfg.Size loops. Nothing runs until Start.
func NewGroup(cfg GroupConfig) (*Group, error) {
	if cfg.Size <= 0 {
		cfg.Size = runtime.NumCPU()
	}
	if cfg.Name == "" {
		cfg.Name = "loop"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	g := &Group{
		loops: make([]*Multiplexer, 0, cfg.Size),
		pin:   cfg.PinCPUs,
		log:   cfg.Logger.Named("group"),
	}
	for i := 0; i < cfg.Size; i++ {
		m, err := New(Config{
			Name:      fmt.Sprintf("%s-%d", cfg.Name, i),
			MaxEvents: cfg.MaxEvents,
			QueueSize: cfg.QueueSize,
			Backoff:   concurrency.NewExponentialBackoff(cfg.BackoffMin, cfg.BackoffMax),
			Logger:    cfg.Logger,
		})
		if err != nil {
			for _, prev := range g.loops {
				_ = prev.Close()
			}
			return nil, fmt.Errorf("loop %d: %w", i, err)
		}
		g.loops = append(g.loops, m)
	}
	return g, nil
}

// Start launches every loop on its own locked OS thread.
func (g *Group) Start() {
	if !g.started.CompareAndSwap(false, true) {
		return
	}
	for i, m := range g.loops {
		g.wg.Add(1)
		go g.runLoop(i, m)
	}
}

func (g *Group) runLoop(i int, m *Multiplexer) {
	defer g.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if g.pin {
		cpu := i % runtime.NumCPU()
		if err := concurrency.PinCurrentThread(cpu); err != nil {
			g.log.Warn("cpu pinning failed", zap.String("loop", m.Name()), zap.Int("cpu", cpu), zap.Error(err))
		}
	}
	if err := m.Run(); err != nil {
		g.log.Error("loop exited", zap.String("loop", m.Name()), zap.Error(err))
	}
}

// Next returns loops in round-robin order.
func (g *Group) Next() *Multiplexer {
	n := g.next.Add(1) - 1
	return g.loops[n%uint64(len(g.loops))]
}

// Loops returns every loop of the group.
func (g *Group) Loops() []*Multiplexer {
	return g.loops
}

// Size returns the number of loops.
func (g *Group) Size() int {
	return len(g.loops)
}

// Stats collects the counters of every loop.
func (g *Group) Stats() []Stats {
	out := make([]Stats, len(g.loops))
	for i, m := range g.loops {
		out[i] = m.Stats()
	}
	return out
}

// Stop signals all loops, waits for them and releases their selectors.
func (g *Group) Stop() {
	if !g.stopped.CompareAndSwap(false, true) {
		return
	}
	for _, m := range g.loops {
		m.Stop()
	}
	g.wg.Wait()
	for _, m := range g.loops {
		if err := m.Close(); err != nil {
			g.log.Debug("close loop", zap.String("loop", m.Name()), zap.Error(err))
		}
	}
}
