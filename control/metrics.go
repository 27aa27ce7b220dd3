// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for system-level monitoring.
// Counters are registered once by name; hot paths keep the returned pointer.

package control

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsRegistry holds named counters and gauges.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
	gauges   map[string]func() int64
	started  time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*atomic.Int64),
		gauges:   make(map[string]func() int64),
		started:  time.Now(),
	}
}

// Counter returns the counter registered under name, creating it on first use.
func (mr *MetricsRegistry) Counter(name string) *atomic.Int64 {
	mr.mu.RLock()
	c, ok := mr.counters[name]
	mr.mu.RUnlock()
	if ok {
		return c
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if c, ok = mr.counters[name]; ok {
		return c
	}
	c = new(atomic.Int64)
	mr.counters[name] = c
	return c
}

// Gauge registers a sampled value, replacing any previous one of that name.
func (mr *MetricsRegistry) Gauge(name string, fn func() int64) {
	mr.mu.Lock()
	mr.gauges[name] = fn
	mr.mu.Unlock()
}

// Get returns the current value of a counter or gauge, 0 when unknown.
func (mr *MetricsRegistry) Get(name string) int64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	if c, ok := mr.counters[name]; ok {
		return c.Load()
	}
	if fn, ok := mr.gauges[name]; ok {
		return fn()
	}
	return 0
}

// GetSnapshot returns the latest values of every counter and gauge.
func (mr *MetricsRegistry) GetSnapshot() map[string]int64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]int64, len(mr.counters)+len(mr.gauges))
	for k, c := range mr.counters {
		out[k] = c.Load()
	}
	for k, fn := range mr.gauges {
		out[k] = fn()
	}
	return out
}

// Names returns registered metric names in sorted order.
func (mr *MetricsRegistry) Names() []string {
	mr.mu.RLock()
	names := make([]string, 0, len(mr.counters)+len(mr.gauges))
	for k := range mr.counters {
		names = append(names, k)
	}
	for k := range mr.gauges {
		names = append(names, k)
	}
	mr.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Uptime returns the time since the registry was created.
func (mr *MetricsRegistry) Uptime() time.Duration {
	return time.Since(mr.started)
}
