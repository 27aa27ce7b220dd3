// File: core/buffer/bufferpool.go
// Package buffer implements byte rings and size-classed payload pooling.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import (
	"sync"
	"sync/atomic"
)

// Predefined (power-of-two) buffer size classes (bytes)
// This table can be tuned for deployment needs.
var sizeClasses = [...]int{
	2 * 1024,        // 2K
	4 * 1024,        // 4K
	8 * 1024,        // 8K
	16 * 1024,       // 16K
	32 * 1024,       // 32K
	64 * 1024,       // 64K
	128 * 1024,      // 128K
	256 * 1024,      // 256K
	512 * 1024,      // 512K
	1 * 1024 * 1024, // 1M
}

// classIndex returns the smallest class >= size, -1 when size exceeds all classes.
func classIndex(size int) int {
	for i, c := range sizeClasses {
		if size <= c {
			return i
		}
	}
	return -1
}

// Pool hands out payload slices from per-class sync.Pools.
// Slices larger than the biggest class are allocated and dropped on Put.
type Pool struct {
	classes [len(sizeClasses)]sync.Pool
	stats   PoolStats
}

// PoolStats aggregates allocation/reuse counters.
type PoolStats struct {
	Gets      atomic.Int64
	Puts      atomic.Int64
	Misses    atomic.Int64
	Oversized atomic.Int64
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	p := &Pool{}
	for i := range p.classes {
		size := sizeClasses[i]
		p.classes[i].New = func() any {
			p.stats.Misses.Add(1)
			b := make([]byte, size)
			return &b
		}
	}
	return p
}

// Get returns a slice of length n.
func (p *Pool) Get(n int) []byte {
	p.stats.Gets.Add(1)
	idx := classIndex(n)
	if idx < 0 {
		p.stats.Oversized.Add(1)
		return make([]byte, n)
	}
	bp := p.classes[idx].Get().(*[]byte)
	return (*bp)[:n]
}

// Put returns a slice obtained from Get. The slice must not be used afterwards.
func (p *Pool) Put(b []byte) {
	c := cap(b)
	idx := classIndex(c)
	if idx < 0 || sizeClasses[idx] != c {
		return
	}
	p.stats.Puts.Add(1)
	b = b[:c]
	p.classes[idx].Put(&b)
}

// Stats exposes the pool counters.
func (p *Pool) Stats() *PoolStats {
	return &p.stats
}
