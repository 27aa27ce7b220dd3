// File: relay/fake_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import (
	"errors"
	"io"
	"sync"

	"github.com/momentics/hioload-relay/api"
)

// memChannel is an in-memory StreamChannel with scripted input.
type memChannel struct {
	mu       sync.Mutex
	fd       int
	chunks   [][]byte
	eof      bool
	readErr  error
	reads    int
	written  []byte
	capacity int // bytes accepted per Write, negative for unlimited
	open     bool
	shutWr   bool
	closes   int
}

func newMemChannel(fd int) *memChannel {
	return &memChannel{fd: fd, capacity: -1, open: true}
}

func (c *memChannel) feed(chunks ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range chunks {
		c.chunks = append(c.chunks, []byte(s))
	}
}

func (c *memChannel) Fd() int { return c.fd }

func (c *memChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *memChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.open = false
	return nil
}

func (c *memChannel) CloseWrite() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutWr = true
	return nil
}

func (c *memChannel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if !c.open {
		return 0, api.ErrChannelClosed
	}
	if c.readErr != nil {
		return 0, c.readErr
	}
	if len(c.chunks) == 0 {
		if c.eof {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(p, c.chunks[0])
	if n == len(c.chunks[0]) {
		c.chunks = c.chunks[1:]
	} else {
		c.chunks[0] = c.chunks[0][n:]
	}
	return n, nil
}

func (c *memChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.shutWr {
		return 0, errors.New("write on closed channel")
	}
	n := len(p)
	if c.capacity >= 0 {
		n = min(n, c.capacity)
		c.capacity -= n
	}
	c.written = append(c.written, p[:n]...)
	return n, nil
}

func (c *memChannel) output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.written)
}

func (c *memChannel) readCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

type regKey struct {
	ch       api.Channel
	interest api.Interest
}

// manualLoop records registrations and dispatches them on demand, applying
// the same failure boundary as the reactor.
type manualLoop struct {
	regs map[regKey]api.Handler
}

func newManualLoop() *manualLoop {
	return &manualLoop{regs: make(map[regKey]api.Handler)}
}

func (l *manualLoop) Register(ch api.Channel, interest api.Interest, h api.Handler) error {
	l.regs[regKey{ch, interest}] = h
	return nil
}

func (l *manualLoop) registered(ch api.Channel, interest api.Interest) bool {
	_, ok := l.regs[regKey{ch, interest}]
	return ok
}

// fire dispatches one readiness; false when the interest is not registered.
func (l *manualLoop) fire(ch api.Channel, interest api.Interest) bool {
	h, ok := l.regs[regKey{ch, interest}]
	if !ok {
		return false
	}
	k := &manualKey{loop: l, ch: ch, interest: interest}
	if err := h.HandleReady(k); err != nil {
		k.Cancel()
		if fh, ok := h.(api.FailureHandler); ok {
			fh.HandleFailure(k, err)
		}
	}
	return true
}

type manualKey struct {
	loop     *manualLoop
	ch       api.Channel
	interest api.Interest
}

func (k *manualKey) Channel() api.Channel   { return k.ch }
func (k *manualKey) Interest() api.Interest { return k.interest }
func (k *manualKey) Valid() bool {
	return k.loop.registered(k.ch, k.interest) && k.ch.IsOpen()
}
func (k *manualKey) Cancel() { delete(k.loop.regs, regKey{k.ch, k.interest}) }

// countingListener counts lifecycle notifications.
type countingListener struct {
	mu     sync.Mutex
	opened int
	closed int
}

func (l *countingListener) OnOpen(api.ConnEvent) {
	l.mu.Lock()
	l.opened++
	l.mu.Unlock()
}

func (l *countingListener) OnClose(api.ConnEvent) {
	l.mu.Lock()
	l.closed++
	l.mu.Unlock()
}

func (l *countingListener) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened, l.closed
}
