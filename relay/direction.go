// File: relay/direction.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Direction relays bytes one way, source to destination. The read side runs
// on the source's loop and the write side on the destination's loop; they
// meet only in the ActionQueue.

package relay

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/proxyproto"
	"go.uber.org/zap"
)

// DirectionState is the observable phase of a Direction.
type DirectionState int32

const (
	StateIdle DirectionState = iota
	StateReadRegistered
	StateRelaying
	StateWriteRegistered
	StateSuspended
	StateDraining
	StateClosed
)

var directionStateNames = [...]string{
	StateIdle:            "idle",
	StateReadRegistered:  "read-registered",
	StateRelaying:        "relaying",
	StateWriteRegistered: "write-registered",
	StateSuspended:       "suspended",
	StateDraining:        "draining",
	StateClosed:          "closed",
}

// String implements fmt.Stringer.
func (s DirectionState) String() string {
	if s < 0 || int(s) >= len(directionStateNames) {
		return "unknown"
	}
	return directionStateNames[s]
}

// Direction is one half of a Connection.
type Direction struct {
	conn   *Connection // owner; not owned
	name   string
	src    api.StreamChannel
	dst    api.StreamChannel
	srcEng *Engine
	dstEng *Engine
	queue  *ActionQueue
	state  atomic.Int32
	closed atomic.Bool

	// preamble is written ahead of any source byte; source loop only.
	preamble *proxyproto.Header

	reader readHandler
	writer writeHandler
}

func newDirection(c *Connection, name string, src, dst api.StreamChannel, srcEng, dstEng *Engine, capacity int) *Direction {
	d := &Direction{
		conn:   c,
		name:   name,
		src:    src,
		dst:    dst,
		srcEng: srcEng,
		dstEng: dstEng,
		queue:  NewActionQueue(capacity, srcEng.pool.Put),
	}
	d.reader = readHandler{d}
	d.writer = writeHandler{d}
	return d
}

// Name identifies the direction, "client->server" or "server->client".
func (d *Direction) Name() string { return d.name }

// State returns the current phase.
func (d *Direction) State() DirectionState { return DirectionState(d.state.Load()) }

// Closed reports whether the direction finished or was torn down.
func (d *Direction) Closed() bool { return d.closed.Load() }

// Queue exposes the pending actions.
func (d *Direction) Queue() *ActionQueue { return d.queue }

func (d *Direction) setState(s DirectionState) {
	if d.closed.Load() && s != StateClosed {
		return
	}
	d.state.Store(int32(s))
}

// start registers the source for reading. A pending preamble is queued first
// so it reaches the destination even if the source never sends.
func (d *Direction) start() error {
	if d.preamble != nil {
		if _, err := d.flushPreamble(); err != nil {
			return err
		}
	}
	d.setState(StateReadRegistered)
	if err := d.srcEng.reg.Register(d.src, api.InterestRead, &d.reader); err != nil {
		return api.IOFailure("register read "+d.name, err)
	}
	return nil
}

// flushPreamble stages the header through the scratch ring. It reports
// false when the ring has no room yet; the next read readiness retries.
func (d *Direction) flushPreamble() (bool, error) {
	scratch := d.srcEng.scratch
	switch capacity := d.preamble.WriteTo(scratch); capacity {
	case proxyproto.HasCapacity:
	case proxyproto.LacksFreeCapacity:
		return false, nil
	default:
		return false, api.NewError(api.ErrCodeInvalidArgument,
			fmt.Sprintf("proxy header of %d bytes exceeds scratch of %d", d.preamble.Len(), scratch.Cap())).
			WithContext("direction", d.name)
	}
	d.preamble = nil
	payload := d.srcEng.pool.Get(scratch.Used())
	scratch.GetSome(payload)
	return true, d.enqueue(NewWriteAction(payload))
}

// enqueue appends a and arms the destination writer on the first pending action.
func (d *Direction) enqueue(a *Action) error {
	first, err := d.queue.Add(a)
	if err != nil {
		if a.Kind == ActionWrite {
			d.srcEng.pool.Put(a.payload)
		}
		return fmt.Errorf("%s: %w", d.name, err)
	}
	if !first {
		return nil
	}
	if err := d.dstEng.reg.Register(d.dst, api.InterestWrite, &d.writer); err != nil {
		return api.IOFailure("register write "+d.name, err)
	}
	return nil
}

// onReadable performs at most one read from the source.
func (d *Direction) onReadable(key api.Key) error {
	if d.closed.Load() {
		key.Cancel()
		return nil
	}
	if d.preamble != nil {
		ok, err := d.flushPreamble()
		if err != nil || !ok {
			return err
		}
	}
	if d.queue.Suspend() {
		// level-triggered readiness would spin; the writer resumes us
		key.Cancel()
		d.setState(StateSuspended)
		d.srcEng.stats.readsSuspended.Add(1)
		return nil
	}

	scratch := d.srcEng.scratch
	n, err := scratch.Fill(d.src)
	if n > 0 {
		d.srcEng.stats.bytesRead.Add(int64(n))
		payload := d.srcEng.pool.Get(n)
		scratch.GetSome(payload)
		if qerr := d.enqueue(NewWriteAction(payload)); qerr != nil {
			return qerr
		}
		d.setState(StateRelaying)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		key.Cancel()
		d.setState(StateDraining)
		d.srcEng.log.Debug("source drained",
			zap.Uint64("conn", d.conn.id), zap.String("direction", d.name))
		return d.enqueue(NewCloseAction())
	default:
		return api.IOFailure("read "+d.name, err)
	}
}

// onWritable drains queued actions until the destination stops accepting.
func (d *Direction) onWritable(key api.Key) error {
	if !key.Valid() || d.closed.Load() {
		key.Cancel()
		d.conn.Close()
		return nil
	}
	for {
		a := d.queue.Current()
		if a == nil {
			if !d.queue.Disarm() {
				continue
			}
			key.Cancel()
			d.setState(StateReadRegistered)
			return nil
		}
		d.setState(StateWriteRegistered)

		switch a.Kind {
		case ActionWrite:
			n, err := d.dst.Write(a.Remaining())
			done := false
			if n > 0 {
				d.dstEng.stats.bytesWritten.Add(int64(n))
				done = d.queue.Advance(a, n)
			}
			if err != nil {
				return api.IOFailure("write "+d.name, err)
			}
			if n > 0 {
				if rerr := d.resumeReads(); rerr != nil {
					return rerr
				}
			}
			if !done {
				// destination full; wait for the next readiness
				return nil
			}
		case ActionClose:
			key.Cancel()
			d.queue.Complete(a)
			err := halfClose(d.dst)
			d.finish()
			if err != nil {
				d.dstEng.log.Debug("shutdown write side",
					zap.Uint64("conn", d.conn.id), zap.String("direction", d.name), zap.Error(err))
			}
			return nil
		}
	}
}

// resumeReads re-registers a suspended source once its queue has room.
func (d *Direction) resumeReads() error {
	if !d.queue.Resume() {
		return nil
	}
	d.setState(StateReadRegistered)
	if err := d.srcEng.reg.Register(d.src, api.InterestRead, &d.reader); err != nil {
		return api.IOFailure("resume read "+d.name, err)
	}
	return nil
}

// finish marks the direction closed and reports it to the connection once.
func (d *Direction) finish() {
	if d.closed.CompareAndSwap(false, true) {
		d.setState(StateClosed)
		d.conn.directionClosed(d)
	}
}

// halfClose shuts down the write side of ch, or closes it when unsupported.
func halfClose(ch api.StreamChannel) error {
	if hc, ok := ch.(api.HalfCloser); ok {
		return hc.CloseWrite()
	}
	return ch.Close()
}

type readHandler struct{ d *Direction }

func (h *readHandler) HandleReady(key api.Key) error { return h.d.onReadable(key) }

func (h *readHandler) HandleFailure(_ api.Key, err error) { h.d.conn.fail(h.d, err) }

type writeHandler struct{ d *Direction }

func (h *writeHandler) HandleReady(key api.Key) error { return h.d.onWritable(key) }

func (h *writeHandler) HandleFailure(_ api.Key, err error) { h.d.conn.fail(h.d, err) }
