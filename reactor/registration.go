// File: reactor/registration.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-channel dispatch table: one handler slot per interest kind.
// Records are only touched by the owning loop goroutine.

package reactor

import "github.com/momentics/hioload-relay/api"

type requestKind uint8

const (
	reqRegister requestKind = iota
	reqDeregister
)

// request is a queued registration change, applied on the loop goroutine.
type request struct {
	kind     requestKind
	ch       api.Channel
	interest api.Interest
	handler  api.Handler
}

// registration binds a channel's interests to handlers.
// A record whose interests dropped to zero stays dormant (not in the poller)
// until the channel registers again or is closed.
type registration struct {
	mux       *Multiplexer
	ch        api.Channel
	fd        int
	gen       int32
	interests api.Interest
	handlers  [len(api.InterestKinds)]api.Handler
	keys      [len(api.InterestKinds)]key
	dead      bool
}

func newRegistration(m *Multiplexer, ch api.Channel) *registration {
	reg := &registration{mux: m, ch: ch, fd: ch.Fd()}
	for i, kind := range api.InterestKinds {
		reg.keys[i] = key{reg: reg, interest: kind}
	}
	return reg
}

// bind stores h for every interest in set, replacing older handlers of the
// same interest and leaving the others untouched.
func (reg *registration) bind(set api.Interest, h api.Handler) {
	for i, kind := range api.InterestKinds {
		if set&kind != 0 {
			reg.handlers[i] = h
		}
	}
	reg.interests |= set
}

func (reg *registration) unbind(kind api.Interest) {
	reg.interests &^= kind
	if idx := kind.Index(); idx >= 0 {
		reg.handlers[idx] = nil
	}
}

func (reg *registration) active() bool {
	return !reg.dead && reg.interests != 0
}

// key is the handle given to handlers, scoped to a single interest.
type key struct {
	reg      *registration
	interest api.Interest
}

var _ api.Key = (*key)(nil)

// Channel returns the registered channel.
func (k *key) Channel() api.Channel { return k.reg.ch }

// Interest returns the single interest this key is scoped to.
func (k *key) Interest() api.Interest { return k.interest }

// Valid reports whether the interest is still registered on an open channel.
func (k *key) Valid() bool {
	return !k.reg.dead && k.reg.interests&k.interest != 0 && k.reg.ch.IsOpen()
}

// Cancel clears this interest only. Cancelling the last interest removes the
// channel from the OS selector.
func (k *key) Cancel() {
	k.reg.mux.cancel(k.reg, k.interest)
}
