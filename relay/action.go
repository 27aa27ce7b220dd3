// File: relay/action.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

// ActionKind discriminates queued work of a Direction.
type ActionKind uint8

const (
	// ActionWrite carries an owned payload for the destination.
	ActionWrite ActionKind = iota
	// ActionClose shuts down the destination's write side.
	ActionClose
)

// String implements fmt.Stringer.
func (k ActionKind) String() string {
	switch k {
	case ActionWrite:
		return "write"
	case ActionClose:
		return "close"
	default:
		return "unknown"
	}
}

// Action is one unit of pending work for a destination channel.
// A Write is complete once every payload byte was written; a Close once the
// shutdown was performed.
type Action struct {
	Kind    ActionKind
	payload []byte
	off     int
	done    bool
}

// NewWriteAction wraps payload. The action owns payload from now on.
func NewWriteAction(payload []byte) *Action {
	return &Action{Kind: ActionWrite, payload: payload, done: len(payload) == 0}
}

// NewCloseAction returns a pending Close.
func NewCloseAction() *Action {
	return &Action{Kind: ActionClose}
}

// Remaining returns the bytes not yet written.
func (a *Action) Remaining() []byte {
	return a.payload[a.off:]
}

// Len returns the total payload size.
func (a *Action) Len() int { return len(a.payload) }

// Advance records n written bytes.
func (a *Action) Advance(n int) {
	a.off += n
	if a.off >= len(a.payload) {
		a.off = len(a.payload)
		a.done = true
	}
}

// Complete marks the action as performed.
func (a *Action) Complete() { a.done = true }

// Done reports completion.
func (a *Action) Done() bool { return a.done }
