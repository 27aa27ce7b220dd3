// File: reactor/poller.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral poller contract used by the Multiplexer.

package reactor

import "github.com/momentics/hioload-relay/api"

// readyEvent is one readiness report translated to interests.
// ready is a superset: every interest the OS condition may satisfy.
type readyEvent struct {
	fd    int
	tag   int32
	ready api.Interest
}

// poller wraps one OS-level readiness selector handle.
// All methods are called from the owning loop goroutine only.
type poller interface {
	add(fd int, interest api.Interest, tag int32) error
	modify(fd int, interest api.Interest, tag int32) error
	remove(fd int) error
	// wait polls with the given timeout (0 = non-blocking) and fills out.
	wait(out []readyEvent, timeoutMs int) (int, error)
	close() error
}
