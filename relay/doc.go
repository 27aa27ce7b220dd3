// Package relay
// Author: momentics <momentics@gmail.com>
//
// Bidirectional TCP relay built on the reactor package.
//
// A Connection pairs an accepted client socket with an outbound server
// socket and runs two Directions over them. Each Direction reads from its
// source on the source's loop, queues owned payloads in a bounded
// ActionQueue and drains them into its destination when the destination is
// writable. A full queue suspends reading; end of stream half-closes the
// destination once everything queued before it has been written.
package relay
