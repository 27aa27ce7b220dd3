// File: api/interest.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Interest set a channel may be watched for by a Multiplexer.

package api

import "strings"

// Interest is a bitset of readiness operations.
type Interest uint8

const (
	InterestAccept Interest = 1 << iota
	InterestConnect
	InterestRead
	InterestWrite

	InterestNone Interest = 0
)

// InterestKinds lists single interests in dispatch order.
var InterestKinds = [...]Interest{InterestAccept, InterestConnect, InterestRead, InterestWrite}

// Index returns the slot of a single interest in dispatch tables, -1 for sets.
func (i Interest) Index() int {
	switch i {
	case InterestAccept:
		return 0
	case InterestConnect:
		return 1
	case InterestRead:
		return 2
	case InterestWrite:
		return 3
	}
	return -1
}

// Has reports whether all bits of o are present in i.
func (i Interest) Has(o Interest) bool {
	return o != 0 && i&o == o
}

// Validate rejects empty sets, unknown bits and ACCEPT mixed with stream interests.
func (i Interest) Validate() error {
	if i == InterestNone || i&^(InterestAccept|InterestConnect|InterestRead|InterestWrite) != 0 {
		return ErrInvalidArgument
	}
	if i&InterestAccept != 0 && i != InterestAccept {
		return ErrInvalidArgument
	}
	return nil
}

func (i Interest) String() string {
	if i == InterestNone {
		return "none"
	}
	var parts []string
	if i&InterestAccept != 0 {
		parts = append(parts, "accept")
	}
	if i&InterestConnect != 0 {
		parts = append(parts, "connect")
	}
	if i&InterestRead != 0 {
		parts = append(parts, "read")
	}
	if i&InterestWrite != 0 {
		parts = append(parts, "write")
	}
	return strings.Join(parts, "|")
}
