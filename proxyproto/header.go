// File: proxyproto/header.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// PROXY protocol preamble written into the outbound direction before relaying.

package proxyproto

import (
	"fmt"
	"net"
	"strings"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/core/buffer"
	goproxyproto "github.com/pires/go-proxyproto"
)

// Version selects the header encoding.
type Version byte

const (
	VersionNone Version = 0 // no preamble
	Version1    Version = 1 // "PROXY TCP4 ...\r\n" text
	Version2    Version = 2 // binary
)

// ParseVersion accepts "", "none", "v1", "1", "v2", "2".
func ParseVersion(s string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off", "0":
		return VersionNone, nil
	case "v1", "1":
		return Version1, nil
	case "v2", "2":
		return Version2, nil
	}
	return VersionNone, fmt.Errorf("proxy protocol version %q: %w", s, api.ErrInvalidArgument)
}

func (v Version) String() string {
	switch v {
	case Version1:
		return "v1"
	case Version2:
		return "v2"
	default:
		return "none"
	}
}

// Capacity is the outcome of checking a destination buffer.
type Capacity int

const (
	HasCapacity        Capacity = iota // header fits now
	LacksTotalCapacity                 // buffer can never hold the header
	LacksFreeCapacity                  // buffer could hold it once drained
)

func (c Capacity) String() string {
	switch c {
	case HasCapacity:
		return "HAS_CAPACITY"
	case LacksTotalCapacity:
		return "LACKS_TOTAL_CAPACITY"
	case LacksFreeCapacity:
		return "LACKS_FREE_CAPACITY"
	}
	return "UNKNOWN"
}

// Header is an encoded preamble for one connection.
type Header struct {
	version Version
	raw     []byte
}

// NewHeader encodes a preamble announcing src as the client and dst as the
// address it connected to. Mixed or missing address families encode as UNKNOWN.
func NewHeader(v Version, src, dst *net.TCPAddr) (*Header, error) {
	if v != Version1 && v != Version2 {
		return nil, fmt.Errorf("proxy header %s: %w", v, api.ErrInvalidArgument)
	}
	var srcAddr, dstAddr net.Addr
	if src != nil && dst != nil && isIPv4(src.IP) == isIPv4(dst.IP) {
		srcAddr, dstAddr = src, dst
	}
	h := goproxyproto.HeaderProxyFromAddrs(byte(v), srcAddr, dstAddr)
	raw, err := h.Format()
	if err != nil {
		return nil, fmt.Errorf("proxy header %s: %w", v, err)
	}
	return &Header{version: v, raw: raw}, nil
}

// Version returns the encoding.
func (h *Header) Version() Version { return h.version }

// Len returns the encoded length in bytes.
func (h *Header) Len() int { return len(h.raw) }

// Bytes returns the encoded header. The slice must not be modified.
func (h *Header) Bytes() []byte { return h.raw }

// Check reports whether rb can take the header.
func (h *Header) Check(rb *buffer.RingBuffer) Capacity {
	switch {
	case len(h.raw) > rb.Cap():
		return LacksTotalCapacity
	case len(h.raw) > rb.Free():
		return LacksFreeCapacity
	}
	return HasCapacity
}

// WriteTo puts the whole header into rb when it fits and reports the check result.
// Nothing is written unless the result is HasCapacity.
func (h *Header) WriteTo(rb *buffer.RingBuffer) Capacity {
	c := h.Check(rb)
	if c == HasCapacity {
		rb.Put(h.raw)
	}
	return c
}

func isIPv4(ip net.IP) bool {
	return ip.To4() != nil
}
