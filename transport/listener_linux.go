//go:build linux
// +build linux

// File: transport/listener_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"net"

	"github.com/momentics/hioload-relay/api"
	"golang.org/x/sys/unix"
)

// Listener is a non-blocking listening socket, registered for ACCEPT.
type Listener struct {
	sock *Socket
	opts Options
	addr *net.TCPAddr
}

var (
	_ api.Channel       = (*Listener)(nil)
	_ api.CloseNotifier = (*Listener)(nil)
)

// Listen binds addr ("host:port") and starts listening.
// opts are applied to the listener and to every accepted socket.
func Listen(addr string, opts Options) (*Listener, error) {
	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addr, err)
	}
	family, sa := sockaddr(laddr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket create: %w", err)
	}
	if err := opts.applyListener(fd); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", laddr, err)
	}
	backlog := opts.Backlog
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", laddr, err)
	}
	l := &Listener{sock: newSocket(fd), opts: opts}
	l.addr = l.sock.LocalAddr()
	return l, nil
}

// Accept returns the next pending connection with options applied,
// or (nil, nil) when none is pending.
func (l *Listener) Accept() (*Socket, error) {
	if !l.sock.IsOpen() {
		return nil, api.ErrChannelClosed
	}
	for {
		nfd, _, err := unix.Accept4(l.sock.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			if err := l.opts.Apply(nfd); err != nil {
				_ = unix.Close(nfd)
				return nil, fmt.Errorf("accepted socket options: %w", err)
			}
			return newSocket(nfd), nil
		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		case errors.Is(err, unix.EAGAIN):
			return nil, nil
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
}

// Addr returns the bound address.
func (l *Listener) Addr() *net.TCPAddr { return l.addr }

// Fd returns the listening descriptor.
func (l *Listener) Fd() int { return l.sock.Fd() }

// IsOpen reports false once closed.
func (l *Listener) IsOpen() bool { return l.sock.IsOpen() }

// Close stops listening.
func (l *Listener) Close() error { return l.sock.Close() }

// OnClose registers fn to run after Close.
func (l *Listener) OnClose(fn func()) { l.sock.OnClose(fn) }
