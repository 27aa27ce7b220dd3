//go:build linux
// +build linux

// File: transport/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking TCP stream socket on a raw descriptor.

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-relay/api"
	"golang.org/x/sys/unix"
)

// Socket is a non-blocking TCP stream channel.
type Socket struct {
	fd     int
	closed atomic.Bool

	mu    sync.Mutex
	hooks []func()
}

var (
	_ api.StreamChannel = (*Socket)(nil)
	_ api.HalfCloser    = (*Socket)(nil)
	_ api.Aborter       = (*Socket)(nil)
	_ api.CloseNotifier = (*Socket)(nil)
)

func newSocket(fd int) *Socket {
	return &Socket{fd: fd}
}

// Connect starts a non-blocking connect to raddr. The returned socket becomes
// usable once the loop reports CONNECT readiness and FinishConnect succeeds.
func Connect(raddr *net.TCPAddr, opts Options) (*Socket, error) {
	family, sa := sockaddr(raddr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket create: %w", err)
	}
	if err := opts.Apply(fd); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("socket options: %w", err)
	}
	for {
		err = unix.Connect(fd, sa)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("connect %s: %w", raddr, err)
	}
	return newSocket(fd), nil
}

// FinishConnect reports the outcome of a pending connect.
func (s *Socket) FinishConnect() error {
	if s.closed.Load() {
		return api.ErrChannelClosed
	}
	v, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("SO_ERROR: %w", err)
	}
	if v != 0 {
		return fmt.Errorf("connect: %w", unix.Errno(v))
	}
	return nil
}

// Fd returns the socket descriptor. The number stays readable after Close.
func (s *Socket) Fd() int { return s.fd }

// IsOpen reports false once Close has been called.
func (s *Socket) IsOpen() bool { return !s.closed.Load() }

// Read returns (0, nil) when no data is available and (0, io.EOF) on end of stream.
func (s *Socket) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, api.ErrChannelClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == nil && n == 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, nil
		}
		return 0, fmt.Errorf("read fd %d: %w", s.fd, err)
	}
}

// Write returns (0, nil) when the send buffer is full.
func (s *Socket) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, api.ErrChannelClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.SendmsgN(s.fd, p, nil, nil, unix.MSG_NOSIGNAL)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, nil
		}
		return 0, fmt.Errorf("write fd %d: %w", s.fd, err)
	}
}

// CloseWrite shuts down the sending side; the peer reads EOF.
func (s *Socket) CloseWrite() error {
	if s.closed.Load() {
		return api.ErrChannelClosed
	}
	if err := unix.Shutdown(s.fd, unix.SHUT_WR); err != nil && !errors.Is(err, unix.ENOTCONN) {
		return fmt.Errorf("shutdown fd %d: %w", s.fd, err)
	}
	return nil
}

// Abort closes the socket with a reset instead of a graceful FIN.
func (s *Socket) Abort() error {
	if s.closed.Load() {
		return nil
	}
	_ = unix.SetsockoptLinger(s.fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0})
	return s.Close()
}

// Close releases the descriptor once and runs the close hooks.
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := unix.Close(s.fd)
	s.mu.Lock()
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	if err != nil {
		return fmt.Errorf("close fd %d: %w", s.fd, err)
	}
	return nil
}

// OnClose registers fn to run after Close; it runs immediately if already closed.
func (s *Socket) OnClose(fn func()) {
	s.mu.Lock()
	if !s.closed.Load() {
		s.hooks = append(s.hooks, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// LocalAddr returns the bound address, nil when unknown.
func (s *Socket) LocalAddr() *net.TCPAddr {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return nil
	}
	return tcpAddr(sa)
}

// RemoteAddr returns the peer address, nil when unknown or not connected.
func (s *Socket) RemoteAddr() *net.TCPAddr {
	sa, err := unix.Getpeername(s.fd)
	if err != nil {
		return nil
	}
	return tcpAddr(sa)
}

func (s *Socket) String() string {
	return fmt.Sprintf("tcp(fd=%d %v->%v)", s.fd, s.LocalAddr(), s.RemoteAddr())
}
