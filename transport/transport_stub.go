//go:build !linux
// +build !linux

// File: transport/transport_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package transport

import (
	"net"

	"github.com/momentics/hioload-relay/api"
)

// Socket is unavailable on this platform.
type Socket struct{}

// Listener is unavailable on this platform.
type Listener struct{}

// Connect returns api.ErrNotSupported.
func Connect(raddr *net.TCPAddr, opts Options) (*Socket, error) { return nil, api.ErrNotSupported }

// Listen returns api.ErrNotSupported.
func Listen(addr string, opts Options) (*Listener, error) { return nil, api.ErrNotSupported }

func (o Options) Apply(fd int) error { return api.ErrNotSupported }

func (s *Socket) FinishConnect() error        { return api.ErrNotSupported }
func (s *Socket) Fd() int                     { return -1 }
func (s *Socket) IsOpen() bool                { return false }
func (s *Socket) Read(p []byte) (int, error)  { return 0, api.ErrNotSupported }
func (s *Socket) Write(p []byte) (int, error) { return 0, api.ErrNotSupported }
func (s *Socket) CloseWrite() error           { return api.ErrNotSupported }
func (s *Socket) Abort() error                { return nil }
func (s *Socket) Close() error                { return nil }
func (s *Socket) OnClose(fn func())           { fn() }
func (s *Socket) LocalAddr() *net.TCPAddr     { return nil }
func (s *Socket) RemoteAddr() *net.TCPAddr    { return nil }
func (l *Listener) Accept() (*Socket, error)  { return nil, api.ErrNotSupported }
func (l *Listener) Addr() *net.TCPAddr        { return nil }
func (l *Listener) Fd() int                   { return -1 }
func (l *Listener) IsOpen() bool              { return false }
func (l *Listener) Close() error              { return nil }
func (l *Listener) OnClose(fn func())         { fn() }
