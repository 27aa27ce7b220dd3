// File: internal/selftest/selftest.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loopback peers used by the self-test mode and end-to-end tests: an echo
// upstream and a client streaming a cyclic byte pattern through the relay.

package selftest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	goproxyproto "github.com/pires/go-proxyproto"
	"go.uber.org/zap"
)

// PatternByte is the i-th byte of the stream: 0x01..0x7F repeating.
func PatternByte(i int64) byte {
	return byte(1 + i%127)
}

// NextExpected returns the byte following last in the stream.
func NextExpected(last byte) byte {
	return last%127 + 1
}

// EchoServer writes back everything it reads and half-closes after the
// client does.
type EchoServer struct {
	ln          net.Listener
	expectProxy bool
	log         *zap.Logger
	wg          sync.WaitGroup
	accepted    atomic.Int64
	mu          sync.Mutex
	headers     []*goproxyproto.Header
}

// StartEcho listens on addr. With expectProxy every connection must start
// with a PROXY header, which is recorded and not echoed.
func StartEcho(addr string, expectProxy bool, log *zap.Logger) (*EchoServer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("echo listen: %w", err)
	}
	e := &EchoServer{ln: ln, expectProxy: expectProxy, log: log.Named("echo")}
	e.wg.Add(1)
	go e.serve()
	return e, nil
}

// Addr returns the listen address.
func (e *EchoServer) Addr() string { return e.ln.Addr().String() }

// Accepted returns the number of accepted connections.
func (e *EchoServer) Accepted() int64 { return e.accepted.Load() }

// Headers returns the PROXY headers received so far.
func (e *EchoServer) Headers() []*goproxyproto.Header {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*goproxyproto.Header(nil), e.headers...)
}

// Close stops accepting and waits for active connections.
func (e *EchoServer) Close() error {
	err := e.ln.Close()
	e.wg.Wait()
	return err
}

func (e *EchoServer) serve() {
	defer e.wg.Done()
	for {
		conn, err := e.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				e.log.Warn("accept", zap.Error(err))
			}
			return
		}
		e.accepted.Add(1)
		e.wg.Add(1)
		go e.echo(conn.(*net.TCPConn))
	}
}

func (e *EchoServer) echo(conn *net.TCPConn) {
	defer e.wg.Done()
	defer conn.Close()
	var src io.Reader = conn
	if e.expectProxy {
		br := bufio.NewReader(conn)
		h, err := goproxyproto.Read(br)
		if err != nil {
			e.log.Warn("proxy header", zap.Error(err))
			return
		}
		e.mu.Lock()
		e.headers = append(e.headers, h)
		e.mu.Unlock()
		src = br
	}
	n, err := io.Copy(conn, src)
	if err != nil {
		e.log.Debug("echo copy", zap.Int64("bytes", n), zap.Error(err))
		return
	}
	_ = conn.CloseWrite()
	// wait for the relay to finish the other direction
	_, _ = io.Copy(io.Discard, conn)
}

// Result summarizes one cyclic run.
type Result struct {
	Sent     int64
	Received int64
	Elapsed  time.Duration
}

// Throughput returns received bytes per second.
func (r Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Received) / r.Elapsed.Seconds()
}

// RunCyclic streams total pattern bytes to addr in chunks, half-closes, and
// verifies that exactly the same sequence comes back before end of stream.
func RunCyclic(ctx context.Context, addr string, total int64, chunk int) (Result, error) {
	if chunk <= 0 {
		chunk = 16 * 1024
	}
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Result{}, fmt.Errorf("dial relay: %w", err)
	}
	conn := c.(*net.TCPConn)
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	start := time.Now()
	var res Result
	var writeErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, chunk)
		for res.Sent < total {
			n := int(min(int64(chunk), total-res.Sent))
			for i := 0; i < n; i++ {
				buf[i] = PatternByte(res.Sent + int64(i))
			}
			w, err := conn.Write(buf[:n])
			res.Sent += int64(w)
			if err != nil {
				writeErr = fmt.Errorf("write at %d: %w", res.Sent, err)
				return
			}
		}
		writeErr = conn.CloseWrite()
	}()

	readErr := verify(conn, total, &res.Received)
	if readErr != nil {
		// unblock the writer
		_ = conn.Close()
	}
	wg.Wait()
	res.Elapsed = time.Since(start)
	if readErr != nil {
		return res, readErr
	}
	return res, writeErr
}

func verify(r io.Reader, total int64, received *int64) error {
	buf := make([]byte, 32*1024)
	var last byte
	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			want := PatternByte(0)
			if *received > 0 {
				want = NextExpected(last)
			}
			if buf[i] != want {
				return fmt.Errorf("byte %d: got 0x%02x, want 0x%02x", *received, buf[i], want)
			}
			last = buf[i]
			*received++
		}
		if errors.Is(err, io.EOF) {
			if *received != total {
				return fmt.Errorf("stream ended after %d of %d bytes", *received, total)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read at %d: %w", *received, err)
		}
		if *received > total {
			return fmt.Errorf("received %d bytes, sent only %d", *received, total)
		}
	}
}
