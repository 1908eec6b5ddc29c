// Package transport carries length-prefixed frames over a byte stream.
package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/infigaming-com/go-tcpros/frame"
)

var ErrClosed = errors.New("transport: connection closed")

// Dialer opens a connection to a publisher.
// Implementations must be safe for concurrent use.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Conn, error)
}

// Conn is one framed connection. Send and Receive may run concurrently with
// each other, but not with themselves. Close is idempotent and unblocks any
// pending Send or Receive.
type Conn interface {
	Send(ctx context.Context, body []byte) error
	Receive(ctx context.Context) ([]byte, error)
	RemoteAddr() string
	Close() error
}

// aLongTimeAgo is a past deadline that makes pending I/O fail immediately.
var aLongTimeAgo = time.Unix(1, 0)

type streamConn struct {
	conn   net.Conn
	r      *bufio.Reader
	limits frame.Limits

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewConn frames an established net.Conn. The returned Conn owns c.
func NewConn(c net.Conn, limits frame.Limits) Conn {
	return &streamConn{
		conn:   c,
		r:      bufio.NewReader(c),
		limits: limits,
	}
}

func (c *streamConn) Send(ctx context.Context, body []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	stop := bindDeadline(ctx, c.conn.SetWriteDeadline)
	defer stop()
	if err := frame.WriteFrame(c.conn, body, c.limits); err != nil {
		return c.translate(ctx, err)
	}
	return nil
}

// Receive returns the next frame body. A peer that hangs up between frames
// yields io.EOF. A Receive interrupted by ctx leaves the stream at an
// undefined offset, so callers should treat it as terminal.
func (c *streamConn) Receive(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	stop := bindDeadline(ctx, c.conn.SetReadDeadline)
	defer stop()
	body, err := frame.ReadFrame(c.r, c.limits)
	if err != nil {
		return nil, c.translate(ctx, err)
	}
	return body, nil
}

func (c *streamConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *streamConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *streamConn) translate(ctx context.Context, err error) error {
	if c.closed.Load() || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return ErrClosed
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	// The socket deadline can fire before ctx notices its own.
	if deadline, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return err
}

// bindDeadline applies the ctx deadline to the connection and forces pending
// I/O to fail when ctx is cancelled.
func bindDeadline(ctx context.Context, set func(time.Time) error) func() {
	deadline, _ := ctx.Deadline()
	_ = set(deadline)
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = set(aLongTimeAgo)
	})
	return func() {
		if !stop() {
			<-fired
		}
	}
}
