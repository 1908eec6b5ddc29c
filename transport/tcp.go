package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/infigaming-com/go-tcpros/frame"
)

type TCPOption func(*TCPDialer)

// TCPDialer dials publishers over TCP.
type TCPDialer struct {
	connectTimeout time.Duration
	keepAlive      time.Duration
	noDelay        bool
	limits         frame.Limits
}

func NewTCPDialer(opts ...TCPOption) *TCPDialer {
	d := &TCPDialer{
		connectTimeout: 5 * time.Second,
		keepAlive:      15 * time.Second,
		noDelay:        true,
		limits:         frame.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func WithConnectTimeout(timeout time.Duration) TCPOption {
	return func(d *TCPDialer) {
		if timeout > 0 {
			d.connectTimeout = timeout
		}
	}
}

func WithKeepAlive(period time.Duration) TCPOption {
	return func(d *TCPDialer) {
		d.keepAlive = period
	}
}

func WithNoDelay(enabled bool) TCPOption {
	return func(d *TCPDialer) {
		d.noDelay = enabled
	}
}

func WithLimits(limits frame.Limits) TCPOption {
	return func(d *TCPDialer) {
		d.limits = limits
	}
}

func (d *TCPDialer) Dial(ctx context.Context, host string, port int) (Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nd := net.Dialer{Timeout: d.connectTimeout, KeepAlive: d.keepAlive}
	c, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tcp, ok := c.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(d.noDelay); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("set nodelay on %s: %w", addr, err)
		}
	}
	return NewConn(c, d.limits), nil
}
