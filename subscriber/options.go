package subscriber

import (
	"time"

	"go.uber.org/zap"

	"github.com/infigaming-com/go-tcpros/config"
	"github.com/infigaming-com/go-tcpros/transport"
)

type Option func(*options)

type options struct {
	logger           *zap.Logger
	hooks            Hooks
	dialer           transport.Dialer
	handshakeTimeout time.Duration
}

func defaultOptions() options {
	return options{
		logger: zap.NewNop(),
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(o *options) {
		o.hooks = h
	}
}

func WithDialer(d transport.Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithHandshakeTimeout pins the handshake timeout for this subscriber instead
// of reading config.TopicTimeout when Start is called.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

func (o options) timeout() time.Duration {
	if o.handshakeTimeout > 0 {
		return o.handshakeTimeout
	}
	return config.TopicTimeout()
}
