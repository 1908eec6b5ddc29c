package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/infigaming-com/go-tcpros/config"
	"github.com/infigaming-com/go-tcpros/frame"
	"github.com/infigaming-com/go-tcpros/internal/backoff"
	"github.com/infigaming-com/go-tcpros/msgs"
	"github.com/infigaming-com/go-tcpros/observability/metrics"
	"github.com/infigaming-com/go-tcpros/subscriber"
	"github.com/infigaming-com/go-tcpros/transport"
)

// Retrying cannot fix these.
var permanentErrors = []error{
	subscriber.ErrHandshakeMismatch,
	subscriber.ErrPublisherRejected,
	subscriber.ErrMessageDecode,
}

var errCountReached = errors.New("message count reached")

type echoDeps struct {
	logger  *zap.Logger
	out     io.Writer
	count   int
	dialer  transport.Dialer
	hooks   subscriber.Hooks
	backoff backoff.Config
}

// run follows every configured publisher until ctx ends, each one reaches
// the message count, or one fails permanently.
func run(ctx context.Context, cfg config.Config, deps echoDeps) error {
	cfg.Apply()

	if deps.dialer == nil {
		deps.dialer = transport.NewTCPDialer(
			transport.WithConnectTimeout(cfg.ConnectTimeout),
			transport.WithNoDelay(cfg.TCPNoDelay),
			transport.WithLimits(frame.Limits{MaxFrameBytes: cfg.MaxFrameBytes}),
		)
	}
	if deps.backoff == (backoff.Config{}) {
		deps.backoff = backoff.Config{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Jitter: 0.2}
	}
	deps.out = &lockedWriter{w: deps.out}

	if cfg.Metrics.Enabled() {
		exporter, shutdown, err := metrics.NewMetricExporter(
			metrics.WithServiceName(cfg.Metrics.ServiceName),
			metrics.WithOTLPEndpoint(cfg.Metrics.OTLPEndpoint),
			metrics.WithOTLPGRPCEndpoint(cfg.Metrics.OTLPGRPCEndpoint),
		)
		if err != nil {
			return fmt.Errorf("start metrics: %w", err)
		}
		defer shutdown()
		hooks, err := metrics.NewSubscriberHooks(exporter.Meter())
		if err != nil {
			return err
		}
		deps.hooks = hooks
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, p := range cfg.Publishers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := follow(ctx, cfg.NodeName, p, deps); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s at %s:%d: %w", p.Topic, p.Host, p.Port, err))
				mu.Unlock()
				cancel()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func follow(ctx context.Context, nodeName string, p config.Publisher, deps echoDeps) error {
	if p.Type == msgs.StringType {
		return followTopic(ctx, nodeName, p, msgs.String{}, func(m msgs.StringMessage) string { return m.Data }, deps)
	}
	codec := msgs.Raw{TypeName: p.Type, Fingerprint: p.MD5Sum}
	return followTopic(ctx, nodeName, p, codec, func(m msgs.RawMessage) string { return hex.EncodeToString(m.Payload) }, deps)
}

// followTopic subscribes to one publisher and reconnects with backoff after
// anything but a permanent failure.
func followTopic[M any](ctx context.Context, nodeName string, p config.Publisher, codec msgs.Codec[M], format func(M) string, deps echoDeps) error {
	logger := deps.logger.With(zap.String("topic", p.Topic), zap.String("host", p.Host), zap.Int("port", p.Port))
	b := backoff.New(deps.backoff)
	printed := 0

	for {
		err := echoOnce(ctx, nodeName, p, codec, func(m M) error {
			fmt.Fprintf(deps.out, "%s: %s\n", p.Topic, format(m))
			printed++
			if deps.count > 0 && printed >= deps.count {
				return errCountReached
			}
			return nil
		}, b, deps)

		switch {
		case errors.Is(err, errCountReached):
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil && isPermanent(err):
			logger.Error("giving up", zap.Error(err))
			return err
		}

		delay := b.Next()
		logger.Warn("reconnecting", zap.Duration("delay", delay), zap.Error(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// echoOnce runs a single subscription until the stream ends. A nil return
// means the publisher hung up.
func echoOnce[M any](ctx context.Context, nodeName string, p config.Publisher, codec msgs.Codec[M], emit func(M) error, b *backoff.Exponential, deps echoDeps) error {
	opts := []subscriber.Option{
		subscriber.WithLogger(deps.logger),
		subscriber.WithDialer(deps.dialer),
		subscriber.WithHooks(deps.hooks),
	}
	sub := subscriber.New(nodeName, p.Topic, codec, opts...)
	defer sub.Close()

	stream, err := sub.Start(ctx, subscriber.ConnectionParams{Host: p.Host, Port: p.Port})
	if err != nil {
		return err
	}
	b.Reset()

	for msg, err := range stream.All(ctx) {
		if err != nil {
			return err
		}
		if err := emit(msg); err != nil {
			return err
		}
	}
	return nil
}

func isPermanent(err error) bool {
	return lo.SomeBy(permanentErrors, func(target error) bool {
		return errors.Is(err, target)
	})
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
