package metrics

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	baseerrors "github.com/infigaming-com/go-tcpros/errors"
	"github.com/infigaming-com/go-tcpros/subscriber"
)

const (
	attrTopic     = attribute.Key("tcpros.topic")
	attrPublisher = attribute.Key("tcpros.publisher")
	attrResult    = attribute.Key("tcpros.result")
	attrCode      = attribute.Key("tcpros.error.code")
)

type subscriberInstruments struct {
	handshakes   metric.Int64Counter
	duration     metric.Float64Histogram
	messages     metric.Int64Counter
	bytes        metric.Int64Counter
	streamErrors metric.Int64Counter
	closes       metric.Int64Counter
}

// NewSubscriberHooks returns hooks that record handshakes, messages, stream
// errors and closes on meter.
func NewSubscriberHooks(meter metric.Meter) (subscriber.Hooks, error) {
	in, err := newSubscriberInstruments(meter)
	if err != nil {
		return subscriber.Hooks{}, err
	}
	return subscriber.Hooks{
		OnHandshake:   in.handshake,
		OnMessage:     in.message,
		OnStreamError: in.streamError,
		OnClose:       in.close,
	}, nil
}

func newSubscriberInstruments(meter metric.Meter) (*subscriberInstruments, error) {
	var (
		in   subscriberInstruments
		errs []error
		err  error
	)
	in.handshakes, err = meter.Int64Counter("tcpros.handshakes",
		metric.WithDescription("Finished handshake attempts"),
		metric.WithUnit("{handshake}"),
	)
	errs = append(errs, err)
	in.duration, err = meter.Float64Histogram("tcpros.handshake.duration",
		metric.WithDescription("Time from dial to a validated publisher header"),
		metric.WithUnit("ms"),
	)
	errs = append(errs, err)
	in.messages, err = meter.Int64Counter("tcpros.messages",
		metric.WithDescription("Messages decoded"),
		metric.WithUnit("{message}"),
	)
	errs = append(errs, err)
	in.bytes, err = meter.Int64Counter("tcpros.bytes",
		metric.WithDescription("Message frame bytes received"),
		metric.WithUnit("By"),
	)
	errs = append(errs, err)
	in.streamErrors, err = meter.Int64Counter("tcpros.stream.errors",
		metric.WithDescription("Streams ended by an error"),
		metric.WithUnit("{error}"),
	)
	errs = append(errs, err)
	in.closes, err = meter.Int64Counter("tcpros.closes",
		metric.WithDescription("Subscribers closed"),
		metric.WithUnit("{subscriber}"),
	)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("failed to create subscriber instruments: %w", err)
	}
	return &in, nil
}

func (in *subscriberInstruments) handshake(ctx context.Context, topic string, info subscriber.HandshakeInfo) {
	attrs := []attribute.KeyValue{attrTopic.String(topic), attrPublisher.String(info.Publisher)}
	if info.Err != nil {
		attrs = append(attrs, attrResult.String("error"))
		if code, ok := baseerrors.CodeOf(info.Err); ok {
			attrs = append(attrs, attrCode.Int64(code))
		}
	} else {
		attrs = append(attrs, attrResult.String("ok"))
	}
	set := metric.WithAttributes(attrs...)
	in.handshakes.Add(ctx, 1, set)
	in.duration.Record(ctx, float64(info.Duration.Microseconds())/1000, set)
}

func (in *subscriberInstruments) message(ctx context.Context, topic string, meta subscriber.MessageMetadata) {
	set := metric.WithAttributes(attrTopic.String(topic), attrPublisher.String(meta.Publisher))
	in.messages.Add(ctx, 1, set)
	in.bytes.Add(ctx, int64(meta.Size), set)
}

func (in *subscriberInstruments) streamError(ctx context.Context, topic string, err error) {
	attrs := []attribute.KeyValue{attrTopic.String(topic)}
	if code, ok := baseerrors.CodeOf(err); ok {
		attrs = append(attrs, attrCode.Int64(code))
	}
	in.streamErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (in *subscriberInstruments) close(topic string) {
	in.closes.Add(context.Background(), 1, metric.WithAttributes(attrTopic.String(topic)))
}
