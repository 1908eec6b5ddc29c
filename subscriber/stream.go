package subscriber

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/infigaming-com/go-tcpros/frame"
	"github.com/infigaming-com/go-tcpros/header"
	"github.com/infigaming-com/go-tcpros/transport"
)

// Stats is a point-in-time view of a stream.
type Stats struct {
	Topic             string
	Publisher         string
	PublisherCallerID string
	Latching          bool
	Messages          uint64
	Bytes             uint64
	LastMessageAt     time.Time
	LastError         string
}

// Stream yields the messages that follow a successful handshake, in the
// order the publisher sent them. Frames are read one per Recv; nothing is
// buffered ahead of the caller.
type Stream[M any] struct {
	sub       *Subscriber[M]
	conn      transport.Conn
	header    header.Header
	publisher string
	logger    *zap.Logger

	mu  sync.Mutex
	err error

	statsMu sync.Mutex
	stats   Stats
}

func newStream[M any](sub *Subscriber[M], conn transport.Conn, h header.Header, publisher string) *Stream[M] {
	return &Stream[M]{
		sub:       sub,
		conn:      conn,
		header:    h,
		publisher: publisher,
		logger:    sub.logger.With(zap.String("publisher", publisher)),
		stats: Stats{
			Topic:             sub.topic,
			Publisher:         publisher,
			PublisherCallerID: h.CallerID(),
			Latching:          h.Latching(),
		},
	}
}

// Header is the publisher's validated connection header.
func (st *Stream[M]) Header() header.Header { return st.header }

func (st *Stream[M]) Publisher() string { return st.publisher }

// Recv blocks for the next message. It returns io.EOF once the publisher
// hangs up or the subscriber is closed. Decode and framing errors end the
// stream and are returned again by every later call. A Recv cut short by
// ctx closes the subscriber, because the connection is left mid-frame.
func (st *Stream[M]) Recv(ctx context.Context) (M, error) {
	var zero M
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.err != nil {
		return zero, st.err
	}
	if st.sub.closed() {
		st.end(io.EOF)
		return zero, io.EOF
	}

	buf, err := st.conn.Receive(ctx)
	if err != nil {
		return zero, st.receiveFailed(ctx, err)
	}
	msg, derr := decodeFrame(st.sub.codec, buf)
	if derr != nil {
		return zero, st.terminate(ctx, derr)
	}

	seq := st.record(len(buf))
	if st.sub.opts.hooks.OnMessage != nil {
		st.sub.opts.hooks.OnMessage(ctx, st.sub.topic, MessageMetadata{Publisher: st.publisher, Seq: seq, Size: len(buf)})
	}
	return msg, nil
}

// All ranges over the stream until it ends. A clean end stops the loop
// silently; any other error is yielded once as the last element.
func (st *Stream[M]) All(ctx context.Context) iter.Seq2[M, error] {
	return func(yield func(M, error) bool) {
		for {
			msg, err := st.Recv(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(msg, err)
				return
			}
			if !yield(msg, nil) {
				return
			}
		}
	}
}

func (st *Stream[M]) Stats() Stats {
	st.statsMu.Lock()
	defer st.statsMu.Unlock()
	return st.stats
}

// Close closes the owning subscriber and drops the stream's connection.
func (st *Stream[M]) Close() error {
	err := st.sub.Close()
	st.mu.Lock()
	if st.err == nil {
		st.end(io.EOF)
	}
	st.mu.Unlock()
	return err
}

// end records the stream's final result and releases the connection.
// Callers hold st.mu.
func (st *Stream[M]) end(err error) {
	st.err = err
	st.conn = nil
}

func (st *Stream[M]) receiveFailed(ctx context.Context, err error) error {
	switch {
	case st.sub.closed():
		st.end(io.EOF)
		return io.EOF
	case errors.Is(err, io.EOF):
		st.logger.Info("publisher closed connection")
		st.end(io.EOF)
		_ = st.sub.Close()
		return io.EOF
	case ctx.Err() != nil, errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		st.end(io.EOF)
		_ = st.sub.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	case errors.Is(err, frame.ErrTruncated), errors.Is(err, frame.ErrFrameTooLarge), errors.Is(err, io.ErrUnexpectedEOF):
		return st.terminate(ctx, newError(ErrCodeInvalidFrame, "read frame from "+st.publisher, err))
	default:
		return st.terminate(ctx, newError(ErrCodeReceive, "read frame from "+st.publisher, err))
	}
}

func (st *Stream[M]) terminate(ctx context.Context, err *Error) error {
	st.end(err)
	st.statsMu.Lock()
	st.stats.LastError = err.Error()
	st.statsMu.Unlock()

	st.logger.Error("stream failed", zap.Int64("code", err.GetCode()), zap.Error(err))
	st.sub.fail()
	if st.sub.opts.hooks.OnStreamError != nil {
		st.sub.opts.hooks.OnStreamError(ctx, st.sub.topic, err)
	}
	return err
}

func (st *Stream[M]) record(size int) uint64 {
	st.statsMu.Lock()
	defer st.statsMu.Unlock()
	st.stats.Messages++
	st.stats.Bytes += uint64(size)
	st.stats.LastMessageAt = time.Now()
	return st.stats.Messages
}
