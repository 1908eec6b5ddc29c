package subscriber

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/infigaming-com/go-tcpros/header"
	"github.com/infigaming-com/go-tcpros/msgs"
	"github.com/infigaming-com/go-tcpros/transport"
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateStreaming
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateStreaming:
		return "streaming"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// ConnectionParams locate one publisher.
type ConnectionParams struct {
	Host string
	Port int
}

func (p ConnectionParams) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p ConnectionParams) validate() error {
	if p.Host == "" {
		return errors.New("empty host")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("port %d out of range", p.Port)
	}
	return nil
}

// Subscriber subscribes one node to one topic from one publisher. It owns
// the connection for its whole life: Start opens it, Close releases it.
// A Subscriber is single use.
type Subscriber[M any] struct {
	nodeName string
	topic    string
	codec    msgs.Codec[M]
	md5sum   string
	typeName string
	opts     options
	logger   *zap.Logger

	mu     sync.Mutex
	state  State
	conn   transport.Conn
	cancel context.CancelFunc
}

// New binds a subscriber to a node identity, a topic and a message type. The
// type name and fingerprint are read from codec once, here.
func New[M any](nodeName, topic string, codec msgs.Codec[M], opts ...Option) *Subscriber[M] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		o.dialer = transport.NewTCPDialer()
	}
	return &Subscriber[M]{
		nodeName: nodeName,
		topic:    topic,
		codec:    codec,
		md5sum:   codec.MD5Sum(),
		typeName: codec.Type(),
		opts:     o,
		logger: o.logger.With(
			zap.String("topic", topic),
			zap.String("callerid", nodeName),
			zap.String("type", codec.Type()),
		),
	}
}

func (s *Subscriber[M]) Topic() string { return s.topic }

func (s *Subscriber[M]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start connects to the publisher, exchanges connection headers and returns
// the message stream. Any failure tears the connection down and leaves the
// subscriber failed. Close, or cancelling ctx, makes a pending Start return
// an error matching ErrClosed.
func (s *Subscriber[M]) Start(ctx context.Context, params ConnectionParams) (*Stream[M], error) {
	startCtx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer s.cancelStart()

	began := time.Now()
	publisher := params.Addr()
	log := s.logger.With(zap.String("publisher", publisher))

	if err := params.validate(); err != nil {
		return nil, s.abortHandshake(startCtx, log, publisher, began, newError(ErrCodeConnect, "invalid publisher address "+publisher, err), header.Header{})
	}

	log.Debug("connecting to publisher")
	conn, err := s.opts.dialer.Dial(startCtx, params.Host, params.Port)
	if err != nil {
		return nil, s.abortHandshake(startCtx, log, publisher, began, newError(ErrCodeConnect, "connect to "+publisher, err), header.Header{})
	}
	if !s.attach(conn) {
		s.closeConn(conn)
		return nil, s.abortHandshake(startCtx, log, publisher, began, newError(ErrCodeClosed, "closed while connecting", nil), header.Header{})
	}

	// The reply may arrive while the header is still being written, so the
	// read starts first. This goroutine is the only reader until Start returns.
	reply := newPromise[[]byte]()
	go func() {
		reply.resolve(conn.Receive(startCtx))
	}()

	timeout := s.opts.timeout()
	hsCtx, cancel := context.WithTimeout(startCtx, timeout)
	defer cancel()

	out := header.Encode(map[string]string{
		header.FieldCallerID: s.nodeName,
		header.FieldTopic:    s.topic,
		header.FieldMD5Sum:   s.md5sum,
		header.FieldType:     s.typeName,
	})
	if err := conn.Send(hsCtx, out); err != nil {
		if hsCtx.Err() != nil || errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, s.abortHandshake(startCtx, log, publisher, began, expired(startCtx, publisher, timeout, err), header.Header{})
		}
		return nil, s.abortHandshake(startCtx, log, publisher, began, newError(ErrCodeSend, "send header to "+publisher, err), header.Header{})
	}

	select {
	case <-reply.Done():
	case <-hsCtx.Done():
		return nil, s.abortHandshake(startCtx, log, publisher, began, expired(startCtx, publisher, timeout, hsCtx.Err()), header.Header{})
	}

	raw, err := reply.Result()
	if err != nil {
		return nil, s.abortHandshake(startCtx, log, publisher, began, newError(ErrCodeHeaderDecode, "read header from "+publisher, err), header.Header{})
	}
	h, err := header.Decode(raw)
	if err != nil {
		return nil, s.abortHandshake(startCtx, log, publisher, began, newError(ErrCodeHeaderDecode, "decode header from "+publisher, err), header.Header{})
	}
	if err := s.validate(h); err != nil {
		return nil, s.abortHandshake(startCtx, log, publisher, began, err, h)
	}

	stream := newStream(s, conn, h, publisher)
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, s.abortHandshake(startCtx, log, publisher, began, newError(ErrCodeClosed, "closed during handshake", nil), h)
	}
	s.state = StateStreaming
	s.mu.Unlock()

	log.Info("subscribed",
		zap.String("publisher_callerid", h.CallerID()),
		zap.Bool("latching", h.Latching()),
		zap.Duration("handshake", time.Since(began)),
	)
	if s.opts.hooks.OnHandshake != nil {
		s.opts.hooks.OnHandshake(ctx, s.topic, HandshakeInfo{Publisher: publisher, Duration: time.Since(began), Header: h})
	}
	return stream, nil
}

// expired reports a handshake cut short by its deadline: a timeout, unless
// the subscriber was closed or the caller gave up first.
func expired(startCtx context.Context, publisher string, timeout time.Duration, cause error) *Error {
	if err := startCtx.Err(); err != nil {
		return newError(ErrCodeClosed, "closed during handshake", err)
	}
	return newError(ErrCodeHandshakeTimeout, fmt.Sprintf("no header from %s within %s", publisher, timeout), cause)
}

// validate checks the publisher's header: a refusal first, then topic, type
// and md5sum in that order.
func (s *Subscriber[M]) validate(h header.Header) *Error {
	if reason, ok := h.Rejection(); ok {
		return newError(ErrCodePublisherRejected, "publisher refused: "+reason, nil)
	}
	expected := []struct {
		field string
		want  string
	}{
		{header.FieldTopic, s.topic},
		{header.FieldType, s.typeName},
		{header.FieldMD5Sum, s.md5sum},
	}
	for _, e := range expected {
		got, err := h.Require(e.field)
		if err != nil {
			return newError(ErrCodeHeaderDecode, "publisher header incomplete", err)
		}
		if got != e.want {
			return newMismatchError(MismatchDetails{Field: e.field, Expected: e.want, Actual: got})
		}
	}
	return nil
}

// Close releases the connection. It is safe to call at any time, any number
// of times, and always returns nil: a failing close is logged and dropped.
func (s *Subscriber[M]) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	prev := s.state
	s.state = StateClosed
	conn, cancel := s.conn, s.cancel
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		s.closeConn(conn)
	}
	s.logger.Debug("subscriber closed", zap.Stringer("from", prev))
	if s.opts.hooks.OnClose != nil {
		s.opts.hooks.OnClose(s.topic)
	}
	return nil
}

func (s *Subscriber[M]) begin(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateIdle:
	case StateClosed:
		return nil, newError(ErrCodeClosed, "start after close", nil)
	default:
		return nil, newError(ErrCodeAlreadyStarted, "start called in state "+s.state.String(), nil)
	}
	startCtx, cancel := context.WithCancel(ctx)
	s.state = StateConnecting
	s.cancel = cancel
	return startCtx, nil
}

func (s *Subscriber[M]) cancelStart() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// attach hands conn to the subscriber unless it was closed meanwhile.
func (s *Subscriber[M]) attach(conn transport.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.conn = conn
	s.state = StateHandshaking
	return true
}

func (s *Subscriber[M]) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosed
}

// fail moves to the failed state and drops the connection. A subscriber
// closed by its owner stays closed.
func (s *Subscriber[M]) fail() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	if s.state != StateClosed {
		s.state = StateFailed
	}
	s.mu.Unlock()
	if conn != nil {
		s.closeConn(conn)
	}
}

func (s *Subscriber[M]) abortHandshake(startCtx context.Context, log *zap.Logger, publisher string, began time.Time, err *Error, h header.Header) error {
	s.fail()
	if s.closed() || startCtx.Err() != nil {
		if err.GetCode() != ErrCodeClosed {
			err = newError(ErrCodeClosed, "closed during handshake", err)
		}
	}

	fields := []zap.Field{zap.Int64("code", err.GetCode()), zap.Error(err)}
	if d, ok := Mismatch(err); ok {
		fields = append(fields,
			zap.String("field", d.Field),
			zap.String("expected", d.Expected),
			zap.String("actual", d.Actual),
		)
	}
	if err.GetCode() == ErrCodeClosed {
		log.Debug("handshake abandoned", fields...)
	} else {
		log.Error("handshake failed", fields...)
	}

	if s.opts.hooks.OnHandshake != nil {
		s.opts.hooks.OnHandshake(startCtx, s.topic, HandshakeInfo{
			Publisher: publisher,
			Duration:  time.Since(began),
			Header:    h,
			Err:       err,
		})
	}
	return err
}

func (s *Subscriber[M]) closeConn(conn transport.Conn) {
	if err := conn.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		s.logger.Warn("close connection failed", zap.Error(err))
	}
}
