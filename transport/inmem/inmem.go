// Package inmem provides an in-process Dialer whose publishers are plain Go
// functions on the far end of a net.Pipe.
package inmem

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/infigaming-com/go-tcpros/frame"
	"github.com/infigaming-com/go-tcpros/header"
	"github.com/infigaming-com/go-tcpros/transport"
)

var ErrNoPublisher = errors.New("inmem: connection refused")

// PublisherFunc serves one subscriber connection. It runs in its own
// goroutine; the peer is closed when it returns.
type PublisherFunc func(ctx context.Context, peer *Peer)

type Transport struct {
	mu     sync.Mutex
	pubs   map[string]PublisherFunc
	peers  map[*Peer]struct{}
	limits frame.Limits
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func New() *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		pubs:   map[string]PublisherFunc{},
		peers:  map[*Peer]struct{}{},
		limits: frame.DefaultLimits(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register makes fn answer dials to host:port.
func (t *Transport) Register(host string, port int, fn PublisherFunc) {
	t.mu.Lock()
	t.pubs[addr(host, port)] = fn
	t.mu.Unlock()
}

func (t *Transport) Unregister(host string, port int) {
	t.mu.Lock()
	delete(t.pubs, addr(host, port))
	t.mu.Unlock()
}

func (t *Transport) Dial(ctx context.Context, host string, port int) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	fn, ok := t.pubs[addr(host, port)]
	if !ok || t.ctx.Err() != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoPublisher, addr(host, port))
	}
	client, server := net.Pipe()
	peer := &Peer{conn: server, limits: t.limits}
	t.peers[peer] = struct{}{}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		defer t.release(peer)
		fn(t.ctx, peer)
	}()
	return transport.NewConn(client, t.limits), nil
}

// Close stops every publisher and waits for them to return.
func (t *Transport) Close() error {
	t.cancel()
	t.mu.Lock()
	for peer := range t.peers {
		_ = peer.Close()
	}
	t.mu.Unlock()
	t.wg.Wait()
	return nil
}

func (t *Transport) release(peer *Peer) {
	_ = peer.Close()
	t.mu.Lock()
	delete(t.peers, peer)
	t.mu.Unlock()
}

func addr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Peer is the publisher side of an in-memory connection.
type Peer struct {
	conn   net.Conn
	limits frame.Limits
	once   sync.Once
}

// ReadHeader reads the subscriber's connection header.
func (p *Peer) ReadHeader() (header.Header, error) {
	body, err := frame.ReadFrame(p.conn, p.limits)
	if err != nil {
		return header.Header{}, err
	}
	return header.Decode(body)
}

// WriteHeader answers with a connection header.
func (p *Peer) WriteHeader(fields map[string]string) error {
	return frame.WriteFrame(p.conn, header.Encode(fields), p.limits)
}

// WriteFrame writes body as one frame, unchecked.
func (p *Peer) WriteFrame(body []byte) error {
	return frame.WriteFrame(p.conn, body, p.limits)
}

// WriteRaw writes b to the connection as is, with no framing.
func (p *Peer) WriteRaw(b []byte) error {
	_, err := p.conn.Write(b)
	return err
}

// WriteMessage writes payload as a message frame carrying its own length.
func (p *Peer) WriteMessage(payload []byte) error {
	body := make([]byte, frame.PrefixLen, frame.PrefixLen+len(payload))
	binary.LittleEndian.PutUint32(body, uint32(len(payload)))
	return p.WriteFrame(append(body, payload...))
}

// Wait blocks until the subscriber closes the connection or ctx ends.
func (p *Peer) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 512)
		for {
			if _, err := p.conn.Read(buf); err != nil {
				return
			}
		}
	}()
	select {
	case <-ctx.Done():
		_ = p.Close()
		<-done
	case <-done:
	}
}

func (p *Peer) Close() error {
	var err error
	p.once.Do(func() {
		err = p.conn.Close()
	})
	return err
}
