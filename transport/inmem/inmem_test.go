package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infigaming-com/go-tcpros/header"
)

func TestDialUnknownPublisher(t *testing.T) {
	tr := New()
	defer tr.Close()

	_, err := tr.Dial(context.Background(), "localhost", 11311)
	assert.ErrorIs(t, err, ErrNoPublisher)
}

func TestDialRegisteredPublisher(t *testing.T) {
	tr := New()
	defer tr.Close()

	seen := make(chan header.Header, 1)
	tr.Register("talker", 4000, func(ctx context.Context, peer *Peer) {
		h, err := peer.ReadHeader()
		if err != nil {
			return
		}
		seen <- h
		_ = peer.WriteHeader(map[string]string{"topic": h.Topic()})
		_ = peer.WriteMessage([]byte{1, 2})
		peer.Wait(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := tr.Dial(ctx, "talker", 4000)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(ctx, header.Encode(map[string]string{"topic": "/chatter"})))
	assert.Equal(t, "/chatter", (<-seen).Topic())

	body, err := conn.Receive(ctx)
	require.NoError(t, err)
	reply, err := header.Decode(body)
	require.NoError(t, err)
	assert.Equal(t, "/chatter", reply.Topic())

	body, err = conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 0, 0, 0, 1, 2}, body)
}

func TestCloseStopsPublishers(t *testing.T) {
	tr := New()
	returned := make(chan struct{})
	tr.Register("talker", 4000, func(ctx context.Context, peer *Peer) {
		defer close(returned)
		peer.Wait(ctx)
	})

	conn, err := tr.Dial(context.Background(), "talker", 4000)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, tr.Close())
	select {
	case <-returned:
	default:
		t.Fatal("publisher still running after Close")
	}

	_, err = tr.Dial(context.Background(), "talker", 4000)
	assert.ErrorIs(t, err, ErrNoPublisher)
}

func TestUnregister(t *testing.T) {
	tr := New()
	defer tr.Close()
	tr.Register("talker", 4000, func(context.Context, *Peer) {})
	tr.Unregister("talker", 4000)

	_, err := tr.Dial(context.Background(), "talker", 4000)
	assert.ErrorIs(t, err, ErrNoPublisher)
}
