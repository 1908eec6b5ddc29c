package subscriber

import (
	"context"
	"time"

	"github.com/infigaming-com/go-tcpros/header"
)

// Hooks observe a subscription. Every field is optional. Hooks run on the
// goroutine that triggered them and must not block.
type Hooks struct {
	OnHandshake   func(ctx context.Context, topic string, info HandshakeInfo)
	OnMessage     func(ctx context.Context, topic string, meta MessageMetadata)
	OnStreamError func(ctx context.Context, topic string, err error)
	OnClose       func(topic string)
}

// HandshakeInfo describes one finished handshake attempt. Err is nil on
// success; Header is only set when the publisher's header was decoded.
type HandshakeInfo struct {
	Publisher string
	Duration  time.Duration
	Header    header.Header
	Err       error
}

type MessageMetadata struct {
	Publisher string
	Seq       uint64
	Size      int
}
