package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// PrefixLen is the size of every length prefix on the wire.
const PrefixLen = 4

var (
	ErrTruncated     = errors.New("frame: truncated length prefix")
	ErrFrameTooLarge = errors.New("frame: frame too large")
	ErrInvalidFrame  = errors.New("frame: embedded length does not match frame size")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxFrameBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxFrameBytes: 256 * 1024 * 1024,
	}
}

// ReadFrame reads one length-prefixed frame and returns its body without the
// prefix. A connection closed cleanly between frames yields io.EOF.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var prefix [PrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}

	n := binary.LittleEndian.Uint32(prefix[:])
	if limits.MaxFrameBytes > 0 && n > limits.MaxFrameBytes {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, limits.MaxFrameBytes)
	}

	body := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	return body, nil
}

// WriteFrame writes body preceded by its length in one call.
func WriteFrame(w io.Writer, body []byte, limits Limits) error {
	if limits.MaxFrameBytes > 0 && uint64(len(body)) > uint64(limits.MaxFrameBytes) {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(body), limits.MaxFrameBytes)
	}
	buf := make([]byte, PrefixLen, PrefixLen+len(body))
	binary.LittleEndian.PutUint32(buf, uint32(len(body)))
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// VerifyPayload checks that a message payload starts with its own length
// and that the length accounts for every remaining byte.
func VerifyPayload(buf []byte) error {
	if len(buf) < PrefixLen {
		return fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidFrame, len(buf), PrefixLen)
	}
	declared := uint64(binary.LittleEndian.Uint32(buf[:PrefixLen]))
	if declared+PrefixLen != uint64(len(buf)) {
		return fmt.Errorf("%w: declared %d, have %d", ErrInvalidFrame, declared, len(buf)-PrefixLen)
	}
	return nil
}
