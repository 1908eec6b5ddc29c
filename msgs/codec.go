// Package msgs holds the per-type message codecs a subscriber is bound to.
package msgs

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrShortBuffer = errors.New("msgs: buffer too short")

// Codec describes one message type: its fingerprint, its name and how to
// decode its wire payload. Decode runs to completion or fails; it is never
// interrupted.
type Codec[M any] interface {
	MD5Sum() string
	Type() string
	Decode(buf []byte) (M, error)
}

// lengthPrefixed returns the bytes that follow a 4-byte little-endian
// length, checking the length against what is left.
func lengthPrefixed(buf []byte) ([]byte, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortBuffer, len(buf))
	}
	n := uint64(binary.LittleEndian.Uint32(buf))
	if n > uint64(len(buf)-4) {
		return nil, fmt.Errorf("%w: length %d, have %d", ErrShortBuffer, n, len(buf)-4)
	}
	return buf[4 : 4+n], nil
}
