// Package header encodes and decodes the connection header exchanged before
// a topic stream starts.
//
// On the wire a header is a sequence of entries, each a 4-byte little-endian
// length followed by "key=value". The outer length prefix of the whole header
// belongs to the transport and is not produced or consumed here.
package header

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
)

const (
	FieldCallerID          = "callerid"
	FieldTopic             = "topic"
	FieldMD5Sum            = "md5sum"
	FieldType              = "type"
	FieldLatching          = "latching"
	FieldMessageDefinition = "message_definition"
	FieldError             = "error"
)

var knownFields = []string{
	FieldCallerID,
	FieldTopic,
	FieldMD5Sum,
	FieldType,
	FieldLatching,
	FieldMessageDefinition,
	FieldError,
}

// Header is a decoded connection header. It is immutable once built.
type Header struct {
	callerID   string
	topic      string
	md5sum     string
	typeName   string
	latching   string
	definition string
	rejection  string
	fields     map[string]string
}

// New builds a Header from raw fields. The map is copied.
func New(fields map[string]string) Header {
	h := Header{fields: make(map[string]string, len(fields))}
	for k, v := range fields {
		h.fields[k] = v
	}
	h.callerID = fields[FieldCallerID]
	h.topic = fields[FieldTopic]
	h.md5sum = fields[FieldMD5Sum]
	h.typeName = fields[FieldType]
	h.latching = fields[FieldLatching]
	h.definition = fields[FieldMessageDefinition]
	h.rejection = fields[FieldError]
	return h
}

func (h Header) CallerID() string          { return h.callerID }
func (h Header) Topic() string             { return h.topic }
func (h Header) MD5Sum() string            { return h.md5sum }
func (h Header) Type() string              { return h.typeName }
func (h Header) MessageDefinition() string { return h.definition }

// Latching reports whether the publisher re-sends its last message to new
// subscribers.
func (h Header) Latching() bool {
	return h.latching == "1" || strings.EqualFold(h.latching, "true")
}

// Rejection returns the publisher's error text when it refused the
// connection.
func (h Header) Rejection() (string, bool) {
	_, ok := h.fields[FieldError]
	return h.rejection, ok
}

// Get looks up any field, known or not.
func (h Header) Get(key string) (string, bool) {
	v, ok := h.fields[key]
	return v, ok
}

// Require looks up a field that must be present.
func (h Header) Require(key string) (string, error) {
	v, ok := h.fields[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	return v, nil
}

// Extra returns the fields this package has no name for.
func (h Header) Extra() map[string]string {
	return lo.OmitByKeys(h.fields, knownFields)
}

// Fields returns a copy of every field.
func (h Header) Fields() map[string]string {
	return lo.Assign(h.fields)
}

func (h Header) Len() int {
	return len(h.fields)
}

// Encode serializes fields as length-prefixed "key=value" entries in key
// order, so equal maps always produce equal bytes.
func Encode(fields map[string]string) []byte {
	keys := lo.Keys(fields)
	slices.Sort(keys)

	size := 0
	for _, k := range keys {
		size += 4 + len(k) + 1 + len(fields[k])
	}
	buf := make([]byte, 0, size)
	for _, k := range keys {
		entry := k + "=" + fields[k]
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(entry)))
		buf = append(buf, entry...)
	}
	return buf
}

// Decode parses header entries. An empty buffer is a valid empty header.
// Later duplicates of a key win.
func Decode(b []byte) (Header, error) {
	fields := map[string]string{}
	for off := 0; off < len(b); {
		if len(b)-off < 4 {
			return Header{}, fmt.Errorf("%w: %d trailing bytes at offset %d", ErrMalformed, len(b)-off, off)
		}
		n := binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
		if uint64(n) > uint64(len(b)-off) {
			return Header{}, fmt.Errorf("%w: entry length %d exceeds remaining %d bytes", ErrMalformed, n, len(b)-off)
		}
		entry := string(b[off : off+int(n)])
		off += int(n)
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return Header{}, fmt.Errorf("%w: entry %q is not key=value", ErrMalformed, entry)
		}
		fields[key] = value
	}
	return New(fields), nil
}
