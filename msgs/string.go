package msgs

import (
	"encoding/binary"
	"fmt"
)

const (
	StringType   = "std_msgs/String"
	StringMD5Sum = "992ce8a1687cec8c8bd883ec73ca41d1"
)

type StringMessage struct {
	Data string
}

// String decodes std_msgs/String.
type String struct{}

func (String) MD5Sum() string { return StringMD5Sum }
func (String) Type() string   { return StringType }

func (String) Decode(buf []byte) (StringMessage, error) {
	data, err := lengthPrefixed(buf)
	if err != nil {
		return StringMessage{}, err
	}
	if len(data) != len(buf)-4 {
		return StringMessage{}, fmt.Errorf("msgs: %d trailing bytes after string", len(buf)-4-len(data))
	}
	return StringMessage{Data: string(data)}, nil
}

// EncodeString serializes a std_msgs/String payload.
func EncodeString(s string) []byte {
	buf := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+len(s)), uint32(len(s)))
	return append(buf, s...)
}
