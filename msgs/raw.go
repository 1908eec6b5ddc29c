package msgs

// RawMessage is an undecoded payload.
type RawMessage struct {
	Payload []byte
}

// Raw passes payloads through untouched. It is bound to whatever type name
// and fingerprint the caller expects from the publisher.
type Raw struct {
	TypeName    string
	Fingerprint string
}

func (r Raw) MD5Sum() string { return r.Fingerprint }
func (r Raw) Type() string   { return r.TypeName }

func (r Raw) Decode(buf []byte) (RawMessage, error) {
	payload, err := lengthPrefixed(buf)
	if err != nil {
		return RawMessage{}, err
	}
	return RawMessage{Payload: append([]byte(nil), payload...)}, nil
}
