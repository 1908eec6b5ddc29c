package subscriber

import (
	"github.com/infigaming-com/go-tcpros/frame"
	"github.com/infigaming-com/go-tcpros/msgs"
)

// decodeFrame checks the frame's embedded length before handing it to the
// codec. Any inconsistency, whatever the declared value, is an invalid frame.
func decodeFrame[M any](codec msgs.Codec[M], buf []byte) (M, *Error) {
	var zero M
	if err := frame.VerifyPayload(buf); err != nil {
		return zero, newError(ErrCodeInvalidFrame, "invalid frame", err)
	}
	msg, err := codec.Decode(buf)
	if err != nil {
		return zero, newError(ErrCodeMessageDecode, "decode "+codec.Type(), err)
	}
	return msg, nil
}
