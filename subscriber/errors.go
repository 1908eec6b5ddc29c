package subscriber

import (
	"errors"
	"fmt"

	baseerrors "github.com/infigaming-com/go-tcpros/errors"
)

const (
	ErrCodeConnect int64 = 20000 + iota
	ErrCodeSend
	ErrCodeHandshakeTimeout
	ErrCodeHeaderDecode
	ErrCodeHandshakeMismatch
	ErrCodePublisherRejected
	ErrCodeInvalidFrame
	ErrCodeMessageDecode
	ErrCodeReceive
	ErrCodeClosed
	ErrCodeAlreadyStarted
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrConnect           = newError(ErrCodeConnect, "connect failed", nil)
	ErrSend              = newError(ErrCodeSend, "send header failed", nil)
	ErrHandshakeTimeout  = newError(ErrCodeHandshakeTimeout, "handshake timed out", nil)
	ErrHeaderDecode      = newError(ErrCodeHeaderDecode, "bad publisher header", nil)
	ErrHandshakeMismatch = newError(ErrCodeHandshakeMismatch, "handshake mismatch", nil)
	ErrPublisherRejected = newError(ErrCodePublisherRejected, "publisher rejected subscription", nil)
	ErrInvalidFrame      = newError(ErrCodeInvalidFrame, "invalid frame", nil)
	ErrMessageDecode     = newError(ErrCodeMessageDecode, "message decode failed", nil)
	ErrReceive           = newError(ErrCodeReceive, "receive failed", nil)
	ErrClosed            = newError(ErrCodeClosed, "subscriber closed", nil)
	ErrAlreadyStarted    = newError(ErrCodeAlreadyStarted, "subscriber already started", nil)
)

// MismatchDetails names the header field that disagreed.
type MismatchDetails struct {
	Field    string
	Expected string
	Actual   string
}

type Error struct {
	baseErr *baseerrors.Error
}

func newError(code int64, message string, cause error) *Error {
	return &Error{
		baseErr: baseerrors.NewError(code, "tcpros: "+message, cause),
	}
}

func newMismatchError(d MismatchDetails) *Error {
	msg := fmt.Sprintf("handshake mismatch on %s: expected %q, got %q", d.Field, d.Expected, d.Actual)
	e := newError(ErrCodeHandshakeMismatch, msg, nil)
	e.baseErr.WithDetails(d)
	return e
}

func (e *Error) Error() string {
	return e.baseErr.Error()
}

func (e *Error) GetCode() int64 {
	return e.baseErr.GetCode()
}

func (e *Error) GetMessage() string {
	return e.baseErr.GetMessage()
}

func (e *Error) Unwrap() error {
	return e.baseErr.Unwrap()
}

func (e *Error) GetDetails() any {
	return e.baseErr.GetDetails()
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.GetCode() == e.GetCode()
}

// Mismatch extracts the mismatch details from a handshake error.
func Mismatch(err error) (MismatchDetails, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return MismatchDetails{}, false
	}
	d, ok := e.GetDetails().(MismatchDetails)
	return d, ok
}
