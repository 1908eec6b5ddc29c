package header

import "errors"

var (
	ErrMalformed    = errors.New("header: malformed entry")
	ErrMissingField = errors.New("header: missing required field")
)
