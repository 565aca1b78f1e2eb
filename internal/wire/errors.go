package wire

import (
	"errors"
	"fmt"
)

// Sentinel decode errors. Callers distinguish them with errors.Is.
var (
	ErrEmpty            = errors.New("wire: empty packet")
	ErrUnexpectedLength = errors.New("wire: unexpected packet length")
	ErrTruncated        = errors.New("wire: truncated sub-record")
)

// DecodeError records which field of a packet failed to decode.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("wire: decode %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
