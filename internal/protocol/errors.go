package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated          = errors.New("buffer exhausted")
	ErrUnterminatedString = errors.New("string is missing its NUL terminator")
	ErrUnknownVariant     = errors.New("unknown variant")
	ErrInvalidLength      = errors.New("invalid packet length")
	ErrTrailingData       = errors.New("trailing data after payload")
	ErrCountOverflow      = errors.New("collection exceeds count field capacity")
	ErrPacketTooLarge     = errors.New("packet exceeds maximum size (65535 bytes)")
	ErrAddressFamily      = errors.New("address does not belong to the list's family")
	ErrNilPayload         = errors.New("nil payload")
)

// DecodeError reports malformed input. Offset is the position in the buffer
// handed to the decoder at which the problem was detected.
type DecodeError struct {
	Field  string
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s at offset %d: %v", e.Field, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a value that cannot be represented on the wire.
type EncodeError struct {
	Field string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Field, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func unknownVariant(field string, offset int, tag uint8) error {
	return &DecodeError{
		Field:  field,
		Offset: offset,
		Err:    fmt.Errorf("%w: 0x%02X", ErrUnknownVariant, tag),
	}
}

func countOverflow(field string, n, limit int) error {
	return &EncodeError{
		Field: field,
		Err:   fmt.Errorf("%w: %d elements (max %d)", ErrCountOverflow, n, limit),
	}
}
