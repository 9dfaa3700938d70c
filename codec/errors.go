package codec

import "errors"

var (
	// ErrUnsupportedName is returned for a format name no codec answers to.
	ErrUnsupportedName = errors.New("unsupported format")
	// ErrUnknownFormat is returned when auto-detection finds no known magic.
	ErrUnknownFormat = errors.New("unknown compression format")
	// ErrFormatMismatch is returned when the sniffed magic contradicts the asserted format.
	ErrFormatMismatch = errors.New("format mismatch")
	// ErrCodec wraps failures raised by the underlying codec.
	ErrCodec = errors.New("codec failure")
)
