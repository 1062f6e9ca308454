package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed medium.
	ErrClosed = errors.New("transport: closed")

	// ErrFrameTooShort is returned when a received frame lacks the address header.
	ErrFrameTooShort = errors.New("transport: frame too short")

	// ErrFrameTooLarge is returned when a frame body exceeds MaxFrameBodySize.
	ErrFrameTooLarge = errors.New("transport: frame too large")
)
