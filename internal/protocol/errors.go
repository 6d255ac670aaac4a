package protocol

import "errors"

var (
	// ErrInvalidRequest indicates request parameters outside the protocol's limits.
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrFrameTooShort indicates a response shorter than the minimum frame.
	ErrFrameTooShort = errors.New("frame too short")

	// ErrMalformedFrame indicates a structurally invalid frame.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrCRCMismatch indicates a received checksum that does not match the
	// recomputed one. Such frames are discarded, never interpreted.
	ErrCRCMismatch = errors.New("crc mismatch")

	// ErrTransactionMismatch indicates a response for a different request.
	ErrTransactionMismatch = errors.New("transaction id mismatch")

	// ErrFunctionMismatch indicates a response function code that does not
	// match the request.
	ErrFunctionMismatch = errors.New("function code mismatch")

	// ErrDeviceException indicates the device answered with a protocol
	// exception instead of data.
	ErrDeviceException = errors.New("device exception")
)
