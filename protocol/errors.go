package protocol

import "errors"

var (
	// ErrVersionMismatch is wrapped by errors describing a frame written with
	// a protocol version this package doesn't speak.
	ErrVersionMismatch = errors.New("protocol version mismatch")

	ErrMalformedMessage   = errors.New("message is malformed, a length field overruns the frame")
	ErrMessageTooShort    = errors.New("message is malformed, it is shorter than the fixed header")
	ErrIntegerOutOfRange  = errors.New("integer does not fit in 6 bytes")
	ErrUnknownDataType    = errors.New("unknown data type")
	ErrReservedCharacter  = errors.New("event names and targets may not contain '|' or ','")
	ErrNoObjectSerializer = errors.New("no serializer for object")
	ErrNoObjectType       = errors.New("no object type registered for event")
)
