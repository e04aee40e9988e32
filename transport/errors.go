package transport

import "errors"

var (
	ErrConnClosed   = errors.New("connection is closed")
	ErrStreamClosed = errors.New("stream is closed")
	ErrAckSent      = errors.New("ack has already been sent")
	ErrTimeout      = errors.New("connect timeout")
)
