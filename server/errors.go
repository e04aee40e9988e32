package server

import "errors"

var (
	ErrIDExhausted  = errors.New("Failed to generate a unique id")
	ErrServerClosed = errors.New("server is closed")
	ErrEmptyRoom    = errors.New("room name is empty")
)
