package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/luma/relay/transport"
)

type Options struct {
	Host string
	Port int

	// Reuseport binds every listener with SO_REUSEPORT so NumListeners accept
	// loops can share the port.
	Reuseport bool

	// NumListeners is only honoured with Reuseport. Less than 1 means one per
	// CPU.
	NumListeners int

	// ConnOptions are applied to every accepted connection.
	ConnOptions []transport.Option

	// Registerer receives the server metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	Log *zap.Logger
}
