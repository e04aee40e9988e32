package transport

import (
	"context"
	"net"
)

// Dialer opens a new transport for a client connection. It is called on
// every (re)connect.
type Dialer func(ctx context.Context) (net.Conn, error)

// TCPDialer dials addr over TCP.
func TCPDialer(addr string) Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
}
