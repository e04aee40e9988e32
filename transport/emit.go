package transport

import "github.com/luma/relay/protocol"

// EmitOptions selects who receives an emitted event.
//
// Sockets wins over Rooms, which wins over Broadcast. Except always applies.
// With none of Sockets, Rooms or Broadcast the event goes to the other end
// of the peer's own connection.
type EmitOptions struct {
	Sockets   []string
	Rooms     []string
	Except    []string
	Broadcast bool

	// Ack is only honoured for events sent over the peer's own connection.
	Ack AckHandler
}

type EmitOption func(*EmitOptions)

// NewEmitOptions applies opts to empty EmitOptions.
func NewEmitOptions(opts ...EmitOption) EmitOptions {
	var o EmitOptions
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// IsRouted is true when the event must be fanned out by a server rather than
// delivered over a single connection.
func (o EmitOptions) IsRouted() bool {
	return len(o.Sockets) > 0 || len(o.Rooms) > 0 || o.Broadcast
}

// ToSockets targets the peers with the given ids.
func ToSockets(ids ...string) EmitOption {
	return func(o *EmitOptions) {
		o.Sockets = append(o.Sockets, ids...)
	}
}

// ToRooms targets every member of the given rooms.
func ToRooms(rooms ...string) EmitOption {
	return func(o *EmitOptions) {
		o.Rooms = append(o.Rooms, rooms...)
	}
}

// Except excludes the peers with the given ids.
func Except(ids ...string) EmitOption {
	return func(o *EmitOptions) {
		o.Except = append(o.Except, ids...)
	}
}

// Broadcast targets every connected peer.
func Broadcast() EmitOption {
	return func(o *EmitOptions) {
		o.Broadcast = true
	}
}

// WithAck asks the receiver to acknowledge the event.
func WithAck(h AckHandler) EmitOption {
	return func(o *EmitOptions) {
		o.Ack = h
	}
}

// MessageType returns the wire type of an event sent with o.
func (o EmitOptions) MessageType() protocol.MessageType {
	switch {
	case len(o.Sockets) > 0:
		return protocol.MTDataToSocket
	case len(o.Rooms) > 0:
		return protocol.MTDataToRoom
	case o.Broadcast:
		return protocol.MTDataBroadcast
	case o.Ack != nil:
		return protocol.MTDataWithAck
	default:
		return protocol.MTData
	}
}

// StreamType returns the wire type of a stream opened with o.
func (o EmitOptions) StreamType() protocol.MessageType {
	switch {
	case len(o.Sockets) > 0:
		return protocol.MTDataStreamOpenToSocket
	case len(o.Rooms) > 0:
		return protocol.MTDataStreamOpenToRoom
	case o.Broadcast:
		return protocol.MTDataStreamOpenBroadcast
	case o.Ack != nil:
		return protocol.MTDataStreamOpenWithAck
	default:
		return protocol.MTDataStreamOpen
	}
}

// SendOptions converts o for Conn.Send. The targets are the ones that win
// the resolution order.
func (o EmitOptions) SendOptions() *SendOptions {
	so := &SendOptions{Except: o.Except}

	switch {
	case len(o.Sockets) > 0:
		so.Targets = o.Sockets
	case len(o.Rooms) > 0:
		so.Targets = o.Rooms
	}

	if !o.IsRouted() {
		so.Ack = o.Ack
	}

	return so
}
