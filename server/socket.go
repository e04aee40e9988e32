package server

import (
	"errors"
	"io"
	"net"
	"sort"

	"go.uber.org/zap"

	"github.com/luma/relay/protocol"
	"github.com/luma/relay/transport"
)

// Socket is the server end of a client connection.
type Socket struct {
	id     string
	server *Server
	conn   *transport.Conn
	log    *zap.Logger

	// rooms is guarded by server.mu, it mirrors the server's room index.
	rooms map[string]struct{}
}

// newSocket is called with server.mu held.
func newSocket(server *Server, id string, nc net.Conn) *Socket {
	log := server.log.Named("socket").With(zap.String("socketID", id))

	sock := &Socket{
		id:     id,
		server: server,
		log:    log,
		rooms:  make(map[string]struct{}),
	}

	opts := append([]transport.Option{transport.WithLogger(log)}, server.opts.ConnOptions...)
	sock.conn = transport.NewServerConn(nc, sock.handleMessage, opts...)

	return sock
}

func (s *Socket) ID() string {
	return s.id
}

func (s *Socket) Conn() *transport.Conn {
	return s.conn
}

func (s *Socket) Server() *Server {
	return s.server
}

// Rooms returns the rooms the socket is in, sorted.
func (s *Socket) Rooms() []string {
	s.server.mu.RLock()
	defer s.server.mu.RUnlock()

	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	return rooms
}

func (s *Socket) On(event string, h transport.Handler) {
	s.conn.On(event, h)
}

func (s *Socket) Off(event string) {
	s.conn.Off(event)
}

func (s *Socket) OnNotify(kind transport.Notification, h transport.NotificationHandler) {
	s.conn.OnNotify(kind, h)
}

// Emit sends an event to the client of this socket, or fans it out when
// opts select targets. Rooms and broadcasts never reach this socket itself.
func (s *Socket) Emit(event string, data interface{}, opts ...transport.EmitOption) error {
	o := transport.NewEmitOptions(opts...)

	if o.IsRouted() {
		_, err := s.server.getBroker().Emit(event, data, s.routeOptions(o)...)
		return err
	}

	_, err := s.conn.Send(event, data, o.MessageType(), o.SendOptions())
	return err
}

// Stream opens a stream to the client of this socket, or to the targets
// selected by opts.
func (s *Socket) Stream(event string, data interface{}, opts ...transport.EmitOption) (io.WriteCloser, error) {
	o := transport.NewEmitOptions(opts...)

	if o.IsRouted() {
		return s.server.getBroker().Stream(event, data, s.routeOptions(o)...)
	}

	return s.conn.SendStream(event, data, o.StreamType(), o.SendOptions())
}

func (s *Socket) routeOptions(o transport.EmitOptions) []transport.EmitOption {
	opts := []transport.EmitOption{transport.Except(o.Except...)}

	switch {
	case len(o.Sockets) > 0:
		opts = append(opts, transport.ToSockets(o.Sockets...))
	case len(o.Rooms) > 0:
		opts = append(opts, transport.ToRooms(o.Rooms...), transport.Except(s.id))
	default:
		opts = append(opts, transport.Broadcast(), transport.Except(s.id))
	}

	return opts
}

func (s *Socket) Join(rooms ...string) {
	s.server.getBroker().Join(s.id, rooms...)
}

func (s *Socket) Leave(rooms ...string) {
	s.server.getBroker().Leave(s.id, rooms...)
}

func (s *Socket) LeaveAll() {
	s.server.getBroker().LeaveAll(s.id)
}

// End flushes pending writes and closes the connection.
func (s *Socket) End() {
	s.conn.End()
}

func (s *Socket) Destroy() {
	s.conn.Destroy()
}

func (s *Socket) handleMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.MTJoinRoom:
		s.Join(protocol.SplitList(msg.Data.AsString())...)

	case protocol.MTLeaveRoom:
		s.Leave(protocol.SplitList(msg.Data.AsString())...)

	case protocol.MTLeaveAllRooms:
		s.LeaveAll()

	case protocol.MTDataToSocket, protocol.MTDataToRoom, protocol.MTDataBroadcast:
		if err := s.Emit(msg.Event, msg.Data, s.routedOptions(msg)...); err != nil {
			s.log.Warn("Failed to route message",
				zap.String("event", msg.Event),
				zap.Stringer("type", msg.Type),
				zap.Error(err))
		}

	case protocol.MTDataStreamOpenToSocket, protocol.MTDataStreamOpenToRoom, protocol.MTDataStreamOpenBroadcast:
		s.routeStream(msg)

	default:
		s.log.Debug("Ignoring message",
			zap.Stringer("type", msg.Type),
			zap.String("event", msg.Event))
	}
}

// routedOptions turns the targets packed in a client message back into emit
// options.
func (s *Socket) routedOptions(msg *protocol.Message) []transport.EmitOption {
	opts := []transport.EmitOption{transport.Except(msg.Except...)}

	switch msg.Type {
	case protocol.MTDataToSocket, protocol.MTDataStreamOpenToSocket:
		opts = append(opts, transport.ToSockets(msg.Targets...))
	case protocol.MTDataToRoom, protocol.MTDataStreamOpenToRoom:
		opts = append(opts, transport.ToRooms(msg.Targets...))
	default:
		opts = append(opts, transport.Broadcast())
	}

	return opts
}

// routeStream relays a stream opened by the client to its targets, chunk by
// chunk.
func (s *Socket) routeStream(msg *protocol.Message) {
	r := s.conn.OpenStream(msg.ID)

	w, err := s.Stream(msg.Event, msg.Data, s.routedOptions(msg)...)
	if err != nil {
		s.log.Warn("Failed to route stream",
			zap.String("event", msg.Event),
			zap.Error(err))
		r.Close()
		return
	}

	go func() {
		defer r.Close()

		for {
			chunk, err := r.ReadChunk()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					s.log.Debug("Routed stream ended early", zap.Error(err))
				}
				break
			}

			if _, err := w.Write(chunk); err != nil {
				s.log.Debug("Failed to relay stream chunk", zap.Error(err))
				break
			}
		}

		if err := w.Close(); err != nil {
			s.log.Debug("Failed to close routed stream", zap.Error(err))
		}
	}()
}
