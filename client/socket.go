package client

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/relay/protocol"
	"github.com/luma/relay/transport"
)

// Socket is the client end of a relay connection. Its id is assigned by the
// server once the connection is registered.
type Socket struct {
	conn *transport.Conn
	log  *zap.Logger

	mu sync.RWMutex
	id string
}

// New returns a Socket that opens its transport with dial. Unless
// AutoConnect was disabled it starts connecting straight away.
func New(dial transport.Dialer, opts ...transport.Option) *Socket {
	s := &Socket{}
	s.conn = transport.NewConn(dial, s.handleMessage, opts...)
	s.log = s.conn.Options().Log.Named("client")

	if s.conn.Options().AutoConnect {
		s.conn.Connect()
	}

	return s
}

// Dial returns a Socket connecting to addr over TCP.
func Dial(addr string, opts ...transport.Option) *Socket {
	return New(transport.TCPDialer(addr), opts...)
}

// ID returns the id the server registered this socket with, or "" if it has
// not been registered yet.
func (s *Socket) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.id
}

func (s *Socket) Conn() *transport.Conn {
	return s.conn
}

func (s *Socket) Connect() {
	s.conn.Connect()
}

// End flushes pending writes and closes the connection without reconnecting.
func (s *Socket) End() {
	s.conn.End()
}

// Destroy closes the connection immediately without reconnecting.
func (s *Socket) Destroy() {
	s.conn.Destroy()
}

func (s *Socket) Close() error {
	return s.conn.Close()
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

// Emit sends an event. Without targets it goes to the server end of this
// connection, otherwise the server fans it out to the targets.
func (s *Socket) Emit(event string, data interface{}, opts ...transport.EmitOption) (bool, error) {
	o := transport.NewEmitOptions(opts...)
	return s.conn.Send(event, data, o.MessageType(), o.SendOptions())
}

// Stream opens a stream, targeted the same way as Emit.
func (s *Socket) Stream(event string, data interface{}, opts ...transport.EmitOption) (*transport.StreamWriter, error) {
	o := transport.NewEmitOptions(opts...)
	return s.conn.SendStream(event, data, o.StreamType(), o.SendOptions())
}

// Join asks the server to add this socket to rooms.
func (s *Socket) Join(rooms ...string) error {
	return s.sendRooms(protocol.MTJoinRoom, rooms)
}

// Leave asks the server to remove this socket from rooms.
func (s *Socket) Leave(rooms ...string) error {
	return s.sendRooms(protocol.MTLeaveRoom, rooms)
}

// LeaveAll asks the server to remove this socket from every room.
func (s *Socket) LeaveAll() error {
	_, err := s.conn.Send("", nil, protocol.MTLeaveAllRooms, nil)
	return err
}

func (s *Socket) sendRooms(mt protocol.MessageType, rooms []string) error {
	if len(rooms) == 0 {
		return nil
	}

	for _, room := range rooms {
		if err := protocol.ValidateName(room); err != nil {
			return err
		}
	}

	_, err := s.conn.Send("", strings.Join(rooms, protocol.ListSeparator), mt, nil)
	return err
}

func (s *Socket) handleMessage(msg *protocol.Message) {
	switch msg.Type {
	case protocol.MTRegister:
		id := msg.Data.AsString()

		s.mu.Lock()
		s.id = id
		s.mu.Unlock()

		s.log.Debug("Registered", zap.String("socketID", id))
		s.conn.Notify(transport.NotifyConnect, nil)

	default:
		s.log.Debug("Ignoring message",
			zap.Stringer("type", msg.Type),
			zap.String("event", msg.Event))
	}
}
