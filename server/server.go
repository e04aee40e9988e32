package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"sort"
	"strconv"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/relay/protocol"
	"github.com/luma/relay/transport"
)

const tracerName = "github.com/luma/relay/server"

var _ Broker = (*Server)(nil)

// Broker fans out routed messages and manages room membership. A Server is
// its own broker until a Router takes it over, after which the messages its
// clients route reach the sockets of every server in the router.
type Broker interface {
	Emit(event string, data interface{}, opts ...transport.EmitOption) (int, error)
	Stream(event string, data interface{}, opts ...transport.EmitOption) (*transport.FanOut, error)
	Join(id string, rooms ...string)
	Leave(id string, rooms ...string)
	LeaveAll(id string)
}

// Server is a registry of connected sockets and the rooms they are in.
type Server struct {
	opts    Options
	log     *zap.Logger
	metrics *metrics
	tracer  trace.Tracer

	ctx        context.Context
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	mu        sync.RWMutex
	id        string
	broker    Broker
	sockets   map[string]*Socket
	rooms     map[string]map[string]*Socket
	listeners []net.Listener
	closed    bool

	hooks hooks
}

func New(options Options) *Server {
	if options.Log == nil {
		options.Log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		opts:    options,
		log:     options.Log,
		metrics: newMetrics(options.Registerer),
		tracer:  otel.Tracer(tracerName),
		ctx:     ctx,
		cancel:  cancel,
		sockets: make(map[string]*Socket),
		rooms:   make(map[string]map[string]*Socket),
	}
	s.broker = s

	return s
}

// ID is empty unless the server was added to a Router.
func (s *Server) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.id
}

// SetID names the server. Sockets accepted afterwards get ids prefixed with
// it.
func (s *Server) SetID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.id = id
	s.log = s.opts.Log.With(zap.String("serverID", id))
}

// SetBroker hands the routing of client messages to b.
func (s *Server) SetBroker(b Broker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b == nil {
		b = s
	}

	s.broker = b
}

func (s *Server) getBroker() Broker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.broker
}

func (s *Server) logger() *zap.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.log
}

// Listen binds the configured address and starts accepting connections.
// With Reuseport it starts NumListeners accept loops on the same port. The
// server closes when ctx is done.
func (s *Server) Listen(ctx context.Context) error {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))

	numListeners := 1
	if s.opts.Reuseport {
		numListeners = s.opts.NumListeners
		if numListeners < 1 {
			numListeners = runtime.NumCPU()
		}
	}

	log := s.logger()
	log.Info("Starting tcp listeners",
		zap.Int("count", numListeners),
		zap.String("addr", addr))

	for i := 0; i < numListeners; i++ {
		l, err := s.listen(addr)
		if err != nil {
			if i == 0 {
				return fmt.Errorf("Failed to listen on %s: %w", addr, err)
			}

			// TODO(rolly) a failed extra listener isn't fatal, so we can end up running
			//             fewer listeners than were asked for
			log.Error("Failed to listen", zap.Error(err))
			continue
		}

		// Pin an ephemeral port so the remaining listeners share it
		addr = l.Addr().String()

		s.AddListener(l)
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.ctx.Done():
		}
	}()

	return nil
}

func (s *Server) listen(addr string) (net.Listener, error) {
	if s.opts.Reuseport {
		return reuseport.Listen("tcp", addr)
	}

	return net.Listen("tcp", addr)
}

// AddListener accepts connections from l until the server closes.
func (s *Server) AddListener(l net.Listener) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return
	}

	s.listeners = append(s.listeners, l)
	log := s.log.Named("listener").With(zap.Int("listener", len(s.listeners)-1))
	s.mu.Unlock()

	s.stopWaiter.Add(1)
	go func() {
		defer s.stopWaiter.Done()

		if err := s.acceptLoop(l, log); err != nil {
			s.emitError(fmt.Errorf("Failed to accept connections: %w", err))
		}
	}()

	s.hooks.listening(l.Addr())
}

// Addrs returns the addresses of every listener.
func (s *Server) Addrs() []net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}

	return addrs
}

// NumListeners returns how many accept loops are running.
func (s *Server) NumListeners() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.listeners)
}

// Accept registers a connected transport: the socket gets a unique id, is
// told that id with a REGISTER message and is announced to the connection
// handlers before anything is read from it.
func (s *Server) Accept(nc net.Conn) (*Socket, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServerClosed
	}

	id, err := GenerateID(s.id, func(id string) bool {
		_, taken := s.sockets[id]
		return taken
	})
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	sock := newSocket(s, id, nc)
	s.sockets[id] = sock
	s.metrics.sockets.Set(float64(len(s.sockets)))
	s.mu.Unlock()

	s.metrics.connections.Inc()

	sock.conn.OnNotify(transport.NotifyClose, func(error) {
		s.remove(sock)
	})

	if _, err := sock.conn.Send("", id, protocol.MTRegister, nil); err != nil {
		s.remove(sock)
		sock.conn.Destroy()
		return nil, fmt.Errorf("Failed to register socket %s: %w", id, err)
	}

	sock.log.Debug("Socket connected", zap.Stringer("remoteAddr", nc.RemoteAddr()))

	s.hooks.connection(sock)
	sock.conn.Start()

	return sock, nil
}

func (s *Server) remove(sock *Socket) {
	s.mu.Lock()
	s.leaveAllLocked(sock)

	if cur, ok := s.sockets[sock.id]; ok && cur == sock {
		delete(s.sockets, sock.id)
	}

	s.metrics.sockets.Set(float64(len(s.sockets)))
	s.metrics.rooms.Set(float64(len(s.rooms)))
	s.mu.Unlock()

	sock.log.Debug("Socket closed")
}

// Close stops every listener and ends every socket.
func (s *Server) Close() (err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true
	listeners := s.listeners
	s.listeners = nil

	sockets := make([]*Socket, 0, len(s.sockets))
	for _, sock := range s.sockets {
		sockets = append(sockets, sock)
	}
	log := s.log
	s.mu.Unlock()

	log.Info("Stopping server")
	s.cancel()

	for _, l := range listeners {
		if lerr := l.Close(); lerr != nil && !errors.Is(lerr, net.ErrClosed) {
			err = multierr.Append(err, lerr)
		}
	}

	for _, sock := range sockets {
		sock.conn.End()
	}

	s.stopWaiter.Wait()
	log.Info("Server stopped")

	s.hooks.close()

	return err
}

// isRunning returns true if Close has not been called
func (s *Server) isRunning() bool {
	select {
	case <-s.ctx.Done():
		return false

	default:
		return true
	}
}

func (s *Server) emitError(err error) {
	if s.hooks.error(err) == 0 {
		s.logger().Error("Unhandled server error", zap.Error(err))
	}
}

// Socket returns the socket registered with id.
func (s *Server) Socket(id string) (*Socket, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sock, ok := s.sockets[id]
	return sock, ok
}

// Sockets returns the ids of every registered socket, sorted.
func (s *Server) Sockets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedKeys(s.sockets)
}

// Rooms returns the name of every room, sorted.
func (s *Server) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	return rooms
}

// Members returns the ids of the sockets in room, sorted.
func (s *Server) Members(room string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedKeys(s.rooms[room])
}

// Join adds the socket with id to rooms. Unknown sockets and rooms the
// socket is already in are ignored. Room names that no route could address
// are skipped.
func (s *Server) Join(id string, rooms ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sock, ok := s.sockets[id]
	if !ok {
		return
	}

	for _, room := range rooms {
		if err := validRoom(room); err != nil {
			s.log.Warn("Not joining room",
				zap.String("socketID", id),
				zap.Error(err))
			continue
		}

		members, ok := s.rooms[room]
		if !ok {
			members = make(map[string]*Socket)
			s.rooms[room] = members
		}

		members[id] = sock
		sock.rooms[room] = struct{}{}
	}

	s.metrics.rooms.Set(float64(len(s.rooms)))
}

// Leave removes the socket with id from rooms. Rooms left empty are
// deleted.
func (s *Server) Leave(id string, rooms ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sock, ok := s.sockets[id]
	if !ok {
		return
	}

	for _, room := range rooms {
		s.leaveLocked(sock, room)
	}

	s.metrics.rooms.Set(float64(len(s.rooms)))
}

// LeaveAll removes the socket with id from every room it is in.
func (s *Server) LeaveAll(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sock, ok := s.sockets[id]; ok {
		s.leaveAllLocked(sock)
	}

	s.metrics.rooms.Set(float64(len(s.rooms)))
}

func validRoom(room string) error {
	if room == "" {
		return ErrEmptyRoom
	}

	return protocol.ValidateName(room)
}

func (s *Server) leaveAllLocked(sock *Socket) {
	for room := range sock.rooms {
		s.leaveLocked(sock, room)
	}
}

func (s *Server) leaveLocked(sock *Socket, room string) {
	members, ok := s.rooms[room]
	if !ok {
		return
	}

	if members[sock.id] != sock {
		return
	}

	delete(members, sock.id)
	delete(sock.rooms, room)

	if len(members) == 0 {
		delete(s.rooms, room)
	}
}

// Resolve returns the sockets selected by o: the listed sockets if any,
// else the members of the listed rooms, else everyone. Except always
// applies and no socket is returned twice.
func (s *Server) Resolve(o transport.EmitOptions) []*Socket {
	s.mu.RLock()
	defer s.mu.RUnlock()

	skip := make(map[string]struct{}, len(o.Except))
	for _, id := range o.Except {
		skip[id] = struct{}{}
	}

	var targets []*Socket
	add := func(sock *Socket) {
		if _, ok := skip[sock.id]; ok {
			return
		}

		skip[sock.id] = struct{}{}
		targets = append(targets, sock)
	}

	switch {
	case len(o.Sockets) > 0:
		for _, id := range o.Sockets {
			if sock, ok := s.sockets[id]; ok {
				add(sock)
			}
		}

	case len(o.Rooms) > 0:
		for _, room := range o.Rooms {
			for _, id := range sortedKeys(s.rooms[room]) {
				add(s.rooms[room][id])
			}
		}

	default:
		for _, id := range sortedKeys(s.sockets) {
			add(s.sockets[id])
		}
	}

	return targets
}

// Emit sends an event to the sockets selected by opts, see Resolve. It
// returns how many sockets it was sent to. Unknown sockets and rooms are
// skipped silently.
func (s *Server) Emit(event string, data interface{}, opts ...transport.EmitOption) (int, error) {
	if err := protocol.ValidateName(event); err != nil {
		return 0, err
	}

	o := transport.NewEmitOptions(opts...)

	_, span := s.tracer.Start(s.ctx, "relay.emit", trace.WithAttributes(
		attribute.String("relay.event", event),
		attribute.String("relay.server", s.ID()),
	))
	defer span.End()

	targets := s.Resolve(o)
	value := protocol.FromNative(data)

	var (
		err  error
		sent int
	)
	for _, sock := range targets {
		if _, serr := sock.conn.Send(event, value, protocol.MTData, nil); serr != nil {
			err = multierr.Append(err, fmt.Errorf("Failed to emit to %s: %w", sock.id, serr))
			continue
		}
		sent++
	}

	span.SetAttributes(attribute.Int("relay.targets", sent))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "emit failed")
	}

	s.metrics.fannedOut("emit", sent)

	return sent, err
}

// Stream opens a stream to every socket selected by opts. Writes to the
// returned FanOut reach all of them, a socket that goes away mid stream is
// dropped.
func (s *Server) Stream(event string, data interface{}, opts ...transport.EmitOption) (*transport.FanOut, error) {
	if err := protocol.ValidateName(event); err != nil {
		return nil, err
	}

	o := transport.NewEmitOptions(opts...)

	_, span := s.tracer.Start(s.ctx, "relay.stream", trace.WithAttributes(
		attribute.String("relay.event", event),
		attribute.String("relay.server", s.ID()),
	))
	defer span.End()

	targets := s.Resolve(o)
	value := protocol.FromNative(data)
	log := s.logger()

	writers := make([]io.WriteCloser, 0, len(targets))
	for _, sock := range targets {
		w, err := sock.conn.SendStream(event, value, protocol.MTDataStreamOpen, nil)
		if err != nil {
			span.RecordError(err)
			log.Warn("Failed to open stream",
				zap.String("socketID", sock.id),
				zap.String("event", event),
				zap.Error(err))
			continue
		}

		writers = append(writers, w)
	}

	span.SetAttributes(attribute.Int("relay.targets", len(writers)))
	s.metrics.fannedOut("stream", len(writers))

	return transport.NewFanOut(log.Named("fanout"), writers...), nil
}

func sortedKeys(m map[string]*Socket) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
