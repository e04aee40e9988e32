package router

import (
	"fmt"
	"io"
	"net"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/relay/server"
	"github.com/luma/relay/transport"
)

// DefaultPrefix prefixes the ids of servers added without a prefix.
const DefaultPrefix = "sys"

var _ server.Broker = (*Router)(nil)

type Options struct {
	Log *zap.Logger
}

// Router joins several servers into one pool of sockets. Every server gets
// an id and prefixes the ids of the sockets it accepts with it. Emits,
// streams and room changes are passed on to every server, each of which
// delivers to its own sockets.
type Router struct {
	log *zap.Logger

	mu      sync.RWMutex
	servers map[string]*server.Server
	order   []string

	hmu          sync.RWMutex
	onConnection []server.ConnectionHandler
	onListening  []func(serverID string, addr net.Addr)
	onError      []func(serverID string, err error)
	onClose      []func(serverID string)
}

func New(options Options) *Router {
	if options.Log == nil {
		options.Log = zap.NewNop()
	}

	return &Router{
		log:     options.Log,
		servers: make(map[string]*server.Server),
	}
}

// AddServer adds srv to the pool under a new id made of prefix and a short
// random suffix. srv hands the routing of its clients' messages to the
// router from then on.
func (r *Router) AddServer(srv *server.Server, prefix string) (string, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	r.mu.Lock()
	id, err := server.GenerateID(prefix, func(id string) bool {
		_, taken := r.servers[id]
		return taken
	})
	if err != nil {
		r.mu.Unlock()
		return "", fmt.Errorf("Failed to add server: %w", err)
	}

	r.servers[id] = srv
	r.order = append(r.order, id)
	r.mu.Unlock()

	srv.SetID(id)
	srv.SetBroker(r)

	srv.OnConnection(func(sock *server.Socket) {
		r.hmu.RLock()
		handlers := r.onConnection
		r.hmu.RUnlock()

		for _, h := range handlers {
			h(sock)
		}
	})

	srv.OnListening(func(addr net.Addr) {
		r.hmu.RLock()
		handlers := r.onListening
		r.hmu.RUnlock()

		for _, h := range handlers {
			h(id, addr)
		}
	})

	srv.OnError(func(err error) {
		r.hmu.RLock()
		handlers := r.onError
		r.hmu.RUnlock()

		if len(handlers) == 0 {
			r.log.Error("Unhandled server error", zap.String("serverID", id), zap.Error(err))
		}

		for _, h := range handlers {
			h(id, err)
		}
	})

	srv.OnClose(func() {
		r.hmu.RLock()
		handlers := r.onClose
		r.hmu.RUnlock()

		for _, h := range handlers {
			h(id)
		}
	})

	r.log.Info("Added server", zap.String("serverID", id))

	return id, nil
}

// RemoveServer takes the server with id out of the pool. It keeps running
// and brokers for itself again.
func (r *Router) RemoveServer(id string) bool {
	r.mu.Lock()
	srv, ok := r.servers[id]
	if ok {
		delete(r.servers, id)
		for i, sid := range r.order {
			if sid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if ok {
		srv.SetBroker(nil)
	}

	return ok
}

// OnConnection registers h for sockets accepted by any server in the pool.
func (r *Router) OnConnection(h server.ConnectionHandler) {
	r.hmu.Lock()
	r.onConnection = append(r.onConnection, h)
	r.hmu.Unlock()
}

// OnListening registers h for every listener a server in the pool starts.
func (r *Router) OnListening(h func(serverID string, addr net.Addr)) {
	r.hmu.Lock()
	r.onListening = append(r.onListening, h)
	r.hmu.Unlock()
}

func (r *Router) OnError(h func(serverID string, err error)) {
	r.hmu.Lock()
	r.onError = append(r.onError, h)
	r.hmu.Unlock()
}

func (r *Router) OnClose(h func(serverID string)) {
	r.hmu.Lock()
	r.onClose = append(r.onClose, h)
	r.hmu.Unlock()
}

// Servers returns the ids of the servers in the pool, in the order they
// were added.
func (r *Router) Servers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

func (r *Router) Server(id string) (*server.Server, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	srv, ok := r.servers[id]
	return srv, ok
}

func (r *Router) all() []*server.Server {
	r.mu.RLock()
	defer r.mu.RUnlock()

	servers := make([]*server.Server, 0, len(r.order))
	for _, id := range r.order {
		servers = append(servers, r.servers[id])
	}

	return servers
}

// owner returns the server the socket with id is registered with.
func (r *Router) owner(id string) *server.Server {
	for _, srv := range r.all() {
		if _, ok := srv.Socket(id); ok {
			return srv
		}
	}

	return nil
}

// Sockets returns the ids of every socket in the pool, sorted.
func (r *Router) Sockets() []string {
	var ids []string
	for _, srv := range r.all() {
		ids = append(ids, srv.Sockets()...)
	}
	sort.Strings(ids)

	return ids
}

// Rooms returns the name of every room in the pool, sorted.
func (r *Router) Rooms() []string {
	seen := make(map[string]struct{})
	for _, srv := range r.all() {
		for _, room := range srv.Rooms() {
			seen[room] = struct{}{}
		}
	}

	rooms := make([]string, 0, len(seen))
	for room := range seen {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	return rooms
}

// Emit emits on every server, see server.Server.Emit.
func (r *Router) Emit(event string, data interface{}, opts ...transport.EmitOption) (n int, err error) {
	for _, srv := range r.all() {
		sent, serr := srv.Emit(event, data, opts...)
		n += sent
		err = multierr.Append(err, serr)
	}

	return n, err
}

// Stream opens the stream on every server and returns a writer feeding all
// of them.
func (r *Router) Stream(event string, data interface{}, opts ...transport.EmitOption) (*transport.FanOut, error) {
	var branches []io.WriteCloser
	for _, srv := range r.all() {
		fan, err := srv.Stream(event, data, opts...)
		if err != nil {
			for _, b := range branches {
				b.Close()
			}
			return nil, err
		}

		// Servers without targets don't need to see the chunks
		if fan.Len() == 0 {
			continue
		}

		branches = append(branches, fan)
	}

	return transport.NewFanOut(r.log.Named("fanout"), branches...), nil
}

func (r *Router) Join(id string, rooms ...string) {
	if srv := r.owner(id); srv != nil {
		srv.Join(id, rooms...)
	}
}

func (r *Router) Leave(id string, rooms ...string) {
	if srv := r.owner(id); srv != nil {
		srv.Leave(id, rooms...)
	}
}

func (r *Router) LeaveAll(id string) {
	if srv := r.owner(id); srv != nil {
		srv.LeaveAll(id)
	}
}

// Close closes every server in the pool.
func (r *Router) Close() (err error) {
	for _, srv := range r.all() {
		err = multierr.Append(err, srv.Close())
	}

	return err
}
