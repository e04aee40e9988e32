package server

import (
	"net"
	"sync"
)

// ConnectionHandler is called for every registered socket, before anything
// is read from it.
type ConnectionHandler func(sock *Socket)

type hooks struct {
	mu           sync.RWMutex
	onConnection []ConnectionHandler
	onListening  []func(addr net.Addr)
	onClose      []func()
	onError      []func(err error)
}

// OnConnection registers h for new sockets.
func (s *Server) OnConnection(h ConnectionHandler) {
	s.hooks.mu.Lock()
	s.hooks.onConnection = append(s.hooks.onConnection, h)
	s.hooks.mu.Unlock()
}

// OnListening registers h for every listener that starts accepting.
func (s *Server) OnListening(h func(addr net.Addr)) {
	s.hooks.mu.Lock()
	s.hooks.onListening = append(s.hooks.onListening, h)
	s.hooks.mu.Unlock()
}

// OnClose registers h for when the server has closed.
func (s *Server) OnClose(h func()) {
	s.hooks.mu.Lock()
	s.hooks.onClose = append(s.hooks.onClose, h)
	s.hooks.mu.Unlock()
}

// OnError registers h for listener errors. Without any, errors are logged.
func (s *Server) OnError(h func(err error)) {
	s.hooks.mu.Lock()
	s.hooks.onError = append(s.hooks.onError, h)
	s.hooks.mu.Unlock()
}

func (h *hooks) connection(sock *Socket) {
	h.mu.RLock()
	handlers := h.onConnection
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(sock)
	}
}

func (h *hooks) listening(addr net.Addr) {
	h.mu.RLock()
	handlers := h.onListening
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(addr)
	}
}

func (h *hooks) close() {
	h.mu.RLock()
	handlers := h.onClose
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn()
	}
}

func (h *hooks) error(err error) int {
	h.mu.RLock()
	handlers := h.onError
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(err)
	}

	return len(handlers)
}
