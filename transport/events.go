package transport

import (
	"sync"

	"github.com/luma/relay/protocol"
)

// Event is an application event received from the remote peer.
type Event struct {
	Name string
	Data protocol.Value

	// Ack replies to the sender. It is nil unless the sender asked for an
	// acknowledgement.
	Ack AckFunc

	// Stream delivers the chunks of a stream event, it is nil for plain
	// events. A stream has a single consumer: only the first handler of the
	// event receives it.
	Stream *StreamReader
}

// Handler handles application events. Handlers run on the connection's read
// goroutine, in the order messages arrived, so they must not block on the
// connection. A stream handler hands ev.Stream to its own goroutine, the
// chunks are only read in once the handler returns.
type Handler func(ev *Event)

// AckHandler receives the payload of an acknowledgement.
type AckHandler func(data protocol.Value)

// AckFunc sends an acknowledgement. Only the first call sends anything.
type AckFunc func(data interface{}) error

// Emitter is an observer list per application event name.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[string][]Handler)}
}

// On registers h for event.
func (e *Emitter) On(event string, h Handler) {
	e.mu.Lock()
	e.handlers[event] = append(e.handlers[event], h)
	e.mu.Unlock()
}

// Off removes every handler of event.
func (e *Emitter) Off(event string) {
	e.mu.Lock()
	delete(e.handlers, event)
	e.mu.Unlock()
}

// Emit calls the handlers of ev.Name in registration order and returns how
// many there were.
func (e *Emitter) Emit(ev *Event) int {
	e.mu.RLock()
	handlers := e.handlers[ev.Name]
	e.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}

	return len(handlers)
}

// EmitFirst calls only the first handler of ev.Name. It reports whether
// there was one.
func (e *Emitter) EmitFirst(ev *Event) bool {
	e.mu.RLock()
	handlers := e.handlers[ev.Name]
	e.mu.RUnlock()

	if len(handlers) == 0 {
		return false
	}

	handlers[0](ev)
	return true
}

func (e *Emitter) ListenerCount(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.handlers[event])
}

// Notification names a connection lifecycle event.
type Notification string

const (
	// NotifyConnect fires once a client has been registered by the server.
	NotifyConnect Notification = "connect"

	// NotifySocketConnect fires when the transport connects, after the
	// queue has been flushed.
	NotifySocketConnect Notification = "socket_connect"
	NotifyReconnecting  Notification = "reconnecting"

	// NotifyDrain fires when the outbound buffer empties after Send
	// reported backpressure.
	NotifyDrain Notification = "socket_drain"

	// NotifyQueueFull fires when a queued message was evicted.
	NotifyQueueFull Notification = "queue_full"
	NotifyEnd       Notification = "end"
	NotifyClose     Notification = "close"
	NotifyError     Notification = "error"
	NotifyTimeout   Notification = "timeout"
)

// NotificationHandler handles a lifecycle notification. err is only set for
// NotifyError.
type NotificationHandler func(err error)

type notifier struct {
	mu       sync.RWMutex
	handlers map[Notification][]NotificationHandler
}

func newNotifier() *notifier {
	return &notifier{handlers: make(map[Notification][]NotificationHandler)}
}

func (n *notifier) on(kind Notification, h NotificationHandler) {
	n.mu.Lock()
	n.handlers[kind] = append(n.handlers[kind], h)
	n.mu.Unlock()
}

func (n *notifier) notify(kind Notification, err error) int {
	n.mu.RLock()
	handlers := n.handlers[kind]
	n.mu.RUnlock()

	for _, h := range handlers {
		h(err)
	}

	return len(handlers)
}
