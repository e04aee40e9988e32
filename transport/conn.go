package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/luma/relay/protocol"
)

var _ io.Closer = (*Conn)(nil)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MessageHandler receives the messages a Conn does not handle itself, such
// as REGISTER on a client or the routed and room messages on a server. It
// runs on the read goroutine.
type MessageHandler func(msg *protocol.Message)

// SendOptions are the per message knobs of Send.
type SendOptions struct {
	// MessageID reuses an existing id, for acks and stream chunks. Zero
	// allocates a new id when the message type needs one.
	MessageID uint32

	Ack AckHandler

	Targets []string
	Except  []string
}

type pendingAck struct {
	handler AckHandler

	// written is set once the requesting frame was handed to a transport.
	written bool
}

// Conn is one end of a relay connection. It frames messages over a
// transport, correlates acks, multiplexes streams, and for client
// connections queues messages and reconnects.
type Conn struct {
	opts    Options
	codec   *protocol.Codec
	log     *zap.Logger
	dial    Dialer
	handler MessageHandler

	events   *Emitter
	notifier *notifier

	mu             sync.Mutex
	state          State
	manuallyClosed bool
	session        *session
	queue          *Queue
	acks           map[uint32]*pendingAck
	streams        map[uint32]*StreamReader
	messageID      uint32
	reconnectTimer *time.Timer

	// drain is closed and replaced whenever writers blocked on backpressure
	// should look at the connection again.
	drain chan struct{}
}

// NewConn returns a client connection that opens its transport with dial. It
// stays disconnected until Connect is called.
func NewConn(dial Dialer, handler MessageHandler, opts ...Option) *Conn {
	options := DefaultOptions()
	options.Apply(opts...)

	c := newConn(options, handler)
	c.dial = dial

	return c
}

// NewServerConn wraps an accepted transport. Nothing is read until Start is
// called, which lets the caller register the connection first.
func NewServerConn(nc net.Conn, handler MessageHandler, opts ...Option) *Conn {
	options := ServerOptions()
	options.Apply(opts...)

	c := newConn(options, handler)
	c.configure(nc)
	c.session = newSession(nc)
	c.state = StateConnected

	return c
}

func newConn(opts Options, handler MessageHandler) *Conn {
	opts.normalise()

	return &Conn{
		opts:     opts,
		codec:    protocol.NewCodec(opts.ObjectSerializer, opts.ObjectDeserializer),
		log:      opts.Log,
		handler:  handler,
		events:   NewEmitter(),
		notifier: newNotifier(),
		state:    StateDisconnected,
		queue:    NewQueue(opts.QueueSize),
		acks:     make(map[uint32]*pendingAck),
		streams:  make(map[uint32]*StreamReader),
		drain:    make(chan struct{}),
	}
}

// Start begins reading and writing an accepted transport.
func (c *Conn) Start() {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	if s == nil {
		return
	}

	go c.writeLoop(s)
	go c.readLoop(s)
}

func (c *Conn) Options() Options {
	return c.opts
}

func (c *Conn) Codec() *protocol.Codec {
	return c.codec
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Conn) IsConnected() bool {
	return c.State() == StateConnected
}

// RemoteAddr returns the address of the current transport, or nil when
// disconnected.
func (c *Conn) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return nil
	}

	return c.session.nc.RemoteAddr()
}

// Queued returns how many messages are waiting for a connection.
func (c *Conn) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.queue.Len()
}

// PendingAcks returns how many acks are still expected.
func (c *Conn) PendingAcks() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.acks)
}

// On registers h for the application event.
func (c *Conn) On(event string, h Handler) {
	c.events.On(event, h)
}

func (c *Conn) Off(event string) {
	c.events.Off(event)
}

// OnNotify registers h for a lifecycle notification.
func (c *Conn) OnNotify(kind Notification, h NotificationHandler) {
	c.notifier.on(kind, h)
}

// Notify fires a lifecycle notification. It lets the peer roles built on
// Conn raise the notifications that depend on their own messages.
func (c *Conn) Notify(kind Notification, err error) {
	if kind == NotifyError {
		c.emitError(err)
		return
	}

	c.notify(kind, nil)
}

func (c *Conn) notify(kind Notification, err error) {
	c.notifier.notify(kind, err)
}

// emitError surfaces err to the error listeners, it is logged when there are
// none.
func (c *Conn) emitError(err error) {
	if c.notifier.notify(NotifyError, err) == 0 {
		c.log.Error("Unhandled connection error", zap.Error(err))
	}
}

// Connect opens a new transport. It does nothing unless the connection is
// disconnected, and clears a previous End or Destroy.
func (c *Conn) Connect() {
	c.mu.Lock()
	if c.state != StateDisconnected || c.dial == nil {
		c.mu.Unlock()
		return
	}

	c.state = StateConnecting
	c.manuallyClosed = false
	c.stopReconnectLocked()
	c.mu.Unlock()

	go c.dialAndAttach()
}

func (c *Conn) dialAndAttach() {
	ctx := context.Background()
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	nc, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		reconnect := c.opts.Reconnect && !c.manuallyClosed
		c.signalDrainLocked()
		c.mu.Unlock()

		if errors.Is(err, context.DeadlineExceeded) {
			c.notify(NotifyTimeout, nil)
			err = ErrTimeout
		}

		c.emitError(fmt.Errorf("Failed to connect: %w", err))

		if reconnect {
			c.scheduleReconnect()
		}

		c.notify(NotifyClose, nil)
		return
	}

	c.mu.Lock()
	if c.manuallyClosed {
		c.state = StateDisconnected
		c.mu.Unlock()
		nc.Close()
		return
	}

	c.configure(nc)
	s := newSession(nc)
	c.session = s
	c.state = StateConnected

	for _, qf := range c.queue.drain() {
		s.enqueue(qf.frame, c.opts.HighWaterMark)
		if a, ok := c.acks[qf.id]; ok && qf.id != 0 {
			a.written = true
		}
	}

	c.signalDrainLocked()
	c.mu.Unlock()

	go c.writeLoop(s)

	c.notify(NotifySocketConnect, nil)

	go c.readLoop(s)
}

func (c *Conn) configure(nc net.Conn) {
	tcp, ok := nc.(*net.TCPConn)
	if !ok {
		return
	}

	if c.opts.NoDelay != nil {
		if err := tcp.SetNoDelay(*c.opts.NoDelay); err != nil {
			c.log.Warn("Failed to set no delay", zap.Error(err))
		}
	}

	if c.opts.KeepAlive != nil {
		if err := tcp.SetKeepAlive(*c.opts.KeepAlive); err != nil {
			c.log.Warn("Failed to set keep alive", zap.Error(err))
		}

		if *c.opts.KeepAlive && c.opts.KeepAlivePeriod > 0 {
			if err := tcp.SetKeepAlivePeriod(c.opts.KeepAlivePeriod); err != nil {
				c.log.Warn("Failed to set keep alive period", zap.Error(err))
			}
		}
	}
}

// End flushes what is already buffered and then closes the transport. It
// will not reconnect, pending acks are dropped.
func (c *Conn) End() {
	c.mu.Lock()
	c.manuallyClosed = true
	c.stopReconnectLocked()
	c.acks = make(map[uint32]*pendingAck)

	s := c.session
	if s != nil {
		s.ending = true
		s.wakeup()
	}
	c.mu.Unlock()
}

// Destroy closes the transport immediately, discarding anything buffered.
// It will not reconnect, pending acks are dropped.
func (c *Conn) Destroy() {
	c.mu.Lock()
	c.manuallyClosed = true
	c.stopReconnectLocked()
	c.acks = make(map[uint32]*pendingAck)
	s := c.session
	c.mu.Unlock()

	if s != nil {
		s.close()
	}
}

// Close is Destroy.
func (c *Conn) Close() error {
	c.Destroy()
	return nil
}

func (c *Conn) handleClose(s *session, err error) {
	s.close()
	if s.err != nil {
		err = s.err
	}

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}

	c.session = nil
	c.state = StateDisconnected

	streams := c.streams
	c.streams = make(map[uint32]*StreamReader)

	// Acks whose request may have reached the remote can no longer be
	// answered. Those still queued get another chance after reconnecting.
	for id, a := range c.acks {
		if a.written {
			delete(c.acks, id)
		}
	}

	manual := c.manuallyClosed
	reconnect := c.opts.Reconnect && !manual
	c.signalDrainLocked()
	c.mu.Unlock()

	for _, r := range streams {
		r.finish(io.ErrUnexpectedEOF)
	}

	var netErr net.Error
	switch {
	case err == nil || errors.Is(err, io.EOF):
		c.notify(NotifyEnd, nil)

	case errors.As(err, &netErr) && netErr.Timeout():
		c.log.Debug("Connection timed out", zap.Duration("timeout", c.opts.Timeout))
		c.notify(NotifyTimeout, nil)
		c.emitError(ErrTimeout)

	case manual && (errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)):
		// Closed by Destroy.

	default:
		c.emitError(err)
	}

	if reconnect {
		c.scheduleReconnect()
	}

	c.notify(NotifyClose, nil)
}

func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.manuallyClosed || c.reconnectTimer != nil {
		return
	}

	c.reconnectTimer = time.AfterFunc(c.opts.ReconnectInterval, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		cancelled := c.manuallyClosed
		c.mu.Unlock()

		if cancelled {
			return
		}

		c.notify(NotifyReconnecting, nil)
		c.Connect()
	})
}

func (c *Conn) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Conn) signalDrainLocked() {
	close(c.drain)
	c.drain = make(chan struct{})
}

// nextMessageIDLocked skips 0, which means "no id" on the wire.
func (c *Conn) nextMessageIDLocked() uint32 {
	if c.messageID == math.MaxUint32 {
		c.messageID = 0
	}

	c.messageID++
	return c.messageID
}

// Send encodes and sends one message. data is converted with
// protocol.FromNative.
//
// While disconnected the message is queued when the queue is enabled and
// dropped otherwise. The returned bool is false when the message was not
// written straight away or the outbound buffer is over its high water mark.
func (c *Conn) Send(event string, data interface{}, mt protocol.MessageType, opts *SendOptions) (bool, error) {
	ok, _, err := c.send(event, data, mt, opts)
	return ok, err
}

// send is Send that also returns the drain channel current at the time of
// sending, so a writer told to back off cannot miss the drain.
func (c *Conn) send(event string, data interface{}, mt protocol.MessageType, opts *SendOptions) (bool, <-chan struct{}, error) {
	if opts == nil {
		opts = &SendOptions{}
	}

	id := opts.MessageID
	if id == 0 && (opts.Ack != nil || mt == protocol.MTDataWithAck || mt.IsStreamOpen()) {
		c.mu.Lock()
		id = c.nextMessageIDLocked()
		c.mu.Unlock()
	}

	frame, err := c.codec.Encode(&protocol.Message{
		Type:    mt,
		ID:      id,
		Event:   event,
		Targets: opts.Targets,
		Except:  opts.Except,
		Data:    protocol.FromNative(data),
	})
	if err != nil {
		return false, nil, fmt.Errorf("Failed to encode %s %q: %w", mt, event, err)
	}

	var ackID uint32
	if opts.Ack != nil {
		ackID = id
	}

	c.mu.Lock()
	if ackID != 0 {
		c.acks[ackID] = &pendingAck{handler: opts.Ack}
	}

	drain := c.drain

	switch {
	case c.state == StateConnected:
		if ackID != 0 {
			c.acks[ackID].written = true
		}

		ok := c.session.enqueue(frame, c.opts.HighWaterMark)
		c.mu.Unlock()
		return ok, drain, nil

	case c.opts.UseQueue:
		evictedID, evicted := c.queue.Push(frame, ackID)
		if evicted && evictedID != 0 {
			delete(c.acks, evictedID)
		}
		c.mu.Unlock()

		if evicted {
			c.notify(NotifyQueueFull, nil)
		}
		return false, drain, nil

	default:
		if ackID != 0 {
			delete(c.acks, ackID)
		}
		c.mu.Unlock()

		c.log.Debug("Dropped message while disconnected",
			zap.String("event", event),
			zap.Stringer("type", mt))
		return false, drain, nil
	}
}

// SendStream opens a stream by sending a stream open message of type mt, and
// returns the writer for its chunks.
func (c *Conn) SendStream(event string, data interface{}, mt protocol.MessageType, opts *SendOptions) (*StreamWriter, error) {
	o := SendOptions{}
	if opts != nil {
		o = *opts
	}

	c.mu.Lock()
	o.MessageID = c.nextMessageIDLocked()
	c.mu.Unlock()

	if _, err := c.Send(event, data, mt, &o); err != nil {
		return nil, err
	}

	return &StreamWriter{conn: c, id: o.MessageID, event: event}, nil
}

// waitDrain blocks until drain fires, then reports whether writing can go
// on.
func (c *Conn) waitDrain(ctx context.Context, drain <-chan struct{}) error {
	if err := c.closedErr(); err != nil {
		return err
	}

	select {
	case <-drain:
	case <-ctx.Done():
		return ctx.Err()
	}

	return c.closedErr()
}

// closedErr returns ErrConnClosed once nothing sent will ever be written.
func (c *Conn) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.manuallyClosed || (c.state == StateDisconnected && !c.opts.Reconnect) {
		return ErrConnClosed
	}

	return nil
}

// OpenStream registers a reader for the stream with the given id, chunks
// with that id are delivered to it until the stream closes.
func (c *Conn) OpenStream(id uint32) *StreamReader {
	r := newStreamReader(id, c.opts.StreamBuffer)

	c.mu.Lock()
	prev := c.streams[id]
	c.streams[id] = r
	c.mu.Unlock()

	if prev != nil {
		prev.finish(io.ErrUnexpectedEOF)
	}

	return r
}

// Streams returns how many inbound streams are open.
func (c *Conn) Streams() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.streams)
}

func (c *Conn) dispatch(s *session, msg *protocol.Message) {
	switch msg.Type {
	case protocol.MTData:
		c.events.Emit(&Event{Name: msg.Event, Data: msg.Data})

	case protocol.MTDataWithAck:
		c.events.Emit(&Event{Name: msg.Event, Data: msg.Data, Ack: c.ackFunc(msg.ID)})

	case protocol.MTDataStreamOpen, protocol.MTDataStreamOpenWithAck:
		ev := &Event{Name: msg.Event, Data: msg.Data, Stream: c.OpenStream(msg.ID)}
		if msg.Type == protocol.MTDataStreamOpenWithAck {
			ev.Ack = c.ackFunc(msg.ID)
		}

		c.emitStream(ev)

	case protocol.MTDataStream:
		c.mu.Lock()
		r := c.streams[msg.ID]
		c.mu.Unlock()

		if r == nil {
			c.log.Debug("Dropping chunk of unknown stream", zap.Uint32("id", msg.ID))
			return
		}

		r.push(msg.Data.AsBytes(), s.kill)

	case protocol.MTDataStreamClose:
		c.mu.Lock()
		r := c.streams[msg.ID]
		delete(c.streams, msg.ID)
		c.mu.Unlock()

		if r != nil {
			r.finish(io.EOF)
		}

	case protocol.MTAck:
		c.mu.Lock()
		a, ok := c.acks[msg.ID]
		delete(c.acks, msg.ID)
		c.mu.Unlock()

		if !ok {
			c.log.Debug("Dropping ack without a request", zap.Uint32("id", msg.ID))
			return
		}

		a.handler(msg.Data)

	case protocol.MTError:
		c.emitError(fmt.Errorf("%w: %s", protocol.ErrVersionMismatch, msg.Data.AsString()))

	default:
		if c.handler == nil {
			c.log.Debug("Dropping unhandled message",
				zap.Stringer("type", msg.Type),
				zap.String("event", msg.Event))
			return
		}

		c.handler(msg)
	}
}

// emitStream hands the stream to the first handler of its event, a stream
// nobody listens to is discarded.
func (c *Conn) emitStream(ev *Event) {
	if !c.events.EmitFirst(ev) {
		ev.Stream.Close()
	}
}

func (c *Conn) ackFunc(id uint32) AckFunc {
	var sent int32

	return func(data interface{}) error {
		if !atomic.CompareAndSwapInt32(&sent, 0, 1) {
			return ErrAckSent
		}

		_, err := c.Send("", data, protocol.MTAck, &SendOptions{MessageID: id})
		return err
	}
}
