package transport

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/relay/protocol"
)

const (
	DefaultReconnectInterval = 1000 * time.Millisecond

	// DefaultHighWaterMark is the number of buffered outbound bytes at which
	// Send starts reporting backpressure.
	DefaultHighWaterMark = 16 * 1024

	// DefaultStreamBuffer is how many chunks an inbound stream holds before
	// the connection stops reading from the transport.
	DefaultStreamBuffer = 16

	readBufferSize = 64 * 1024
)

type Options struct {
	// Reconnect controls whether an unexpected close schedules a new connect
	Reconnect bool

	// ReconnectInterval is the delay before reconnecting
	ReconnectInterval time.Duration

	// AutoConnect starts connecting as soon as a client is constructed
	AutoConnect bool

	// UseQueue buffers messages sent while disconnected, they are flushed in
	// order on the next connect
	UseQueue bool

	// QueueSize bounds the queue, the oldest message is evicted on overflow.
	// Zero or less means unbounded.
	QueueSize int

	HighWaterMark int

	StreamBuffer int

	// Timeout closes the transport after this long without receiving
	// anything. Zero disables it.
	Timeout time.Duration

	// NoDelay, KeepAlive and KeepAlivePeriod are applied to TCP transports on
	// every (re)connect. Nil leaves the OS default.
	NoDelay         *bool
	KeepAlive       *bool
	KeepAlivePeriod time.Duration

	ObjectSerializer   protocol.ObjectSerializer
	ObjectDeserializer protocol.ObjectDeserializer

	Log *zap.Logger
}

// Option configures a connection.
type Option func(*Options)

// DefaultOptions returns the options of a client connection.
func DefaultOptions() Options {
	return Options{
		Reconnect:         true,
		ReconnectInterval: DefaultReconnectInterval,
		AutoConnect:       true,
		UseQueue:          true,
		QueueSize:         0,
		HighWaterMark:     DefaultHighWaterMark,
		StreamBuffer:      DefaultStreamBuffer,
	}
}

// ServerOptions returns the options of an accepted connection. Accepted
// connections never reconnect so they never queue either.
func ServerOptions() Options {
	opts := DefaultOptions()
	opts.Reconnect = false
	opts.AutoConnect = false
	opts.UseQueue = false

	return opts
}

// Apply applies opts in order.
func (o *Options) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}

func (o *Options) normalise() {
	if o.ReconnectInterval < 0 {
		o.ReconnectInterval = 0
	}

	if o.HighWaterMark <= 0 {
		o.HighWaterMark = DefaultHighWaterMark
	}

	if o.StreamBuffer <= 0 {
		o.StreamBuffer = DefaultStreamBuffer
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}

func WithReconnect(reconnect bool) Option {
	return func(o *Options) {
		o.Reconnect = reconnect
	}
}

func WithReconnectInterval(interval time.Duration) Option {
	return func(o *Options) {
		o.ReconnectInterval = interval
	}
}

func WithAutoConnect(autoConnect bool) Option {
	return func(o *Options) {
		o.AutoConnect = autoConnect
	}
}

func WithQueue(useQueue bool) Option {
	return func(o *Options) {
		o.UseQueue = useQueue
	}
}

func WithQueueSize(size int) Option {
	return func(o *Options) {
		o.QueueSize = size
	}
}

func WithHighWaterMark(bytes int) Option {
	return func(o *Options) {
		o.HighWaterMark = bytes
	}
}

func WithStreamBuffer(chunks int) Option {
	return func(o *Options) {
		o.StreamBuffer = chunks
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.Timeout = timeout
	}
}

func WithNoDelay(noDelay bool) Option {
	return func(o *Options) {
		o.NoDelay = &noDelay
	}
}

func WithKeepAlive(enable bool, period time.Duration) Option {
	return func(o *Options) {
		o.KeepAlive = &enable
		o.KeepAlivePeriod = period
	}
}

func WithObjectSerializer(serializer protocol.ObjectSerializer) Option {
	return func(o *Options) {
		o.ObjectSerializer = serializer
	}
}

func WithObjectDeserializer(deserializer protocol.ObjectDeserializer) Option {
	return func(o *Options) {
		o.ObjectDeserializer = deserializer
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(o *Options) {
		o.Log = log
	}
}
