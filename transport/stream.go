package transport

import (
	"context"
	"io"
	"sync"

	"github.com/luma/relay/protocol"
)

var (
	_ io.WriteCloser = (*StreamWriter)(nil)
	_ io.ReadCloser  = (*StreamReader)(nil)
)

// StreamWriter is the sending half of a stream. Every Write becomes one
// DATA_STREAM chunk, Close sends DATA_STREAM_CLOSE.
type StreamWriter struct {
	conn  *Conn
	id    uint32
	event string

	mu     sync.Mutex
	closed bool
}

func (w *StreamWriter) ID() uint32 {
	return w.id
}

// Write sends p as a single chunk. When the connection reports backpressure
// Write blocks until its outbound buffer drains.
func (w *StreamWriter) Write(p []byte) (int, error) {
	return w.WriteContext(context.Background(), p)
}

// WriteContext is Write with a bound on how long it waits for the
// connection to drain.
func (w *StreamWriter) WriteContext(ctx context.Context, p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrStreamClosed
	}

	if err := w.conn.closedErr(); err != nil {
		return 0, err
	}

	ok, drain, err := w.conn.send(w.event, protocol.Binary(p), protocol.MTDataStream, &SendOptions{MessageID: w.id})
	if err != nil {
		return 0, err
	}

	if !ok {
		if err := w.conn.waitDrain(ctx, drain); err != nil {
			return 0, err
		}
	}

	return len(p), nil
}

// Close ends the stream on the remote side. It is safe to call more than once.
func (w *StreamWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true

	_, err := w.conn.Send(w.event, nil, protocol.MTDataStreamClose, &SendOptions{MessageID: w.id})
	return err
}

// StreamReader is the receiving half of a stream. Chunks are buffered up to
// the connection's StreamBuffer, after which the connection stops reading
// until the consumer catches up.
//
// Read returns io.EOF once the sender closed the stream, and
// io.ErrUnexpectedEOF if the connection closed first.
type StreamReader struct {
	id uint32

	chunks chan []byte

	// err is set before chunks is closed.
	err error

	abandoned   chan struct{}
	abandonOnce sync.Once

	pending []byte
}

func newStreamReader(id uint32, buffer int) *StreamReader {
	return &StreamReader{
		id:        id,
		chunks:    make(chan []byte, buffer),
		abandoned: make(chan struct{}),
	}
}

func (r *StreamReader) ID() uint32 {
	return r.id
}

func (r *StreamReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		chunk, ok := <-r.chunks
		if !ok {
			return 0, r.err
		}

		r.pending = chunk
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]

	return n, nil
}

// ReadChunk returns the next chunk as it was written by the sender.
func (r *StreamReader) ReadChunk() ([]byte, error) {
	if len(r.pending) > 0 {
		chunk := r.pending
		r.pending = nil
		return chunk, nil
	}

	chunk, ok := <-r.chunks
	if !ok {
		return nil, r.err
	}

	return chunk, nil
}

// Close abandons the stream. Chunks that arrive afterwards are discarded.
func (r *StreamReader) Close() error {
	r.abandonOnce.Do(func() {
		close(r.abandoned)
	})

	return nil
}

// push is only called from the read loop.
func (r *StreamReader) push(chunk []byte, kill <-chan struct{}) {
	select {
	case r.chunks <- chunk:
	case <-r.abandoned:
	case <-kill:
	}
}

// finish is called exactly once, after the reader has been removed from its
// connection.
func (r *StreamReader) finish(err error) {
	r.err = err
	close(r.chunks)
}
