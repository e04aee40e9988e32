package transport

// queuedFrame is an encoded frame waiting for a connection. id is the message
// id of the ack it registered, or 0.
type queuedFrame struct {
	frame []byte
	id    uint32
}

// Queue is a FIFO of encoded frames, used while a connection is down. When it
// is bounded and full, pushing evicts the oldest frame.
//
// Queue is not safe for concurrent use, Conn guards it with its own lock.
type Queue struct {
	size   int
	frames []queuedFrame
}

// NewQueue returns a queue holding at most size frames. Zero or less means
// unbounded.
func NewQueue(size int) *Queue {
	return &Queue{size: size}
}

// Push appends frame. If that overflowed the queue, evicted is true and
// evictedID is the ack id of the dropped frame, 0 when it had none.
func (q *Queue) Push(frame []byte, id uint32) (evictedID uint32, evicted bool) {
	if q.size > 0 && len(q.frames)+1 > q.size {
		evictedID, evicted = q.frames[0].id, true
		q.frames[0] = queuedFrame{}
		q.frames = q.frames[1:]
	}

	q.frames = append(q.frames, queuedFrame{frame: frame, id: id})
	return evictedID, evicted
}

// drain returns every queued frame in order and empties the queue.
func (q *Queue) drain() []queuedFrame {
	frames := q.frames
	q.frames = nil
	return frames
}

// Frames returns the queued frames in order without removing them.
func (q *Queue) Frames() [][]byte {
	out := make([][]byte, len(q.frames))
	for i, f := range q.frames {
		out[i] = f.frame
	}

	return out
}

func (q *Queue) Len() int {
	return len(q.frames)
}
