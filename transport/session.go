package transport

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/relay/protocol"
)

// session is the lifetime of one transport. A client connection gets a new
// session on every (re)connect, so loops of a dead transport can never touch
// the current one.
//
// outbox, buffered, needDrain and ending are guarded by the owning Conn's mu.
type session struct {
	nc net.Conn

	outbox    [][]byte
	buffered  int
	needDrain bool
	ending    bool

	wake chan struct{}

	// kill is closed once the transport is closed. err is the reason, set
	// before kill is closed.
	kill     chan struct{}
	killOnce sync.Once
	err      error
}

func newSession(nc net.Conn) *session {
	return &session{
		nc:   nc,
		wake: make(chan struct{}, 1),
		kill: make(chan struct{}),
	}
}

// enqueue adds frame to the outbox and reports whether the buffered bytes
// are still below hwm.
func (s *session) enqueue(frame []byte, hwm int) bool {
	s.outbox = append(s.outbox, frame)
	s.buffered += len(frame)
	s.wakeup()

	if s.buffered >= hwm {
		s.needDrain = true
		return false
	}

	return true
}

func (s *session) wakeup() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// fail closes the transport, recording err as the reason if it is the first.
func (s *session) fail(err error) {
	s.killOnce.Do(func() {
		s.err = err
		s.nc.Close()
		close(s.kill)
	})
}

func (s *session) close() {
	s.fail(nil)
}

func (s *session) isRunning() bool {
	select {
	case <-s.kill:
		return false

	default:
		return true
	}
}

// closeWrite half closes the transport once everything was flushed. The read
// loop keeps going until the remote closes its end.
func (s *session) closeWrite(log *zap.Logger) {
	cw, ok := s.nc.(interface{ CloseWrite() error })
	if !ok {
		s.close()
		return
	}

	err := cw.CloseWrite()
	if err != nil && !strings.Contains(err.Error(), "transport endpoint is not connected") {
		log.Warn("Failed to close writes on connection cleanly",
			zap.Error(err))
		s.close()
	}
}

func (c *Conn) writeLoop(s *session) {
	log := c.log.Named("writeLoop")

	for {
		select {
		case <-s.kill:
			return

		case <-s.wake:
		}

		for {
			c.mu.Lock()
			batch := s.outbox
			s.outbox = nil
			ending := s.ending
			c.mu.Unlock()

			if len(batch) == 0 {
				if ending {
					log.Debug("Outbox flushed, ending connection")
					s.closeWrite(log)
					return
				}
				break
			}

			written := 0
			for _, frame := range batch {
				written += len(frame)
			}

			bufs := net.Buffers(batch)
			if _, err := bufs.WriteTo(s.nc); err != nil {
				if s.isRunning() {
					log.Warn("Failed to write to connection", zap.Error(err))
				}
				s.fail(err)
				return
			}

			c.mu.Lock()
			s.buffered -= written
			drained := s.buffered == 0 && s.needDrain
			if drained {
				s.needDrain = false
				c.signalDrainLocked()
			}
			c.mu.Unlock()

			if drained {
				c.notify(NotifyDrain, nil)
			}
		}
	}
}

func (c *Conn) readLoop(s *session) {
	log := c.log.Named("readLoop")
	reader := protocol.NewFrameReader()
	buf := make([]byte, readBufferSize)

	var err error
	for {
		if c.opts.Timeout > 0 {
			if derr := s.nc.SetReadDeadline(time.Now().Add(c.opts.Timeout)); derr != nil {
				log.Debug("Failed to set read deadline", zap.Error(derr))
			}
		}

		var n int
		n, err = s.nc.Read(buf)
		if n > 0 {
			for _, frame := range reader.Feed(buf[:n]) {
				msg, derr := c.codec.Decode(frame)
				if derr != nil {
					c.emitError(fmt.Errorf("Failed to decode message: %w", derr))
					continue
				}

				c.dispatch(s, msg)
			}
		}

		if err != nil {
			break
		}
	}

	c.handleClose(s, err)
}
