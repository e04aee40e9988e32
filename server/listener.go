package server

import (
	"errors"
	"net"

	"go.uber.org/zap"
)

func (s *Server) acceptLoop(l net.Listener, log *zap.Logger) error {
	defer log.Info("Listener stopped")

	for {
		nc, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !s.isRunning() {
				// The listener was closed while we were waiting for new connections
				// that's fine.
				return nil
			}

			// TODO(rolly) can we recover from some classes of err?
			return err
		}

		if _, err := s.Accept(nc); err != nil {
			log.Warn("Failed to register connection",
				zap.Stringer("remoteAddr", nc.RemoteAddr()),
				zap.Error(err))
			nc.Close()
		}
	}
}
