package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/luma/relay/transport"
)

// WebsocketHandler upgrades requests to websockets and registers them as
// sockets. The relay protocol is carried unchanged in binary messages.
func (s *Server) WebsocketHandler(upgrader *websocket.Upgrader) http.Handler {
	if upgrader == nil {
		upgrader = &websocket.Upgrader{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied with an error status
			s.logger().Debug("Failed to upgrade websocket", zap.Error(err))
			return
		}

		if _, err := s.Accept(transport.NewWebsocketConn(ws)); err != nil {
			s.logger().Warn("Failed to register websocket", zap.Error(err))
			ws.Close()
		}
	})
}
