// Package ws upgrades HTTP requests to WebSocket sessions.
package ws

import (
	"net/http"

	"github.com/gorilla/websocket"

	"voice-relay-service/internal/observability/logging"
	"voice-relay-service/internal/service/session"
)

// Server is the /ws endpoint.
type Server struct {
	sessions *session.Handler
	upgrader websocket.Upgrader
}

// NewServer wraps a session handler. Any origin is accepted; the browser
// client is usually served from the same host but may be proxied.
func NewServer(sessions *session.Handler) *Server {
	return &Server{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and blocks for the session lifetime.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		logger := logging.WithComponent("ws")
		logger.Debug().Err(err).
			Str("remoteAddr", r.RemoteAddr).
			Msg("WebSocket upgrade failed")
		return
	}
	s.sessions.Serve(conn)
}
