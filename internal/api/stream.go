package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleRunStream pushes every RunEvent to the client as a JSON text frame.
// All writes happen on the handler goroutine.
func (s *Server) handleRunStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error
			s.logger.Warn("Websocket upgrade failed", slog.Any("error", err))
			return
		}
		defer conn.Close()

		events, unsubscribe := s.hub.Subscribe()
		defer unsubscribe()

		// The read loop only drains control frames and detects disconnects.
		done := make(chan struct{})
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		s.logger.Info("Run stream subscriber connected", slog.String("remote", r.RemoteAddr))
		for {
			select {
			case <-done:
				s.logger.Info("Run stream subscriber disconnected", slog.String("remote", r.RemoteAddr))
				return
			case <-r.Context().Done():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case ev, ok := <-events:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
		}
	}
}
