package audit

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader matches agent-warden's permissive dev-mode CORS posture for
// its dashboard websocket; the audit tail is a local operator tool,
// not a public surface.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WatchHandler upgrades an HTTP request to a websocket connection that
// streams every newly appended audit line. It is an additive operator
// convenience (skillbox serve --watch); it never affects the sink's
// file-writing behavior or failure semantics.
func (s *Sink) WatchHandler(logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("audit watch upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		lines, unsubscribe := s.Subscribe(64)
		defer unsubscribe()

		for line := range lines {
			if err := conn.WriteMessage(websocket.TextMessage, line); err != nil {
				return
			}
		}
	}
}
