package collab

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// NewUpgrader builds the websocket upgrader with the configured set of
// allowed origins. Localhost variations are always accepted for
// development.
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")
		},
	}
}

// ServeWS upgrades the request and registers the connection with the hub.
// The caller has already resolved the identity; nothing reaches the hub
// for an unverified connection.
func ServeWS(hub *Hub, upgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, identity Identity) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade WebSocket connection", "userID", identity.ID, "error", err)
		return
	}

	client := newClient(hub, conn, identity)
	slog.Info("New WebSocket connection established", "clientID", client.ID(), "userID", identity.ID)

	select {
	case hub.register <- client:
	case <-time.After(5 * time.Second):
		slog.Error("Timeout sending registration request", "clientID", client.ID(), "userID", identity.ID)
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
