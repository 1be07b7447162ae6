package handlers

import (
	"log/slog"
	"net/http"

	"collab-service/internal/auth"
	"collab-service/internal/collab"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WSHandler verifies the handshake token and hands the connection to the
// collaboration hub.
type WSHandler struct {
	hub      *collab.Hub
	verifier *auth.TokenVerifier
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *collab.Hub, verifier *auth.TokenVerifier, upgrader websocket.Upgrader) *WSHandler {
	return &WSHandler{
		hub:      hub,
		verifier: verifier,
		upgrader: upgrader,
	}
}

// Connect handles GET /api/v1/ws. The token rides a query parameter
// because browser WebSocket clients cannot set an Authorization header on
// the upgrade request.
func (h *WSHandler) Connect(c *gin.Context) {
	token := c.Query("token")
	identity, err := h.verifier.Verify(c.Request.Context(), token)
	if err != nil {
		slog.Warn("Rejecting WebSocket handshake", "remoteAddr", c.ClientIP(), "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}

	collab.ServeWS(h.hub, h.upgrader, c.Writer, c.Request, *identity)
}
