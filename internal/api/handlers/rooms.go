package handlers

import (
	"net/http"

	"collab-service/internal/collab"
	"collab-service/internal/services"

	"github.com/gin-gonic/gin"
)

// RoomHandler serves presence reads: who is in a room right now and who is
// online across the service. Room state comes from the in-process
// registry; the online set comes from the Redis mirror so it covers every
// instance.
type RoomHandler struct {
	registry *collab.Registry
	mirror   *services.PresenceMirror
}

func NewRoomHandler(registry *collab.Registry, mirror *services.PresenceMirror) *RoomHandler {
	return &RoomHandler{
		registry: registry,
		mirror:   mirror,
	}
}

// GetMembers handles GET /api/v1/rooms/:id/members. Unknown rooms return
// empty lists, not 404: a room with no members and a room that never
// existed are the same thing.
func (h *RoomHandler) GetMembers(c *gin.Context) {
	roomID := c.Param("id")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room id is required"})
		return
	}

	members := h.registry.Snapshot(roomID)
	cursors := h.registry.Cursors(roomID)
	if cursors == nil {
		cursors = []collab.CursorState{}
	}

	c.JSON(http.StatusOK, gin.H{
		"roomId":  roomID,
		"members": members,
		"cursors": cursors,
	})
}

// GetOnline handles GET /api/v1/presence/online.
func (h *RoomHandler) GetOnline(c *gin.Context) {
	users, err := h.mirror.OnlineUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read presence"})
		return
	}
	if users == nil {
		users = []string{}
	}

	c.JSON(http.StatusOK, gin.H{"online": users})
}
