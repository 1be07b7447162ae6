package collab

import (
	"context"
	"log/slog"
	"time"
)

// PresenceMirror receives best-effort copies of presence transitions for
// out-of-process visibility. Implementations must not block; the hub calls
// these inline on its dispatch goroutine.
type PresenceMirror interface {
	UserOnline(userID string)
	UserOffline(userID string)
	RoomJoined(roomID, userID string)
	RoomLeft(roomID, userID string)
}

// ActivityRecorder receives section-update and comment activity for
// downstream consumers. Implementations must not block.
type ActivityRecorder interface {
	Record(event *Event)
}

type clientIntent struct {
	client *Client
	intent *Intent
}

// Hub is the session gateway. A single goroutine owns every membership
// mutation, so each mutate-snapshot-broadcast sequence runs atomically
// with respect to all others and no broadcast ever carries a stale
// presence snapshot.
type Hub struct {
	registry    *Registry
	broadcaster *Broadcaster

	// Register requests from new connections
	register chan *Client

	// Unregister requests from closing connections
	unregister chan *Client

	// Validated intents from client read pumps
	intents chan clientIntent

	mirror   PresenceMirror   // optional
	activity ActivityRecorder // optional

	metrics *Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(mirror PresenceMirror, activity ActivityRecorder, metrics *Metrics, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	registry := NewRegistry()
	return &Hub{
		registry:    registry,
		broadcaster: NewBroadcaster(registry, metrics, logger),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		intents:     make(chan clientIntent, 64),
		mirror:      mirror,
		activity:    activity,
		metrics:     metrics,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Registry exposes the presence state for HTTP read paths.
func (h *Hub) Registry() *Registry {
	return h.registry
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case ci := <-h.intents:
			h.handleIntent(ci.client, ci.intent)

		case <-h.ctx.Done():
			h.logger.Info("Collaboration hub shutting down")
			return
		}
	}
}

func (h *Hub) Stop() {
	h.cancel()
}

// handleRegister binds the connection to its identity. An identity holds
// at most one connection: a prior handle is evicted from every room with
// user-left broadcasts, then closed, so no orphaned membership survives
// the overwrite.
func (h *Hub) handleRegister(c *Client) {
	prev := h.registry.RegisterConnection(c)
	if prev != nil {
		h.logger.Info("Evicting superseded connection",
			"userID", c.UserID(), "oldClientID", prev.ID(), "newClientID", c.ID())
		h.teardown(prev)
		prev.close()
		prev.closeSend()
	}

	h.logger.Info("Client registered", "clientID", c.ID(), "userID", c.UserID())

	if h.mirror != nil {
		h.mirror.UserOnline(c.UserID())
	}
	h.metrics.ConnectionsOpen.Set(float64(h.registry.ConnectionCount()))
}

// handleUnregister runs the disconnect transition. A stale handle that was
// already evicted by a newer connection tears nothing down.
func (h *Hub) handleUnregister(c *Client) {
	if !h.registry.Unregister(c) {
		c.closeSend()
		return
	}

	h.teardown(c)

	if h.mirror != nil {
		h.mirror.UserOffline(c.UserID())
	}
	c.closeSend()

	h.logger.Info("Client unregistered", "clientID", c.ID(), "userID", c.UserID())
	h.metrics.ConnectionsOpen.Set(float64(h.registry.ConnectionCount()))
	h.metrics.RoomsActive.Set(float64(h.registry.RoomCount()))
}

// teardown removes the identity from every room it belonged to and
// broadcasts one user-left per affected room, each carrying the
// post-removal snapshot.
func (h *Hub) teardown(c *Client) {
	userID := c.UserID()
	for _, rs := range h.registry.Drop(userID) {
		h.broadcaster.Broadcast(rs.RoomID, NewUserLeftEvent(rs.RoomID, userID, rs.Members), "")
		if h.mirror != nil {
			h.mirror.RoomLeft(rs.RoomID, userID)
		}
	}
}

func (h *Hub) handleIntent(c *Client, in *Intent) {
	switch in.Type {
	case IntentJoinProposal:
		h.handleJoin(c, in)
	case IntentLeaveProposal:
		h.handleLeave(c, in)
	case IntentSectionUpdate:
		h.handleSectionUpdate(c, in)
	case IntentCursorMove:
		h.handleCursorMove(c, in)
	case IntentAddComment:
		h.handleComment(c, in)
	}
}

func (h *Hub) handleJoin(c *Client, in *Intent) {
	snapshot := h.registry.Join(in.ProposalID, c.Identity())

	// The joining member receives its own join confirmation with the full
	// snapshot, like everyone else in the room.
	h.broadcaster.Broadcast(in.ProposalID, NewUserJoinedEvent(in.ProposalID, c.Identity(), snapshot), "")

	if h.mirror != nil {
		h.mirror.RoomJoined(in.ProposalID, c.UserID())
	}
	h.metrics.RoomsActive.Set(float64(h.registry.RoomCount()))
}

func (h *Hub) handleLeave(c *Client, in *Intent) {
	if !h.dropUnlessMember(c, in) {
		return
	}

	snapshot := h.registry.Leave(in.ProposalID, c.UserID())
	h.broadcaster.Broadcast(in.ProposalID, NewUserLeftEvent(in.ProposalID, c.UserID(), snapshot), "")

	if h.mirror != nil {
		h.mirror.RoomLeft(in.ProposalID, c.UserID())
	}
	h.metrics.RoomsActive.Set(float64(h.registry.RoomCount()))
}

func (h *Hub) handleSectionUpdate(c *Client, in *Intent) {
	if !h.dropUnlessMember(c, in) {
		return
	}

	event := NewSectionUpdatedEvent(c.Identity(), in)
	h.broadcaster.Broadcast(in.ProposalID, event, c.UserID())

	if h.activity != nil {
		h.activity.Record(event)
	}
}

func (h *Hub) handleCursorMove(c *Client, in *Intent) {
	if !h.dropUnlessMember(c, in) {
		return
	}

	h.registry.SetCursor(in.ProposalID, c.UserID(), in.SectionName, *in.Position)
	h.broadcaster.Broadcast(in.ProposalID, NewCursorMovedEvent(c.Identity(), in), c.UserID())
}

func (h *Hub) handleComment(c *Client, in *Intent) {
	if !h.dropUnlessMember(c, in) {
		return
	}

	// Comments go back to the sender too: the editor confirms receipt
	// through the same event stream instead of a local-only echo.
	event := NewCommentAddedEvent(c.Identity(), in, time.Now().UTC())
	h.broadcaster.Broadcast(in.ProposalID, event, "")

	if h.activity != nil {
		h.activity.Record(event)
	}
}

// dropUnlessMember enforces room membership for room-scoped intents.
// Violations are logged and dropped; they are never fatal to the
// connection and never reach other room members.
func (h *Hub) dropUnlessMember(c *Client, in *Intent) bool {
	if h.registry.IsMember(in.ProposalID, c.UserID()) {
		return true
	}
	h.logger.Debug("Dropping intent from non-member",
		"clientID", c.ID(), "userID", c.UserID(), "type", in.Type, "proposalId", in.ProposalID)
	h.metrics.IntentsDropped.WithLabelValues("not_member").Inc()
	return false
}
