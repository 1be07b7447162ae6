package collab

import "log/slog"

// Broadcaster fans events out to every member of a room. Delivery is
// fire-and-forget per recipient: a failed enqueue to one member never
// blocks or fails delivery to the others.
type Broadcaster struct {
	registry *Registry
	metrics  *Metrics
	logger   *slog.Logger
}

func NewBroadcaster(registry *Registry, metrics *Metrics, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

// Broadcast delivers the event to the room's current members.
// excludeUserID skips that member's own handle; the empty string excludes
// nobody. Broadcasting to an unknown or empty room is a no-op.
func (b *Broadcaster) Broadcast(roomID string, event *Event, excludeUserID string) {
	data, err := event.Marshal()
	if err != nil {
		b.logger.Error("Failed to marshal event", "roomId", roomID, "type", event.Type, "error", err)
		return
	}

	handles := b.registry.Handles(roomID, excludeUserID)
	for _, c := range handles {
		if err := c.enqueue(data); err != nil {
			// Per-recipient failures are isolated; the stale peer is
			// reaped by its own disconnect detection.
			b.logger.Warn("Dropping event for member",
				"roomId", roomID, "userId", c.UserID(), "type", event.Type, "error", err)
			b.metrics.DeliveryFailures.Inc()
		}
	}
	b.metrics.BroadcastsTotal.WithLabelValues(event.Type.String()).Inc()
}
