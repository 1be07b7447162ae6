package collab

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestHub() *Hub {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHub(nil, nil, NewMetrics(prometheus.NewRegistry()), logger)
}

func newTestClient(h *Hub, userID string) *Client {
	return newClient(h, nil, identityFixture(userID))
}

// drainEvents empties the client's queued frames without blocking.
func drainEvents(t *testing.T, c *Client) []*Event {
	t.Helper()
	var events []*Event
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return events
			}
			var e Event
			if err := json.Unmarshal(data, &e); err != nil {
				t.Fatalf("unmarshal queued event: %v", err)
			}
			events = append(events, &e)
		default:
			return events
		}
	}
}

// waitEvent blocks until the client has a frame queued.
func waitEvent(t *testing.T, c *Client, timeout time.Duration) *Event {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed while waiting for event")
		}
		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return &e
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for event for %s", c.UserID())
	}
	return nil
}

func join(h *Hub, c *Client, proposalID string) {
	h.handleIntent(c, &Intent{Type: IntentJoinProposal, ProposalID: proposalID})
}

func TestHubJoin(t *testing.T) {
	t.Run("JoinerReceivesOwnConfirmation", func(t *testing.T) {
		h := newTestHub()
		alice := newTestClient(h, "a1")
		h.handleRegister(alice)

		join(h, alice, "p1")

		events := drainEvents(t, alice)
		if len(events) != 1 {
			t.Fatalf("expected 1 event for joiner, got %d", len(events))
		}
		if events[0].Type != EventUserJoined {
			t.Fatalf("expected user-joined, got %s", events[0].Type)
		}
		if len(events[0].ActiveUsers) != 1 || events[0].ActiveUsers[0].ID != "a1" {
			t.Errorf("expected snapshot [a1], got %v", memberIDs(events[0].ActiveUsers))
		}
	})

	t.Run("RoomSeesEachJoinWithFreshSnapshot", func(t *testing.T) {
		h := newTestHub()
		alice := newTestClient(h, "a1")
		bob := newTestClient(h, "b2")
		h.handleRegister(alice)
		h.handleRegister(bob)

		join(h, alice, "p1")
		join(h, bob, "p1")

		aliceEvents := drainEvents(t, alice)
		if len(aliceEvents) != 2 {
			t.Fatalf("expected alice to see both joins, got %d events", len(aliceEvents))
		}
		if got := memberIDs(aliceEvents[0].ActiveUsers); len(got) != 1 || got[0] != "a1" {
			t.Errorf("first snapshot should be [a1], got %v", got)
		}
		if got := memberIDs(aliceEvents[1].ActiveUsers); len(got) != 2 || got[0] != "a1" || got[1] != "b2" {
			t.Errorf("second snapshot should be [a1 b2], got %v", got)
		}
		if aliceEvents[1].User == nil || aliceEvents[1].User.ID != "b2" {
			t.Error("second join event should carry bob")
		}
	})
}

func TestHubLeave(t *testing.T) {
	t.Run("LeaveBroadcastsPostMutationSnapshot", func(t *testing.T) {
		h := newTestHub()
		alice := newTestClient(h, "a1")
		bob := newTestClient(h, "b2")
		h.handleRegister(alice)
		h.handleRegister(bob)
		join(h, alice, "p1")
		join(h, bob, "p1")
		drainEvents(t, alice)
		drainEvents(t, bob)

		h.handleIntent(bob, &Intent{Type: IntentLeaveProposal, ProposalID: "p1"})

		events := drainEvents(t, alice)
		if len(events) != 1 || events[0].Type != EventUserLeft {
			t.Fatalf("expected a single user-left for alice, got %v", events)
		}
		if events[0].UserID != "b2" {
			t.Errorf("expected b2 to have left, got %s", events[0].UserID)
		}
		if got := memberIDs(events[0].ActiveUsers); len(got) != 1 || got[0] != "a1" {
			t.Errorf("expected snapshot [a1], got %v", got)
		}
	})

	t.Run("LeaveWithoutJoinIsDropped", func(t *testing.T) {
		h := newTestHub()
		alice := newTestClient(h, "a1")
		ghost := newTestClient(h, "g9")
		h.handleRegister(alice)
		h.handleRegister(ghost)
		join(h, alice, "p1")
		drainEvents(t, alice)

		h.handleIntent(ghost, &Intent{Type: IntentLeaveProposal, ProposalID: "p1"})

		if events := drainEvents(t, alice); len(events) != 0 {
			t.Errorf("non-member leave must not broadcast, got %v", events)
		}
		if !h.Registry().IsMember("p1", "a1") {
			t.Error("membership of p1 must be untouched")
		}
	})
}

func TestHubSectionUpdate(t *testing.T) {
	t.Run("SenderIsExcluded", func(t *testing.T) {
		h := newTestHub()
		alice := newTestClient(h, "a1")
		bob := newTestClient(h, "b2")
		h.handleRegister(alice)
		h.handleRegister(bob)
		join(h, alice, "p1")
		join(h, bob, "p1")
		drainEvents(t, alice)
		drainEvents(t, bob)

		h.handleIntent(bob, &Intent{
			Type:        IntentSectionUpdate,
			ProposalID:  "p1",
			SectionName: "abstract",
			Content:     "revised abstract",
		})

		aliceEvents := drainEvents(t, alice)
		if len(aliceEvents) != 1 || aliceEvents[0].Type != EventSectionUpdated {
			t.Fatalf("expected alice to receive section-updated, got %v", aliceEvents)
		}
		if aliceEvents[0].Content != "revised abstract" || aliceEvents[0].UserID != "b2" {
			t.Errorf("unexpected section-updated payload: %+v", aliceEvents[0])
		}
		if bobEvents := drainEvents(t, bob); len(bobEvents) != 0 {
			t.Errorf("sender must not receive its own edit, got %v", bobEvents)
		}
	})

	t.Run("NonMemberIntentIsIsolated", func(t *testing.T) {
		h := newTestHub()
		alice := newTestClient(h, "a1")
		outsider := newTestClient(h, "o7")
		h.handleRegister(alice)
		h.handleRegister(outsider)
		join(h, alice, "p1")
		join(h, outsider, "p2")
		drainEvents(t, alice)
		drainEvents(t, outsider)

		h.handleIntent(outsider, &Intent{
			Type:        IntentSectionUpdate,
			ProposalID:  "p1",
			SectionName: "abstract",
			Content:     "should never arrive",
		})

		if events := drainEvents(t, alice); len(events) != 0 {
			t.Errorf("intent from non-member must not reach p1, got %v", events)
		}
		if h.Registry().IsMember("p1", "o7") {
			t.Error("non-member intent must not change p1 membership")
		}
	})
}

func TestHubCursorMove(t *testing.T) {
	h := newTestHub()
	alice := newTestClient(h, "a1")
	bob := newTestClient(h, "b2")
	h.handleRegister(alice)
	h.handleRegister(bob)
	join(h, alice, "p1")
	join(h, bob, "p1")
	drainEvents(t, alice)
	drainEvents(t, bob)

	h.handleIntent(bob, &Intent{
		Type:        IntentCursorMove,
		ProposalID:  "p1",
		SectionName: "abstract",
		Position:    &Position{Line: 3, Ch: 5},
	})

	aliceEvents := drainEvents(t, alice)
	if len(aliceEvents) != 1 || aliceEvents[0].Type != EventCursorMoved {
		t.Fatalf("expected cursor-moved for alice, got %v", aliceEvents)
	}
	if aliceEvents[0].Position == nil || aliceEvents[0].Position.Line != 3 || aliceEvents[0].Position.Ch != 5 {
		t.Errorf("unexpected cursor position: %+v", aliceEvents[0].Position)
	}
	if bobEvents := drainEvents(t, bob); len(bobEvents) != 0 {
		t.Errorf("sender must not receive its own cursor, got %v", bobEvents)
	}

	cursors := h.Registry().Cursors("p1")
	if len(cursors) != 1 || cursors[0].UserID != "b2" {
		t.Errorf("expected bob's cursor recorded, got %v", cursors)
	}
}

func TestHubComment(t *testing.T) {
	h := newTestHub()
	alice := newTestClient(h, "a1")
	bob := newTestClient(h, "b2")
	h.handleRegister(alice)
	h.handleRegister(bob)
	join(h, alice, "p1")
	join(h, bob, "p1")
	drainEvents(t, alice)
	drainEvents(t, bob)

	h.handleIntent(bob, &Intent{
		Type:        IntentAddComment,
		ProposalID:  "p1",
		SectionName: "abstract",
		Comment:     "cite the pilot study here",
		Range:       &Range{From: 120, To: 180},
	})

	for _, c := range []*Client{alice, bob} {
		events := drainEvents(t, c)
		if len(events) != 1 || events[0].Type != EventCommentAdded {
			t.Fatalf("expected comment-added for %s, got %v", c.UserID(), events)
		}
		if events[0].Timestamp == nil {
			t.Errorf("comment for %s must carry a server timestamp", c.UserID())
		}
		if events[0].Range == nil || events[0].Range.From != 120 {
			t.Errorf("comment for %s must carry the range", c.UserID())
		}
	}
}

func TestHubDisconnect(t *testing.T) {
	t.Run("TeardownCoversEveryRoom", func(t *testing.T) {
		h := newTestHub()
		alice := newTestClient(h, "a1")
		bob := newTestClient(h, "b2")
		carol := newTestClient(h, "c3")
		h.handleRegister(alice)
		h.handleRegister(bob)
		h.handleRegister(carol)
		join(h, alice, "p1")
		join(h, alice, "p2")
		join(h, bob, "p1")
		join(h, carol, "p2")
		drainEvents(t, alice)
		drainEvents(t, bob)
		drainEvents(t, carol)

		h.handleUnregister(alice)

		bobEvents := drainEvents(t, bob)
		if len(bobEvents) != 1 || bobEvents[0].Type != EventUserLeft || bobEvents[0].UserID != "a1" {
			t.Fatalf("expected exactly one user-left for bob, got %v", bobEvents)
		}
		if got := memberIDs(bobEvents[0].ActiveUsers); len(got) != 1 || got[0] != "b2" {
			t.Errorf("expected snapshot [b2], got %v", got)
		}

		carolEvents := drainEvents(t, carol)
		if len(carolEvents) != 1 || carolEvents[0].Type != EventUserLeft || carolEvents[0].UserID != "a1" {
			t.Fatalf("expected exactly one user-left for carol, got %v", carolEvents)
		}
		if h.Registry().IsMember("p1", "a1") || h.Registry().IsMember("p2", "a1") {
			t.Error("disconnected user must be out of every room")
		}
	})

	t.Run("StaleHandleTearsNothingDown", func(t *testing.T) {
		h := newTestHub()
		old := newTestClient(h, "a1")
		h.handleRegister(old)

		replacement := newTestClient(h, "a1")
		h.handleRegister(replacement)
		join(h, replacement, "p1")
		drainEvents(t, replacement)

		// The superseded connection's read pump eventually reports
		// closure; that must not evict the replacement.
		h.handleUnregister(old)

		if !h.Registry().IsMember("p1", "a1") {
			t.Error("stale unregister removed the live connection's membership")
		}
		if events := drainEvents(t, replacement); len(events) != 0 {
			t.Errorf("stale unregister must not broadcast, got %v", events)
		}
	})
}

func TestHubConnectionOverwrite(t *testing.T) {
	h := newTestHub()
	first := newTestClient(h, "a1")
	bob := newTestClient(h, "b2")
	h.handleRegister(first)
	h.handleRegister(bob)
	join(h, first, "p1")
	join(h, bob, "p1")
	drainEvents(t, first)
	drainEvents(t, bob)

	second := newTestClient(h, "a1")
	h.handleRegister(second)

	// The prior connection is evicted from its rooms, not silently
	// orphaned.
	bobEvents := drainEvents(t, bob)
	if len(bobEvents) != 1 || bobEvents[0].Type != EventUserLeft || bobEvents[0].UserID != "a1" {
		t.Fatalf("expected user-left for superseded connection, got %v", bobEvents)
	}
	if !first.isClosed() {
		t.Error("superseded connection should be closed")
	}
	if h.Registry().IsMember("p1", "a1") {
		t.Error("new connection must start with no memberships")
	}
	if got, _ := h.Registry().Connection("a1"); got != second {
		t.Error("registry should track the new connection")
	}
}

func TestBroadcastFailureIsolation(t *testing.T) {
	h := newTestHub()
	alice := newTestClient(h, "a1")
	bob := newTestClient(h, "b2")
	stuck := newTestClient(h, "s5")
	h.handleRegister(alice)
	h.handleRegister(bob)
	h.handleRegister(stuck)
	join(h, alice, "p1")
	join(h, bob, "p1")
	join(h, stuck, "p1")
	drainEvents(t, alice)
	drainEvents(t, bob)
	drainEvents(t, stuck)

	// Fill the stuck peer's buffer so the next enqueue fails.
	for i := 0; i < sendBufferSize; i++ {
		stuck.send <- []byte("{}")
	}

	h.handleIntent(alice, &Intent{
		Type:        IntentSectionUpdate,
		ProposalID:  "p1",
		SectionName: "abstract",
		Content:     "still delivered",
	})

	bobEvents := drainEvents(t, bob)
	if len(bobEvents) != 1 || bobEvents[0].Content != "still delivered" {
		t.Fatalf("delivery to healthy member must not be affected, got %v", bobEvents)
	}
	if !stuck.isClosed() {
		t.Error("peer with a full buffer should be cut loose")
	}
}

// TestHubSnapshotFreshness drives concurrent joins through the running hub
// and checks that every broadcast carried the member set as of its own
// mutation: the per-client sequence of snapshots never shrinks and ends at
// the full room.
func TestHubSnapshotFreshness(t *testing.T) {
	h := newTestHub()
	go h.Run()
	defer h.Stop()

	const n = 16
	clients := make([]*Client, n)
	for i := 0; i < n; i++ {
		clients[i] = newTestClient(h, string(rune('a'+i)))
		h.register <- clients[i]
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			h.intents <- clientIntent{client: c, intent: &Intent{Type: IntentJoinProposal, ProposalID: "p1"}}
		}(c)
	}
	wg.Wait()

	// A sentinel processed after every join above: channel order
	// guarantees the hub has finished all of them once this join's
	// confirmation arrives.
	sentinel := newTestClient(h, "zz")
	h.register <- sentinel
	h.intents <- clientIntent{client: sentinel, intent: &Intent{Type: IntentJoinProposal, ProposalID: "other"}}
	waitEvent(t, sentinel, 2*time.Second)

	for _, c := range clients {
		events := drainEvents(t, c)
		if len(events) == 0 {
			t.Fatalf("client %s received no join broadcasts", c.UserID())
		}
		prev := 0
		for _, e := range events {
			if e.Type != EventUserJoined {
				t.Fatalf("unexpected event type %s", e.Type)
			}
			if len(e.ActiveUsers) < prev {
				t.Fatalf("snapshot shrank from %d to %d members", prev, len(e.ActiveUsers))
			}
			prev = len(e.ActiveUsers)
		}
		if prev != n {
			t.Errorf("client %s: final snapshot has %d members, want %d", c.UserID(), prev, n)
		}
	}
}
