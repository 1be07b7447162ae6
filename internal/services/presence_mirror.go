package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"collab-service/internal/database"
)

const mirrorBufferSize = 1024

type mirrorOp int

const (
	opUserOnline mirrorOp = iota
	opUserOffline
	opRoomJoined
	opRoomLeft
)

type mirrorUpdate struct {
	op     mirrorOp
	userID string
	roomID string
}

// PresenceMirror keeps a best-effort copy of presence state in Redis for
// out-of-process visibility (dashboards, other service instances). The hub
// hands transitions to a buffered channel and never waits on Redis; when
// the buffer is full the update is dropped and the TTLs let the mirror
// converge on the next transition.
type PresenceMirror struct {
	client  *database.RedisClient
	updates chan mirrorUpdate

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPresenceMirror(client *database.RedisClient) *PresenceMirror {
	ctx, cancel := context.WithCancel(context.Background())

	return &PresenceMirror{
		client:  client,
		updates: make(chan mirrorUpdate, mirrorBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start launches the worker that applies queued updates.
func (m *PresenceMirror) Start() {
	go m.run()
}

// Stop drains nothing: queued updates past the cancellation point are
// abandoned, which the TTLs tolerate.
func (m *PresenceMirror) Stop() {
	m.cancel()
	<-m.done
}

func (m *PresenceMirror) run() {
	defer close(m.done)
	for {
		select {
		case u := <-m.updates:
			m.apply(u)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *PresenceMirror) enqueue(u mirrorUpdate) {
	select {
	case m.updates <- u:
	default:
		slog.Warn("Presence mirror buffer full, dropping update", "userID", u.userID, "roomID", u.roomID)
	}
}

// UserOnline implements collab.PresenceMirror.
func (m *PresenceMirror) UserOnline(userID string) {
	m.enqueue(mirrorUpdate{op: opUserOnline, userID: userID})
}

func (m *PresenceMirror) UserOffline(userID string) {
	m.enqueue(mirrorUpdate{op: opUserOffline, userID: userID})
}

func (m *PresenceMirror) RoomJoined(roomID, userID string) {
	m.enqueue(mirrorUpdate{op: opRoomJoined, userID: userID, roomID: roomID})
}

func (m *PresenceMirror) RoomLeft(roomID, userID string) {
	m.enqueue(mirrorUpdate{op: opRoomLeft, userID: userID, roomID: roomID})
}

func (m *PresenceMirror) apply(u mirrorUpdate) {
	ctx, cancel := context.WithTimeout(m.ctx, 3*time.Second)
	defer cancel()

	var err error
	switch u.op {
	case opUserOnline:
		err = m.setUserOnline(ctx, u.userID)
	case opUserOffline:
		err = m.setUserOffline(ctx, u.userID)
	case opRoomJoined:
		err = m.addRoomMember(ctx, u.roomID, u.userID)
	case opRoomLeft:
		err = m.removeRoomMember(ctx, u.roomID, u.userID)
	}
	if err != nil {
		slog.Error("Failed to apply presence update", "userID", u.userID, "roomID", u.roomID, "error", err)
	}
}

func (m *PresenceMirror) setUserOnline(ctx context.Context, userID string) error {
	pipe := m.client.GetClient().Pipeline()
	pipe.SAdd(ctx, "online_users", userID)
	pipe.HSet(ctx, fmt.Sprintf("user:%s:status", userID), map[string]interface{}{
		"status":     "online",
		"updated_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, fmt.Sprintf("user:%s:status", userID), 5*time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

func (m *PresenceMirror) setUserOffline(ctx context.Context, userID string) error {
	pipe := m.client.GetClient().Pipeline()
	pipe.SRem(ctx, "online_users", userID)
	pipe.HSet(ctx, fmt.Sprintf("user:%s:status", userID), map[string]interface{}{
		"status":     "offline",
		"last_seen":  time.Now().Unix(),
		"updated_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, fmt.Sprintf("user:%s:status", userID), 24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

func (m *PresenceMirror) addRoomMember(ctx context.Context, roomID, userID string) error {
	pipe := m.client.GetClient().Pipeline()
	pipe.SAdd(ctx, fmt.Sprintf("proposal:%s:members", roomID), userID)
	pipe.SAdd(ctx, fmt.Sprintf("user:%s:proposals", userID), roomID)
	_, err := pipe.Exec(ctx)
	return err
}

func (m *PresenceMirror) removeRoomMember(ctx context.Context, roomID, userID string) error {
	pipe := m.client.GetClient().Pipeline()
	pipe.SRem(ctx, fmt.Sprintf("proposal:%s:members", roomID), userID)
	pipe.SRem(ctx, fmt.Sprintf("user:%s:proposals", userID), roomID)
	_, err := pipe.Exec(ctx)
	return err
}

// OnlineUsers returns the mirrored online-user set.
func (m *PresenceMirror) OnlineUsers(ctx context.Context) ([]string, error) {
	return m.client.GetClient().SMembers(ctx, "online_users").Result()
}

// RoomMembers returns the mirrored member set of a proposal room.
func (m *PresenceMirror) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	return m.client.GetClient().SMembers(ctx, fmt.Sprintf("proposal:%s:members", roomID)).Result()
}

// Allow implements the sliding-window counter the rate-limit middleware
// uses. The first hit in a window sets the expiry; subsequent hits only
// increment.
func (m *PresenceMirror) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	count, err := m.client.GetClient().Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := m.client.GetClient().Expire(ctx, key, window).Err(); err != nil {
			return false, err
		}
	}
	return count <= int64(limit), nil
}
