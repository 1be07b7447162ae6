package collab

import "sync"

// CursorState is the last reported cursor of a user within a room. It is
// ephemeral: overwritten by every cursor-move and removed when the user
// leaves the room or disconnects.
type CursorState struct {
	UserID      string   `json:"userId"`
	SectionName string   `json:"sectionName"`
	Position    Position `json:"position"`
}

// room tracks one proposal collaboration session. Members are kept in join
// order so presence snapshots are deterministic.
type room struct {
	members map[string]Identity
	order   []string
	cursors map[string]CursorState
}

func newRoom() *room {
	return &room{
		members: make(map[string]Identity),
		cursors: make(map[string]CursorState),
	}
}

func (rm *room) snapshot() []Identity {
	out := make([]Identity, 0, len(rm.order))
	for _, id := range rm.order {
		out = append(out, rm.members[id])
	}
	return out
}

func (rm *room) remove(userID string) {
	if _, ok := rm.members[userID]; !ok {
		return
	}
	delete(rm.members, userID)
	delete(rm.cursors, userID)
	for i, id := range rm.order {
		if id == userID {
			rm.order = append(rm.order[:i], rm.order[i+1:]...)
			break
		}
	}
}

// RoomSnapshot pairs a room with its member list after a mutation, for the
// teardown broadcasts the gateway sends on disconnect.
type RoomSnapshot struct {
	RoomID  string
	Members []Identity
}

// Registry owns the process-wide presence state: which identity is behind
// which connection handle, and which identities are in which proposal
// room. All mutation happens on the hub's single goroutine; the mutex
// exists for the HTTP read paths.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Client
	rooms map[string]*room
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[string]*Client),
		rooms: make(map[string]*room),
	}
}

// RegisterConnection binds the client's identity to its connection handle
// and returns the previous handle, if any, so the caller can evict it. The
// registry never keeps two handles for one identity.
func (r *Registry) RegisterConnection(c *Client) (prev *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := c.UserID()
	if old, ok := r.conns[userID]; ok && old != c {
		prev = old
	}
	r.conns[userID] = c
	return prev
}

// Connection returns the live handle for a user, if any.
func (r *Registry) Connection(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[userID]
	return c, ok
}

// Unregister removes the identity binding, but only while it still points
// at c: a newer connection for the same identity may have replaced it, and
// the stale handle's teardown must not touch the new one's state.
func (r *Registry) Unregister(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID := c.UserID()
	if r.conns[userID] != c {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Join adds the identity to the room, creating the room lazily, and
// returns the post-join member snapshot. Joining twice leaves the set
// unchanged and still returns the current snapshot.
func (r *Registry) Join(roomID string, id Identity) []Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = newRoom()
		r.rooms[roomID] = rm
	}
	if _, member := rm.members[id.ID]; !member {
		rm.members[id.ID] = id
		rm.order = append(rm.order, id.ID)
	}
	return rm.snapshot()
}

// Leave removes the identity from the room and returns the post-leave
// snapshot, possibly empty. It is a no-op for non-members. Rooms are
// pruned once their last member leaves.
func (r *Registry) Leave(roomID, userID string) []Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	rm.remove(userID)
	snap := rm.snapshot()
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
	}
	return snap
}

// IsMember reports whether the user currently belongs to the room.
func (r *Registry) IsMember(roomID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	_, member := rm.members[userID]
	return member
}

// Drop removes the user from every room it belongs to and returns the
// affected rooms with their post-removal snapshots, for the gateway's
// teardown broadcasts. Called exactly once per disconnect.
func (r *Registry) Drop(userID string) []RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected []RoomSnapshot
	for roomID, rm := range r.rooms {
		if _, member := rm.members[userID]; !member {
			continue
		}
		rm.remove(userID)
		affected = append(affected, RoomSnapshot{RoomID: roomID, Members: rm.snapshot()})
		if len(rm.members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	return affected
}

// Snapshot returns the current member list of a room in join order.
func (r *Registry) Snapshot(roomID string) []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return []Identity{}
	}
	return rm.snapshot()
}

// SetCursor records the latest cursor position for the user in the room,
// overwriting any prior state. Unknown rooms are ignored.
func (r *Registry) SetCursor(roomID, userID, sectionName string, pos Position) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}
	if _, member := rm.members[userID]; !member {
		return
	}
	rm.cursors[userID] = CursorState{UserID: userID, SectionName: sectionName, Position: pos}
}

// Cursors returns the current cursor overlay of a room.
func (r *Registry) Cursors(roomID string) []CursorState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]CursorState, 0, len(rm.cursors))
	for _, id := range rm.order {
		if cur, ok := rm.cursors[id]; ok {
			out = append(out, cur)
		}
	}
	return out
}

// Handles returns the connection handles of the room's current members,
// optionally excluding one user. The slice is a copy; callers iterate it
// without holding the registry lock.
func (r *Registry) Handles(roomID, excludeUserID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	handles := make([]*Client, 0, len(rm.order))
	for _, id := range rm.order {
		if id == excludeUserID {
			continue
		}
		if c, ok := r.conns[id]; ok {
			handles = append(handles, c)
		}
	}
	return handles
}

// ConnectionCount returns the number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
