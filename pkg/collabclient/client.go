// Package collabclient is the Go client for the proposal collaboration
// gateway. It mirrors the editor's websocket hook: emit helpers for the
// five intents, callback hooks per server event, and a local State that
// reconciles presence, cursors, and comments from the event stream.
package collabclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Identity mirrors the server's resolved user.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Position is a cursor location inside a proposal section.
type Position struct {
	Line int `json:"line"`
	Ch   int `json:"ch"`
}

// Range marks the span of section text a comment is anchored to.
type Range struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Event is one server frame.
type Event struct {
	Type        string     `json:"type"`
	ProposalID  string     `json:"proposalId,omitempty"`
	UserID      string     `json:"userId,omitempty"`
	User        *Identity  `json:"user,omitempty"`
	ActiveUsers []Identity `json:"activeUsers,omitempty"`
	SectionName string     `json:"sectionName,omitempty"`
	Content     string     `json:"content,omitempty"`
	Comment     string     `json:"comment,omitempty"`
	Position    *Position  `json:"position,omitempty"`
	Range       *Range     `json:"range,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Code        string     `json:"code,omitempty"`
	Message     string     `json:"message,omitempty"`
}

// Server event types.
const (
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventSectionUpdated = "section-updated"
	EventCursorMoved    = "cursor-moved"
	EventCommentAdded   = "comment-added"
	EventError          = "error"
)

// Handlers are the optional per-event callbacks. They run on the client's
// read goroutine; the State is already updated when a callback fires.
type Handlers struct {
	OnUserJoined     func(Event)
	OnUserLeft       func(Event)
	OnSectionUpdated func(Event)
	OnCursorMoved    func(Event)
	OnCommentAdded   func(Event)
	OnError          func(Event)
}

type intent struct {
	Type        string    `json:"type"`
	ProposalID  string    `json:"proposalId"`
	SectionName string    `json:"sectionName,omitempty"`
	Content     string    `json:"content,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	Position    *Position `json:"position,omitempty"`
	Range       *Range    `json:"range,omitempty"`
}

// Client is one live session with the gateway.
type Client struct {
	conn     *websocket.Conn
	handlers Handlers
	state    *State

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the gateway, presenting the bearer token at handshake
// time, and starts the read loop. rawURL is the ws endpoint, e.g.
// "ws://host:8080/api/v1/ws".
func Dial(ctx context.Context, rawURL, token string, handlers Handlers) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial gateway: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: handlers,
		state:    NewState(),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// State returns the client-side reconciliation of the session.
func (c *Client) State() *State {
	return c.state
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down. The server treats it as a disconnect
// and removes this user from every room.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// JoinProposal enters the proposal's collaboration room. The server
// answers with a user-joined event carrying the full presence snapshot.
func (c *Client) JoinProposal(proposalID string) error {
	return c.emit(intent{Type: "join-proposal", ProposalID: proposalID})
}

// LeaveProposal exits the room; other rooms stay joined.
func (c *Client) LeaveProposal(proposalID string) error {
	return c.emit(intent{Type: "leave-proposal", ProposalID: proposalID})
}

// UpdateSection relays new section content to the other room members.
func (c *Client) UpdateSection(proposalID, sectionName, content string) error {
	return c.emit(intent{
		Type:        "section-update",
		ProposalID:  proposalID,
		SectionName: sectionName,
		Content:     content,
	})
}

// MoveCursor relays the local cursor position to the other room members.
func (c *Client) MoveCursor(proposalID, sectionName string, pos Position) error {
	return c.emit(intent{
		Type:        "cursor-move",
		ProposalID:  proposalID,
		SectionName: sectionName,
		Position:    &pos,
	})
}

// AddComment attaches an inline comment; the server echoes it back to this
// client through the same comment-added event everyone else receives.
func (c *Client) AddComment(proposalID, sectionName, comment string, rng *Range) error {
	return c.emit(intent{
		Type:        "add-comment",
		ProposalID:  proposalID,
		SectionName: sectionName,
		Comment:     comment,
		Range:       rng,
	})
}

func (c *Client) emit(in intent) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		c.state.apply(e)
		c.dispatch(e)
	}
}

func (c *Client) dispatch(e Event) {
	switch e.Type {
	case EventUserJoined:
		if c.handlers.OnUserJoined != nil {
			c.handlers.OnUserJoined(e)
		}
	case EventUserLeft:
		if c.handlers.OnUserLeft != nil {
			c.handlers.OnUserLeft(e)
		}
	case EventSectionUpdated:
		if c.handlers.OnSectionUpdated != nil {
			c.handlers.OnSectionUpdated(e)
		}
	case EventCursorMoved:
		if c.handlers.OnCursorMoved != nil {
			c.handlers.OnCursorMoved(e)
		}
	case EventCommentAdded:
		if c.handlers.OnCommentAdded != nil {
			c.handlers.OnCommentAdded(e)
		}
	case EventError:
		if c.handlers.OnError != nil {
			c.handlers.OnError(e)
		}
	}
}
