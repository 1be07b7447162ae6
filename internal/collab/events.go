package collab

import (
	"encoding/json"
	"fmt"
	"time"
)

// IntentType identifies a client-originated request using a custom enum
// type for better type safety.
type IntentType string

const (
	IntentJoinProposal  IntentType = "join-proposal"
	IntentLeaveProposal IntentType = "leave-proposal"
	IntentSectionUpdate IntentType = "section-update"
	IntentCursorMove    IntentType = "cursor-move"
	IntentAddComment    IntentType = "add-comment"
)

// String returns the string representation of the IntentType.
func (t IntentType) String() string {
	return string(t)
}

// IsValid checks if the IntentType is a valid enum value.
func (t IntentType) IsValid() bool {
	switch t {
	case IntentJoinProposal, IntentLeaveProposal, IntentSectionUpdate,
		IntentCursorMove, IntentAddComment:
		return true
	default:
		return false
	}
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

// Intent is one inbound frame. Every intent is scoped to a proposal room.
type Intent struct {
	Type        IntentType `json:"type"`
	ProposalID  string     `json:"proposalId"`
	SectionName string     `json:"sectionName,omitempty"`
	Content     string     `json:"content,omitempty"`
	Comment     string     `json:"comment,omitempty"`
	Position    *Position  `json:"position,omitempty"`
	Range       *Range     `json:"range,omitempty"`
}

// Validate checks the fields required by the intent's type. A failing
// intent is dropped with a diagnostic to the sender only; it never reaches
// other room members.
func (in *Intent) Validate() error {
	if !in.Type.IsValid() {
		return fmt.Errorf("unknown intent type %q", in.Type)
	}
	if in.ProposalID == "" {
		return fmt.Errorf("%s: proposalId is required", in.Type)
	}
	switch in.Type {
	case IntentSectionUpdate:
		if in.SectionName == "" {
			return fmt.Errorf("%s: sectionName is required", in.Type)
		}
	case IntentCursorMove:
		if in.SectionName == "" {
			return fmt.Errorf("%s: sectionName is required", in.Type)
		}
		if in.Position == nil {
			return fmt.Errorf("%s: position is required", in.Type)
		}
	case IntentAddComment:
		if in.SectionName == "" {
			return fmt.Errorf("%s: sectionName is required", in.Type)
		}
		if in.Comment == "" {
			return fmt.Errorf("%s: comment is required", in.Type)
		}
	}
	return nil
}

// EventType identifies a server-originated frame.
type EventType string

const (
	EventUserJoined     EventType = "user-joined"
	EventUserLeft       EventType = "user-left"
	EventSectionUpdated EventType = "section-updated"
	EventCursorMoved    EventType = "cursor-moved"
	EventCommentAdded   EventType = "comment-added"
	EventError          EventType = "error"
)

// String returns the string representation of the EventType.
func (t EventType) String() string {
	return string(t)
}

// Event is one outbound frame. Fields are populated per type; everything
// not set for a given type stays omitted on the wire.
type Event struct {
	Type        EventType  `json:"type"`
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

// Marshal encodes the event for the wire.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Event constructors keep the frames consistent with what the editor
// clients expect.

func NewUserJoinedEvent(proposalID string, user Identity, active []Identity) *Event {
	return &Event{
		Type:        EventUserJoined,
		ProposalID:  proposalID,
		User:        &user,
		ActiveUsers: active,
	}
}

func NewUserLeftEvent(proposalID, userID string, active []Identity) *Event {
	return &Event{
		Type:        EventUserLeft,
		ProposalID:  proposalID,
		UserID:      userID,
		ActiveUsers: active,
	}
}

func NewSectionUpdatedEvent(user Identity, in *Intent) *Event {
	return &Event{
		Type:        EventSectionUpdated,
		ProposalID:  in.ProposalID,
		UserID:      user.ID,
		User:        &user,
		SectionName: in.SectionName,
		Content:     in.Content,
	}
}

func NewCursorMovedEvent(user Identity, in *Intent) *Event {
	return &Event{
		Type:        EventCursorMoved,
		ProposalID:  in.ProposalID,
		UserID:      user.ID,
		User:        &user,
		SectionName: in.SectionName,
		Position:    in.Position,
	}
}

func NewCommentAddedEvent(user Identity, in *Intent, at time.Time) *Event {
	return &Event{
		Type:        EventCommentAdded,
		ProposalID:  in.ProposalID,
		UserID:      user.ID,
		User:        &user,
		SectionName: in.SectionName,
		Comment:     in.Comment,
		Range:       in.Range,
		Timestamp:   &at,
	}
}

func NewErrorEvent(code, message string) *Event {
	return &Event{
		Type:    EventError,
		Code:    code,
		Message: message,
	}
}
