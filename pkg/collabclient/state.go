package collabclient

import (
	"sync"
	"time"
)

// Cursor is another member's last known cursor inside a section.
type Cursor struct {
	UserID      string
	User        Identity
	SectionName string
	Position    Position
}

// Comment is one entry in a proposal's comment stream.
type Comment struct {
	UserID      string
	User        Identity
	SectionName string
	Text        string
	Range       *Range
	Timestamp   time.Time
}

// State reconciles the event stream into what an editor renders: the
// presence list per proposal, the cursor overlay, the comment stream, and
// the last-write-wins section contents. It applies the same reductions the
// web editor does: snapshots replace the presence list wholesale, a
// user-left removes that user's cursor, cursors upsert by user, comments
// append.
type State struct {
	mu       sync.RWMutex
	active   map[string][]Identity          // proposalID -> presence snapshot
	cursors  map[string]map[string]Cursor   // proposalID -> userID -> cursor
	comments map[string][]Comment           // proposalID -> comment stream
	sections map[string]map[string]string   // proposalID -> sectionName -> content
}

func NewState() *State {
	return &State{
		active:   make(map[string][]Identity),
		cursors:  make(map[string]map[string]Cursor),
		comments: make(map[string][]Comment),
		sections: make(map[string]map[string]string),
	}
}

func (s *State) apply(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Type {
	case EventUserJoined:
		s.active[e.ProposalID] = append([]Identity(nil), e.ActiveUsers...)

	case EventUserLeft:
		s.active[e.ProposalID] = append([]Identity(nil), e.ActiveUsers...)
		if overlay, ok := s.cursors[e.ProposalID]; ok {
			delete(overlay, e.UserID)
		}

	case EventSectionUpdated:
		if s.sections[e.ProposalID] == nil {
			s.sections[e.ProposalID] = make(map[string]string)
		}
		s.sections[e.ProposalID][e.SectionName] = e.Content

	case EventCursorMoved:
		if e.User == nil || e.Position == nil {
			return
		}
		if s.cursors[e.ProposalID] == nil {
			s.cursors[e.ProposalID] = make(map[string]Cursor)
		}
		s.cursors[e.ProposalID][e.UserID] = Cursor{
			UserID:      e.UserID,
			User:        *e.User,
			SectionName: e.SectionName,
			Position:    *e.Position,
		}

	case EventCommentAdded:
		if e.User == nil {
			return
		}
		comment := Comment{
			UserID:      e.UserID,
			User:        *e.User,
			SectionName: e.SectionName,
			Text:        e.Comment,
			Range:       e.Range,
		}
		if e.Timestamp != nil {
			comment.Timestamp = *e.Timestamp
		}
		s.comments[e.ProposalID] = append(s.comments[e.ProposalID], comment)
	}
}

// ActiveUsers returns the last presence snapshot for a proposal.
func (s *State) ActiveUsers(proposalID string) []Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Identity(nil), s.active[proposalID]...)
}

// Cursors returns the current cursor overlay for a proposal.
func (s *State) Cursors(proposalID string) []Cursor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	overlay := s.cursors[proposalID]
	out := make([]Cursor, 0, len(overlay))
	for _, c := range overlay {
		out = append(out, c)
	}
	return out
}

// Comments returns the comment stream for a proposal in arrival order.
func (s *State) Comments(proposalID string) []Comment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Comment(nil), s.comments[proposalID]...)
}

// SectionContent returns the last received content for a section.
func (s *State) SectionContent(proposalID, sectionName string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sections, ok := s.sections[proposalID]
	if !ok {
		return "", false
	}
	content, ok := sections[sectionName]
	return content, ok
}
