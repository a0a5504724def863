// Package session holds transient per-user conversation state for the
// multi-step authoring flows. Transitions are pure; handlers do the I/O.
package session

import (
	"sync"

	"postbot/internal/store"
)

type State string

const (
	// Add-destination flow.
	StateAwaitingPlatformChoice State = "awaiting_platform_choice"
	StateAwaitingTelegramID     State = "awaiting_telegram_id"
	StateAwaitingTelegramName   State = "awaiting_telegram_name"
	StateAwaitingCredential     State = "awaiting_credential"
	StateAwaitingGroupRef       State = "awaiting_group_ref"

	// New-post flow.
	StateAwaitingContent   State = "awaiting_content"
	StateAwaitingSelection State = "awaiting_selection"
)

type Flow string

const (
	FlowAddDestination Flow = "add_destination"
	FlowNewPost        Flow = "new_post"
)

// Content is the captured post payload: text and/or a single photo reference.
type Content struct {
	Text            string
	PhotoFileID     string
	SourceChatID    int64
	SourceMessageID int
}

// Empty reports whether the submission carried neither text nor an image.
func (c Content) Empty() bool {
	return c.Text == "" && c.PhotoFileID == ""
}

// Session is one user's in-flight authoring dialog.
//
// The mutex serializes transitions so at most one update mutates a session at
// a time; sessions of different users are fully independent.
type Session struct {
	mu sync.Mutex

	UserID int64
	Flow   Flow
	State  State

	// OwnerID is the internal user row id, filled once the user is persisted.
	OwnerID int64

	// Add-destination flow data. RawRef keeps the reference exactly as the
	// user typed it; ExternalID holds the canonical form when resolvable.
	Platform    store.Platform
	RawRef      string
	ExternalID  string
	Credential  string
	DisplayName string

	// New-post flow data.
	Content    Content
	AllDestIDs []int64
	selected   map[int64]bool

	// KeyboardMsg references the selection keyboard message for edits.
	KeyboardMsg struct {
		ChatID    int64
		MessageID int
	}
}

// Do runs fn with the session locked.
func (s *Session) Do(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Toggle flips a destination's membership in the selection set and reports
// the new membership.
func (s *Session) Toggle(destID int64) bool {
	if s.selected == nil {
		s.selected = map[int64]bool{}
	}
	if s.selected[destID] {
		delete(s.selected, destID)
		return false
	}
	s.selected[destID] = true
	return true
}

// Selected reports membership without mutating the set.
func (s *Session) IsSelected(destID int64) bool {
	return s.selected[destID]
}

// SelectedIDs returns the selection in the stable order of AllDestIDs.
func (s *Session) SelectedIDs() []int64 {
	out := make([]int64, 0, len(s.selected))
	for _, id := range s.AllDestIDs {
		if s.selected[id] {
			out = append(out, id)
		}
	}
	return out
}

// Manager owns all live sessions, keyed by user id. Sessions are created on
// flow start and discarded on terminal transition or cancellation.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: map[int64]*Session{}}
}

// Begin starts a fresh session for the user, replacing any abandoned one.
func (m *Manager) Begin(userID int64, flow Flow, state State) *Session {
	s := &Session{UserID: userID, Flow: flow, State: state}
	m.mu.Lock()
	m.sessions[userID] = s
	m.mu.Unlock()
	return s
}

// Get returns the user's live session, if any.
func (m *Manager) Get(userID int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	return s, ok
}

// End discards the user's session.
func (m *Manager) End(userID int64) {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
}
