package profile

import "time"

// State is the coarse lifecycle of a session.
type State string

const (
	StateCollecting     State = "collecting"
	StateConfirmPending State = "confirm_pending"
	StateCompleted      State = "completed"
)

// LoopBuffer is a group record being assembled one member at a time.
// It is committed to the profile only when the last member is answered
// and the group's required fields are present.
type LoopBuffer struct {
	Group string            `json:"group"`
	Item  map[string]string `json:"item"`
}

// Session is a subject's position in the deterministic interview.
type Session struct {
	ID           string `json:"id"`
	Subject      string `json:"subject"`
	ProfileID    string `json:"profile_id"`
	CurrentField string `json:"current_field,omitempty"`
	// CurrentRecord is set when CurrentField belongs to an existing group
	// record rather than to the loop buffer.
	CurrentRecord string      `json:"current_record,omitempty"`
	Loop          *LoopBuffer `json:"loop,omitempty"`
	State         State       `json:"state"`
	Archived      bool        `json:"archived"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewSession opens a collecting session bound to a profile.
func NewSession(subject, profileID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        newID(),
		Subject:   subject,
		ProfileID: profileID,
		State:     StateCollecting,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// OpenLoop starts a fresh record buffer for group.
func (s *Session) OpenLoop(group string) {
	s.Loop = &LoopBuffer{Group: group, Item: make(map[string]string)}
}

// CloseLoop discards the record buffer.
func (s *Session) CloseLoop() {
	s.Loop = nil
}

// InLoop reports whether a record buffer is open.
func (s *Session) InLoop() bool {
	return s.Loop != nil && s.Loop.Group != ""
}

// Role identifies who produced a turn.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
)

// Turn is one message of the conversation history.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
