package app

import (
	"time"

	"github.com/google/uuid"
)

// Session binds a conversation to a workspace so it can be resumed later.
// The runtime loop owns persistence; the agent loop never touches it.
type Session struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	WorkDir   string

	Conversation *Conversation
}

func NewSession(workDir string, conv *Conversation) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		UpdatedAt:    now,
		WorkDir:      workDir,
		Conversation: conv,
	}
}

// Touch bumps the update timestamp; call before each save.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now().UTC()
}

// SessionInfo is the listing view of a stored session.
type SessionInfo struct {
	ID           string
	WorkDir      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
}
