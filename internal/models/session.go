package models

import (
	"context"
	"time"
)

// EndReason records why a session was closed.
type EndReason string

const (
	EndReasonNone           EndReason = ""
	EndReasonLogout         EndReason = "logout"
	EndReasonOffline        EndReason = "offline"
	EndReasonTimeout        EndReason = "timeout"
	EndReasonTimeoutSweeper EndReason = "timeout_sweeper"
	EndReasonOverlapGuard   EndReason = "overlap_guard"
)

// Session status values. A session is online until it closes; away is a
// presence-level nuance only.
const (
	SessionStatusOnline  = "online"
	SessionStatusOffline = "offline"
)

// ClientMetadata is opaque enrichment copied onto a session when it opens.
type ClientMetadata struct {
	UserAgent        string `json:"userAgent,omitempty" db:"user_agent"`
	ConnectionMethod string `json:"connectionMethod,omitempty" db:"connection_method"`
	ClientID         string `json:"clientId,omitempty" db:"client_id"`
}

// IsEmpty reports whether no metadata field is set.
func (m ClientMetadata) IsEmpty() bool {
	return m.UserAgent == "" && m.ConnectionMethod == "" && m.ClientID == ""
}

// Session represents one online episode of a user.
type Session struct {
	ID         string         `json:"id" db:"id"`
	UserID     string         `json:"userId" db:"user_id"`
	Status     string         `json:"status" db:"status"`
	StartedAt  time.Time      `json:"startedAt" db:"started_at"`
	LastSeenAt time.Time      `json:"lastSeenAt" db:"last_seen_at"`
	EndedAt    *time.Time     `json:"endedAt,omitempty" db:"ended_at"`
	DurationMs int64          `json:"durationMs" db:"duration_ms"`
	EndReason  EndReason      `json:"endReason" db:"end_reason"`
	Metadata   ClientMetadata `json:"metadata" db:"-"`
}

// IsOpen reports whether the session has not been closed yet.
func (s *Session) IsOpen() bool {
	return s.EndedAt == nil
}

// EffectiveEnd is EndedAt for a closed session and LastSeenAt otherwise.
func (s *Session) EffectiveEnd() time.Time {
	if s.EndedAt != nil {
		return *s.EndedAt
	}
	return s.LastSeenAt
}

// Touch records contact with the client while the session is open.
func (s *Session) Touch(at time.Time) {
	s.LastSeenAt = at
	s.Status = SessionStatusOnline
}

// Close finalizes the session. The caller must check IsOpen first.
func (s *Session) Close(at time.Time, reason EndReason) {
	end := at
	s.EndedAt = &end
	s.LastSeenAt = at
	s.DurationMs = at.Sub(s.StartedAt).Milliseconds()
	if s.DurationMs < 0 {
		s.DurationMs = 0
	}
	s.EndReason = reason
	s.Status = SessionStatusOffline
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	c := *s
	c.EndedAt = cloneTime(s.EndedAt)
	return &c
}

// SessionCursor positions a newest-first page of a user's session history.
type SessionCursor struct {
	StartedAt time.Time
	SessionID string
}

// SessionRepository defines session data access.
type SessionRepository interface {
	// Create returns ErrSessionExists when the id is taken.
	Create(ctx context.Context, session *Session) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, sessionID string) (*Session, error)
	// Update rewrites an open session. A session already closed in storage
	// returns ErrSessionClosed and is left untouched.
	Update(ctx context.Context, session *Session) error
	// ListByUser returns sessions newest first, strictly after the cursor when one is given.
	ListByUser(ctx context.Context, userID string, limit int, cursor *SessionCursor) ([]*Session, error)
	// ListOverlapping returns sessions whose [StartedAt, EffectiveEnd] intersects [from, to].
	// An empty userIDs slice means every user.
	ListOverlapping(ctx context.Context, userIDs []string, from, to time.Time) ([]*Session, error)
}
