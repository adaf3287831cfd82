package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("NOT_FOUND")
	ErrVersionConflict = errors.New("VERSION_CONFLICT")
	ErrLockUnavailable = errors.New("LOCK_UNAVAILABLE")
	ErrSessionClosed   = errors.New("SESSION_CLOSED")
	ErrSessionExists   = errors.New("SESSION_EXISTS")
)

// Status is the presence state of a user.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// IsActive reports whether the status counts as connected.
func (s Status) IsActive() bool {
	return s == StatusOnline || s == StatusAway
}

// Kind is the caller's intent carried by a heartbeat.
type Kind string

const (
	KindOnline    Kind = "online"
	KindHeartbeat Kind = "heartbeat"
	KindAway      Kind = "away"
	KindOffline   Kind = "offline"
)

// ParseKind normalizes a heartbeat kind. An empty value means heartbeat.
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case "":
		return KindHeartbeat, nil
	case KindOnline, KindHeartbeat, KindAway, KindOffline:
		return k, nil
	default:
		return "", fmt.Errorf("unknown heartbeat kind %q", raw)
	}
}

// NextStatus resolves the presence status a heartbeat of this kind asks for.
func (k Kind) NextStatus() Status {
	switch k {
	case KindOffline:
		return StatusOffline
	case KindAway:
		return StatusAway
	default:
		return StatusOnline
	}
}

// Presence is the current state of one user.
type Presence struct {
	UserID           string     `json:"userId" db:"user_id"`
	Status           Status     `json:"status" db:"status"`
	LastHeartbeatAt  *time.Time `json:"lastHeartbeatAt,omitempty" db:"last_heartbeat_at"`
	SessionStartedAt *time.Time `json:"sessionStartedAt,omitempty" db:"session_started_at"`
	LastOnlineAt     *time.Time `json:"lastOnlineAt,omitempty" db:"last_online_at"`
	TotalOnlineMs    int64      `json:"totalOnlineMs" db:"total_online_ms"`
	ActiveSessionID  string     `json:"activeSessionId,omitempty" db:"active_session_id"`
	Version          int64      `json:"version" db:"version"`
	UpdatedAt        time.Time  `json:"updatedAt" db:"updated_at"`
}

// NewPresence returns the default row for a user never seen before.
func NewPresence(userID string) *Presence {
	return &Presence{UserID: userID, Status: StatusOffline}
}

// IsActive reports whether the user is online or away.
func (p *Presence) IsActive() bool {
	return p.Status.IsActive()
}

// IsStale reports whether an active presence has gone silent for longer than timeout.
func (p *Presence) IsStale(now time.Time, timeout time.Duration) bool {
	if !p.IsActive() || p.LastHeartbeatAt == nil {
		return false
	}
	return now.Sub(*p.LastHeartbeatAt) > timeout
}

// ClearSession drops the pointer to the open session.
func (p *Presence) ClearSession() {
	p.ActiveSessionID = ""
	p.SessionStartedAt = nil
}

// Clone returns a deep copy.
func (p *Presence) Clone() *Presence {
	c := *p
	c.LastHeartbeatAt = cloneTime(p.LastHeartbeatAt)
	c.SessionStartedAt = cloneTime(p.SessionStartedAt)
	c.LastOnlineAt = cloneTime(p.LastOnlineAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr returns a pointer to a copy of t.
func TimePtr(t time.Time) *time.Time {
	return &t
}

// PresenceCursor positions an oldest-first scan of stale presence rows.
type PresenceCursor struct {
	LastHeartbeatAt time.Time
	UserID          string
}

// CursorOf returns the scan position of p. p must have a LastHeartbeatAt.
func CursorOf(p *Presence) *PresenceCursor {
	return &PresenceCursor{LastHeartbeatAt: *p.LastHeartbeatAt, UserID: p.UserID}
}

// After reports whether (at, userID) sorts strictly after the cursor.
func (c *PresenceCursor) After(at time.Time, userID string) bool {
	if c == nil {
		return true
	}
	if at.Equal(c.LastHeartbeatAt) {
		return userID > c.UserID
	}
	return at.After(c.LastHeartbeatAt)
}

// PresenceRepository defines presence data access.
type PresenceRepository interface {
	// Get returns ErrNotFound for users without a row.
	Get(ctx context.Context, userID string) (*Presence, error)
	// Save writes p if the stored version equals p.Version (0 means "must not exist yet"),
	// then bumps p.Version. A mismatch returns ErrVersionConflict.
	Save(ctx context.Context, p *Presence) error
	// ListStale returns up to limit active rows whose LastHeartbeatAt is before
	// cutoff, ordered by (LastHeartbeatAt, UserID) and strictly after the cursor
	// when one is given. next is nil once the scan is exhausted. A page may hold
	// fewer than limit rows while next is still set.
	ListStale(ctx context.Context, cutoff time.Time, after *PresenceCursor, limit int) (rows []*Presence, next *PresenceCursor, err error)
	// ListActive returns every online or away row.
	ListActive(ctx context.Context) ([]*Presence, error)
}

// Locker serializes work on one user's rows.
type Locker interface {
	// Lock blocks until the user's lock is held or ctx ends. The returned func releases it.
	Lock(ctx context.Context, userID string) (func(), error)
}
