// internal/presence/engine/models.go
package engine

import (
	"time"

	"presence-tracker/internal/models"
)

// HeartbeatInput is one liveness signal from an authenticated caller.
type HeartbeatInput struct {
	UserID string
	// Kind is one of online, heartbeat, away, offline. Empty means heartbeat.
	Kind string
	// ObservedAt defaults to the server clock when zero or non-positive.
	ObservedAt time.Time
	Metadata   models.ClientMetadata
}

// PresenceView is the state returned to the heartbeat caller.
type PresenceView struct {
	UserID           string        `json:"userId"`
	Status           models.Status `json:"status"`
	LastHeartbeatAt  *time.Time    `json:"lastHeartbeatAt,omitempty"`
	SessionStartedAt *time.Time    `json:"sessionStartedAt,omitempty"`
	LastOnlineAt     *time.Time    `json:"lastOnlineAt,omitempty"`
	TotalOnlineMs    int64         `json:"totalOnlineMs"`
	ActiveSessionID  string        `json:"activeSessionId,omitempty"`
}

func NewPresenceView(p *models.Presence) *PresenceView {
	return &PresenceView{
		UserID:           p.UserID,
		Status:           p.Status,
		LastHeartbeatAt:  p.LastHeartbeatAt,
		SessionStartedAt: p.SessionStartedAt,
		LastOnlineAt:     p.LastOnlineAt,
		TotalOnlineMs:    p.TotalOnlineMs,
		ActiveSessionID:  p.ActiveSessionID,
	}
}
