// internal/presence/query/service.go
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "presence-tracker/internal/common/errors"
	"presence-tracker/internal/common/logger"
	"presence-tracker/internal/models"
)

// StatusView is a user's presence as seen by readers. Status is the
// effective status: an active row already past the timeout reads as offline
// even before the sweeper has closed it.
type StatusView struct {
	UserID           string        `json:"userId"`
	Status           models.Status `json:"status"`
	StoredStatus     models.Status `json:"storedStatus"`
	LastSeenAt       *time.Time    `json:"lastSeenAt,omitempty"`
	LastHeartbeatAt  *time.Time    `json:"lastHeartbeatAt,omitempty"`
	SessionStartedAt *time.Time    `json:"sessionStartedAt,omitempty"`
	TotalOnlineMs    int64         `json:"totalOnlineMs"`
	ActiveSessionID  string        `json:"activeSessionId,omitempty"`
}

// SessionPage is one newest-first page of a user's sessions.
type SessionPage struct {
	Sessions   []*models.Session `json:"sessions"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

// Service is the read side of the presence tracker. It never writes.
type Service struct {
	config   *Config
	presence models.PresenceRepository
	sessions models.SessionRepository
	logger   logger.Logger
	now      func() time.Time
}

type Deps struct {
	Presence models.PresenceRepository
	Sessions models.SessionRepository
	Logger   logger.Logger
	Now      func() time.Time
}

func NewService(config *Config, deps Deps) (*Service, error) {
	if config == nil {
		config = LoadConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("query config: %w", err)
	}
	if deps.Presence == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("query service requires presence and session repositories")
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		config:   config,
		presence: deps.Presence,
		sessions: deps.Sessions,
		logger:   logger.ForComponent(deps.Logger, "presence-query"),
		now:      now,
	}, nil
}

// GetStatus returns the current status and last-seen time of userID.
// Unknown users read as offline.
func (s *Service) GetStatus(ctx context.Context, userID string) (*StatusView, error) {
	if userID == "" {
		return nil, apperrors.NewInvalidQueryError("userId is required")
	}
	p, err := s.presence.Get(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		p = models.NewPresence(userID)
	} else if err != nil {
		return nil, apperrors.NewStorageUnavailableError("presence.get", err)
	}
	return s.view(p, s.now()), nil
}

// ListOnline returns users that are online or away and not yet past the timeout.
func (s *Service) ListOnline(ctx context.Context) ([]*StatusView, error) {
	rows, err := s.presence.ListActive(ctx)
	if err != nil {
		return nil, apperrors.NewStorageUnavailableError("presence.list_active", err)
	}
	now := s.now()
	out := make([]*StatusView, 0, len(rows))
	for _, p := range rows {
		if p.IsStale(now, s.config.Timeout) {
			continue
		}
		out = append(out, s.view(p, now))
	}
	return out, nil
}

func (s *Service) view(p *models.Presence, now time.Time) *StatusView {
	status := p.Status
	if p.IsStale(now, s.config.Timeout) {
		status = models.StatusOffline
	}
	lastSeen := p.LastOnlineAt
	if lastSeen == nil {
		lastSeen = p.LastHeartbeatAt
	}
	v := &StatusView{
		UserID:          p.UserID,
		Status:          status,
		StoredStatus:    p.Status,
		LastSeenAt:      lastSeen,
		LastHeartbeatAt: p.LastHeartbeatAt,
		TotalOnlineMs:   p.TotalOnlineMs,
	}
	if status.IsActive() {
		v.SessionStartedAt = p.SessionStartedAt
		v.ActiveSessionID = p.ActiveSessionID
	}
	return v
}

// ListSessions pages through userID's sessions, newest first. limit is
// clamped to [1, MaxLimit]; zero or negative means DefaultLimit.
func (s *Service) ListSessions(ctx context.Context, userID string, limit int, cursor string) (*SessionPage, error) {
	if userID == "" {
		return nil, apperrors.NewInvalidQueryError("userId is required")
	}
	after, err := DecodeCursor(cursor)
	if err != nil {
		return nil, apperrors.NewInvalidQueryError(err.Error())
	}
	limit = s.clampLimit(limit)

	// one extra row tells whether another page exists
	rows, err := s.sessions.ListByUser(ctx, userID, limit+1, after)
	if err != nil {
		return nil, apperrors.NewStorageUnavailableError("session.list_by_user", err)
	}

	page := &SessionPage{Sessions: rows}
	if len(rows) > limit {
		page.Sessions = rows[:limit]
		page.NextCursor = EncodeCursor(page.Sessions[limit-1])
	}
	if page.Sessions == nil {
		page.Sessions = []*models.Session{}
	}
	return page, nil
}

func (s *Service) clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return s.config.DefaultLimit
	case limit > s.config.MaxLimit:
		return s.config.MaxLimit
	default:
		return limit
	}
}

// AggregateOnlineTime totals online time per calendar day and per user over
// [from, to]. An empty userIDs slice covers every user.
func (s *Service) AggregateOnlineTime(ctx context.Context, userIDs []string, from, to time.Time) (*OnlineTimeReport, error) {
	if from.IsZero() || to.IsZero() {
		return nil, apperrors.NewInvalidQueryError("from and to are required")
	}
	if !from.Before(to) {
		return nil, apperrors.NewInvalidQueryError(fmt.Sprintf("from %s must be before to %s",
			from.Format(time.RFC3339), to.Format(time.RFC3339)))
	}
	from, to = from.UTC(), to.UTC()

	sessions, err := s.sessions.ListOverlapping(ctx, userIDs, from, to)
	if err != nil {
		return nil, apperrors.NewStorageUnavailableError("session.list_overlapping", err)
	}

	report := Aggregate(sessions, from, to, s.config.Location)
	s.logger.Debug("online time aggregated", map[string]interface{}{
		"users":    len(report.Users),
		"days":     len(report.Days),
		"sessions": len(sessions),
	})
	return report, nil
}
