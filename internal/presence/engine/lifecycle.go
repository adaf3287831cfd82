// internal/presence/engine/lifecycle.go
package engine

import (
	"context"
	"errors"
	"time"

	apperrors "presence-tracker/internal/common/errors"
	"presence-tracker/internal/common/logger"
	"presence-tracker/internal/common/metrics"
	"presence-tracker/internal/models"

	"github.com/google/uuid"
)

// SessionArchiver receives every session once it is closed.
type SessionArchiver interface {
	Archive(ctx context.Context, session *models.Session) error
}

// Lifecycle opens and closes sessions on behalf of a presence row. Both
// operations are safe to repeat, which is what lets the engine and the
// sweeper retry a half-applied two-document write.
type Lifecycle struct {
	sessions models.SessionRepository
	archiver SessionArchiver
	logger   logger.Logger
}

func NewLifecycle(sessions models.SessionRepository, archiver SessionArchiver, log logger.Logger) *Lifecycle {
	return &Lifecycle{
		sessions: sessions,
		archiver: archiver,
		logger:   logger.ForComponent(log, "session-lifecycle"),
	}
}

// CloseActive closes the session p points at and clears the pointer. A
// missing or already closed session only clears the pointer.
func (l *Lifecycle) CloseActive(ctx context.Context, p *models.Presence, endAt time.Time, reason models.EndReason) error {
	if p.ActiveSessionID != "" {
		if _, err := l.Close(ctx, p.ActiveSessionID, endAt, reason); err != nil {
			return err
		}
	}
	p.ClearSession()
	return nil
}

// Close finalizes one session by id. It reports whether this call closed it.
func (l *Lifecycle) Close(ctx context.Context, sessionID string, endAt time.Time, reason models.EndReason) (bool, error) {
	session, err := l.sessions.Get(ctx, sessionID)
	if errors.Is(err, models.ErrNotFound) {
		l.logger.Debug("session to close not found", map[string]interface{}{
			"sessionId": sessionID,
			"reason":    string(reason),
		})
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewStorageUnavailableError("session.get", err)
	}
	if !session.IsOpen() {
		l.logger.Debug("session already closed", map[string]interface{}{
			"sessionId": sessionID,
			"endReason": string(session.EndReason),
		})
		return false, nil
	}

	session.Close(endAt, reason)
	if err := l.sessions.Update(ctx, session); err != nil {
		if errors.Is(err, models.ErrSessionClosed) || errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, apperrors.NewStorageUnavailableError("session.close", err)
	}

	metrics.SessionsClosed.WithLabelValues(string(reason)).Inc()
	l.logger.Info("session closed", map[string]interface{}{
		"sessionId":  session.ID,
		"userId":     session.UserID,
		"reason":     string(reason),
		"durationMs": session.DurationMs,
	})
	l.archive(ctx, session)
	return true, nil
}

// Open creates a new session starting at at and points p at it.
func (l *Lifecycle) Open(ctx context.Context, p *models.Presence, at time.Time, meta models.ClientMetadata) (*models.Session, error) {
	session := &models.Session{
		ID:         uuid.NewString(),
		UserID:     p.UserID,
		Status:     models.SessionStatusOnline,
		StartedAt:  at,
		LastSeenAt: at,
		Metadata:   meta,
	}
	if err := l.sessions.Create(ctx, session); err != nil {
		return nil, apperrors.NewStorageUnavailableError("session.create", err)
	}

	p.ActiveSessionID = session.ID
	p.SessionStartedAt = models.TimePtr(at)

	metrics.SessionsOpened.Inc()
	l.logger.Info("session opened", map[string]interface{}{
		"sessionId": session.ID,
		"userId":    session.UserID,
	})
	return session, nil
}

// Touch records contact on the open session and backfills empty metadata.
// It reports false when the session is gone or already closed.
func (l *Lifecycle) Touch(ctx context.Context, sessionID string, at time.Time, meta models.ClientMetadata) (bool, error) {
	session, err := l.sessions.Get(ctx, sessionID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewStorageUnavailableError("session.get", err)
	}
	if !session.IsOpen() {
		return false, nil
	}

	if at.After(session.LastSeenAt) {
		session.Touch(at)
	}
	backfill(&session.Metadata, meta)

	if err := l.sessions.Update(ctx, session); err != nil {
		if errors.Is(err, models.ErrSessionClosed) || errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, apperrors.NewStorageUnavailableError("session.touch", err)
	}
	return true, nil
}

// backfill copies each non-empty field of src into dst where dst is still empty.
func backfill(dst *models.ClientMetadata, src models.ClientMetadata) {
	if dst.ConnectionMethod == "" {
		dst.ConnectionMethod = src.ConnectionMethod
	}
	if dst.UserAgent == "" {
		dst.UserAgent = src.UserAgent
	}
	if dst.ClientID == "" {
		dst.ClientID = src.ClientID
	}
}

func (l *Lifecycle) archive(ctx context.Context, session *models.Session) {
	if l.archiver == nil {
		return
	}
	if err := l.archiver.Archive(ctx, session); err != nil {
		metrics.ArchiveFailures.Inc()
		l.logger.Warn("session archive failed", map[string]interface{}{
			"sessionId": session.ID,
			"error":     err,
		})
	}
}
