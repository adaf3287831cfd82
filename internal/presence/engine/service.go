// internal/presence/engine/service.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "presence-tracker/internal/common/errors"
	"presence-tracker/internal/common/logger"
	"presence-tracker/internal/common/metrics"
	"presence-tracker/internal/common/observability"
	"presence-tracker/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Engine applies heartbeats to a user's presence row and session history.
type Engine struct {
	config    *Config
	presence  models.PresenceRepository
	sessions  models.SessionRepository
	locker    models.Locker
	lifecycle *Lifecycle
	obs       *observability.Observability
	logger    logger.Logger
	now       func() time.Time
}

// Deps are the collaborators of an Engine. Locker may be nil, in which case
// the presence version check alone serializes writers. Archiver,
// Observability and Now are optional.
type Deps struct {
	Presence      models.PresenceRepository
	Sessions      models.SessionRepository
	Locker        models.Locker
	Archiver      SessionArchiver
	Observability *observability.Observability
	Logger        logger.Logger
	Now           func() time.Time
}

func NewEngine(config *Config, deps Deps) (*Engine, error) {
	if config == nil {
		config = LoadConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if deps.Presence == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("engine requires presence and session repositories")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		config:    config,
		presence:  deps.Presence,
		sessions:  deps.Sessions,
		locker:    deps.Locker,
		lifecycle: NewLifecycle(deps.Sessions, deps.Archiver, deps.Logger),
		obs:       deps.Observability,
		logger:    logger.ForComponent(deps.Logger, "presence-engine"),
		now:       now,
	}, nil
}

// Lifecycle exposes the shared open/close helper so the sweeper closes
// sessions exactly the way the engine does.
func (e *Engine) Lifecycle() *Lifecycle {
	return e.lifecycle
}

// ProcessHeartbeat applies one heartbeat for in.UserID and returns the new state.
func (e *Engine) ProcessHeartbeat(ctx context.Context, in HeartbeatInput) (*PresenceView, error) {
	started := time.Now()

	kind, err := models.ParseKind(in.Kind)
	if err != nil {
		e.record(ctx, in.Kind, "invalid", started)
		return nil, apperrors.NewInvalidHeartbeatError(err.Error())
	}
	if in.UserID == "" {
		e.record(ctx, string(kind), "invalid", started)
		return nil, apperrors.NewInvalidHeartbeatError("userId is required")
	}

	ctx, span := e.obs.StartSpan(ctx, "presence.heartbeat",
		attribute.String("presence.user_id", in.UserID),
		attribute.String("presence.kind", string(kind)),
	)
	defer span.End()

	observedAt := e.resolveObservedAt(in.ObservedAt)

	view, err := e.process(ctx, in.UserID, kind, observedAt, in.Metadata)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.record(ctx, string(kind), resultLabel(err), started)
		return nil, err
	}

	e.record(ctx, string(kind), "ok", started)
	return view, nil
}

func (e *Engine) process(ctx context.Context, userID string, kind models.Kind, observedAt time.Time, meta models.ClientMetadata) (*PresenceView, error) {
	if e.locker != nil {
		unlock, err := e.locker.Lock(ctx, userID)
		if err != nil {
			return nil, apperrors.NewLockUnavailableError(userID, err)
		}
		defer unlock()
	}

	attempts := e.config.MaxConflictRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		p, opened, err := e.apply(ctx, userID, kind, observedAt, meta)
		if err == nil {
			return NewPresenceView(p), nil
		}

		// a session opened by a failed attempt is not referenced by any row
		if opened != nil {
			if _, closeErr := e.lifecycle.Close(ctx, opened.ID, observedAt, models.EndReasonOverlapGuard); closeErr != nil {
				e.logger.Error("failed to close orphaned session", map[string]interface{}{
					"userId":    userID,
					"sessionId": opened.ID,
					"error":     closeErr,
				})
				return nil, closeErr
			}
		}

		if !errors.Is(err, models.ErrVersionConflict) {
			return nil, err
		}

		metrics.HeartbeatConflicts.Inc()
		e.logger.Warn("presence version conflict", map[string]interface{}{
			"userId":  userID,
			"attempt": attempt,
		})
	}

	return nil, apperrors.NewVersionConflictError(userID, attempts)
}

// apply runs one load-compute-write pass. On a lost version check it
// returns models.ErrVersionConflict together with the session it opened, if any.
func (e *Engine) apply(ctx context.Context, userID string, kind models.Kind, observedAt time.Time, meta models.ClientMetadata) (*models.Presence, *models.Session, error) {
	p, err := e.presence.Get(ctx, userID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		p = models.NewPresence(userID)
	case err != nil:
		return nil, nil, apperrors.NewStorageUnavailableError("presence.get", err)
	}

	if p.LastHeartbeatAt != nil && observedAt.Before(*p.LastHeartbeatAt) {
		return nil, nil, apperrors.NewStaleHeartbeatError(userID, observedAt, *p.LastHeartbeatAt)
	}

	wasActive := p.IsActive()

	if wasActive && p.LastHeartbeatAt != nil {
		last := *p.LastHeartbeatAt
		delta := observedAt.Sub(last)

		if delta > 0 && delta < e.config.StaleDeltaGuard() {
			p.TotalOnlineMs += delta.Milliseconds()
		}

		// the episode ended at the last confirmed contact
		if delta > e.config.Timeout {
			if err := e.lifecycle.CloseActive(ctx, p, last, models.EndReasonTimeout); err != nil {
				return nil, nil, err
			}
			p.Status = models.StatusOffline
		}
	}

	next := kind.NextStatus()
	var opened *models.Session

	switch {
	case p.IsActive() && !next.IsActive():
		reason := models.EndReasonOffline
		if kind == models.KindOffline {
			reason = models.EndReasonLogout
		}
		if err := e.lifecycle.CloseActive(ctx, p, observedAt, reason); err != nil {
			return nil, nil, err
		}

	case p.IsActive() && p.ActiveSessionID != "":
		alive, err := e.lifecycle.Touch(ctx, p.ActiveSessionID, observedAt, meta)
		if err != nil {
			return nil, nil, err
		}
		if !alive {
			// pointer to a vanished session; start a fresh episode
			e.logger.Warn("active session missing, reopening", map[string]interface{}{
				"userId":    userID,
				"sessionId": p.ActiveSessionID,
			})
			p.ClearSession()
			if opened, err = e.lifecycle.Open(ctx, p, observedAt, meta); err != nil {
				return nil, nil, err
			}
		}

	case next.IsActive():
		if p.ActiveSessionID != "" {
			if err := e.lifecycle.CloseActive(ctx, p, observedAt, models.EndReasonOverlapGuard); err != nil {
				return nil, nil, err
			}
		}
		if opened, err = e.lifecycle.Open(ctx, p, observedAt, meta); err != nil {
			return nil, nil, err
		}
	}

	p.Status = next
	p.LastHeartbeatAt = models.TimePtr(observedAt)
	if next.IsActive() {
		p.LastOnlineAt = models.TimePtr(observedAt)
	}
	p.UpdatedAt = e.now().UTC()

	if err := e.presence.Save(ctx, p); err != nil {
		if errors.Is(err, models.ErrVersionConflict) {
			return nil, opened, err
		}
		return nil, opened, apperrors.NewStorageUnavailableError("presence.save", err)
	}

	e.logger.Debug("heartbeat applied", map[string]interface{}{
		"userId":    userID,
		"kind":      string(kind),
		"wasActive": wasActive,
		"status":    string(p.Status),
	})
	return p, nil, nil
}

// resolveObservedAt falls back to the server clock for missing timestamps and
// for timestamps further in the future than MaxClockSkew.
func (e *Engine) resolveObservedAt(observedAt time.Time) time.Time {
	now := e.now()
	if observedAt.IsZero() || observedAt.UnixMilli() <= 0 {
		observedAt = now
	}
	if observedAt.After(now.Add(e.config.MaxClockSkew)) {
		e.logger.Warn("heartbeat timestamp ahead of server clock, clamping", map[string]interface{}{
			"observedAt": observedAt,
			"now":        now,
		})
		observedAt = now
	}
	// cursors and indexes work in whole milliseconds
	return observedAt.UTC().Truncate(time.Millisecond)
}

func (e *Engine) record(ctx context.Context, kind, result string, started time.Time) {
	elapsed := time.Since(started)
	metrics.HeartbeatsProcessed.WithLabelValues(kind, result).Inc()
	metrics.HeartbeatDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	e.obs.RecordHeartbeat(ctx, kind, result, elapsed)
}

func resultLabel(err error) string {
	switch apperrors.Normalize(err).Code {
	case apperrors.ErrCodeStaleHeartbeat:
		return "stale"
	case apperrors.ErrCodeInvalidHeartbeat:
		return "invalid"
	case apperrors.ErrCodeVersionConflict, apperrors.ErrCodeLockUnavailable:
		return "conflict"
	default:
		return "error"
	}
}
