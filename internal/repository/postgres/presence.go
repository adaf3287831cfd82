package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"presence-tracker/internal/models"
)

const presenceColumns = `user_id, status, last_heartbeat_at, session_started_at, last_online_at,
	total_online_ms, active_session_id, version, updated_at`

// PresenceStore implements models.PresenceRepository over the presence table.
// The version column carries the compare-and-set.
type PresenceStore struct {
	db *sql.DB
}

func NewPresenceStore(db *sql.DB) *PresenceStore {
	return &PresenceStore{db: db}
}

func (s *PresenceStore) Get(ctx context.Context, userID string) (*models.Presence, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+presenceColumns+` FROM presence WHERE user_id = $1`, userID)
	p, err := scanPresence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get presence %s: %w", userID, err)
	}
	return p, nil
}

func (s *PresenceStore) Save(ctx context.Context, p *models.Presence) error {
	var (
		res sql.Result
		err error
	)
	if p.Version == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO presence (user_id, status, last_heartbeat_at, session_started_at, last_online_at,
				total_online_ms, active_session_id, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8)
			ON CONFLICT (user_id) DO NOTHING`,
			p.UserID, string(p.Status), nullTime(p.LastHeartbeatAt), nullTime(p.SessionStartedAt),
			nullTime(p.LastOnlineAt), p.TotalOnlineMs, nullString(p.ActiveSessionID), p.UpdatedAt.UTC(),
		)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE presence SET status = $2, last_heartbeat_at = $3, session_started_at = $4,
				last_online_at = $5, total_online_ms = $6, active_session_id = $7,
				version = version + 1, updated_at = $8
			WHERE user_id = $1 AND version = $9`,
			p.UserID, string(p.Status), nullTime(p.LastHeartbeatAt), nullTime(p.SessionStartedAt),
			nullTime(p.LastOnlineAt), p.TotalOnlineMs, nullString(p.ActiveSessionID), p.UpdatedAt.UTC(),
			p.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("save presence %s: %w", p.UserID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save presence %s: %w", p.UserID, err)
	}
	if affected == 0 {
		return models.ErrVersionConflict
	}
	p.Version++
	return nil
}

func (s *PresenceStore) ListStale(ctx context.Context, cutoff time.Time, after *models.PresenceCursor, limit int) ([]*models.Presence, *models.PresenceCursor, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+presenceColumns+` FROM presence
			WHERE status IN ('online', 'away') AND last_heartbeat_at < $1
			ORDER BY last_heartbeat_at ASC, user_id ASC
			LIMIT $2`, cutoff.UTC(), limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+presenceColumns+` FROM presence
			WHERE status IN ('online', 'away') AND last_heartbeat_at < $1
				AND (last_heartbeat_at, user_id) > ($3, $4)
			ORDER BY last_heartbeat_at ASC, user_id ASC
			LIMIT $2`, cutoff.UTC(), limit, after.LastHeartbeatAt.UTC(), after.UserID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("list stale presence: %w", err)
	}
	out, err := collectPresence(rows)
	if err != nil {
		return nil, nil, fmt.Errorf("list stale presence: %w", err)
	}
	if len(out) < limit || len(out) == 0 {
		return out, nil, nil
	}
	return out, models.CursorOf(out[len(out)-1]), nil
}

func (s *PresenceStore) ListActive(ctx context.Context) ([]*models.Presence, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+presenceColumns+` FROM presence
		WHERE status IN ('online', 'away')
		ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active presence: %w", err)
	}
	return collectPresence(rows)
}

func collectPresence(rows *sql.Rows) ([]*models.Presence, error) {
	defer rows.Close()

	var out []*models.Presence
	for rows.Next() {
		p, err := scanPresence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPresence(row rowScanner) (*models.Presence, error) {
	var (
		p                                     models.Presence
		status                                string
		lastHeartbeat, sessionStart, lastSeen sql.NullTime
		activeSession                         sql.NullString
	)
	if err := row.Scan(
		&p.UserID, &status, &lastHeartbeat, &sessionStart, &lastSeen,
		&p.TotalOnlineMs, &activeSession, &p.Version, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Status = models.Status(status)
	p.LastHeartbeatAt = fromNullTime(lastHeartbeat)
	p.SessionStartedAt = fromNullTime(sessionStart)
	p.LastOnlineAt = fromNullTime(lastSeen)
	p.ActiveSessionID = activeSession.String
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func fromNullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
