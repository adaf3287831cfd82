package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"presence-tracker/internal/models"

	"github.com/lib/pq"
)

const sessionColumns = `id, user_id, status, started_at, last_seen_at, ended_at, duration_ms,
	end_reason, user_agent, connection_method, client_id`

// uniqueViolation is the PostgreSQL SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// SessionStore implements models.SessionRepository over the sessions table.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		session.ID, session.UserID, session.Status, session.StartedAt.UTC(), session.LastSeenAt.UTC(),
		nullTime(session.EndedAt), session.DurationMs, string(session.EndReason),
		session.Metadata.UserAgent, session.Metadata.ConnectionMethod, session.Metadata.ClientID,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return models.ErrSessionExists
		}
		return fmt.Errorf("create session %s: %w", session.ID, err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return session, nil
}

func (s *SessionStore) Update(ctx context.Context, session *models.Session) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = $2, last_seen_at = $3, ended_at = $4, duration_ms = $5,
			end_reason = $6, user_agent = $7, connection_method = $8, client_id = $9
		WHERE id = $1 AND ended_at IS NULL`,
		session.ID, session.Status, session.LastSeenAt.UTC(), nullTime(session.EndedAt),
		session.DurationMs, string(session.EndReason),
		session.Metadata.UserAgent, session.Metadata.ConnectionMethod, session.Metadata.ClientID,
	)
	if err != nil {
		return fmt.Errorf("update session %s: %w", session.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %s: %w", session.ID, err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)`, session.ID).Scan(&exists); err != nil {
		return fmt.Errorf("update session %s: %w", session.ID, err)
	}
	if !exists {
		return models.ErrNotFound
	}
	return models.ErrSessionClosed
}

func (s *SessionStore) ListByUser(ctx context.Context, userID string, limit int, cursor *models.SessionCursor) ([]*models.Session, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if cursor == nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+sessionColumns+` FROM sessions
			WHERE user_id = $1
			ORDER BY started_at DESC, id DESC
			LIMIT $2`, userID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+sessionColumns+` FROM sessions
			WHERE user_id = $1 AND (started_at, id) < ($2, $3)
			ORDER BY started_at DESC, id DESC
			LIMIT $4`, userID, cursor.StartedAt.UTC(), cursor.SessionID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", userID, err)
	}
	return collectSessions(rows)
}

func (s *SessionStore) ListOverlapping(ctx context.Context, userIDs []string, from, to time.Time) ([]*models.Session, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(userIDs) == 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+sessionColumns+` FROM sessions
			WHERE started_at <= $2 AND COALESCE(ended_at, last_seen_at) >= $1
			ORDER BY started_at ASC, id ASC`, from.UTC(), to.UTC())
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+sessionColumns+` FROM sessions
			WHERE started_at <= $2 AND COALESCE(ended_at, last_seen_at) >= $1 AND user_id = ANY($3)
			ORDER BY started_at ASC, id ASC`, from.UTC(), to.UTC(), pq.Array(userIDs))
	}
	if err != nil {
		return nil, fmt.Errorf("list overlapping sessions: %w", err)
	}
	return collectSessions(rows)
}

func collectSessions(rows *sql.Rows) ([]*models.Session, error) {
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s         models.Session
		endedAt   sql.NullTime
		endReason string
	)
	if err := row.Scan(
		&s.ID, &s.UserID, &s.Status, &s.StartedAt, &s.LastSeenAt, &endedAt, &s.DurationMs,
		&endReason, &s.Metadata.UserAgent, &s.Metadata.ConnectionMethod, &s.Metadata.ClientID,
	); err != nil {
		return nil, err
	}
	s.StartedAt = s.StartedAt.UTC()
	s.LastSeenAt = s.LastSeenAt.UTC()
	s.EndedAt = fromNullTime(endedAt)
	s.EndReason = models.EndReason(endReason)
	return &s, nil
}
