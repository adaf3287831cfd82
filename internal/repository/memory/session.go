package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"presence-tracker/internal/models"
)

// SessionStore is a map-backed models.SessionRepository.
type SessionStore struct {
	mu   sync.RWMutex
	rows map[string]*models.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{rows: make(map[string]*models.Session)}
}

func (s *SessionStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rows[session.ID]; exists {
		return models.ErrSessionExists
	}
	s.rows[session.ID] = session.Clone()
	return nil
}

func (s *SessionStore) Get(_ context.Context, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[sessionID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return row.Clone(), nil
}

func (s *SessionStore) Update(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.rows[session.ID]
	if !ok {
		return models.ErrNotFound
	}
	if !current.IsOpen() {
		return models.ErrSessionClosed
	}
	s.rows[session.ID] = session.Clone()
	return nil
}

func (s *SessionStore) ListByUser(_ context.Context, userID string, limit int, cursor *models.SessionCursor) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Session
	for _, row := range s.rows {
		if row.UserID != userID {
			continue
		}
		if cursor != nil && !pastCursor(row, cursor) {
			continue
		}
		out = append(out, row.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// pastCursor reports whether row sorts after the cursor in newest-first order.
func pastCursor(row *models.Session, cursor *models.SessionCursor) bool {
	if row.StartedAt.Equal(cursor.StartedAt) {
		return row.ID < cursor.SessionID
	}
	return row.StartedAt.Before(cursor.StartedAt)
}

func (s *SessionStore) ListOverlapping(_ context.Context, userIDs []string, from, to time.Time) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}

	var out []*models.Session
	for _, row := range s.rows {
		if len(wanted) > 0 {
			if _, ok := wanted[row.UserID]; !ok {
				continue
			}
		}
		if row.StartedAt.After(to) || row.EffectiveEnd().Before(from) {
			continue
		}
		out = append(out, row.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}
