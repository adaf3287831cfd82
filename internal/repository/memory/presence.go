// Package memory keeps presence and session rows in process memory. It backs
// single-node deployments and the test suites of the presence core.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"presence-tracker/internal/models"
)

// PresenceStore is a map-backed models.PresenceRepository with version CAS.
type PresenceStore struct {
	mu   sync.RWMutex
	rows map[string]*models.Presence
}

func NewPresenceStore() *PresenceStore {
	return &PresenceStore{rows: make(map[string]*models.Presence)}
}

func (s *PresenceStore) Get(_ context.Context, userID string) (*models.Presence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return row.Clone(), nil
}

func (s *PresenceStore) Save(_ context.Context, p *models.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.rows[p.UserID]
	switch {
	case !exists && p.Version != 0:
		return models.ErrVersionConflict
	case exists && current.Version != p.Version:
		return models.ErrVersionConflict
	}

	p.Version++
	s.rows[p.UserID] = p.Clone()
	return nil
}

func (s *PresenceStore) ListStale(_ context.Context, cutoff time.Time, after *models.PresenceCursor, limit int) ([]*models.Presence, *models.PresenceCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Presence
	for _, row := range s.rows {
		if !row.IsActive() || row.LastHeartbeatAt == nil || !row.LastHeartbeatAt.Before(cutoff) {
			continue
		}
		if after.After(*row.LastHeartbeatAt, row.UserID) {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastHeartbeatAt.Equal(*out[j].LastHeartbeatAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].LastHeartbeatAt.Before(*out[j].LastHeartbeatAt)
	})
	if limit <= 0 || len(out) <= limit {
		return out, nil, nil
	}
	out = out[:limit]
	return out, models.CursorOf(out[limit-1]), nil
}

func (s *PresenceStore) ListActive(_ context.Context) ([]*models.Presence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Presence
	for _, row := range s.rows {
		if row.IsActive() {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}
