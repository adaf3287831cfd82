// Package redis stores presence and session documents in Redis. Presence rows
// are JSON documents guarded by WATCH/MULTI; sorted sets index active users by
// last heartbeat and sessions by start time.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"presence-tracker/internal/common/database"
	"presence-tracker/internal/common/logger"
	"presence-tracker/internal/models"

	"github.com/redis/go-redis/v9"
)

// PresenceStore implements models.PresenceRepository.
type PresenceStore struct {
	rc  *database.RedisClient
	log logger.Logger
}

func NewPresenceStore(rc *database.RedisClient) *PresenceStore {
	return &PresenceStore{rc: rc, log: logger.NewNoOpLogger()}
}

// WithLogger sets the logger that reports unreadable documents.
func (s *PresenceStore) WithLogger(l logger.Logger) *PresenceStore {
	s.log = logger.ForComponent(l, "redis-presence")
	return s
}

func (s *PresenceStore) docKey(userID string) string { return s.rc.Key("presence", userID) }
func (s *PresenceStore) activeKey() string           { return s.rc.Key("presence", "active") }

func (s *PresenceStore) Get(ctx context.Context, userID string) (*models.Presence, error) {
	raw, err := s.rc.Client.Get(ctx, s.docKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get presence %s: %w", userID, err)
	}
	return decodePresence(raw)
}

func (s *PresenceStore) Save(ctx context.Context, p *models.Presence) error {
	key := s.docKey(p.UserID)

	err := s.rc.Client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if p.Version != 0 {
				return models.ErrVersionConflict
			}
		case err != nil:
			return err
		default:
			current, err := decodePresence(raw)
			if err != nil {
				return err
			}
			if current.Version != p.Version {
				return models.ErrVersionConflict
			}
		}

		next := p.Clone()
		next.Version++
		doc, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			if next.IsActive() && next.LastHeartbeatAt != nil {
				pipe.ZAdd(ctx, s.activeKey(), redis.Z{
					Score:  float64(next.LastHeartbeatAt.UnixMilli()),
					Member: next.UserID,
				})
			} else {
				pipe.ZRem(ctx, s.activeKey(), next.UserID)
			}
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		p.Version++
		return nil
	case errors.Is(err, models.ErrVersionConflict), errors.Is(err, redis.TxFailedErr):
		return models.ErrVersionConflict
	default:
		return fmt.Errorf("save presence %s: %w", p.UserID, err)
	}
}

func (s *PresenceStore) ListStale(ctx context.Context, cutoff time.Time, after *models.PresenceCursor, limit int) ([]*models.Presence, *models.PresenceCursor, error) {
	if limit <= 0 {
		return nil, nil, fmt.Errorf("list stale presence: limit must be positive, got %d", limit)
	}

	// the index orders by (score, member), the same order as the cursor
	by := &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
		Count: int64(limit),
	}
	if after != nil {
		by.Min = strconv.FormatInt(after.LastHeartbeatAt.UnixMilli(), 10)
	}

	var (
		ids  []string
		next *models.PresenceCursor
	)
	for len(ids) < limit {
		page, err := s.rc.Client.ZRangeByScoreWithScores(ctx, s.activeKey(), by).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("list stale presence: %w", err)
		}
		for _, z := range page {
			id, _ := z.Member.(string)
			at := time.UnixMilli(int64(z.Score)).UTC()
			if !after.After(at, id) {
				continue
			}
			ids = append(ids, id)
			if len(ids) == limit {
				next = &models.PresenceCursor{LastHeartbeatAt: at, UserID: id}
				break
			}
		}
		if len(page) < limit {
			break
		}
		by.Offset += int64(len(page))
	}

	rows, err := s.load(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	// the index can trail the documents, so re-check each row
	out := rows[:0]
	for _, p := range rows {
		if p.IsActive() && p.LastHeartbeatAt != nil && p.LastHeartbeatAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out, next, nil
}

func (s *PresenceStore) ListActive(ctx context.Context) ([]*models.Presence, error) {
	ids, err := s.rc.Client.ZRange(ctx, s.activeKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list active presence: %w", err)
	}

	rows, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := rows[:0]
	for _, p := range rows {
		if p.IsActive() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// load fetches documents in index order, skipping ids whose document is gone
// or cannot be decoded.
func (s *PresenceStore) load(ctx context.Context, userIDs []string) ([]*models.Presence, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = s.docKey(id)
	}

	values, err := s.rc.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load presence: %w", err)
	}

	out := make([]*models.Presence, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		p, err := decodePresence([]byte(str))
		if err != nil {
			s.log.Error("skipping unreadable presence document", map[string]interface{}{
				"userId": userIDs[i],
				"error":  err,
			})
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func decodePresence(raw []byte) (*models.Presence, error) {
	var p models.Presence
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode presence: %w", err)
	}
	return &p, nil
}
