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

// SessionStore implements models.SessionRepository. Each session is a JSON
// document; a per-user and a global sorted set index it by start millis.
type SessionStore struct {
	rc  *database.RedisClient
	log logger.Logger
}

func NewSessionStore(rc *database.RedisClient) *SessionStore {
	return &SessionStore{rc: rc, log: logger.NewNoOpLogger()}
}

// WithLogger sets the logger that reports unreadable documents.
func (s *SessionStore) WithLogger(l logger.Logger) *SessionStore {
	s.log = logger.ForComponent(l, "redis-sessions")
	return s
}

func (s *SessionStore) docKey(id string) string      { return s.rc.Key("session", id) }
func (s *SessionStore) userKey(userID string) string { return s.rc.Key("sessions", "user", userID) }
func (s *SessionStore) startedKey() string           { return s.rc.Key("sessions", "started") }

func (s *SessionStore) Create(ctx context.Context, session *models.Session) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}

	created, err := s.rc.Client.SetNX(ctx, s.docKey(session.ID), doc, 0).Result()
	if err != nil {
		return fmt.Errorf("create session %s: %w", session.ID, err)
	}
	if !created {
		return models.ErrSessionExists
	}

	score := float64(session.StartedAt.UnixMilli())
	_, err = s.rc.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.userKey(session.UserID), redis.Z{Score: score, Member: session.ID})
		pipe.ZAdd(ctx, s.startedKey(), redis.Z{Score: score, Member: session.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("index session %s: %w", session.ID, err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	raw, err := s.rc.Client.Get(ctx, s.docKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return decodeSession(raw)
}

func (s *SessionStore) Update(ctx context.Context, session *models.Session) error {
	key := s.docKey(session.ID)
	doc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}

	err = s.rc.Client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return models.ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := decodeSession(raw)
		if err != nil {
			return err
		}
		if !current.IsOpen() {
			return models.ErrSessionClosed
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, doc, 0)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrSessionClosed):
		return err
	default:
		return fmt.Errorf("update session %s: %w", session.ID, err)
	}
}

func (s *SessionStore) ListByUser(ctx context.Context, userID string, limit int, cursor *models.SessionCursor) ([]*models.Session, error) {
	key := s.userKey(userID)
	var ids []string

	upper := "+inf"
	if cursor != nil {
		cursorMs := strconv.FormatInt(cursor.StartedAt.UnixMilli(), 10)
		// equal scores come back in descending member order
		ties, err := s.rc.Client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{Min: cursorMs, Max: cursorMs}).Result()
		if err != nil {
			return nil, fmt.Errorf("list sessions for %s: %w", userID, err)
		}
		for _, id := range ties {
			if id < cursor.SessionID && len(ids) < limit {
				ids = append(ids, id)
			}
		}
		upper = "(" + cursorMs
	}

	if remaining := limit - len(ids); remaining > 0 {
		older, err := s.rc.Client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   upper,
			Count: int64(remaining),
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("list sessions for %s: %w", userID, err)
		}
		ids = append(ids, older...)
	}

	return s.load(ctx, ids)
}

func (s *SessionStore) ListOverlapping(ctx context.Context, userIDs []string, from, to time.Time) ([]*models.Session, error) {
	rangeBy := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(to.UnixMilli(), 10)}

	indexes := []string{s.startedKey()}
	if len(userIDs) > 0 {
		indexes = indexes[:0]
		for _, id := range userIDs {
			indexes = append(indexes, s.userKey(id))
		}
	}

	var ids []string
	for _, idx := range indexes {
		found, err := s.rc.Client.ZRangeByScore(ctx, idx, rangeBy).Result()
		if err != nil {
			return nil, fmt.Errorf("list overlapping sessions: %w", err)
		}
		ids = append(ids, found...)
	}

	sessions, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := sessions[:0]
	for _, session := range sessions {
		if session.StartedAt.After(to) || session.EffectiveEnd().Before(from) {
			continue
		}
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (s *SessionStore) load(ctx context.Context, ids []string) ([]*models.Session, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(id)
	}

	values, err := s.rc.Client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	out := make([]*models.Session, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		session, err := decodeSession([]byte(str))
		if err != nil {
			s.log.Error("skipping unreadable session document", map[string]interface{}{
				"sessionId": ids[i],
				"error":     err,
			})
			continue
		}
		out = append(out, session)
	}
	return out, nil
}

func decodeSession(raw []byte) (*models.Session, error) {
	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}
