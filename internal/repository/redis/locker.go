package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"presence-tracker/internal/common/database"
	"presence-tracker/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a models.Locker shared by every process using the same Redis.
// A lease that outlives its TTL is lost; the presence version check still
// rejects the late writer.
type Locker struct {
	rc    *database.RedisClient
	ttl   time.Duration
	retry time.Duration
}

func NewLocker(rc *database.RedisClient, ttl, retry time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	return &Locker{rc: rc, ttl: ttl, retry: retry}
}

func (l *Locker) Lock(ctx context.Context, userID string) (func(), error) {
	key := l.rc.Key("lock", userID)
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.rc.Client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrLockUnavailable, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", models.ErrLockUnavailable, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// release must not depend on a caller context that may be done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = releaseScript.Run(releaseCtx, l.rc.Client, []string{key}, token).Err()
		})
	}, nil
}
