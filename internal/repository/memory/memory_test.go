package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"presence-tracker/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestPresenceStore_VersionCAS(t *testing.T) {
	ctx := context.Background()
	store := NewPresenceStore()

	_, err := store.Get(ctx, "u1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	p := models.NewPresence("u1")
	require.NoError(t, store.Save(ctx, p))
	assert.EqualValues(t, 1, p.Version)

	// a second creator loses
	assert.ErrorIs(t, store.Save(ctx, models.NewPresence("u1")), models.ErrVersionConflict)

	a, _ := store.Get(ctx, "u1")
	b, _ := store.Get(ctx, "u1")
	a.Status = models.StatusOnline
	require.NoError(t, store.Save(ctx, a))
	b.Status = models.StatusAway
	assert.ErrorIs(t, store.Save(ctx, b), models.ErrVersionConflict)

	got, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, got.Status)
	assert.EqualValues(t, 2, got.Version)
}

func TestPresenceStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewPresenceStore()
	p := models.NewPresence("u1")
	p.LastHeartbeatAt = models.TimePtr(t0)
	require.NoError(t, store.Save(ctx, p))

	got, _ := store.Get(ctx, "u1")
	*got.LastHeartbeatAt = t0.Add(time.Hour)

	again, _ := store.Get(ctx, "u1")
	assert.Equal(t, t0, *again.LastHeartbeatAt)
}

func TestPresenceStore_ListStaleOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewPresenceStore()

	seed := func(id string, status models.Status, last time.Time) {
		p := models.NewPresence(id)
		p.Status = status
		p.LastHeartbeatAt = models.TimePtr(last)
		require.NoError(t, store.Save(ctx, p))
	}
	seed("fresh", models.StatusOnline, t0.Add(50*time.Second))
	seed("old", models.StatusOnline, t0)
	seed("older", models.StatusAway, t0.Add(-time.Minute))
	seed("gone", models.StatusOffline, t0.Add(-time.Hour))

	stale, next, err := store.ListStale(ctx, t0.Add(10*time.Second), nil, 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "older", stale[0].UserID)
	assert.Equal(t, "old", stale[1].UserID)
	assert.Nil(t, next)

	first, next, _ := store.ListStale(ctx, t0.Add(10*time.Second), nil, 1)
	require.Len(t, first, 1)
	require.NotNil(t, next)
	assert.Equal(t, "older", next.UserID)

	second, next, _ := store.ListStale(ctx, t0.Add(10*time.Second), next, 1)
	require.Len(t, second, 1)
	assert.Equal(t, "old", second[0].UserID)
	assert.Nil(t, next)

	active, _ := store.ListActive(ctx)
	assert.Len(t, active, 3)
}

func TestPresenceStore_ListStaleCursorBreaksTies(t *testing.T) {
	ctx := context.Background()
	store := NewPresenceStore()
	for _, id := range []string{"c", "a", "b"} {
		p := models.NewPresence(id)
		p.Status = models.StatusOnline
		p.LastHeartbeatAt = models.TimePtr(t0)
		require.NoError(t, store.Save(ctx, p))
	}

	var seen []string
	var after *models.PresenceCursor
	for {
		rows, next, err := store.ListStale(ctx, t0.Add(time.Minute), after, 2)
		require.NoError(t, err)
		for _, r := range rows {
			seen = append(seen, r.UserID)
		}
		if next == nil {
			break
		}
		after = next
	}
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestSessionStore_CreateUpdateClosed(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	s := &models.Session{ID: "s1", UserID: "u1", Status: models.SessionStatusOnline, StartedAt: t0, LastSeenAt: t0}

	require.NoError(t, store.Create(ctx, s))
	assert.ErrorIs(t, store.Create(ctx, s), models.ErrSessionExists)

	s.Close(t0.Add(time.Minute), models.EndReasonLogout)
	require.NoError(t, store.Update(ctx, s))

	s.Close(t0.Add(time.Hour), models.EndReasonTimeout)
	assert.ErrorIs(t, store.Update(ctx, s), models.ErrSessionClosed)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.EndReasonLogout, got.EndReason)
	assert.EqualValues(t, 60000, got.DurationMs)

	assert.ErrorIs(t, store.Update(ctx, &models.Session{ID: "missing"}), models.ErrNotFound)
}

func TestSessionStore_ListByUserPaging(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	for i, id := range []string{"a", "b", "c", "d"} {
		start := t0.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Create(ctx, &models.Session{ID: id, UserID: "u1", StartedAt: start, LastSeenAt: start}))
	}
	require.NoError(t, store.Create(ctx, &models.Session{ID: "x", UserID: "u2", StartedAt: t0, LastSeenAt: t0}))

	page, err := store.ListByUser(ctx, "u1", 2, nil)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "d", page[0].ID)
	assert.Equal(t, "c", page[1].ID)

	next, err := store.ListByUser(ctx, "u1", 2, &models.SessionCursor{StartedAt: page[1].StartedAt, SessionID: page[1].ID})
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, "b", next[0].ID)
	assert.Equal(t, "a", next[1].ID)
}

func TestSessionStore_ListOverlapping(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	closed := &models.Session{ID: "closed", UserID: "u1", StartedAt: t0, LastSeenAt: t0}
	closed.Close(t0.Add(30*time.Minute), models.EndReasonLogout)
	require.NoError(t, store.Create(ctx, closed))
	require.NoError(t, store.Create(ctx, &models.Session{ID: "open", UserID: "u2", StartedAt: t0.Add(time.Hour), LastSeenAt: t0.Add(2 * time.Hour)}))
	require.NoError(t, store.Create(ctx, &models.Session{ID: "later", UserID: "u1", StartedAt: t0.Add(5 * time.Hour), LastSeenAt: t0.Add(5 * time.Hour)}))

	all, err := store.ListOverlapping(ctx, nil, t0.Add(10*time.Minute), t0.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "closed", all[0].ID)
	assert.Equal(t, "open", all[1].ID)

	onlyU2, _ := store.ListOverlapping(ctx, []string{"u2"}, t0, t0.Add(3*time.Hour))
	require.Len(t, onlyU2, 1)
	assert.Equal(t, "open", onlyU2[0].ID)
}

func TestKeyedLocker_SerializesPerUser(t *testing.T) {
	locker := NewKeyedLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "u1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, locker.size())
}

func TestKeyedLocker_ContextCancelled(t *testing.T) {
	locker := NewKeyedLocker()
	unlock, err := locker.Lock(context.Background(), "u1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "u1")
	assert.ErrorIs(t, err, models.ErrLockUnavailable)

	// other users are independent
	unlock2, err := locker.Lock(context.Background(), "u2")
	require.NoError(t, err)
	unlock2()

	unlock()
	unlock() // release is idempotent
	assert.Equal(t, 0, locker.size())
}
