package engine

import (
	"context"
	"testing"
	"time"

	"presence-tracker/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle_CloseTwiceKeepsFirstResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.beat(t, "online", 0)
	sessionID := f.beat(t, "heartbeat", 40*time.Second).ActiveSessionID
	lc := f.engine.Lifecycle()

	closed, err := lc.Close(ctx, sessionID, t0.Add(40*time.Second), models.EndReasonLogout)
	require.NoError(t, err)
	assert.True(t, closed)
	first, err := f.sessions.Get(ctx, sessionID)
	require.NoError(t, err)

	closed, err = lc.Close(ctx, sessionID, t0.Add(40*time.Second), models.EndReasonLogout)
	require.NoError(t, err)
	assert.False(t, closed)

	second, err := f.sessions.Get(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, second.EndedAt)
	assert.Equal(t, t0.Add(40*time.Second), *second.EndedAt)
	assert.Equal(t, *first.EndedAt, *second.EndedAt)
	assert.Equal(t, first.DurationMs, second.DurationMs)
	assert.EqualValues(t, 40000, second.DurationMs)
	assert.Equal(t, first.EndReason, second.EndReason)

	// a later close with another reason does not rewrite the record either
	closed, err = lc.Close(ctx, sessionID, t0.Add(5*time.Minute), models.EndReasonTimeoutSweeper)
	require.NoError(t, err)
	assert.False(t, closed)
	third, _ := f.sessions.Get(ctx, sessionID)
	assert.Equal(t, models.EndReasonLogout, third.EndReason)

	assert.Len(t, f.archiver.sessions, 1, "archived once")
}

func TestLifecycle_CloseActiveOnClosedSessionClearsPointer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sessionID := f.beat(t, "online", 0).ActiveSessionID
	lc := f.engine.Lifecycle()
	_, err := lc.Close(ctx, sessionID, t0.Add(20*time.Second), models.EndReasonOffline)
	require.NoError(t, err)
	before, _ := f.sessions.Get(ctx, sessionID)

	p, err := f.presence.Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, sessionID, p.ActiveSessionID)

	require.NoError(t, lc.CloseActive(ctx, p, t0.Add(time.Minute), models.EndReasonTimeout))
	assert.Empty(t, p.ActiveSessionID)
	assert.Nil(t, p.SessionStartedAt)

	after, _ := f.sessions.Get(ctx, sessionID)
	assert.Equal(t, before, after)
}

func TestLifecycle_CloseMissingSession(t *testing.T) {
	f := newFixture(t)

	closed, err := f.engine.Lifecycle().Close(context.Background(), "nope", t0, models.EndReasonLogout)
	require.NoError(t, err)
	assert.False(t, closed)
}
