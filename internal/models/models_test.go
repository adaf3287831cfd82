package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		raw  string
		want Kind
		err  bool
	}{
		{"online", KindOnline, false},
		{" Away ", KindAway, false},
		{"OFFLINE", KindOffline, false},
		{"", KindHeartbeat, false},
		{"busy", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.raw)
		if tt.err {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got)
	}
}

func TestKind_NextStatus(t *testing.T) {
	assert.Equal(t, StatusOnline, KindOnline.NextStatus())
	assert.Equal(t, StatusOnline, KindHeartbeat.NextStatus())
	assert.Equal(t, StatusAway, KindAway.NextStatus())
	assert.Equal(t, StatusOffline, KindOffline.NextStatus())
}

func TestPresence_IsStale(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p := NewPresence("u1")
	assert.False(t, p.IsStale(now, time.Minute), "offline rows are never stale")

	p.Status = StatusAway
	p.LastHeartbeatAt = TimePtr(now.Add(-time.Minute))
	assert.False(t, p.IsStale(now, time.Minute), "exactly at the timeout is still fresh")

	p.LastHeartbeatAt = TimePtr(now.Add(-time.Minute - time.Millisecond))
	assert.True(t, p.IsStale(now, time.Minute))
}

func TestPresence_CloneIsDeep(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p := &Presence{UserID: "u1", LastHeartbeatAt: TimePtr(at), ActiveSessionID: "s1"}
	c := p.Clone()
	*c.LastHeartbeatAt = at.Add(time.Hour)
	c.ClearSession()

	assert.Equal(t, at, *p.LastHeartbeatAt)
	assert.Equal(t, "s1", p.ActiveSessionID)
}

func TestSession_Close(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := &Session{ID: "s1", StartedAt: start, LastSeenAt: start, Status: SessionStatusOnline}
	assert.True(t, s.IsOpen())
	assert.Equal(t, start, s.EffectiveEnd())

	s.Touch(start.Add(20 * time.Second))
	assert.Equal(t, start.Add(20*time.Second), s.EffectiveEnd())

	s.Close(start.Add(30*time.Second), EndReasonLogout)
	assert.False(t, s.IsOpen())
	assert.EqualValues(t, 30000, s.DurationMs)
	assert.Equal(t, SessionStatusOffline, s.Status)
	assert.Equal(t, start.Add(30*time.Second), s.LastSeenAt)

	backwards := &Session{StartedAt: start}
	backwards.Close(start.Add(-time.Second), EndReasonOverlapGuard)
	assert.Zero(t, backwards.DurationMs)
}

func TestClientMetadata_IsEmpty(t *testing.T) {
	assert.True(t, ClientMetadata{}.IsEmpty())
	assert.False(t, ClientMetadata{ClientID: "x"}.IsEmpty())
}
