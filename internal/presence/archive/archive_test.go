package archive

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	apperrors "presence-tracker/internal/common/errors"
	"presence-tracker/internal/common/logger"
	"presence-tracker/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type indexCall struct {
	method string
	path   string
	body   map[string]interface{}
}

func newFakeElastic(t *testing.T, status int) (*elasticsearch.Client, func() []indexCall) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []indexCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		call := indexCall{method: r.Method, path: r.URL.Path}
		_ = json.Unmarshal(raw, &call.body)
		mu.Lock()
		calls = append(calls, call)
		mu.Unlock()

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{srv.URL},
		DisableRetry: true,
	})
	require.NoError(t, err)

	return client, func() []indexCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]indexCall(nil), calls...)
	}
}

func closedSession() *models.Session {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := &models.Session{
		ID:         "sess-1",
		UserID:     "u1",
		Status:     models.SessionStatusOnline,
		StartedAt:  start,
		LastSeenAt: start,
		Metadata:   models.ClientMetadata{ConnectionMethod: "websocket"},
	}
	s.Close(start.Add(30*time.Second), models.EndReasonTimeoutSweeper)
	return s
}

func TestArchive_IndexesByID(t *testing.T) {
	client, calls := newFakeElastic(t, http.StatusCreated)
	a, err := NewElasticArchiver(client, Config{Index: "presence-sessions"}, logger.NewTestLogger(t))
	require.NoError(t, err)

	require.NoError(t, a.Archive(context.Background(), closedSession()))

	got := calls()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodPut, got[0].method)
	assert.Equal(t, "/presence-sessions/_doc/sess-1", got[0].path)
	assert.Equal(t, "u1", got[0].body["userId"])
	assert.Equal(t, "timeout_sweeper", got[0].body["endReason"])
	assert.EqualValues(t, 30000, got[0].body["durationMs"])
	assert.Equal(t, "websocket", got[0].body["connectionMethod"])
}

func TestArchive_SkipsOpenSessions(t *testing.T) {
	client, calls := newFakeElastic(t, http.StatusCreated)
	a, err := NewElasticArchiver(client, Config{Index: "presence-sessions"}, nil)
	require.NoError(t, err)

	require.NoError(t, a.Archive(context.Background(), &models.Session{ID: "open"}))
	assert.Empty(t, calls())
}

func TestArchive_ErrorResponse(t *testing.T) {
	client, _ := newFakeElastic(t, http.StatusBadRequest)
	a, err := NewElasticArchiver(client, Config{Index: "presence-sessions"}, nil)
	require.NoError(t, err)

	err = a.Archive(context.Background(), closedSession())
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeArchiveFailed))
}

func TestNewElasticArchiver_Validates(t *testing.T) {
	_, err := NewElasticArchiver(nil, Config{Index: "x"}, nil)
	assert.Error(t, err)

	client, _ := newFakeElastic(t, http.StatusOK)
	_, err = NewElasticArchiver(client, Config{}, nil)
	assert.Error(t, err)
}
