package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "presence-tracker/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(apperrors.Response{Code: apperrors.ErrCodeUnauthorized, Message: "no"})
			return
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["kind"], "path": r.URL.Path})
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", time.Second)

	var out map[string]string
	err := client.WithToken("tok").DoJSON(context.Background(), http.MethodPost, "/api/v1/presence/heartbeat",
		map[string]string{"kind": "online"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "online", out["echo"])
	assert.Equal(t, "/api/v1/presence/heartbeat", out["path"])

	err = client.DoJSON(context.Background(), http.MethodGet, "/anything", nil, &out)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
}

func TestDoJSON_NonStandardError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, time.Second).DoJSON(context.Background(), http.MethodGet, "/health", nil, nil)
	assert.ErrorContains(t, err, "unexpected status 502")
}
