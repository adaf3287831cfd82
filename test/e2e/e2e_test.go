// test/e2e/e2e_test.go
package e2e

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence-tracker/internal/api"
	"presence-tracker/internal/app"
	"presence-tracker/internal/common/auth"
	"presence-tracker/internal/common/config"
	apperrors "presence-tracker/internal/common/errors"
	httpclient "presence-tracker/internal/common/http"
	"presence-tracker/internal/common/logger"
	"presence-tracker/internal/models"
	"presence-tracker/internal/presence/engine"
	"presence-tracker/internal/presence/query"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t0.Add(d)
}

type env struct {
	core     *app.App
	clock    *clock
	baseURL  string
	verifier *auth.TokenVerifier
}

func (e *env) client(t *testing.T, userID string) *httpclient.Client {
	t.Helper()
	token, err := e.verifier.Issue(userID, time.Hour)
	require.NoError(t, err)
	return httpclient.NewClient(e.baseURL, 5*time.Second).WithToken(token)
}

func newEnv(t *testing.T, cfg *config.Config) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	c := &clock{now: t0}
	log := logger.NewTestLogger(t)

	core, err := app.New(context.Background(), cfg, app.Options{
		Logger:          log,
		Registerer:      promclient.NewRegistry(),
		Now:             c.Now,
		ConnectAttempts: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = core.Close() })

	verifier, err := auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	require.NoError(t, err)

	router, err := api.NewRouter(api.Deps{
		Engine:      core.Engine,
		Query:       core.Query,
		Verifier:    verifier,
		Logger:      log,
		Readiness:   core.Readiness,
		ServiceName: cfg.App.Name,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &env{core: core, clock: c, baseURL: srv.URL, verifier: verifier}
}

func baseConfig() *config.Config {
	disabled := false
	return &config.Config{
		App:     config.AppConfig{Name: "presence-e2e"},
		Auth:    config.AuthConfig{JWTSecret: "e2e-secret", Issuer: "presence-tracker"},
		Storage: config.StorageConfig{Backend: config.BackendMemory, Lock: config.LockLocal},
		Database: config.DatabaseConfig{
			Redis: config.RedisConfig{KeyPrefix: fmt.Sprintf("e2e-%d", time.Now().UnixNano())},
		},
		Presence: config.PresenceConfig{
			TimeoutMs:                 75000,
			SweepIntervalMs:           60000,
			StaleDeltaGuardMultiplier: 10,
			MaxConflictRetries:        3,
			SweepBatchSize:            50,
			SweepConcurrency:          4,
			SweeperEnabled:            &disabled,
			LockTTLMs:                 5000,
			LockRetryMs:               5,
			ReportTimezone:            "UTC",
		},
	}
}

func backends(t *testing.T) map[string]*config.Config {
	out := map[string]*config.Config{"memory": baseConfig()}

	mr := miniredis.RunT(t)
	redisCfg := baseConfig()
	redisCfg.Storage = config.StorageConfig{Backend: config.BackendRedis, Lock: config.LockRedis}
	redisCfg.Database.Redis.Address = mr.Addr()
	out["redis"] = redisCfg

	// a real PostgreSQL is optional, e.g. PRESENCE_E2E_PG_HOST=localhost
	if host := os.Getenv("PRESENCE_E2E_PG_HOST"); host != "" {
		pgCfg := baseConfig()
		pgCfg.Storage.Backend = config.BackendPostgres
		pgCfg.Database.Postgres = config.PostgresConfig{
			Host:     host,
			Port:     5432,
			Database: envOr("PRESENCE_E2E_PG_DATABASE", "presence"),
			User:     envOr("PRESENCE_E2E_PG_USER", "postgres"),
			Password: os.Getenv("PRESENCE_E2E_PG_PASSWORD"),
			SSLMode:  "disable",
		}
		out["postgres"] = pgCfg
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func heartbeat(t *testing.T, e *env, userID, kind string, at time.Duration) *engine.PresenceView {
	t.Helper()
	e.clock.Set(at)
	var view engine.PresenceView
	err := e.client(t, userID).DoJSON(context.Background(), http.MethodPost, "/api/v1/presence/heartbeat",
		map[string]string{"kind": kind, "connectionMethod": "websocket"}, &view)
	require.NoError(t, err)
	return &view
}

func TestPresenceFlow(t *testing.T) {
	for name, cfg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, cfg)
			ctx := context.Background()
			// unique ids keep reruns against a shared PostgreSQL apart
			alice := fmt.Sprintf("alice-%d", time.Now().UnixNano())
			bob := fmt.Sprintf("bob-%d", time.Now().UnixNano())

			// alice goes silent and is swept at her last contact
			first := heartbeat(t, e, alice, "online", 0)
			require.Equal(t, models.StatusOnline, first.Status)
			heartbeat(t, e, alice, "heartbeat", 30*time.Second)

			// bob logs out explicitly
			heartbeat(t, e, bob, "online", 0)
			out := heartbeat(t, e, bob, "offline", 50*time.Second)
			assert.Equal(t, models.StatusOffline, out.Status)
			assert.EqualValues(t, 50000, out.TotalOnlineMs)

			e.clock.Set(120 * time.Second)
			res, err := e.core.Sweeper.Tick(ctx)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, res.Closed, 1)

			var status query.StatusView
			require.NoError(t, e.client(t, bob).DoJSON(ctx, http.MethodGet, "/api/v1/presence/status/"+alice, nil, &status))
			assert.Equal(t, models.StatusOffline, status.Status)
			assert.EqualValues(t, 30000, status.TotalOnlineMs)

			var page query.SessionPage
			require.NoError(t, e.client(t, bob).DoJSON(ctx, http.MethodGet, "/api/v1/presence/sessions/"+alice, nil, &page))
			require.Len(t, page.Sessions, 1)
			session := page.Sessions[0]
			assert.Equal(t, first.ActiveSessionID, session.ID)
			assert.Equal(t, models.EndReasonTimeoutSweeper, session.EndReason)
			assert.EqualValues(t, 30000, session.DurationMs)
			require.NotNil(t, session.EndedAt)
			assert.True(t, t0.Add(30*time.Second).Equal(*session.EndedAt))

			var report query.OnlineTimeReport
			path := fmt.Sprintf("/api/v1/presence/report?userIds=%s,%s&from=%s&to=%s",
				alice, bob, t0.Add(-time.Hour).Format(time.RFC3339), t0.Add(time.Hour).Format(time.RFC3339))
			require.NoError(t, e.client(t, bob).DoJSON(ctx, http.MethodGet, path, nil, &report))
			assert.EqualValues(t, 80000, report.TotalDurationMs)
			require.Len(t, report.Days, 1)
			assert.Equal(t, 2, report.Days[0].ActiveUserCount)

			// a stale replay is refused without touching state
			e.clock.Set(130 * time.Second)
			err = e.client(t, alice).DoJSON(ctx, http.MethodPost, "/api/v1/presence/heartbeat",
				map[string]string{"kind": "heartbeat", "observedAt": t0.Format(time.RFC3339)}, nil)
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeStaleHeartbeat))
		})
	}
}

func TestConcurrentOnlineKeepsOneOpenSession(t *testing.T) {
	for name, cfg := range backends(t) {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, cfg)
			ctx := context.Background()
			userID := fmt.Sprintf("racer-%d", time.Now().UnixNano())
			client := e.client(t, userID)

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = client.DoJSON(ctx, http.MethodPost, "/api/v1/presence/heartbeat",
						map[string]string{"kind": "online"}, nil)
				}()
			}
			wg.Wait()

			var page query.SessionPage
			require.NoError(t, client.DoJSON(ctx, http.MethodGet, "/api/v1/presence/sessions/"+userID+"?limit=100", nil, &page))
			open := 0
			for _, s := range page.Sessions {
				if s.IsOpen() {
					open++
				} else {
					assert.Equal(t, models.EndReasonOverlapGuard, s.EndReason)
				}
			}
			assert.Equal(t, 1, open)

			var status query.StatusView
			require.NoError(t, client.DoJSON(ctx, http.MethodGet, "/api/v1/presence/status/"+userID, nil, &status))
			require.NotEmpty(t, status.ActiveSessionID)
			for _, s := range page.Sessions {
				if s.IsOpen() {
					assert.Equal(t, status.ActiveSessionID, s.ID)
				}
			}
		})
	}
}
