// internal/presence/sweeper/sweeper.go
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"presence-tracker/internal/common/logger"
	"presence-tracker/internal/common/metrics"
	"presence-tracker/internal/common/observability"
	"presence-tracker/internal/models"
	"presence-tracker/internal/presence/engine"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// SweepResult summarizes one Tick.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Closed  int `json:"closed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

type outcome int

const (
	outcomeClosed outcome = iota
	outcomeSkipped
	outcomeFailed
)

// Sweeper forces silent users offline. It closes their session at the last
// confirmed contact with reason timeout_sweeper.
type Sweeper struct {
	config    *Config
	presence  models.PresenceRepository
	locker    models.Locker
	lifecycle *engine.Lifecycle
	obs       *observability.Observability
	logger    logger.Logger
	now       func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// Deps mirrors engine.Deps. Locker and Lifecycle must be the ones the engine uses.
type Deps struct {
	Presence      models.PresenceRepository
	Locker        models.Locker
	Lifecycle     *engine.Lifecycle
	Observability *observability.Observability
	Logger        logger.Logger
	Now           func() time.Time
}

func NewSweeper(config *Config, deps Deps) (*Sweeper, error) {
	if config == nil {
		config = LoadConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("sweeper config: %w", err)
	}
	if deps.Presence == nil || deps.Lifecycle == nil {
		return nil, fmt.Errorf("sweeper requires a presence repository and a session lifecycle")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		config:    config,
		presence:  deps.Presence,
		locker:    deps.Locker,
		lifecycle: deps.Lifecycle,
		obs:       deps.Observability,
		logger:    logger.ForComponent(deps.Logger, "sweeper"),
		now:       now,
	}, nil
}

// Tick runs one sweep. Per-user failures are counted, never returned; the
// error is reserved for a failed scan.
func (s *Sweeper) Tick(ctx context.Context) (SweepResult, error) {
	started := time.Now()
	ctx, span := s.obs.StartSpan(ctx, "presence.sweep")
	defer span.End()

	cutoff := s.now().Add(-s.config.Timeout)
	var (
		result SweepResult
		mu     sync.Mutex
	)

	// failed rows stay stale, so the cursor moves past them instead of rescanning
	var after *models.PresenceCursor
	for {
		rows, next, err := s.presence.ListStale(ctx, cutoff, after, s.config.BatchSize)
		if err != nil {
			metrics.SweepRuns.WithLabelValues("scan_failed").Inc()
			span.RecordError(err)
			s.logger.Error("stale presence scan failed", map[string]interface{}{"error": err})
			return result, fmt.Errorf("scan stale presence: %w", err)
		}

		var g errgroup.Group
		g.SetLimit(s.config.Concurrency)

		for _, row := range rows {
			row := row
			g.Go(func() error {
				o := s.sweepOne(ctx, row, cutoff)
				mu.Lock()
				defer mu.Unlock()
				switch o {
				case outcomeClosed:
					result.Closed++
				case outcomeSkipped:
					result.Skipped++
				case outcomeFailed:
					result.Failed++
				}
				return nil
			})
		}
		_ = g.Wait()
		result.Scanned += len(rows)

		if next == nil || ctx.Err() != nil {
			break
		}
		after = next
	}

	metrics.SweepRuns.WithLabelValues("ok").Inc()
	metrics.SweepClosed.Add(float64(result.Closed))
	metrics.SweepFailures.Add(float64(result.Failed))
	metrics.SweepDuration.Observe(time.Since(started).Seconds())
	s.obs.RecordSweepClosed(ctx, result.Closed)
	span.SetAttributes(
		attribute.Int("sweep.scanned", result.Scanned),
		attribute.Int("sweep.closed", result.Closed),
		attribute.Int("sweep.failed", result.Failed),
	)

	if result.Scanned > 0 {
		s.logger.Info("sweep finished", map[string]interface{}{
			"scanned": result.Scanned,
			"closed":  result.Closed,
			"skipped": result.Skipped,
			"failed":  result.Failed,
		})
	}
	return result, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, row *models.Presence, cutoff time.Time) outcome {
	fields := map[string]interface{}{"userId": row.UserID}

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, row.UserID)
		if err != nil {
			fields["error"] = err
			s.logger.Warn("sweep could not lock user", fields)
			return outcomeFailed
		}
		defer unlock()
	}

	p, err := s.presence.Get(ctx, row.UserID)
	if errors.Is(err, models.ErrNotFound) {
		return outcomeSkipped
	}
	if err != nil {
		fields["error"] = err
		s.logger.Warn("sweep reload failed", fields)
		return outcomeFailed
	}

	// claim the row only if nothing touched it since the scan
	if !p.IsActive() || p.LastHeartbeatAt == nil || !p.LastHeartbeatAt.Before(cutoff) ||
		row.LastHeartbeatAt == nil || !p.LastHeartbeatAt.Equal(*row.LastHeartbeatAt) {
		return outcomeSkipped
	}

	lastContact := *p.LastHeartbeatAt
	if err := s.lifecycle.CloseActive(ctx, p, lastContact, models.EndReasonTimeoutSweeper); err != nil {
		fields["error"] = err
		s.logger.Warn("sweep session close failed", fields)
		return outcomeFailed
	}

	p.Status = models.StatusOffline
	p.SessionStartedAt = nil
	p.UpdatedAt = s.now().UTC()

	if err := s.presence.Save(ctx, p); err != nil {
		if errors.Is(err, models.ErrVersionConflict) {
			s.logger.Debug("sweep lost race to a heartbeat", fields)
			return outcomeSkipped
		}
		fields["error"] = err
		s.logger.Warn("sweep presence save failed", fields)
		return outcomeFailed
	}
	return outcomeClosed
}

// Start schedules Tick every Interval until Stop or until ctx ends. A tick
// still running when the next one is due is skipped.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	cl := cronLogger{log: s.logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	schedule := fmt.Sprintf("@every %s", s.config.Interval)
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.Tick(runCtx); err != nil && runCtx.Err() == nil {
			s.logger.Error("sweep tick failed", map[string]interface{}{"error": err})
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule sweeper %q: %w", schedule, err)
	}

	c.Start()
	s.cron = c
	s.cancel = cancel
	s.logger.Info("sweeper started", map[string]interface{}{
		"interval": s.config.Interval.String(),
		"timeout":  s.config.Timeout.String(),
	})
	return nil
}

// Stop halts the schedule and waits for an in-flight tick to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	done := c.Stop()
	<-done.Done()
	cancel()
	s.logger.Info("sweeper stopped", nil)
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: "+msg, pairs(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := pairs(keysAndValues)
	fields["error"] = err
	c.log.Error("cron: "+msg, fields)
}

func pairs(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2+1)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
