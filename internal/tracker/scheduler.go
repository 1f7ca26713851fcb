// Package tracker runs the pass scheduling loop: it admits the earliest
// upcoming pass while capacity allows, runs one worker per admitted pass and
// refreshes the predictor set in the background of that loop.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/metrics"
	"github.com/utn-ba-rf-lab/orbit-predictor-utn/internal/passes"
)

const (
	DefaultCapacity        = 5
	DefaultRefreshInterval = 7 * 24 * time.Hour
	// DefaultRecheck bounds how long the loop idles when no pass is found.
	DefaultRecheck = time.Hour
)

// Refresher rebuilds and publishes the predictor set.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// incompleteReporter is implemented by refreshers that know when the
// published set still lacks tracked satellites.
type incompleteReporter interface {
	Incomplete() bool
}

// Config holds scheduler settings.
type Config struct {
	Capacity        int
	RefreshInterval time.Duration
	Recheck         time.Duration
	Timing          Timing
}

// DefaultConfig returns the default scheduler settings.
func DefaultConfig() Config {
	return Config{
		Capacity:        DefaultCapacity,
		RefreshInterval: DefaultRefreshInterval,
		Recheck:         DefaultRecheck,
		Timing: Timing{
			Lead:      DefaultLeadTime,
			Trail:     DefaultTrailTime,
			StopGrace: DefaultStopGrace,
		},
	}
}

type completion struct {
	noradID int
	runID   string
	err     error
}

type activeWorker struct {
	runID string
	pass  passes.SatPass
}

// Scheduler owns the active worker map. All of its state is confined to the
// goroutine running Run.
type Scheduler struct {
	source    passes.PassSource
	refresher Refresher
	launcher  Launcher
	passLog   *PassLog
	config    Config
	logger    *slog.Logger
}

// NewScheduler creates a Scheduler. refresher and passLog may be nil.
func NewScheduler(source passes.PassSource, refresher Refresher, launcher Launcher, passLog *PassLog, config Config, logger *slog.Logger) *Scheduler {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = DefaultRefreshInterval
	}
	if config.Recheck <= 0 {
		config.Recheck = DefaultRecheck
	}
	if config.Timing.Lead < 0 {
		config.Timing.Lead = 0
	}
	if config.Timing.Trail < 0 {
		config.Timing.Trail = 0
	}
	if config.Timing.StopGrace <= 0 {
		config.Timing.StopGrace = DefaultStopGrace
	}
	return &Scheduler{
		source:    source,
		refresher: refresher,
		launcher:  launcher,
		passLog:   passLog,
		config:    config,
		logger:    logger,
	}
}

// Run schedules passes until ctx is cancelled, then stops every active
// worker and waits for them. A single satellite or worker failure never ends
// the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	active := make(map[int]activeWorker, s.config.Capacity)
	resume := make(map[int]time.Time)
	// Every admitted worker sends exactly once; the buffer covers all of them.
	done := make(chan completion, s.config.Capacity)
	lastRefresh := time.Now()

	s.logger.Info("scheduler started",
		"capacity", s.config.Capacity,
		"refresh_interval", s.config.RefreshInterval.String(),
		"lead", s.config.Timing.Lead.String(),
		"trail", s.config.Timing.Trail.String(),
	)

	for {
		if ctx.Err() != nil {
			s.drain(active, done)
			return nil
		}

		now := time.Now()
		refreshAt := lastRefresh.Add(s.config.RefreshInterval)
		if !now.Before(refreshAt) {
			s.refresh(ctx)
			lastRefresh = time.Now()
			continue
		}

		if len(active) < s.config.Capacity {
			busy := make(map[int]bool, len(active))
			for id := range active {
				busy[id] = true
			}
			if sp, ok := s.source.NextPass(ctx, passes.Query{From: now, Busy: busy, Resume: resume}); ok {
				active[sp.NORADID] = s.admit(ctx, sp, done)
				resume[sp.NORADID] = sp.LOS
				metrics.SetActiveWorkers(len(active))
				continue
			}
		}

		// Nothing admissible: wait for capacity, the refresh deadline or a recheck.
		wait := time.Until(refreshAt)
		if len(active) < s.config.Capacity && wait > s.config.Recheck {
			wait = s.config.Recheck
		}
		timer := time.NewTimer(wait)
		select {
		case c := <-done:
			s.complete(active, c)
		case <-timer.C:
			// Retry early while tracked satellites still lack predictors,
			// e.g. after starting with no network.
			if s.refreshIncomplete() {
				s.logger.Info("predictor set incomplete, refreshing before the scheduled interval")
				s.refresh(ctx)
				lastRefresh = time.Now()
			}
		case <-ctx.Done():
		}
		timer.Stop()
	}
}

func (s *Scheduler) admit(ctx context.Context, sp passes.SatPass, done chan<- completion) activeWorker {
	runID := uuid.NewString()
	logger := s.logger.With("run_id", runID, "norad_id", sp.NORADID, "name", sp.Name)

	logger.Info("pass admitted",
		"aos", sp.AOS.UTC().Format(time.RFC3339),
		"los", sp.LOS.UTC().Format(time.RFC3339),
		"max_elevation", sp.MaxElevation,
		"frequency_mhz", sp.Frequency,
	)
	if s.passLog != nil {
		if err := s.passLog.Record(time.Now(), sp); err != nil {
			logger.Warn("writing pass log failed", "error", err)
		}
	}

	w := NewWorker(sp, s.launcher, s.config.Timing, logger)
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				logger.Error("worker panicked", "panic", r)
				err = ErrLaunch
			}
			done <- completion{noradID: sp.NORADID, runID: runID, err: err}
		}()
		err = w.Run(ctx)
	}()

	metrics.IncPassesAdmitted()
	return activeWorker{runID: runID, pass: sp}
}

func (s *Scheduler) complete(active map[int]activeWorker, c completion) {
	aw, ok := active[c.noradID]
	if !ok || aw.runID != c.runID {
		s.logger.Error("completion for unknown worker", "norad_id", c.noradID, "run_id", c.runID)
		return
	}
	delete(active, c.noradID)
	metrics.SetActiveWorkers(len(active))

	logger := s.logger.With("run_id", c.runID, "norad_id", c.noradID)
	switch {
	case c.err == nil:
		metrics.RecordWorkerResult("ok")
		logger.Info("worker finished", "active", len(active))
	case errors.Is(c.err, context.Canceled), errors.Is(c.err, context.DeadlineExceeded):
		metrics.RecordWorkerResult("cancelled")
		logger.Info("worker cancelled", "active", len(active))
	default:
		metrics.RecordWorkerResult("failed")
		logger.Warn("worker failed", "error", c.err, "active", len(active))
	}
}

func (s *Scheduler) refresh(ctx context.Context) {
	if s.refresher == nil {
		return
	}
	s.logger.Info("refreshing predictors")
	if err := s.refresher.Refresh(ctx); err != nil {
		s.logger.Warn("predictor refresh failed, keeping previous set", "error", err)
	}
}

func (s *Scheduler) refreshIncomplete() bool {
	r, ok := s.refresher.(incompleteReporter)
	return ok && r.Incomplete()
}

// drain waits for every active worker after cancellation.
func (s *Scheduler) drain(active map[int]activeWorker, done <-chan completion) {
	if len(active) > 0 {
		s.logger.Info("waiting for active workers", "active", len(active))
	}
	for len(active) > 0 {
		s.complete(active, <-done)
	}
	s.logger.Info("scheduler stopped")
}
