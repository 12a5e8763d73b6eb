package enrich

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Scheduler triggers recurring enrichment runs.
type Scheduler struct {
	runner *Runner
	logger *slog.Logger
	target Target
	limit  int
}

// NewScheduler creates an enrichment scheduler.
func NewScheduler(runner *Runner, logger *slog.Logger, target Target, limit int) *Scheduler {
	return &Scheduler{
		runner: runner,
		logger: logger.With(slog.String("component", "enrich-scheduler")),
		target: target,
		limit:  limit,
	}
}

// Start blocks until the context is canceled, launching a run on each
// tick. A tick that collides with a run already in progress is skipped.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.logger.Error("enrichment scheduler not started: non-positive interval", "interval", interval.String())
		return
	}
	s.logger.Info("enrichment scheduler started", "interval", interval.String(), "target", string(s.target))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("enrichment scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	rep, err := s.runner.Run(ctx, Request{Target: s.target, Limit: s.limit})
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			s.logger.Info("scheduled run skipped: a run is already in progress")
			return
		}
		s.logger.Error("scheduled enrichment run failed", "error", err)
		return
	}

	totals := rep.Totals()
	s.logger.Info("scheduled enrichment run complete",
		"target", string(rep.Target),
		"processed", totals.Processed,
		"enriched", totals.Enriched,
		"cache_hits", totals.CacheHits,
		"rate_limited", totals.RateLimited,
		"stopped_early", totals.StoppedEarly,
	)
}
