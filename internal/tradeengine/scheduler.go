package tradeengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"optbot/internal/indicator"
	"optbot/internal/markethours"
	"optbot/internal/strategy"
)

// Run schedules instrument resolution and evaluation in IST and blocks
// until ctx is cancelled. If no live expiry is recorded at start,
// instruments are resolved once immediately. The LTP watcher, if any, runs
// alongside.
func (s *Service) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(markethours.IST),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	if err := s.addScheduledJob(c, "resolve", s.cfg.ResolveSchedule, func() { s.resolveJob(ctx) }); err != nil {
		return err
	}
	if err := s.addScheduledJob(c, "evaluate", s.cfg.EvalSchedule, func() { s.evaluateJob(ctx) }); err != nil {
		return err
	}

	if s.deps.Watcher != nil {
		go s.deps.Watcher.Run(ctx)
	}

	if _, ok := s.liveExpiry(ctx); !ok {
		s.logger.Info("no live expiry on record, resolving at startup")
		s.resolveJob(ctx)
	}

	c.Start()
	s.logger.Info("scheduler started",
		"resolve", s.cfg.ResolveSchedule,
		"evaluate", s.cfg.EvalSchedule,
		"market", markethours.StatusString(s.now()),
	)

	<-ctx.Done()
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn("scheduler stop timed out with jobs still running")
	}
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Service) addScheduledJob(c *cron.Cron, name, spec string, job func()) error {
	if _, err := c.AddFunc(spec, func() {
		start := s.now()
		job()
		s.logger.Debug("job finished", "job", name, "took", s.now().Sub(start))
	}); err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	return nil
}

func (s *Service) resolveJob(ctx context.Context) {
	if !markethours.IsTradingDay(s.now()) {
		s.logger.Info("not a trading day, skipping resolve")
		return
	}
	if _, err := s.RefreshInstruments(ctx); err != nil {
		s.logger.Error("resolve failed", "error", err)
	}
}

// evaluateJob runs one evaluation if the market is open.
func (s *Service) evaluateJob(ctx context.Context) {
	now := s.now()
	open := markethours.IsMarketOpen(now)
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetMarketOpen(open)
	}
	if !open {
		return
	}

	report, err := s.EvaluateOnce(ctx, now)
	switch {
	case errors.Is(err, strategy.ErrTooFewFrames), errors.Is(err, strategy.ErrNotReady), errors.Is(err, indicator.ErrInsufficientBars):
		s.logger.Debug("not enough data yet", "error", err)
	case err != nil:
		s.logger.Error("evaluation failed", "error", err)
	default:
		for _, d := range report.Dispatches {
			placed := 0
			for _, o := range d.Outcomes {
				if o.Success {
					placed++
				}
			}
			s.logger.Info("dispatch finished", "key", d.Key.String(), "placed", placed, "accounts", len(d.Outcomes))
		}
	}
}
