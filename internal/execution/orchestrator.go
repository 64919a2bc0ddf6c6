package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"optbot/internal/broker"
	"optbot/internal/logger"
	"optbot/internal/model"
)

// SessionSource hands out fresh sessions and replaces rejected ones.
type SessionSource interface {
	Get(ctx context.Context, acct model.Account) (broker.Session, error)
}

// OrchestratorConfig configures the fan-out.
type OrchestratorConfig struct {
	Stagger    time.Duration // minimum gap between worker launches
	MaxWorkers int           // concurrent workers, zero means one per account
	Multiplier int           // lots per order
}

// DefaultOrchestratorConfig launches workers 200ms apart with one lot each.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{Stagger: 200 * time.Millisecond, Multiplier: 1}
}

// Orchestrator fans one signal out to every account. Each account runs in
// its own worker; a failing account only affects its own outcome.
type Orchestrator struct {
	cfg        OrchestratorConfig
	sessions   SessionSource
	cache      model.InstrumentReader
	dispatcher *Dispatcher
	recorders  []model.OutcomeRecorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrchestrator creates an Orchestrator. Every terminal outcome is handed
// to each recorder.
func NewOrchestrator(cfg OrchestratorConfig, sessions SessionSource, cache model.InstrumentReader, d *Dispatcher, logger *slog.Logger, recorders ...model.OutcomeRecorder) *Orchestrator {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		sessions:   sessions,
		cache:      cache,
		dispatcher: d,
		recorders:  recorders,
		logger:     logger,
		now:        time.Now,
	}
}

// DispatchAll places side on key for every account and returns one outcome
// per account, index-aligned with accounts. Workers start in account order,
// at most one per Stagger; DispatchAll returns when all have finished.
func (o *Orchestrator) DispatchAll(ctx context.Context, accounts []model.Account, key model.InstrumentKey, side model.Side) []model.OrderOutcome {
	traceID := uuid.NewString()
	ctx = logger.WithTraceID(ctx, traceID)
	outcomes := make([]model.OrderOutcome, len(accounts))

	o.logger.Info("dispatch started",
		"trace_id", traceID,
		"key", key.String(),
		"side", side,
		"accounts", len(accounts),
	)

	limit := rate.Inf
	if o.cfg.Stagger > 0 {
		limit = rate.Every(o.cfg.Stagger)
	}
	launches := rate.NewLimiter(limit, 1)

	var g errgroup.Group
	if o.cfg.MaxWorkers > 0 {
		g.SetLimit(o.cfg.MaxWorkers)
	}
	for i, acct := range accounts {
		if err := launches.Wait(ctx); err != nil {
			outcomes[i] = o.failed(ctx, acct, key, side, broker.NewOrderError(broker.KindNetwork, "", "dispatch cancelled", err))
			continue
		}
		g.Go(func() error {
			outcomes[i] = o.dispatchOne(ctx, acct, key, side)
			return nil
		})
	}
	_ = g.Wait()

	ok := 0
	for i := range outcomes {
		if outcomes[i].Success {
			ok++
		}
		o.record(ctx, outcomes[i])
	}
	o.logger.Info("dispatch finished", "trace_id", traceID, "placed", ok, "failed", len(outcomes)-ok)
	return outcomes
}

func (o *Orchestrator) dispatchOne(ctx context.Context, acct model.Account, key model.InstrumentKey, side model.Side) model.OrderOutcome {
	sess, err := o.sessions.Get(ctx, acct)
	if err != nil {
		return o.failed(ctx, acct, key, side, broker.NewOrderError(broker.KindAuth, "", "login", err))
	}
	id, err := o.cache.Identity(ctx, acct.Namespace(), key)
	if err != nil {
		return o.failed(ctx, acct, key, side, broker.NewOrderError(broker.KindData, "", "instrument "+key.String(), err))
	}
	return o.dispatcher.Submit(ctx, acct, sess, key, id, side, o.cfg.Multiplier)
}

func (o *Orchestrator) failed(ctx context.Context, acct model.Account, key model.InstrumentKey, side model.Side, err error) model.OrderOutcome {
	o.logger.Error("account dispatch failed",
		append([]any{"account", acct.Username, "key", key.String(), "error", err}, logger.LogWithTrace(ctx)...)...)
	return fail(model.OrderOutcome{
		Account: acct.Username,
		Key:     key,
		Side:    side,
		TraceID: logger.TraceID(ctx),
	}, err, o.now())
}

func (o *Orchestrator) record(ctx context.Context, out model.OrderOutcome) {
	for _, r := range o.recorders {
		if err := r.RecordOutcome(ctx, out); err != nil {
			o.logger.Warn("record outcome failed", "account", out.Account, "order_id", out.OrderID, "error", err)
		}
	}
}
