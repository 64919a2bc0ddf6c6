// Package tradeengine runs the trading pipeline: resolve the option ladder
// before the session, then on every minute turn bars into indicators, a
// signal and one order per account.
package tradeengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"optbot/internal/broker"
	"optbot/internal/indicator"
	"optbot/internal/instrument"
	"optbot/internal/marketdata"
	"optbot/internal/markethours"
	"optbot/internal/metrics"
	"optbot/internal/model"
	"optbot/internal/notification"
	"optbot/internal/strategy"
	"optbot/pkg/smartconnect"
)

// ErrNoAccounts is returned when the service has no account to act for.
var ErrNoAccounts = errors.New("tradeengine: no accounts configured")

// ErrNoExpiry means no expiry has been resolved or recorded yet.
var ErrNoExpiry = errors.New("tradeengine: no expiry resolved")

// MasterSource returns the current scrip master.
type MasterSource func(ctx context.Context) ([]instrument.Record, error)

// MarketFeed supplies index bars and the index price.
type MarketFeed interface {
	Bars(ctx context.Context, auth smartconnect.Auth) ([]model.Bar, error)
	LTP(ctx context.Context, auth smartconnect.Auth) (float64, error)
}

// SessionSource hands out a live session for an account.
type SessionSource interface {
	Get(ctx context.Context, acct model.Account) (broker.Session, error)
}

// Cache is the shared state the engine reads back and keeps warm.
type Cache interface {
	Expiry(ctx context.Context) (string, error)
	LTP(ctx context.Context, ns, underlying string) (float64, error)
	SaveBars(ctx context.Context, underlying string, bars []model.Bar, ttl time.Duration) error
	LoadBars(ctx context.Context, underlying string) ([]model.Bar, error)
}

// Fanout places one order per account.
type Fanout interface {
	DispatchAll(ctx context.Context, accounts []model.Account, key model.InstrumentKey, side model.Side) []model.OrderOutcome
}

// Config tunes the pipeline.
type Config struct {
	Indicators      indicator.Config
	Thresholds      strategy.Thresholds
	ResolveSchedule string        // cron spec, IST
	EvalSchedule    string        // cron spec, IST
	BarTTL          time.Duration // lifetime of the cached bar series
}

// DefaultConfig resolves at 09:20 and evaluates every minute of the session.
func DefaultConfig() Config {
	return Config{
		Indicators:      indicator.DefaultConfig(),
		Thresholds:      strategy.DefaultThresholds(),
		ResolveSchedule: "20 9 * * 1-5",
		EvalSchedule:    "* 9-15 * * 1-5",
		BarTTL:          10 * time.Minute,
	}
}

// Deps are the collaborators of a Service. Notifier, Metrics, Health, Live,
// LivePrice and Watcher are optional.
type Deps struct {
	Accounts     []model.Account
	Sessions     SessionSource
	Master       MasterSource
	Feed         MarketFeed
	Resolver     *instrument.Resolver
	Cache        Cache
	Orchestrator Fanout

	Notifier  notification.Notifier
	Metrics   *metrics.Metrics
	Health    *metrics.HealthStatus
	Live      *marketdata.BarBuilder
	LivePrice func() float64
	Watcher   *marketdata.LTPWatcher

	Logger *slog.Logger
}

// Dispatch is one signal turned into orders.
type Dispatch struct {
	Signal   strategy.Signal
	Key      model.InstrumentKey
	Outcomes []model.OrderOutcome
}

// Report is the result of one evaluation.
type Report struct {
	Decision   strategy.Decision
	Dispatches []Dispatch
	Skipped    []strategy.Signal // already acted on for this bar
}

// Service wires the pipeline components together.
type Service struct {
	cfg       Config
	deps      Deps
	evaluator *strategy.Evaluator
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	expiry    time.Time
	lastFired map[model.Right]time.Time
	evalMu    sync.Mutex // one evaluation at a time
}

// New creates a Service.
func New(cfg Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		deps:      deps,
		evaluator: strategy.NewEvaluator(cfg.Thresholds),
		logger:    logger.With("component", "tradeengine"),
		now:       time.Now,
		lastFired: make(map[model.Right]time.Time),
	}
}

// Expiry returns the expiry being traded. The cache is read on every call,
// so a resolve run by another process is picked up; the last value this
// process saw is used only while the cache cannot be read.
func (s *Service) Expiry(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	known := s.expiry
	s.mu.Unlock()

	if s.deps.Cache == nil {
		if known.IsZero() {
			return time.Time{}, ErrNoExpiry
		}
		return known, nil
	}
	label, err := s.deps.Cache.Expiry(ctx)
	if err != nil {
		if known.IsZero() {
			return time.Time{}, fmt.Errorf("%w: %v", ErrNoExpiry, err)
		}
		s.logger.Warn("expiry read failed, using last known", "expiry", instrument.ExpiryLabel(known), "error", err)
		return known, nil
	}
	exp, err := instrument.ParseExpiryLabel(label)
	if err != nil {
		return time.Time{}, err
	}
	s.mu.Lock()
	s.expiry = exp
	s.mu.Unlock()
	return exp, nil
}

// liveExpiry returns the recorded expiry if there is one and its date has
// not passed.
func (s *Service) liveExpiry(ctx context.Context) (time.Time, bool) {
	exp, err := s.Expiry(ctx)
	if err != nil {
		return time.Time{}, false
	}
	now := s.now().In(markethours.IST)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	day := time.Date(exp.Year(), exp.Month(), exp.Day(), 0, 0, 0, 0, time.UTC)
	return exp, !day.Before(today)
}

// RefreshInstruments re-resolves the ladder around today's price. The
// recorded expiry is kept; the nearest listed expiry is used only when none
// is recorded or the recorded one has passed.
func (s *Service) RefreshInstruments(ctx context.Context) (time.Time, error) {
	if exp, ok := s.liveExpiry(ctx); ok {
		return s.ResolveFor(ctx, exp)
	}
	return s.ResolveInstruments(ctx)
}

// ResolveInstruments resolves the ladder for the nearest listed expiry and
// publishes it to every account namespace.
func (s *Service) ResolveInstruments(ctx context.Context) (time.Time, error) {
	master, err := s.deps.Master(ctx)
	if err != nil {
		s.resolveFailed()
		return time.Time{}, fmt.Errorf("scrip master: %w", err)
	}
	underlying := s.deps.Resolver.Config().Underlying
	expiries := instrument.Expiries(master, underlying, s.now().In(markethours.IST))
	if len(expiries) == 0 {
		s.resolveFailed()
		return time.Time{}, fmt.Errorf("%w: no %s expiries listed", instrument.ErrNoInstruments, underlying)
	}
	return expiries[0], s.publish(ctx, master, expiries[0])
}

// ResolveFor resolves the ladder for a chosen expiry. A date that is not a
// trading day moves back to the previous trading day.
func (s *Service) ResolveFor(ctx context.Context, expiry time.Time) (time.Time, error) {
	expiry = markethours.AdjustToTradingDay(expiry)
	master, err := s.deps.Master(ctx)
	if err != nil {
		s.resolveFailed()
		return time.Time{}, fmt.Errorf("scrip master: %w", err)
	}
	return expiry, s.publish(ctx, master, expiry)
}

func (s *Service) publish(ctx context.Context, master []instrument.Record, expiry time.Time) error {
	price, err := s.indexPrice(ctx)
	if err != nil {
		s.resolveFailed()
		return err
	}

	resolved, err := s.deps.Resolver.Resolve(master, price, expiry)
	if err != nil {
		s.resolveFailed()
		return err
	}

	namespaces := make([]string, len(s.deps.Accounts))
	for i, a := range s.deps.Accounts {
		namespaces[i] = a.Namespace()
	}
	if err := s.deps.Resolver.Publish(ctx, namespaces, expiry, resolved); err != nil {
		s.resolveFailed()
		return err
	}

	s.mu.Lock()
	s.expiry = expiry
	s.mu.Unlock()

	label := instrument.ExpiryLabel(expiry)
	if s.deps.Metrics != nil {
		s.deps.Metrics.ResolvedInstruments.Set(float64(len(resolved)))
	}
	if s.deps.Health != nil {
		s.deps.Health.SetResolved(label, s.now())
	}
	s.logger.Info("instruments resolved",
		"expiry", label,
		"price", price,
		"instruments", len(resolved),
		"accounts", len(namespaces),
	)
	return nil
}

func (s *Service) resolveFailed() {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ResolveErrorsTotal.Inc()
	}
}

// indexPrice prefers the live stream price, then a REST quote, then the
// {account}:{underlying}_LTP value last written for the data account.
func (s *Service) indexPrice(ctx context.Context) (float64, error) {
	if s.deps.LivePrice != nil {
		if p := s.deps.LivePrice(); p > 0 {
			return p, nil
		}
	}
	auth, err := s.dataAuth(ctx)
	if err != nil {
		return 0, err
	}
	price, err := s.deps.Feed.LTP(ctx, auth)
	if err == nil || s.deps.Cache == nil {
		return price, err
	}
	underlying := s.deps.Resolver.Config().Underlying
	cached, cerr := s.deps.Cache.LTP(ctx, s.deps.Accounts[0].Namespace(), underlying)
	if cerr != nil || cached <= 0 {
		return 0, err
	}
	s.logger.Warn("index quote failed, using cached ltp", "price", cached, "error", err)
	return cached, nil
}

// bars fetches the index history, falling back to the cached series when
// the history call fails.
func (s *Service) bars(ctx context.Context, auth smartconnect.Auth, underlying string) ([]model.Bar, error) {
	bars, err := s.deps.Feed.Bars(ctx, auth)
	if err == nil || s.deps.Cache == nil {
		return bars, err
	}
	cached, cerr := s.deps.Cache.LoadBars(ctx, underlying)
	if cerr != nil || len(cached) == 0 {
		return nil, err
	}
	s.logger.Warn("history fetch failed, using cached bars", "bars", len(cached), "error", err)
	return cached, nil
}

// dataAuth returns credentials for market data calls. The first account
// serves them.
func (s *Service) dataAuth(ctx context.Context) (smartconnect.Auth, error) {
	if len(s.deps.Accounts) == 0 {
		return smartconnect.Auth{}, ErrNoAccounts
	}
	sess, err := s.deps.Sessions.Get(ctx, s.deps.Accounts[0])
	if err != nil {
		return smartconnect.Auth{}, fmt.Errorf("data session %s: %w", s.deps.Accounts[0].Username, err)
	}
	return sess.Auth(), nil
}

// EvaluateOnce fetches bars, evaluates the entry condition at now and
// dispatches a BUY of the at-the-money contract for every signal not yet
// acted on for its bar.
func (s *Service) EvaluateOnce(ctx context.Context, now time.Time) (Report, error) {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()

	report, err := s.evaluate(ctx, now)
	if s.deps.Metrics != nil {
		s.deps.Metrics.EvaluationsTotal.Inc()
		if err != nil {
			s.deps.Metrics.EvalErrorsTotal.Inc()
		}
	}
	if s.deps.Health != nil && err == nil {
		s.deps.Health.SetLastEval(now)
	}
	return report, err
}

func (s *Service) evaluate(ctx context.Context, now time.Time) (Report, error) {
	expiry, err := s.Expiry(ctx)
	if err != nil {
		return Report{}, err
	}

	auth, err := s.dataAuth(ctx)
	if err != nil {
		return Report{}, err
	}
	underlying := s.deps.Resolver.Config().Underlying
	bars, err := s.bars(ctx, auth, underlying)
	if err != nil {
		return Report{}, err
	}
	if s.deps.Live != nil {
		if live, ok := s.deps.Live.Current(); ok {
			bars = marketdata.MergeLive(bars, live)
		}
	}

	if s.deps.Cache != nil {
		if err := s.deps.Cache.SaveBars(ctx, underlying, bars, s.cfg.BarTTL); err != nil {
			s.logger.Warn("bar cache write failed", "error", err)
		}
	}

	frames, err := indicator.Compute(bars, s.cfg.Indicators)
	if err != nil {
		return Report{}, fmt.Errorf("indicators: %w", err)
	}
	decision, err := s.evaluator.EvaluateSeries(frames, now)
	if err != nil {
		return Report{}, err
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.LastSADX.Set(decision.Latest.SADX)
	}

	report := Report{Decision: decision}
	s.logger.Debug("evaluated",
		"bar", decision.Latest.Bar.TS,
		"sadx", decision.Latest.SADX,
		"rsi", decision.Latest.RSI,
		"mom", decision.Latest.Mom,
		"ce", decision.CE,
		"pe", decision.PE,
	)

	for _, sig := range decision.Signals() {
		if !s.claim(sig) {
			report.Skipped = append(report.Skipped, sig)
			continue
		}
		key := s.deps.Resolver.ATMKey(expiry, sig.Price, sig.Right)
		report.Dispatches = append(report.Dispatches, s.dispatch(ctx, sig, key))
	}
	return report, nil
}

// claim records sig as acted on. It returns false if a signal of the same
// right was already dispatched for this bar or a later one.
func (s *Service) claim(sig strategy.Signal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastFired[sig.Right]; ok && !sig.BarTS.After(last) {
		return false
	}
	s.lastFired[sig.Right] = sig.BarTS
	return true
}

func (s *Service) dispatch(ctx context.Context, sig strategy.Signal, key model.InstrumentKey) Dispatch {
	s.logger.Info("signal",
		"right", sig.Right,
		"bar", sig.BarTS,
		"price", sig.Price,
		"key", key.String(),
	)
	if s.deps.Metrics != nil {
		s.deps.Metrics.SignalsTotal.WithLabelValues(string(sig.Right)).Inc()
	}

	start := s.now()
	outs := s.deps.Orchestrator.DispatchAll(ctx, s.deps.Accounts, key, model.Buy)
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveDispatch(s.now().Sub(start))
	}
	if s.deps.Health != nil {
		s.deps.Health.SetLastDispatch(s.now())
	}

	if s.deps.Notifier != nil {
		// Alerts outlive a cancelled run.
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		if err := s.deps.Notifier.Send(nctx, notification.SummarizeOutcomes(key, model.Buy, outs)); err != nil {
			s.logger.Warn("alert delivery failed", "error", err)
		}
		cancel()
	}
	return Dispatch{Signal: sig, Key: key, Outcomes: outs}
}
