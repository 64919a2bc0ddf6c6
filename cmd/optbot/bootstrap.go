package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"optbot/config"
	"optbot/internal/broker"
	"optbot/internal/execution"
	"optbot/internal/instrument"
	"optbot/internal/marketdata"
	"optbot/internal/metrics"
	"optbot/internal/model"
	"optbot/internal/notification"
	redisstore "optbot/internal/store/redis"
	"optbot/internal/tradeengine"
	"optbot/pkg/smartconnect"
)

// runtime is the fully wired pipeline for one process.
type runtime struct {
	cfg      *config.Config
	accounts []model.Account

	store    *redisstore.Store
	journal  *execution.Journal
	client   *smartconnect.Client
	sessions *broker.SessionManager
	metrics  *metrics.Metrics
	health   *metrics.HealthStatus
	watcher  *marketdata.LTPWatcher
	service  *tradeengine.Service
}

// sessionSkew renews tokens this long before they expire.
const sessionSkew = 5 * time.Minute

// build connects the stores and wires every component. Journal failures
// only degrade; Redis is required.
func build(cfg *config.Config, accounts []model.Account, logger *slog.Logger, reg prometheus.Registerer) (*runtime, error) {
	rt := &runtime{cfg: cfg, accounts: accounts}

	var err error
	rt.store, err = redisstore.New(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return nil, err
	}

	if err := ensureDir(cfg.SQLitePath); err != nil {
		log.Printf("[optbot] WARNING: journal dir: %v", err)
	}
	rt.journal, err = execution.NewJournal(cfg.SQLitePath)
	if err != nil {
		log.Printf("[optbot] WARNING: sqlite journal init failed: %v (continuing without journal)", err)
		rt.journal = nil
	}

	rt.metrics = metrics.NewMetrics(reg)
	rt.health = metrics.NewHealthStatus()
	rt.store.Breaker().OnStateChange = func(from, to redisstore.State) {
		rt.metrics.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			rt.metrics.RedisCircuitBreakerTrips.Inc()
		}
	}

	rt.client = smartconnect.New(smartconnect.Config{})
	rt.sessions = broker.NewSessionManager(broker.NewTOTPAuthenticator(rt.client), sessionSkew, logger)

	feed, err := marketdata.NewHistoryFeed(marketdata.DefaultHistoryConfig(), rt.client, rt.client)
	if err != nil {
		rt.close()
		return nil, err
	}

	var placer execution.OrderPlacer = rt.client
	if cfg.DryRun {
		logger.Warn("dry run: orders go to the paper placer")
		placer = execution.NewPaperPlacer()
	}
	dispatcher := execution.NewDispatcher(cfg.Dispatcher(), placer, rt.sessions, rt.client, logger)

	recorders := []model.OutcomeRecorder{rt.store, rt.metrics}
	if rt.journal != nil {
		recorders = append(recorders, rt.journal)
	}
	orch := execution.NewOrchestrator(cfg.Orchestrator(), rt.sessions, rt.store, dispatcher, logger, recorders...)

	var live *marketdata.BarBuilder
	if cfg.LTPStream && len(accounts) > 0 {
		live = marketdata.NewBarBuilder(time.Minute)
		rt.watcher = rt.newWatcher(live, logger)
	}

	deps := tradeengine.Deps{
		Accounts: accounts,
		Sessions: rt.sessions,
		Master: func(ctx context.Context) ([]instrument.Record, error) {
			return instrument.FetchMaster(ctx, nil, cfg.ScripMasterURL)
		},
		Feed:         feed,
		Resolver:     instrument.NewResolver(cfg.Resolver(), rt.store, rt.store, logger),
		Cache:        rt.store,
		Orchestrator: orch,
		Notifier:     newNotifier(cfg),
		Metrics:      rt.metrics,
		Health:       rt.health,
		Live:         live,
		Watcher:      rt.watcher,
		Logger:       logger,
	}
	if rt.watcher != nil {
		deps.LivePrice = rt.watcher.Latest
	}

	tcfg := tradeengine.DefaultConfig()
	tcfg.Indicators = cfg.Indicators()
	tcfg.Thresholds = cfg.Thresholds()
	tcfg.ResolveSchedule = cfg.ResolveSchedule
	tcfg.EvalSchedule = cfg.EvalSchedule
	rt.service = tradeengine.New(tcfg, deps)

	return rt, nil
}

// newWatcher streams the index LTP with the first account's feed token.
func (rt *runtime) newWatcher(live *marketdata.BarBuilder, logger *slog.Logger) *marketdata.LTPWatcher {
	data := rt.accounts[0]
	namespaces := make([]string, len(rt.accounts))
	for i, a := range rt.accounts {
		namespaces[i] = a.Namespace()
	}

	open := func(ctx context.Context) (marketdata.TickStream, error) {
		sess, err := rt.sessions.Get(ctx, data)
		if err != nil {
			return nil, err
		}
		stream, err := smartconnect.NewStream(smartconnect.StreamConfig{
			JWT:        sess.Tokens.JWT,
			APIKey:     sess.APIKey,
			ClientCode: sess.ClientID,
			FeedToken:  sess.Tokens.Feed,
		})
		if err != nil {
			return nil, err
		}
		return stream, nil
	}

	w := marketdata.NewLTPWatcher(marketdata.WatcherConfig{
		Underlying: rt.cfg.Underlying,
		Token:      marketdata.IndexToken,
		Namespaces: namespaces,
	}, open, rt.store, live, logger)
	w.OnReconnect = func() {
		rt.metrics.LTPReconnects.Inc()
		rt.health.SetStreamConnected(false)
	}
	w.OnTick = func(t model.Tick) {
		rt.health.SetStreamConnected(true)
		rt.health.SetLastTickTime(t.TickTS)
	}
	return w
}

func newNotifier(cfg *config.Config) notification.Notifier {
	n := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		n = append(n, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		n = append(n, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return n
}

func (rt *runtime) close() {
	var errs []error
	if rt.journal != nil {
		errs = append(errs, rt.journal.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		log.Printf("[optbot] close: %v", err)
	}
}

// ensureDir creates the parent directory of path if it has one.
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}

// loadAccounts reads and validates the credentials file.
func loadAccounts(path string) ([]model.Account, error) {
	accounts, err := config.LoadAccounts(path)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no accounts in %s", path)
	}
	if err := config.ValidateAccounts(accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}
