package tradeengine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"optbot/internal/broker"
	"optbot/internal/execution"
	"optbot/internal/instrument"
	"optbot/internal/markethours"
	"optbot/internal/metrics"
	"optbot/internal/model"
	"optbot/internal/notification"
	redisstore "optbot/internal/store/redis"
	"optbot/pkg/smartconnect"
)

const master = `[
 {"token":"1001","symbol":"NIFTY20MAY2524600CE","name":"NIFTY","expiry":"20MAY2025","strike":"2460000.000000","lotsize":"75","instrumenttype":"OPTIDX","exch_seg":"NFO"},
 {"token":"1002","symbol":"NIFTY20MAY2524600PE","name":"NIFTY","expiry":"20MAY2025","strike":"2460000.000000","lotsize":"75","instrumenttype":"OPTIDX","exch_seg":"NFO"},
 {"token":"1003","symbol":"NIFTY20MAY2524650CE","name":"NIFTY","expiry":"20MAY2025","strike":"2465000.000000","lotsize":"75","instrumenttype":"OPTIDX","exch_seg":"NFO"},
 {"token":"1004","symbol":"NIFTY20MAY2524650PE","name":"NIFTY","expiry":"20MAY2025","strike":"2465000.000000","lotsize":"75","instrumenttype":"OPTIDX","exch_seg":"NFO"},
 {"token":"2001","symbol":"NIFTY27MAY2524650CE","name":"NIFTY","expiry":"27MAY2025","strike":"2465000.000000","lotsize":"75","instrumenttype":"OPTIDX","exch_seg":"NFO"}
]`

var sessionStart = time.Date(2025, 5, 19, 9, 15, 0, 0, markethours.IST)

// trendThenPause is 28 rising bars followed by a sideways stretch. The last
// bar opens above its close but still closes up, so it raises a CE signal:
// SADX stays above 90, momentum is 4 and RSI ticks up.
func trendThenPause() []model.Bar {
	var bars []model.Bar
	add := func(o, h, l, c float64) {
		bars = append(bars, model.Bar{TS: sessionStart.Add(time.Duration(len(bars)) * time.Minute), Open: o, High: h, Low: l, Close: c})
	}
	for i := 0; i < 28; i++ {
		c := 24400 + 10*float64(i)
		add(c-5, c+2, c-7, c)
	}
	const base = 24670.0
	for j := 0; j < 11; j++ {
		if j%2 == 0 {
			add(base+1.5, base+2.5, base, base+1)
		} else {
			add(base-1.5, base, base-2.5, base-1)
		}
	}
	add(24674, 24675, 24672, 24673)
	return bars
}

type fakeFeed struct {
	bars []model.Bar
	ltp  float64
	err  error
}

func (f *fakeFeed) Bars(context.Context, smartconnect.Auth) ([]model.Bar, error) {
	return f.bars, f.err
}

func (f *fakeFeed) LTP(context.Context, smartconnect.Auth) (float64, error) {
	return f.ltp, f.err
}

type sessions struct{}

func (sessions) Get(_ context.Context, acct model.Account) (broker.Session, error) {
	return broker.Session{Username: acct.Username, APIKey: acct.APIKey, Tokens: smartconnect.Tokens{JWT: "jwt-" + acct.Username}}, nil
}

func (s sessions) Renew(ctx context.Context, acct model.Account, _ broker.Session) (broker.Session, error) {
	return s.Get(ctx, acct)
}

type memNotifier struct {
	mu     sync.Mutex
	alerts []notification.Alert
}

func (n *memNotifier) Send(_ context.Context, a notification.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

type harness struct {
	svc      *Service
	store    *redisstore.Store
	placer   *execution.PaperPlacer
	feed     *fakeFeed
	notifier *memNotifier
	metrics  *metrics.Metrics
	masters  int
}

func newHarness(t *testing.T, names ...string) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	store := redisstore.NewWithClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { store.Close() })

	accts := make([]model.Account, len(names))
	for i, n := range names {
		accts[i] = model.Account{Username: n, ClientID: "C-" + n, APIKey: "k-" + n}
	}

	h := &harness{
		store:    store,
		placer:   execution.NewPaperPlacer(),
		feed:     &fakeFeed{bars: trendThenPause(), ltp: 24640},
		notifier: &memNotifier{},
		metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
	}

	d := execution.NewDispatcher(execution.DefaultDispatcherConfig(), h.placer, sessions{}, nil, nil)
	ocfg := execution.DefaultOrchestratorConfig()
	ocfg.Stagger = time.Millisecond
	orch := execution.NewOrchestrator(ocfg, sessions{}, store, d, nil, store, h.metrics)

	h.svc = New(DefaultConfig(), Deps{
		Accounts: accts,
		Sessions: sessions{},
		Master: func(context.Context) ([]instrument.Record, error) {
			h.masters++
			return instrument.ParseMaster(strings.NewReader(master))
		},
		Feed:         h.feed,
		Resolver:     instrument.NewResolver(instrument.DefaultConfig(), store, store, nil),
		Cache:        store,
		Orchestrator: orch,
		Notifier:     h.notifier,
		Metrics:      h.metrics,
		Health:       metrics.NewHealthStatus(),
	})
	h.svc.now = func() time.Time { return sessionStart.Add(-5 * time.Minute) }
	return h
}

func TestResolveInstruments_PublishesNearestExpiry(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()

	expiry, err := h.svc.ResolveInstruments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := instrument.ExpiryLabel(expiry); got != "20MAY25" {
		t.Errorf("expiry = %s, want 20MAY25", got)
	}
	if label, _ := h.store.Expiry(ctx); label != "20MAY25" {
		t.Errorf("stored expiry = %q", label)
	}

	key := model.InstrumentKey{Underlying: "NIFTY", Expiry: "20MAY25", Strike: 24650, Right: model.Put}
	for _, ns := range []string{"alice", "bob"} {
		id, err := h.store.Identity(ctx, ns, key)
		if err != nil {
			t.Fatalf("%s: %v", ns, err)
		}
		if id.Token != "1004" || id.LotSize != 75 {
			t.Errorf("%s: identity = %+v", ns, id)
		}
	}
	if v := testutil.ToFloat64(h.metrics.ResolvedInstruments); v != 4 {
		t.Errorf("resolved gauge = %v", v)
	}
}

func TestResolveFor_MovesHolidayBack(t *testing.T) {
	h := newHarness(t, "alice")
	// 2025-05-25 is a Sunday; the 20MAY master has nothing for the 23rd, so
	// only the adjustment itself is checked here.
	got, err := h.svc.ResolveFor(context.Background(), time.Date(2025, 5, 25, 0, 0, 0, 0, time.UTC))
	if got.Weekday() != time.Friday || got.Day() != 23 {
		t.Errorf("adjusted expiry = %s", got)
	}
	if !errors.Is(err, instrument.ErrNoInstruments) {
		t.Errorf("err = %v", err)
	}
	if v := testutil.ToFloat64(h.metrics.ResolveErrorsTotal); v != 1 {
		t.Errorf("resolve errors = %v", v)
	}
}

func TestResolveInstruments_PrefersLivePrice(t *testing.T) {
	h := newHarness(t, "alice")
	h.feed.err = errors.New("quote down")
	h.svc.deps.LivePrice = func() float64 { return 24610 }

	if _, err := h.svc.ResolveInstruments(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestEvaluateOnce_DispatchesATMCallOncePerBar(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()
	if _, err := h.svc.ResolveInstruments(ctx); err != nil {
		t.Fatal(err)
	}

	bars := h.feed.bars
	now := bars[len(bars)-1].TS.Add(5 * time.Minute)
	report, err := h.svc.EvaluateOnce(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Decision.CE || report.Decision.PE {
		t.Fatalf("decision = CE %t PE %t (sadx %.2f rsi %.2f mom %.2f)",
			report.Decision.CE, report.Decision.PE, report.Decision.Latest.SADX, report.Decision.Latest.RSI, report.Decision.Latest.Mom)
	}
	if len(report.Dispatches) != 1 {
		t.Fatalf("dispatches = %d", len(report.Dispatches))
	}

	d := report.Dispatches[0]
	want := model.InstrumentKey{Underlying: "NIFTY", Expiry: "20MAY25", Strike: 24650, Right: model.Call}
	if d.Key != want {
		t.Errorf("key = %s, want %s", d.Key, want)
	}
	for i, o := range d.Outcomes {
		if !o.Success || o.Symbol != "NIFTY20MAY2524650CE" || o.Quantity != 75 {
			t.Errorf("outcome %d = %+v", i, o)
		}
	}
	if len(h.placer.Placed()) != 2 {
		t.Errorf("placed = %d", len(h.placer.Placed()))
	}
	if len(h.notifier.alerts) != 1 || h.notifier.alerts[0].Level != notification.AlertInfo {
		t.Errorf("alerts = %+v", h.notifier.alerts)
	}
	if cached, err := h.store.LoadBars(ctx, "NIFTY"); err != nil || len(cached) != len(bars) {
		t.Errorf("cached bars = %d, %v", len(cached), err)
	}

	again, err := h.svc.EvaluateOnce(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Dispatches) != 0 || len(again.Skipped) != 1 {
		t.Errorf("second pass dispatched %d, skipped %d", len(again.Dispatches), len(again.Skipped))
	}
	if len(h.placer.Placed()) != 2 {
		t.Errorf("placed after repeat = %d", len(h.placer.Placed()))
	}
	if v := testutil.ToFloat64(h.metrics.SignalsTotal.WithLabelValues("CE")); v != 1 {
		t.Errorf("signals = %v", v)
	}
	if v := testutil.ToFloat64(h.metrics.OrdersTotal.WithLabelValues("placed", "none")); v != 2 {
		t.Errorf("orders placed = %v", v)
	}
}

func TestEvaluateOnce_FormingBarIsSkipped(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	if _, err := h.svc.ResolveInstruments(ctx); err != nil {
		t.Fatal(err)
	}

	bars := h.feed.bars
	report, err := h.svc.EvaluateOnce(ctx, bars[len(bars)-1].TS.Add(30*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if !report.Decision.Latest.Bar.TS.Equal(bars[len(bars)-2].TS) {
		t.Errorf("evaluated bar %s, want %s", report.Decision.Latest.Bar.TS, bars[len(bars)-2].TS)
	}
}

func TestEvaluateOnce_ReadsExpiryFromCache(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	if err := h.store.SetExpiry(ctx, "20MAY25"); err != nil {
		t.Fatal(err)
	}

	bars := h.feed.bars
	report, err := h.svc.EvaluateOnce(ctx, bars[len(bars)-1].TS.Add(5*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	// Nothing was published for alice, so the ATM lookup misses.
	if len(report.Dispatches) != 1 || report.Dispatches[0].Outcomes[0].ErrorKind != string(broker.KindData) {
		t.Errorf("dispatches = %+v", report.Dispatches)
	}
	if h.notifier.alerts[0].Level != notification.AlertCritical {
		t.Errorf("alert level = %s", h.notifier.alerts[0].Level)
	}
}

func TestEvaluateOnce_Errors(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()

	if _, err := h.svc.EvaluateOnce(ctx, sessionStart); !errors.Is(err, ErrNoExpiry) {
		t.Errorf("without expiry: %v", err)
	}

	h.store.SetExpiry(ctx, "20MAY25")
	h.feed.bars = h.feed.bars[:5]
	if _, err := h.svc.EvaluateOnce(ctx, sessionStart.Add(time.Hour)); err == nil {
		t.Error("expected an error for a short series")
	}
	if v := testutil.ToFloat64(h.metrics.EvalErrorsTotal); v != 2 {
		t.Errorf("eval errors = %v", v)
	}

	empty := New(DefaultConfig(), Deps{Cache: h.store, Feed: h.feed, Resolver: instrument.NewResolver(instrument.DefaultConfig(), nil, nil, nil)})
	if _, err := empty.EvaluateOnce(ctx, sessionStart); !errors.Is(err, ErrNoAccounts) {
		t.Errorf("without accounts: %v", err)
	}
}

func TestRefreshInstruments_KeepsRecordedExpiry(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()

	chosen := time.Date(2025, 5, 27, 0, 0, 0, 0, time.UTC)
	if _, err := h.svc.ResolveFor(ctx, chosen); err != nil {
		t.Fatal(err)
	}

	h.svc.resolveJob(ctx)
	if label, _ := h.store.Expiry(ctx); label != "27MAY25" {
		t.Errorf("stored expiry after daily resolve = %q, want 27MAY25", label)
	}
	exp, err := h.svc.Expiry(ctx)
	if err != nil || instrument.ExpiryLabel(exp) != "27MAY25" {
		t.Errorf("service expiry = %s, %v", instrument.ExpiryLabel(exp), err)
	}
	if h.masters != 2 {
		t.Errorf("master fetches = %d, want 2", h.masters)
	}
	key := model.InstrumentKey{Underlying: "NIFTY", Expiry: "27MAY25", Strike: 24650, Right: model.Call}
	if id, err := h.store.Identity(ctx, "alice", key); err != nil || id.Token != "2001" {
		t.Errorf("identity = %+v, %v", id, err)
	}
}

func TestRefreshInstruments_ReplacesPassedExpiry(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	if err := h.store.SetExpiry(ctx, "16MAY25"); err != nil {
		t.Fatal(err)
	}

	exp, err := h.svc.RefreshInstruments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := instrument.ExpiryLabel(exp); got != "20MAY25" {
		t.Errorf("expiry = %s, want the nearest listed 20MAY25", got)
	}
	if label, _ := h.store.Expiry(ctx); label != "20MAY25" {
		t.Errorf("stored expiry = %q", label)
	}
}

func TestExpiry_FollowsExternalResolve(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	if _, err := h.svc.ResolveInstruments(ctx); err != nil {
		t.Fatal(err)
	}

	// Another process records a different expiry.
	if err := h.store.SetExpiry(ctx, "27MAY25"); err != nil {
		t.Fatal(err)
	}
	exp, err := h.svc.Expiry(ctx)
	if err != nil || instrument.ExpiryLabel(exp) != "27MAY25" {
		t.Errorf("expiry = %s, %v", instrument.ExpiryLabel(exp), err)
	}
}

func TestResolveInstruments_FallsBackToCachedLTP(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	h.feed.err = errors.New("quote down")

	if _, err := h.svc.ResolveInstruments(ctx); err == nil {
		t.Fatal("expected an error with no quote and no cached ltp")
	}

	if err := h.store.SetLTP(ctx, "alice", "NIFTY", 24610); err != nil {
		t.Fatal(err)
	}
	if _, err := h.svc.ResolveInstruments(ctx); err != nil {
		t.Fatalf("with cached ltp: %v", err)
	}
	key := model.InstrumentKey{Underlying: "NIFTY", Expiry: "20MAY25", Strike: 24600, Right: model.Call}
	if id, err := h.store.Identity(ctx, "alice", key); err != nil || id.Token != "1001" {
		t.Errorf("identity = %+v, %v", id, err)
	}
}

func TestEvaluateOnce_FallsBackToCachedBars(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()
	if _, err := h.svc.ResolveInstruments(ctx); err != nil {
		t.Fatal(err)
	}
	bars := h.feed.bars
	now := bars[len(bars)-1].TS.Add(5 * time.Minute)
	if _, err := h.svc.EvaluateOnce(ctx, now); err != nil {
		t.Fatal(err)
	}

	h.feed.err = errors.New("history down")
	report, err := h.svc.EvaluateOnce(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("with cached bars: %v", err)
	}
	if !report.Decision.Latest.Bar.TS.Equal(bars[len(bars)-1].TS) || len(report.Skipped) != 1 {
		t.Errorf("evaluated %s, skipped %d", report.Decision.Latest.Bar.TS, len(report.Skipped))
	}

	fresh := newHarness(t, "alice")
	fresh.store.SetExpiry(ctx, "20MAY25")
	fresh.feed.err = errors.New("history down")
	if _, err := fresh.svc.EvaluateOnce(ctx, now); err == nil {
		t.Error("expected an error with no history and no cached bars")
	}
}
