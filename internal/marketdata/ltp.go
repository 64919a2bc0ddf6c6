package marketdata

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"optbot/internal/model"
	"optbot/pkg/smartconnect"
)

// TickStream is one live LTP connection.
type TickStream interface {
	Run(ctx context.Context, tokens []smartconnect.TokenListEntry, onTick func(smartconnect.LTPPacket)) error
}

// LTPSink stores the latest price for an account namespace.
type LTPSink interface {
	SetLTP(ctx context.Context, ns, underlying string, price float64) error
}

// WatcherConfig configures an LTPWatcher.
type WatcherConfig struct {
	Underlying   string   // cache key component, e.g. NIFTY
	Token        string   // index token
	ExchangeType int      // SmartStream exchange type
	Namespaces   []string // accounts whose LTP key is kept fresh
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	MaxAge       time.Duration // Latest reports 0 once the last tick is older
}

// LTPWatcher keeps {account}:{underlying}_LTP current from SmartStream and
// feeds a BarBuilder with the same ticks. It reconnects with exponential
// backoff until its context ends.
type LTPWatcher struct {
	cfg    WatcherConfig
	open   func(ctx context.Context) (TickStream, error)
	sink   LTPSink
	bars   *BarBuilder
	logger *slog.Logger

	last   atomic.Uint64 // math.Float64bits of the latest price
	lastAt atomic.Int64  // receipt time of that price, unix nanos
	now    func() time.Time

	OnReconnect func()
	OnTick      func(model.Tick)
}

// NewLTPWatcher creates a watcher. open is called for every (re)connect.
func NewLTPWatcher(cfg WatcherConfig, open func(ctx context.Context) (TickStream, error), sink LTPSink, bars *BarBuilder, logger *slog.Logger) *LTPWatcher {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 5 * time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 2 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Minute
	}
	if cfg.ExchangeType == 0 {
		cfg.ExchangeType = smartconnect.NSE_CM
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LTPWatcher{cfg: cfg, open: open, sink: sink, bars: bars, logger: logger, now: time.Now}
}

// Latest returns the most recent price seen. It is zero before the first
// tick and once no tick has arrived for MaxAge.
func (w *LTPWatcher) Latest() float64 {
	at := w.lastAt.Load()
	if at == 0 || w.now().Sub(time.Unix(0, at)) > w.cfg.MaxAge {
		return 0
	}
	return math.Float64frombits(w.last.Load())
}

// Run streams until ctx is done. It only returns nil.
func (w *LTPWatcher) Run(ctx context.Context) error {
	tokens := []smartconnect.TokenListEntry{{ExchangeType: w.cfg.ExchangeType, Tokens: []string{w.cfg.Token}}}
	backoff := w.cfg.MinBackoff

	for {
		stream, err := w.open(ctx)
		if err == nil {
			w.logger.Info("ltp stream connected", "token", w.cfg.Token)
			start := time.Now()
			err = stream.Run(ctx, tokens, func(p smartconnect.LTPPacket) { w.onTick(ctx, p) })
			if time.Since(start) > w.cfg.MaxBackoff {
				backoff = w.cfg.MinBackoff
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		w.logger.Warn("ltp stream down, reconnecting", "error", err, "backoff", backoff)
		if w.OnReconnect != nil {
			w.OnReconnect()
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff *= 2
		if backoff > w.cfg.MaxBackoff {
			backoff = w.cfg.MaxBackoff
		}
	}
}

func (w *LTPWatcher) onTick(ctx context.Context, p smartconnect.LTPPacket) {
	if p.Token != w.cfg.Token || p.LTP <= 0 {
		return
	}
	tick := model.Tick{Token: p.Token, Exchange: IndexExchange, Price: p.LTP, TickTS: time.UnixMilli(p.ExchangeTS).UTC()}
	if p.ExchangeTS <= 0 {
		tick.TickTS = time.Now().UTC()
	}
	price := tick.Rupees()
	w.last.Store(math.Float64bits(price))
	w.lastAt.Store(w.now().UnixNano())

	if w.bars != nil {
		w.bars.Add(tick)
	}
	if w.OnTick != nil {
		w.OnTick(tick)
	}
	for _, ns := range w.cfg.Namespaces {
		if err := w.sink.SetLTP(ctx, ns, w.cfg.Underlying, price); err != nil {
			w.logger.Warn("store ltp failed", "namespace", ns, "error", err)
		}
	}
}
