// Package marketdata supplies the underlying's bar series and last traded
// price: historical candles over REST and live LTP over SmartStream.
package marketdata

import (
	"context"
	"fmt"
	"time"

	"optbot/internal/markethours"
	"optbot/internal/model"
	"optbot/pkg/smartconnect"
)

// NIFTY 50 index on the cash segment.
const (
	IndexExchange = "NSE"
	IndexToken    = "99926000"
	IndexSymbol   = "Nifty 50"
)

var intervalNames = map[time.Duration]string{
	time.Minute:      "ONE_MINUTE",
	3 * time.Minute:  "THREE_MINUTE",
	5 * time.Minute:  "FIVE_MINUTE",
	10 * time.Minute: "TEN_MINUTE",
	15 * time.Minute: "FIFTEEN_MINUTE",
	30 * time.Minute: "THIRTY_MINUTE",
	time.Hour:        "ONE_HOUR",
}

// CandleAPI is the historical-candle part of the SmartAPI client.
type CandleAPI interface {
	GetCandleData(ctx context.Context, auth smartconnect.Auth, p smartconnect.CandleParams) ([]smartconnect.Candle, error)
}

// QuoteAPI is the LTP part of the SmartAPI client.
type QuoteAPI interface {
	LTPData(ctx context.Context, auth smartconnect.Auth, exchange, tradingSymbol, token string) (float64, error)
}

// HistoryConfig selects the instrument and how much history to load.
type HistoryConfig struct {
	Exchange string
	Token    string
	Symbol   string
	Interval time.Duration
	Bars     int // complete bars to cover, counting session minutes only
}

// DefaultHistoryConfig loads the last 120 one-minute NIFTY bars.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Exchange: IndexExchange,
		Token:    IndexToken,
		Symbol:   IndexSymbol,
		Interval: time.Minute,
		Bars:     120,
	}
}

// HistoryFeed loads the bar series the indicators run on.
type HistoryFeed struct {
	cfg    HistoryConfig
	candle CandleAPI
	quote  QuoteAPI
	now    func() time.Time
}

// NewHistoryFeed creates a feed. quote may be nil if LTP comes from elsewhere.
func NewHistoryFeed(cfg HistoryConfig, candle CandleAPI, quote QuoteAPI) (*HistoryFeed, error) {
	if _, ok := intervalNames[cfg.Interval]; !ok {
		return nil, fmt.Errorf("unsupported candle interval %s", cfg.Interval)
	}
	if cfg.Bars <= 0 {
		return nil, fmt.Errorf("history bars must be positive, got %d", cfg.Bars)
	}
	return &HistoryFeed{cfg: cfg, candle: candle, quote: quote, now: time.Now}, nil
}

// Bars fetches the bars covering the configured lookback up to now, oldest
// first. Rows with a repeated or out-of-order timestamp are dropped.
func (h *HistoryFeed) Bars(ctx context.Context, auth smartconnect.Auth) ([]model.Bar, error) {
	now := h.now().In(markethours.IST)
	from := markethours.LookbackStart(now, h.cfg.Bars, h.cfg.Interval)
	rows, err := h.candle.GetCandleData(ctx, auth, smartconnect.CandleParams{
		Exchange:    h.cfg.Exchange,
		SymbolToken: h.cfg.Token,
		Interval:    intervalNames[h.cfg.Interval],
		From:        from,
		To:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("candles %s %s: %w", h.cfg.Exchange, h.cfg.Token, err)
	}

	bars := make([]model.Bar, 0, len(rows))
	for _, c := range rows {
		if n := len(bars); n > 0 && !c.TS.After(bars[n-1].TS) {
			continue
		}
		bars = append(bars, model.Bar{TS: c.TS, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume})
	}
	return bars, nil
}

// LTP quotes the configured instrument's last traded price.
func (h *HistoryFeed) LTP(ctx context.Context, auth smartconnect.Auth) (float64, error) {
	if h.quote == nil {
		return 0, fmt.Errorf("no quote source configured")
	}
	p, err := h.quote.LTPData(ctx, auth, h.cfg.Exchange, h.cfg.Symbol, h.cfg.Token)
	if err != nil {
		return 0, fmt.Errorf("ltp %s: %w", h.cfg.Symbol, err)
	}
	return p, nil
}
