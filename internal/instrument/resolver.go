package instrument

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"optbot/internal/model"
)

var (
	// ErrNoPrice is returned when the underlying price is missing or invalid.
	ErrNoPrice = errors.New("instrument: no underlying price")
	// ErrNoInstruments is returned when no ladder strike matched the master.
	ErrNoInstruments = errors.New("instrument: no instruments resolved")
)

// ATMStrike rounds price to the nearest multiple of step, halves rounding up.
func ATMStrike(price float64, step int) int {
	return int(math.Floor(price/float64(step)+0.5)) * step
}

// LadderConfig bounds the strike ladder. When Range is positive it wins and
// the ladder spans base±Range; otherwise it spans base±Steps*step.
type LadderConfig struct {
	Steps int
	Range int
}

// Ladder returns the strikes around base in ascending order.
func Ladder(base, step int, cfg LadderConfig) []int {
	n := cfg.Steps
	if cfg.Range > 0 {
		n = cfg.Range / step
	}
	if n < 0 {
		n = 0
	}
	out := make([]int, 0, 2*n+1)
	for k := -n; k <= n; k++ {
		out = append(out, base+k*step)
	}
	return out
}

// Config configures a Resolver.
type Config struct {
	Underlying string // e.g. NIFTY
	Step       int    // strike step, 50 for NIFTY
	Ladder     LadderConfig
}

// DefaultConfig is NIFTY with a ±10 strike ladder.
func DefaultConfig() Config {
	return Config{Underlying: "NIFTY", Step: 50, Ladder: LadderConfig{Steps: 10}}
}

// ExpiryWriter records the currently selected expiry label.
type ExpiryWriter interface {
	SetExpiry(ctx context.Context, label string) error
}

// Resolver maps ladder strikes to broker identities and publishes them to
// each account's namespace. It is the only writer of the instrument cache.
type Resolver struct {
	cfg    Config
	writer model.InstrumentWriter
	expiry ExpiryWriter
	logger *slog.Logger
}

// NewResolver creates a Resolver. writer and expiry may be nil when only
// Resolve is used.
func NewResolver(cfg Config, writer model.InstrumentWriter, expiry ExpiryWriter, logger *slog.Logger) *Resolver {
	if cfg.Step <= 0 {
		cfg.Step = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cfg: cfg, writer: writer, expiry: expiry, logger: logger}
}

// Config returns the resolver configuration.
func (r *Resolver) Config() Config { return r.cfg }

// Key builds the instrument key for strike and right at expiry.
func (r *Resolver) Key(expiry time.Time, strike int, right model.Right) model.InstrumentKey {
	return model.InstrumentKey{
		Underlying: r.cfg.Underlying,
		Expiry:     ExpiryLabel(expiry),
		Strike:     strike,
		Right:      right,
	}
}

// ATMKey returns the at-the-money key for price.
func (r *Resolver) ATMKey(expiry time.Time, price float64, right model.Right) model.InstrumentKey {
	return r.Key(expiry, ATMStrike(price, r.cfg.Step), right)
}

type strikeRight struct {
	strike int
	right  model.Right
}

// Resolve picks the strike ladder around price and looks every (strike,
// right) pair up in master. An exact symbol match is preferred; otherwise a
// row with the same strike and right suffix is used. Only index options of
// the configured underlying expiring on expiry's calendar day are considered.
func (r *Resolver) Resolve(master []Record, price float64, expiry time.Time) (map[model.InstrumentKey]model.InstrumentIdentity, error) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, ErrNoPrice
	}

	bySymbol := make(map[string]Record)
	byStrike := make(map[strikeRight]Record)
	for _, rec := range master {
		if !r.candidate(rec, expiry) {
			continue
		}
		bySymbol[rec.Symbol] = rec
		strike, ok := rec.StrikePrice()
		if !ok {
			continue
		}
		for _, right := range []model.Right{model.Call, model.Put} {
			if strings.HasSuffix(rec.Symbol, string(right)) {
				sr := strikeRight{strike, right}
				// Keep the lexically smallest symbol so repeated passes agree.
				if prev, dup := byStrike[sr]; !dup || rec.Symbol < prev.Symbol {
					byStrike[sr] = rec
				}
			}
		}
	}

	out := make(map[model.InstrumentKey]model.InstrumentIdentity)
	base := ATMStrike(price, r.cfg.Step)
	for _, strike := range Ladder(base, r.cfg.Step, r.cfg.Ladder) {
		for _, right := range []model.Right{model.Call, model.Put} {
			key := r.Key(expiry, strike, right)
			rec, ok := bySymbol[key.Symbol()]
			if !ok {
				rec, ok = byStrike[strikeRight{strike, right}]
			}
			if !ok {
				continue
			}
			lot, ok := rec.Lot()
			if !ok || rec.Token == "" {
				continue
			}
			out[key] = model.InstrumentIdentity{Token: rec.Token, TradingSymbol: rec.Symbol, LotSize: lot}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s %s around %d", ErrNoInstruments, r.cfg.Underlying, ExpiryLabel(expiry), base)
	}
	r.logger.Info("instruments resolved",
		"underlying", r.cfg.Underlying,
		"expiry", ExpiryLabel(expiry),
		"atm", base,
		"count", len(out),
	)
	return out, nil
}

func (r *Resolver) candidate(rec Record, expiry time.Time) bool {
	if !rec.IsIndexOption() || !strings.HasPrefix(rec.Symbol, r.cfg.Underlying) {
		return false
	}
	if rec.Name != "" && rec.Name != r.cfg.Underlying {
		return false
	}
	t, ok := rec.ExpiryDate()
	if !ok {
		return false
	}
	y1, m1, d1 := t.Date()
	y2, m2, d2 := expiry.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// Publish writes resolved identities into every namespace and records the
// expiry label. A failing namespace does not stop the others; all failures
// are joined into the returned error.
func (r *Resolver) Publish(ctx context.Context, namespaces []string, expiry time.Time, resolved map[model.InstrumentKey]model.InstrumentIdentity) error {
	if r.writer == nil {
		return errors.New("instrument: resolver has no writer")
	}
	var errs []error
	for _, ns := range namespaces {
		if err := r.writer.PutIdentities(ctx, ns, resolved); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", ns, err))
			continue
		}
		r.logger.Debug("instruments published", "namespace", ns, "count", len(resolved))
	}
	if r.expiry != nil {
		if err := r.expiry.SetExpiry(ctx, ExpiryLabel(expiry)); err != nil {
			errs = append(errs, fmt.Errorf("record expiry: %w", err))
		}
	}
	return errors.Join(errs...)
}
