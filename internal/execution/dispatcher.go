// Package execution places orders through the broker for one account at a
// time (Dispatcher) and fans a signal out across every configured account
// (Orchestrator).
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"optbot/internal/broker"
	"optbot/internal/logger"
	"optbot/internal/model"
	"optbot/pkg/smartconnect"
)

// OrderPlacer submits one placeOrder request and returns the raw answer.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, auth smartconnect.Auth, p smartconnect.OrderParams) ([]byte, int, error)
}

// Reauthenticator replaces a session the broker rejected.
type Reauthenticator interface {
	Renew(ctx context.Context, acct model.Account, stale broker.Session) (broker.Session, error)
}

// PriceSource quotes the option price bracket orders are priced off.
type PriceSource interface {
	LTPData(ctx context.Context, auth smartconnect.Auth, exchange, tradingSymbol, token string) (float64, error)
}

// DispatcherConfig configures the retry policy and order style.
type DispatcherConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Order       broker.OrderSpec
}

// DefaultDispatcherConfig is three attempts, one second apart, market orders.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxAttempts: 3,
		RetryDelay:  time.Second,
		Order:       broker.OrderSpec{Style: broker.StyleMarket, Bracket: broker.DefaultBracket()},
	}
}

// Dispatcher submits one order for one account, retrying per the attempt
// cap. A session-expired answer triggers a fresh login and an immediate
// retry; any other rejection or an unreadable answer waits RetryDelay.
// Both consume an attempt.
type Dispatcher struct {
	cfg    DispatcherConfig
	placer OrderPlacer
	reauth Reauthenticator
	prices PriceSource
	logger *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewDispatcher creates a Dispatcher. prices may be nil for market orders.
func NewDispatcher(cfg DispatcherConfig, placer OrderPlacer, reauth Reauthenticator, prices PriceSource, logger *slog.Logger) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:    cfg,
		placer: placer,
		reauth: reauth,
		prices: prices,
		logger: logger,
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Submit places side on the instrument for acct with quantity
// lot size × mult and returns the terminal outcome. It never panics on a
// broker answer and never returns without an outcome.
func (d *Dispatcher) Submit(ctx context.Context, acct model.Account, sess broker.Session, key model.InstrumentKey, id model.InstrumentIdentity, side model.Side, mult int) model.OrderOutcome {
	qty := id.LotSize * mult
	out := model.OrderOutcome{
		Account:  acct.Username,
		Key:      key,
		Symbol:   id.TradingSymbol,
		Token:    id.Token,
		Side:     side,
		Quantity: qty,
		TraceID:  logger.TraceID(ctx),
	}
	log := d.logger.With(append([]any{"account", acct.Username, "symbol", id.TradingSymbol, "side", side}, logger.LogWithTrace(ctx)...)...)

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		out.Attempts = attempt

		var res broker.Result
		params, err := d.build(ctx, sess, id, side, qty)
		if err == nil {
			var raw []byte
			var status int
			raw, status, err = d.placer.PlaceOrder(ctx, sess.Auth(), params)
			if err != nil {
				err = broker.NewOrderError(broker.KindNetwork, "", "place order", err)
			} else {
				res = broker.ParseOrderResponse(status, raw)
				if res.Kind == broker.Accepted {
					out.Success = true
					out.OrderID = res.OrderID
					out.At = d.now()
					log.Info("order placed", "order_id", res.OrderID, "qty", qty, "attempt", attempt)
					return out
				}
				err = res.Err()
			}
		}
		lastErr = err
		kind := broker.Classify(err)
		log.Warn("order attempt failed", "attempt", attempt, "kind", kind, "error", err)

		if !broker.Retryable(kind) || attempt == d.cfg.MaxAttempts {
			break
		}
		if res.SessionExpired() {
			out.ReAuths++
			fresh, rerr := d.reauth.Renew(ctx, acct, sess)
			if rerr != nil {
				lastErr = broker.NewOrderError(broker.KindAuth, "", "re-authenticate", rerr)
				break
			}
			sess = fresh
			continue
		}
		if serr := d.sleep(ctx, d.cfg.RetryDelay); serr != nil {
			lastErr = broker.NewOrderError(broker.KindNetwork, "", "retry wait", serr)
			break
		}
	}

	return fail(out, lastErr, d.now())
}

func (d *Dispatcher) build(ctx context.Context, sess broker.Session, id model.InstrumentIdentity, side model.Side, qty int) (smartconnect.OrderParams, error) {
	ref := decimal.Zero
	if d.cfg.Order.NeedsReference() {
		if d.prices == nil {
			return smartconnect.OrderParams{}, broker.NewOrderError(broker.KindData, "", "no price source for bracket orders", nil)
		}
		p, err := d.prices.LTPData(ctx, sess.Auth(), "NFO", id.TradingSymbol, id.Token)
		if err != nil {
			return smartconnect.OrderParams{}, broker.NewOrderError(broker.KindNetwork, "", "quote "+id.TradingSymbol, err)
		}
		ref = decimal.NewFromFloat(p)
	}
	return broker.BuildOrder(id, side, qty, d.cfg.Order, ref)
}

func fail(out model.OrderOutcome, err error, at time.Time) model.OrderOutcome {
	if err == nil {
		err = fmt.Errorf("no attempts made")
	}
	out.Success = false
	out.ErrorKind = string(broker.Classify(err))
	out.Error = err.Error()
	out.At = at
	return out
}
