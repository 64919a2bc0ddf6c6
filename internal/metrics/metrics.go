// Package metrics exposes Prometheus metrics and a /healthz endpoint for the
// trading bot.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"optbot/internal/model"
)

// Metrics holds all Prometheus metrics for the bot.
type Metrics struct {
	// Signal pipeline
	EvaluationsTotal prometheus.Counter
	EvalErrorsTotal  prometheus.Counter
	SignalsTotal     *prometheus.CounterVec // labels: right
	LastSADX         prometheus.Gauge

	// Instrument resolution
	ResolvedInstruments prometheus.Gauge
	ResolveErrorsTotal  prometheus.Counter

	// Order dispatch
	OrdersTotal      *prometheus.CounterVec // labels: result=placed|failed, kind
	OrderAttempts    prometheus.Histogram
	ReAuthsTotal     prometheus.Counter
	DispatchDuration prometheus.Histogram

	// Feeds and stores
	LTPReconnects            prometheus.Counter
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Market session
	MarketState prometheus.Gauge // 0=closed, 1=open
}

// NewMetrics creates the metrics and registers them with reg, or with the
// default registry when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		EvaluationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optbot_evaluations_total",
			Help: "Signal evaluations run",
		}),
		EvalErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optbot_evaluation_errors_total",
			Help: "Signal evaluations that failed before a decision",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optbot_signals_total",
			Help: "Signals raised (by option right)",
		}, []string{"right"}),
		LastSADX: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optbot_last_sadx",
			Help: "Smoothed ADX of the latest evaluated bar",
		}),

		ResolvedInstruments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optbot_resolved_instruments",
			Help: "Instruments in the last resolution",
		}),
		ResolveErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optbot_resolve_errors_total",
			Help: "Instrument resolutions that failed",
		}),

		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "optbot_orders_total",
			Help: "Terminal order outcomes (by result and error kind)",
		}, []string{"result", "kind"}),
		OrderAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "optbot_order_attempts",
			Help:    "placeOrder attempts per terminal outcome",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
		ReAuthsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optbot_reauths_total",
			Help: "Re-logins triggered by session-expired answers",
		}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "optbot_dispatch_duration_seconds",
			Help:    "Wall time of one fan-out across all accounts",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		LTPReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optbot_ltp_reconnects_total",
			Help: "SmartStream reconnection attempts",
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optbot_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "optbot_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "optbot_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	reg.MustRegister(
		m.EvaluationsTotal,
		m.EvalErrorsTotal,
		m.SignalsTotal,
		m.LastSADX,
		m.ResolvedInstruments,
		m.ResolveErrorsTotal,
		m.OrdersTotal,
		m.OrderAttempts,
		m.ReAuthsTotal,
		m.DispatchDuration,
		m.LTPReconnects,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.MarketState,
	)

	return m
}

// RecordOutcome counts one terminal order outcome. It never fails, so it can
// sit alongside the persistent outcome recorders.
func (m *Metrics) RecordOutcome(_ context.Context, o model.OrderOutcome) error {
	result, kind := "placed", "none"
	if !o.Success {
		result, kind = "failed", o.ErrorKind
	}
	m.OrdersTotal.WithLabelValues(result, kind).Inc()
	if o.Attempts > 0 {
		m.OrderAttempts.Observe(float64(o.Attempts))
	}
	m.ReAuthsTotal.Add(float64(o.ReAuths))
	return nil
}

// ObserveDispatch records how long a fan-out took.
func (m *Metrics) ObserveDispatch(d time.Duration) {
	m.DispatchDuration.Observe(d.Seconds())
}

// SetMarketOpen sets the market state gauge.
func (m *Metrics) SetMarketOpen(open bool) {
	if open {
		m.MarketState.Set(1)
		return
	}
	m.MarketState.Set(0)
}
