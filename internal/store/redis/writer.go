// Package redis is the shared key-value cache: per-account instrument
// identities, the underlying LTP, the selected expiry, the order audit
// hashes and the cached bar series.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"optbot/internal/model"
)

const (
	dateHash    = "date"
	expiryField = "expiry"
	orderPrefix = "order:"
	barsPrefix  = "bars:"
	auditLayout = "2006-01-02 15:04:05"
	scanBatch   = 500
)

// ErrNotFound is returned when a cached value is absent.
var ErrNotFound = errors.New("redis: not cached")

// Config configures the store connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Store implements the instrument cache ports on top of Redis. Every call
// goes through a circuit breaker so an unreachable server fails fast.
type Store struct {
	client *goredis.Client
	cb     *CircuitBreaker
}

// New connects to Redis and pings it.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client) *Store {
	cb := NewCircuitBreaker(5, 10*time.Second)
	cb.IsFailure = func(err error) bool {
		return !errors.Is(err, goredis.Nil) && !errors.Is(err, ErrNotFound) &&
			!errors.Is(err, context.Canceled)
	}
	cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit %s -> %s", from, to)
	}
	return &Store{client: client, cb: cb}
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// Breaker returns the store's circuit breaker.
func (s *Store) Breaker() *CircuitBreaker { return s.cb }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.cb.Execute(func() error { return s.client.Ping(ctx).Err() })
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func tokenKey(ns string, k model.InstrumentKey) string   { return ns + ":" + k.String() }
func symbolKey(ns string, k model.InstrumentKey) string  { return ns + ":format:" + k.String() }
func lotSizeKey(ns string, k model.InstrumentKey) string { return ns + ":lotsize:" + k.String() }
func ltpKey(ns, underlying string) string                { return ns + ":" + underlying + "_LTP" }

// PutIdentities writes token, trading symbol and lot size for every key into
// namespace ns in a single pipeline. Entries live until cleared or
// overwritten by a later resolution.
func (s *Store) PutIdentities(ctx context.Context, ns string, ids map[model.InstrumentKey]model.InstrumentIdentity) error {
	if len(ids) == 0 {
		return nil
	}
	return s.cb.Execute(func() error {
		pipe := s.client.Pipeline()
		for k, id := range ids {
			pipe.Set(ctx, tokenKey(ns, k), id.Token, 0)
			pipe.Set(ctx, symbolKey(ns, k), id.TradingSymbol, 0)
			pipe.Set(ctx, lotSizeKey(ns, k), id.LotSize, 0)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis put identities %s (%d keys): %w", ns, len(ids), err)
		}
		return nil
	})
}

// ltpTTL bounds how long a price survives once the stream stops writing it.
const ltpTTL = 15 * time.Minute

// SetLTP stores the last traded price of underlying for namespace ns.
func (s *Store) SetLTP(ctx context.Context, ns, underlying string, price float64) error {
	return s.cb.Execute(func() error {
		return s.client.Set(ctx, ltpKey(ns, underlying), strconv.FormatFloat(price, 'f', -1, 64), ltpTTL).Err()
	})
}

// SetExpiry records the currently selected expiry label.
func (s *Store) SetExpiry(ctx context.Context, label string) error {
	return s.cb.Execute(func() error {
		return s.client.HSet(ctx, dateHash, expiryField, label).Err()
	})
}

// RecordOutcome writes the audit hash order:{id} for an accepted order.
// Failed outcomes carry no broker order id and are left to the journal.
func (s *Store) RecordOutcome(ctx context.Context, o model.OrderOutcome) error {
	if !o.Success || o.OrderID == "" {
		return nil
	}
	return s.cb.Execute(func() error {
		return s.client.HSet(ctx, orderPrefix+o.OrderID, map[string]interface{}{
			"order_id":  o.OrderID,
			"symbol":    o.Symbol,
			"token":     o.Token,
			"type":      string(o.Side),
			"quantity":  o.Quantity,
			"status":    "PLACED",
			"timestamp": o.At.Format(auditLayout),
			"expiry":    o.Key.Expiry,
			"username":  o.Account,
		}).Err()
	})
}

// SaveBars caches the bar series of underlying as a JSON array. A zero ttl
// keeps it until overwritten.
func (s *Store) SaveBars(ctx context.Context, underlying string, bars []model.Bar, ttl time.Duration) error {
	data, err := json.Marshal(bars)
	if err != nil {
		return fmt.Errorf("marshal bars: %w", err)
	}
	return s.cb.Execute(func() error {
		return s.client.Set(ctx, barsPrefix+underlying, data, ttl).Err()
	})
}

// ClearNamespace deletes every key under ns and returns how many were removed.
func (s *Store) ClearNamespace(ctx context.Context, ns string) (int, error) {
	removed := 0
	err := s.cb.Execute(func() error {
		var cursor uint64
		for {
			keys, next, err := s.client.Scan(ctx, cursor, ns+":*", scanBatch).Result()
			if err != nil {
				return fmt.Errorf("redis scan %s: %w", ns, err)
			}
			if len(keys) > 0 {
				n, err := s.client.Del(ctx, keys...).Result()
				if err != nil {
					return fmt.Errorf("redis del %s: %w", ns, err)
				}
				removed += int(n)
			}
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	})
	return removed, err
}
