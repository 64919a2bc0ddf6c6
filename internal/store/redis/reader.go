package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/go-redis/redis/v8"

	"optbot/internal/model"
)

// Identity returns the cached identity for key in namespace ns. A missing
// token, symbol or lot size yields ErrNotFound.
func (s *Store) Identity(ctx context.Context, ns string, key model.InstrumentKey) (model.InstrumentIdentity, error) {
	var id model.InstrumentIdentity
	err := s.cb.Execute(func() error {
		pipe := s.client.Pipeline()
		tok := pipe.Get(ctx, tokenKey(ns, key))
		sym := pipe.Get(ctx, symbolKey(ns, key))
		lot := pipe.Get(ctx, lotSizeKey(ns, key))
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("redis identity %s: %w", key, err)
		}

		fields := []struct {
			name string
			cmd  *goredis.StringCmd
		}{{"token", tok}, {"symbol", sym}, {"lot size", lot}}
		for _, f := range fields {
			if errors.Is(f.cmd.Err(), goredis.Nil) || f.cmd.Val() == "" {
				return fmt.Errorf("%w: %s for %s:%s", ErrNotFound, f.name, ns, key)
			}
		}
		n, err := strconv.Atoi(lot.Val())
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: lot size %q for %s:%s", ErrNotFound, lot.Val(), ns, key)
		}
		id = model.InstrumentIdentity{Token: tok.Val(), TradingSymbol: sym.Val(), LotSize: n}
		return nil
	})
	return id, err
}

// LTP returns the last traded price of underlying stored for namespace ns.
func (s *Store) LTP(ctx context.Context, ns, underlying string) (float64, error) {
	var v string
	err := s.cb.Execute(func() (err error) {
		v, err = s.client.Get(ctx, ltpKey(ns, underlying)).Result()
		return err
	})
	if errors.Is(err, goredis.Nil) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, ltpKey(ns, underlying))
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(v, 64)
}

// Expiry returns the currently selected expiry label.
func (s *Store) Expiry(ctx context.Context) (string, error) {
	var v string
	err := s.cb.Execute(func() (err error) {
		v, err = s.client.HGet(ctx, dateHash, expiryField).Result()
		return err
	})
	if errors.Is(err, goredis.Nil) {
		return "", fmt.Errorf("%w: expiry", ErrNotFound)
	}
	return v, err
}

// Order returns the audit hash of an accepted order.
func (s *Store) Order(ctx context.Context, orderID string) (map[string]string, error) {
	var m map[string]string
	err := s.cb.Execute(func() (err error) {
		m, err = s.client.HGetAll(ctx, orderPrefix+orderID).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return m, nil
}

// LoadBars returns the cached bar series of underlying.
func (s *Store) LoadBars(ctx context.Context, underlying string) ([]model.Bar, error) {
	var data []byte
	err := s.cb.Execute(func() (err error) {
		data, err = s.client.Get(ctx, barsPrefix+underlying).Bytes()
		return err
	})
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: bars %s", ErrNotFound, underlying)
	}
	if err != nil {
		return nil, err
	}
	var bars []model.Bar
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, fmt.Errorf("unmarshal bars: %w", err)
	}
	return bars, nil
}
