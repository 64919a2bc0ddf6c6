package execution

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"optbot/internal/model"
)

// Journal persists every terminal order outcome to SQLite for audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS order_outcomes (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id    TEXT,
		account     TEXT NOT NULL,
		instrument  TEXT NOT NULL,
		symbol      TEXT,
		token       TEXT,
		side        TEXT NOT NULL,
		quantity    INTEGER NOT NULL,
		success     INTEGER NOT NULL,
		order_id    TEXT,
		error_kind  TEXT,
		error       TEXT,
		attempts    INTEGER NOT NULL,
		reauths     INTEGER NOT NULL,
		at          DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_account ON order_outcomes(account);
	CREATE INDEX IF NOT EXISTS idx_outcomes_trace ON order_outcomes(trace_id);
	CREATE INDEX IF NOT EXISTS idx_outcomes_at ON order_outcomes(at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened order journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// RecordOutcome persists one outcome, successful or not.
func (j *Journal) RecordOutcome(ctx context.Context, o model.OrderOutcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO order_outcomes (trace_id, account, instrument, symbol, token, side, quantity,
		 success, order_id, error_kind, error, attempts, reauths, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.TraceID,
		o.Account,
		o.Key.String(),
		o.Symbol,
		o.Token,
		string(o.Side),
		o.Quantity,
		o.Success,
		o.OrderID,
		o.ErrorKind,
		o.Error,
		o.Attempts,
		o.ReAuths,
		o.At.UTC().Format(time.RFC3339),
	)
	return err
}

// OutcomeRecord represents a row from the order_outcomes table.
type OutcomeRecord struct {
	ID         int64  `json:"id"`
	TraceID    string `json:"trace_id"`
	Account    string `json:"account"`
	Instrument string `json:"instrument"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Quantity   int    `json:"quantity"`
	Success    bool   `json:"success"`
	OrderID    string `json:"order_id"`
	ErrorKind  string `json:"error_kind"`
	Error      string `json:"error"`
	Attempts   int    `json:"attempts"`
	ReAuths    int    `json:"reauths"`
	At         string `json:"at"`
}

// Recent returns the last N outcomes, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, COALESCE(trace_id, ''), account, instrument, COALESCE(symbol, ''), side, quantity,
		 success, COALESCE(order_id, ''), COALESCE(error_kind, ''), COALESCE(error, ''), attempts, reauths, at
		 FROM order_outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var r OutcomeRecord
		if err := rows.Scan(&r.ID, &r.TraceID, &r.Account, &r.Instrument, &r.Symbol, &r.Side, &r.Quantity,
			&r.Success, &r.OrderID, &r.ErrorKind, &r.Error, &r.Attempts, &r.ReAuths, &r.At); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// DB exposes the underlying handle for health checks.
func (j *Journal) DB() *sql.DB {
	return j.db
}
