package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the pipeline from the concrete Redis and SQLite stores.

// InstrumentReader looks up cached instrument identities for an account namespace.
type InstrumentReader interface {
	// Identity returns the cached identity for key. A missing token, symbol,
	// or lot size is reported as an error.
	Identity(ctx context.Context, namespace string, key InstrumentKey) (InstrumentIdentity, error)
}

// InstrumentWriter persists resolved identities for an account namespace.
type InstrumentWriter interface {
	PutIdentities(ctx context.Context, namespace string, ids map[InstrumentKey]InstrumentIdentity) error
}

// OutcomeRecorder persists the audit record of a terminal order outcome.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, o OrderOutcome) error
}
