package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists market records keyed by MarketID. Inside a unit of
// work Get locks the row until the unit ends.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	Get(ctx context.Context, id MarketID) (Market, error)
	Update(ctx context.Context, m Market) error
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	ListResolvedBefore(ctx context.Context, before time.Time, limit int) ([]Market, error)
}

// PositionStore persists positions keyed by (MarketID, Predictor).
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	Get(ctx context.Context, id MarketID, predictor Identity) (Position, error)
	Update(ctx context.Context, p Position) error
	ListByMarket(ctx context.Context, id MarketID, opts ListOpts) ([]Position, error)
}

// Custody moves collateral between participant accounts and per-market
// escrows. Debits fail with ErrInsufficientFunds rather than going negative.
type Custody interface {
	Credit(ctx context.Context, account Identity, amount uint64) error
	Balance(ctx context.Context, account Identity) (uint64, error)
	Escrow(ctx context.Context, from Identity, id MarketID, amount uint64) error
	Release(ctx context.Context, id MarketID, to Identity, amount uint64) error
	EscrowBalance(ctx context.Context, id MarketID) (uint64, error)
}

// Records is the set of stores visible to one unit of work.
type Records interface {
	Markets() MarketStore
	Positions() PositionStore
	Custody() Custody
}

// RecordStore runs units of work atomically: every write made through the
// Records handed to fn is committed together if fn returns nil and discarded
// otherwise. Mutations of a single market or position are serialised. The
// embedded Records serve reads outside a unit of work.
type RecordStore interface {
	Records
	Atomic(ctx context.Context, fn func(ctx context.Context, r Records) error) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Clock supplies the current time to market operations.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
