package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.RecordStore. A unit of work is one transaction in
// which market and position rows are read with SELECT ... FOR UPDATE, so
// concurrent mutations of the same record queue behind each other.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Atomic runs fn in a transaction that commits only if fn returns nil.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, r domain.Records) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, txRecords{tx: tx})
	})
}

// Markets, Positions and Custody serve reads outside a unit of work. Custody
// debits made through them are not atomic with anything else; use Atomic.
func (s *Store) Markets() domain.MarketStore     { return &MarketStore{q: s.pool} }
func (s *Store) Positions() domain.PositionStore { return &PositionStore{q: s.pool} }
func (s *Store) Custody() domain.Custody         { return &CustodyLedger{q: s.pool} }

type txRecords struct{ tx pgx.Tx }

func (r txRecords) Markets() domain.MarketStore     { return &MarketStore{q: r.tx, forUpdate: true} }
func (r txRecords) Positions() domain.PositionStore { return &PositionStore{q: r.tx, forUpdate: true} }
func (r txRecords) Custody() domain.Custody         { return &CustodyLedger{q: r.tx} }

// Postgres error codes the stores translate.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

var (
	big10     = big.NewInt(10)
	maxUint64 = new(big.Int).SetUint64(^uint64(0))
)

// u64 adapts unsigned amounts to NUMERIC(20,0) columns in both directions.
// Pass u64(v) as a query argument and (*u64)(&v) as a scan target.
type u64 uint64

func (u u64) NumericValue() (pgtype.Numeric, error) {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(uint64(u)), Valid: true}, nil
}

func (u *u64) ScanNumeric(n pgtype.Numeric) error {
	v, err := fromNumeric(n)
	if err != nil {
		return err
	}
	*u = u64(v)
	return nil
}

// fromNumeric decodes a NUMERIC value into a uint64. NULL decodes as zero.
func fromNumeric(n pgtype.Numeric) (uint64, error) {
	if !n.Valid {
		return 0, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
		return 0, fmt.Errorf("postgres: numeric is not a finite integer")
	}
	v := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		v.Mul(v, new(big.Int).Exp(big10, big.NewInt(int64(n.Exp)), nil))
	case n.Exp < 0:
		v.Quo(v, new(big.Int).Exp(big10, big.NewInt(int64(-n.Exp)), nil))
	}
	if v.Sign() < 0 || v.Cmp(maxUint64) > 0 {
		return 0, fmt.Errorf("postgres: numeric %s out of uint64 range", v)
	}
	return v.Uint64(), nil
}

// Compile-time interface check.
var _ domain.RecordStore = (*Store)(nil)
