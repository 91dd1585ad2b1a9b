package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

// MarketStore implements domain.MarketStore. Inside a unit of work Get takes
// a row lock that is held until commit.
type MarketStore struct {
	q         querier
	forUpdate bool
}

const marketSelectCols = `market_id, question, creator, created_at, resolution_time,
	yes_pool, no_pool, total_liquidity, resolved, outcome, resolved_at, fee_collected`

func scanMarketRow(row pgx.Row) (domain.Market, error) {
	var (
		m          domain.Market
		resolved   bool
		outcome    *string
		resolvedAt *time.Time
	)
	err := row.Scan(
		(*u64)(&m.ID), &m.Question, &m.Creator, &m.CreatedAt, &m.ResolutionTime,
		(*u64)(&m.YesPool), (*u64)(&m.NoPool), (*u64)(&m.TotalLiquidity),
		&resolved, &outcome, &resolvedAt, (*u64)(&m.FeeCollected),
	)
	if err != nil {
		return domain.Market{}, err
	}
	if resolved && outcome != nil {
		m.Resolution = domain.ResolvedTo(domain.Side(*outcome))
	}
	if resolvedAt != nil {
		m.ResolvedAt = *resolvedAt
	}
	return m, nil
}

func scanMarketRows(rows pgx.Rows) ([]domain.Market, error) {
	defer rows.Close()
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarketRow(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// outcomeCols flattens a resolution into the resolved/outcome/resolved_at
// columns.
func outcomeCols(m domain.Market) (bool, *string, *time.Time) {
	winner, ok := m.Resolution.Winner()
	if !ok {
		return false, nil, nil
	}
	s := string(winner)
	at := m.ResolvedAt
	return true, &s, &at
}

// Create inserts a new market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			market_id, question, creator, created_at, resolution_time,
			yes_pool, no_pool, total_liquidity, resolved, outcome, resolved_at, fee_collected
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	resolved, outcome, resolvedAt := outcomeCols(m)
	_, err := s.q.Exec(ctx, query,
		u64(m.ID), m.Question, string(m.Creator), m.CreatedAt, m.ResolutionTime,
		u64(m.YesPool), u64(m.NoPool), u64(m.TotalLiquidity),
		resolved, outcome, resolvedAt, u64(m.FeeCollected),
	)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return fmt.Errorf("postgres: create market %s: %w", m.ID, domain.ErrMarketExists)
		}
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// Get retrieves a market by ID. Returns domain.ErrMarketNotFound if absent.
func (s *MarketStore) Get(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets WHERE market_id = $1`
	if s.forUpdate {
		query += ` FOR UPDATE`
	}
	m, err := scanMarketRow(s.q.QueryRow(ctx, query, u64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, domain.ErrMarketNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// Update writes the mutable columns of a market. Question, creator and
// timestamps fixed at creation are never rewritten.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets SET
			yes_pool = $2, no_pool = $3, resolved = $4, outcome = $5,
			resolved_at = $6, fee_collected = $7, updated_at = NOW()
		WHERE market_id = $1`

	resolved, outcome, resolvedAt := outcomeCols(m)
	tag, err := s.q.Exec(ctx, query,
		u64(m.ID), u64(m.YesPool), u64(m.NoPool),
		resolved, outcome, resolvedAt, u64(m.FeeCollected),
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, domain.ErrMarketNotFound)
	}
	return nil
}

// List returns markets newest first with pagination and optional time
// filtering on created_at.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY created_at DESC, market_id DESC"
	query, args = withPaging(query, args, argIdx, opts)

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	markets, err := scanMarketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan markets: %w", err)
	}
	return markets, nil
}

// ListResolvedBefore returns up to limit markets resolved before the cutoff,
// oldest resolution first.
func (s *MarketStore) ListResolvedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets
		WHERE resolved AND resolved_at < $1
		ORDER BY resolved_at ASC, market_id ASC`
	args := []any{before}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved markets: %w", err)
	}
	markets, err := scanMarketRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan resolved markets: %w", err)
	}
	return markets, nil
}

func withPaging(query string, args []any, argIdx int, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
