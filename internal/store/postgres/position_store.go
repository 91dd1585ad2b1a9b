package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

// PositionStore implements domain.PositionStore.
type PositionStore struct {
	q         querier
	forUpdate bool
}

const positionSelectCols = `market_id, predictor, side, amount_deposited, tokens_received,
	claimed, payout, created_at, claimed_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var (
		p         domain.Position
		side      string
		claimedAt *time.Time
	)
	err := row.Scan(
		(*u64)(&p.MarketID), &p.Predictor, &side,
		(*u64)(&p.AmountDeposited), (*u64)(&p.TokensReceived),
		&p.Claimed, (*u64)(&p.Payout), &p.CreatedAt, &claimedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	if claimedAt != nil {
		p.ClaimedAt = *claimedAt
	}
	return p, nil
}

func claimedAtCol(p domain.Position) *time.Time {
	if p.ClaimedAt.IsZero() {
		return nil
	}
	t := p.ClaimedAt
	return &t
}

// Create inserts a position. A second position for the same predictor in
// the same market fails with domain.ErrPositionExists.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			market_id, predictor, side, amount_deposited, tokens_received,
			claimed, payout, created_at, claimed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.q.Exec(ctx, query,
		u64(p.MarketID), string(p.Predictor), string(p.Side),
		u64(p.AmountDeposited), u64(p.TokensReceived),
		p.Claimed, u64(p.Payout), p.CreatedAt, claimedAtCol(p),
	)
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return fmt.Errorf("postgres: create position %s/%s: %w", p.MarketID, p.Predictor, domain.ErrPositionExists)
		case pgForeignKeyViolation:
			return fmt.Errorf("postgres: create position %s/%s: %w", p.MarketID, p.Predictor, domain.ErrMarketNotFound)
		}
		return fmt.Errorf("postgres: create position %s/%s: %w", p.MarketID, p.Predictor, err)
	}
	return nil
}

// Get retrieves predictor's position in a market.
func (s *PositionStore) Get(ctx context.Context, id domain.MarketID, predictor domain.Identity) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE market_id = $1 AND predictor = $2`
	if s.forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPositionRow(s.q.QueryRow(ctx, query, u64(id), string(predictor)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", id, predictor, domain.ErrPositionNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", id, predictor, err)
	}
	return p, nil
}

// Update writes the claim columns. Side, amount and tokens are immutable.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET claimed = $3, payout = $4, claimed_at = $5
		WHERE market_id = $1 AND predictor = $2`

	tag, err := s.q.Exec(ctx, query,
		u64(p.MarketID), string(p.Predictor), p.Claimed, u64(p.Payout), claimedAtCol(p),
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s/%s: %w", p.MarketID, p.Predictor, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %s/%s: %w", p.MarketID, p.Predictor, domain.ErrPositionNotFound)
	}
	return nil
}

// ListByMarket returns a market's positions in deposit order.
func (s *PositionStore) ListByMarket(ctx context.Context, id domain.MarketID, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE market_id = $1`
	args := []any{u64(id)}
	argIdx := 2

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
	query += " ORDER BY created_at ASC, predictor ASC"
	query, args = withPaging(query, args, argIdx, opts)

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions %s: %w", id, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions %s rows: %w", id, err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
