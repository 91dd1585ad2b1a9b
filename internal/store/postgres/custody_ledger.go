package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

// CustodyLedger implements domain.Custody with an accounts table for free
// collateral and an escrows table holding each market's vault. Debits are
// conditional updates, so a balance can never go negative.
type CustodyLedger struct {
	q querier
}

// Credit adds amount to account, creating the row on first use.
func (l *CustodyLedger) Credit(ctx context.Context, account domain.Identity, amount uint64) error {
	const query = `
		INSERT INTO accounts (identity, balance) VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE
			SET balance = accounts.balance + EXCLUDED.balance, updated_at = NOW()`

	if _, err := l.q.Exec(ctx, query, string(account), u64(amount)); err != nil {
		if pgCode(err) == pgCheckViolation {
			return fmt.Errorf("postgres: credit %s: %w", account, domain.ErrInvalidAmount)
		}
		return fmt.Errorf("postgres: credit %s: %w", account, err)
	}
	return nil
}

// Balance returns the free collateral of account, zero if it has none.
func (l *CustodyLedger) Balance(ctx context.Context, account domain.Identity) (uint64, error) {
	var bal uint64
	err := l.q.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE identity = $1`, string(account),
	).Scan((*u64)(&bal))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("postgres: balance %s: %w", account, err)
	}
	return bal, nil
}

// Escrow moves amount from an account into a market's vault.
func (l *CustodyLedger) Escrow(ctx context.Context, from domain.Identity, id domain.MarketID, amount uint64) error {
	if err := l.debitAccount(ctx, from, amount); err != nil {
		return fmt.Errorf("postgres: escrow %d from %s into %s: %w", amount, from, id, err)
	}

	const query = `
		INSERT INTO escrows (market_id, balance) VALUES ($1, $2)
		ON CONFLICT (market_id) DO UPDATE
			SET balance = escrows.balance + EXCLUDED.balance, updated_at = NOW()`
	if _, err := l.q.Exec(ctx, query, u64(id), u64(amount)); err != nil {
		switch pgCode(err) {
		case pgCheckViolation:
			err = domain.ErrInvalidAmount
		case pgForeignKeyViolation:
			err = domain.ErrMarketNotFound
		}
		return fmt.Errorf("postgres: escrow %d into %s: %w", amount, id, err)
	}
	return nil
}

// Release pays amount out of a market's vault to an account.
func (l *CustodyLedger) Release(ctx context.Context, id domain.MarketID, to domain.Identity, amount uint64) error {
	const query = `
		UPDATE escrows SET balance = balance - $2, updated_at = NOW()
		WHERE market_id = $1 AND balance >= $2`

	tag, err := l.q.Exec(ctx, query, u64(id), u64(amount))
	if err != nil {
		return fmt.Errorf("postgres: release %d from %s: %w", amount, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: release %d from %s: %w", amount, id, domain.ErrInsufficientFunds)
	}
	return l.Credit(ctx, to, amount)
}

// EscrowBalance returns the collateral held for a market.
func (l *CustodyLedger) EscrowBalance(ctx context.Context, id domain.MarketID) (uint64, error) {
	var bal uint64
	err := l.q.QueryRow(ctx,
		`SELECT balance FROM escrows WHERE market_id = $1`, u64(id),
	).Scan((*u64)(&bal))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("postgres: escrow balance %s: %w", id, err)
	}
	return bal, nil
}

func (l *CustodyLedger) debitAccount(ctx context.Context, account domain.Identity, amount uint64) error {
	const query = `
		UPDATE accounts SET balance = balance - $2, updated_at = NOW()
		WHERE identity = $1 AND balance >= $2`

	tag, err := l.q.Exec(ctx, query, string(account), u64(amount))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientFunds
	}
	return nil
}

// Compile-time interface check.
var _ domain.Custody = (*CustodyLedger)(nil)
