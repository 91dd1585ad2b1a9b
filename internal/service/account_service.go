package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

// AccountService exposes custody balances and lets operators credit
// collateral that arrived through the external custody bridge.
type AccountService struct {
	store     domain.RecordStore
	audit     domain.AuditStore
	operators map[domain.Identity]bool
	logger    *slog.Logger
}

// NewAccountService creates an AccountService. Only identities listed in
// operators may credit accounts.
func NewAccountService(store domain.RecordStore, audit domain.AuditStore, operators []domain.Identity, logger *slog.Logger) *AccountService {
	ops := make(map[domain.Identity]bool, len(operators))
	for _, o := range operators {
		ops[o] = true
	}
	return &AccountService{
		store:     store,
		audit:     audit,
		operators: ops,
		logger:    logger,
	}
}

// Balance returns the free collateral held for account.
func (s *AccountService) Balance(ctx context.Context, account domain.Identity) (uint64, error) {
	bal, err := s.store.Custody().Balance(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("account_service: balance %s: %w", account, err)
	}
	return bal, nil
}

// EscrowBalance returns the collateral held in a market's escrow.
func (s *AccountService) EscrowBalance(ctx context.Context, id domain.MarketID) (uint64, error) {
	bal, err := s.store.Custody().EscrowBalance(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("account_service: escrow balance %s: %w", id, err)
	}
	return bal, nil
}

// Credit adds amount to account on behalf of an operator.
func (s *AccountService) Credit(ctx context.Context, caller, account domain.Identity, amount uint64) (uint64, error) {
	if amount == 0 || account == "" {
		return 0, domain.ErrInvalidAmount
	}
	if !s.operators[caller] {
		return 0, domain.ErrUnauthorized
	}

	var bal uint64
	err := s.store.Atomic(ctx, func(ctx context.Context, r domain.Records) error {
		if err := r.Custody().Credit(ctx, account, amount); err != nil {
			return err
		}
		var err error
		bal, err = r.Custody().Balance(ctx, account)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("account_service: credit %s: %w", account, err)
	}

	if s.audit != nil {
		if auditErr := s.audit.Log(ctx, "account_credited", map[string]any{
			"operator": string(caller),
			"account":  string(account),
			"amount":   amount,
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "account_service: audit log failed",
				slog.String("account", string(account)),
				slog.String("error", auditErr.Error()),
			)
		}
	}
	s.logger.InfoContext(ctx, "account_service: account credited",
		slog.String("operator", string(caller)),
		slog.String("account", string(account)),
		slog.Uint64("amount", amount),
	)
	return bal, nil
}
