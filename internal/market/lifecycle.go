// Package market holds the market state machine and settlement math. Every
// function is a pure transition: it takes the current records and the time
// of the request, and returns either the new records or a typed error with
// nothing changed. Persistence, custody and serialisation belong to the
// caller.
package market

import (
	"time"
	"unicode/utf8"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

// CreateParams are the caller-supplied fields of a new market.
type CreateParams struct {
	ID               domain.MarketID
	Question         string
	ResolutionTime   time.Time
	InitialLiquidity uint64
}

// ValidateQuestion rejects empty questions and ones longer than
// MaxQuestionLength characters.
func ValidateQuestion(q string) error {
	if n := utf8.RuneCountInString(q); n == 0 || n > domain.MaxQuestionLength {
		return domain.ErrInvalidQuestion
	}
	return nil
}

// Initialize builds an open market owned by creator. The seed liquidity is
// split between the pools with any odd unit on YES, so the pools always add
// up to exactly InitialLiquidity.
func Initialize(creator domain.Identity, p CreateParams, now time.Time) (domain.Market, error) {
	if err := ValidateQuestion(p.Question); err != nil {
		return domain.Market{}, err
	}
	if !p.ResolutionTime.After(now) {
		return domain.Market{}, domain.ErrInvalidResolutionTime
	}
	if creator == "" {
		return domain.Market{}, domain.ErrUnauthorized
	}

	no := p.InitialLiquidity / 2
	return domain.Market{
		ID:             p.ID,
		Question:       p.Question,
		Creator:        creator,
		CreatedAt:      now,
		ResolutionTime: p.ResolutionTime,
		YesPool:        p.InitialLiquidity - no,
		NoPool:         no,
		TotalLiquidity: p.InitialLiquidity,
		Resolution:     domain.Unresolved(),
	}, nil
}

// CheckOpen returns nil if m still accepts deposits at now. A market past its
// resolution time rejects deposits even before anyone resolves it.
func CheckOpen(m domain.Market, now time.Time) error {
	if m.Resolution.IsResolved() {
		return domain.ErrMarketAlreadyResolved
	}
	if !now.Before(m.ResolutionTime) {
		return domain.ErrMarketExpired
	}
	return nil
}

// Resolve fixes the outcome of m. Only the creator may resolve, only once,
// and only from the resolution time onwards. Pools are left untouched and
// become the payout reservoir.
func Resolve(m domain.Market, caller domain.Identity, outcome domain.Side, now time.Time) (domain.Market, error) {
	if !outcome.Valid() {
		return m, domain.ErrInvalidOutcome
	}
	if caller != m.Creator {
		return m, domain.ErrUnauthorized
	}
	if m.Resolution.IsResolved() {
		return m, domain.ErrMarketAlreadyResolved
	}
	if now.Before(m.ResolutionTime) {
		return m, domain.ErrMarketNotExpired
	}

	m.Resolution = domain.ResolvedTo(outcome)
	m.ResolvedAt = now
	return m, nil
}
