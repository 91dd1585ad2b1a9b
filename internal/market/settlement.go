package market

import (
	"time"

	"github.com/alanyoungcy/predmarket/internal/amm"
	"github.com/alanyoungcy/predmarket/internal/domain"
)

// Reward computes the payout of p against resolved market m:
// floor(tokens * (yes+no) / winning pool). A winning pool of zero pays
// nothing, and a zero payout is an error rather than a silent no-op.
func Reward(m domain.Market, p domain.Position) (uint64, error) {
	if !m.Resolution.IsResolved() {
		return 0, domain.ErrMarketNotResolved
	}
	winner, ok := m.Resolution.Winner()
	if !ok {
		return 0, domain.ErrInvalidOutcome
	}
	if p.Side != winner {
		return 0, domain.ErrPredictionLost
	}

	total := amm.SaturatingAdd(m.YesPool, m.NoPool)
	reward := amm.MulDiv(p.TokensReceived, total, m.Pool(winner))
	if reward == 0 {
		return 0, domain.ErrNoReward
	}
	return reward, nil
}

// Claim marks p claimed and returns it with the reward owed to caller. The
// caller must pay the reward out of escrow in the same unit of work that
// stores the claimed position.
func Claim(m domain.Market, p domain.Position, caller domain.Identity, now time.Time) (domain.Position, uint64, error) {
	if !m.Resolution.IsResolved() {
		return p, 0, domain.ErrMarketNotResolved
	}
	if p.MarketID != m.ID || p.Predictor != caller {
		return p, 0, domain.ErrUnauthorized
	}
	if p.Claimed {
		return p, 0, domain.ErrAlreadyClaimed
	}

	reward, err := Reward(m, p)
	if err != nil {
		return p, 0, err
	}

	p.Claimed = true
	p.Payout = reward
	p.ClaimedAt = now
	return p, reward, nil
}
