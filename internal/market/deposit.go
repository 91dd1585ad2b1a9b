package market

import (
	"time"

	"github.com/alanyoungcy/predmarket/internal/amm"
	"github.com/alanyoungcy/predmarket/internal/domain"
)

// Deposit is the outcome of an accepted prediction.
type Deposit struct {
	Market   domain.Market
	Position domain.Position
	// Fee is the part of the amount credited to the fee treasury; Net is the
	// part priced on the curve and added to the pool.
	Fee uint64
	Net uint64
}

// PlacePrediction prices amount on side's curve and returns the market with
// that pool grown by the net amount, plus the new position. The opposing
// pool is never touched. The caller must escrow the full amount in the same
// unit of work that stores the result.
func PlacePrediction(m domain.Market, predictor domain.Identity, side domain.Side, amount uint64, fees FeePolicy, now time.Time) (Deposit, error) {
	if amount == 0 || !side.Valid() {
		return Deposit{}, domain.ErrInvalidAmount
	}
	if predictor == "" {
		return Deposit{}, domain.ErrUnauthorized
	}
	if err := CheckOpen(m, now); err != nil {
		return Deposit{}, err
	}

	fee, net, err := splitFee(fees, amount)
	if err != nil {
		return Deposit{}, err
	}
	tokens, err := amm.TokensOut(m.Pool(side), net)
	if err != nil {
		return Deposit{}, err
	}

	if side == domain.SideYes {
		m.YesPool = amm.SaturatingAdd(m.YesPool, net)
	} else {
		m.NoPool = amm.SaturatingAdd(m.NoPool, net)
	}
	m.FeeCollected = amm.SaturatingAdd(m.FeeCollected, fee)

	return Deposit{
		Market: m,
		Position: domain.Position{
			MarketID:        m.ID,
			Predictor:       predictor,
			Side:            side,
			AmountDeposited: amount,
			TokensReceived:  tokens,
			CreatedAt:       now,
		},
		Fee: fee,
		Net: net,
	}, nil
}

// Quote prices a prospective deposit against m without changing it.
func Quote(m domain.Market, side domain.Side, amount uint64, fees FeePolicy, now time.Time) (amm.Quote, error) {
	if amount == 0 || !side.Valid() {
		return amm.Quote{}, domain.ErrInvalidAmount
	}
	if err := CheckOpen(m, now); err != nil {
		return amm.Quote{}, err
	}
	fee, net, err := splitFee(fees, amount)
	if err != nil {
		return amm.Quote{}, err
	}
	return amm.QuoteDeposit(side, m.Pool(side), net, fee)
}

// splitFee asks the policy for its cut. A fee that leaves nothing to price
// would mint zero tokens.
func splitFee(fees FeePolicy, amount uint64) (fee, net uint64, err error) {
	if fees == nil {
		fees = NoFee{}
	}
	fee = fees.Fee(amount)
	if fee >= amount {
		return 0, 0, domain.ErrInsufficientOutput
	}
	return fee, amount - fee, nil
}
