package market

import (
	"github.com/alanyoungcy/predmarket/internal/amm"
	"github.com/alanyoungcy/predmarket/internal/domain"
)

// FeePolicy decides how much of a deposit is skimmed into the market's fee
// treasury. It is consulted once per deposit.
type FeePolicy interface {
	Fee(amount uint64) uint64
}

// NoFee charges nothing.
type NoFee struct{}

func (NoFee) Fee(uint64) uint64 { return 0 }

// BasisPointsFee charges floor(amount * bps / 10000).
type BasisPointsFee uint32

func (b BasisPointsFee) Fee(amount uint64) uint64 {
	return amm.MulDiv(amount, uint64(b), 10_000)
}

// PolicyFromBps returns NoFee for zero and a BasisPointsFee otherwise.
func PolicyFromBps(bps uint32) FeePolicy {
	if bps == 0 {
		return NoFee{}
	}
	return BasisPointsFee(bps)
}

// WithdrawFees debits amount from the fee treasury of m. Only the creator may
// withdraw, in any lifecycle state. A zero amount leaves m unchanged.
func WithdrawFees(m domain.Market, caller domain.Identity, amount uint64) (domain.Market, error) {
	if caller != m.Creator {
		return m, domain.ErrUnauthorized
	}
	if amount > m.FeeCollected {
		return m, domain.ErrInsufficientFees
	}
	m.FeeCollected -= amount
	return m, nil
}
