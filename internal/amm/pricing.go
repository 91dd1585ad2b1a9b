// Package amm implements the constant-product curve that prices deposits
// into a market's YES and NO pools.
package amm

import (
	"math"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

// bpsScale is one whole unit expressed in basis points.
const bpsScale = 10_000

// SaturatingAdd returns a+b clamped to math.MaxUint64.
func SaturatingAdd(a, b uint64) uint64 {
	if s := a + b; s >= a {
		return s
	}
	return math.MaxUint64
}

// SaturatingSub returns a-b clamped to zero.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// MulDiv returns floor(a*b/d) computed in 256 bits and clamped to
// math.MaxUint64. A zero divisor yields zero.
func MulDiv(a, b, d uint64) uint64 {
	if d == 0 {
		return 0
	}
	var z uint256.Int
	z.Mul(uint256.NewInt(a), uint256.NewInt(b))
	z.Div(&z, uint256.NewInt(d))
	return clamp(&z)
}

func clamp(z *uint256.Int) uint64 {
	if !z.IsUint64() {
		return math.MaxUint64
	}
	return z.Uint64()
}

// TokensOut prices a deposit of amount into a side whose pool holds pool:
// floor(amount*pool/(pool+amount)). The denominator is formed in 256 bits so
// pool+amount never wraps.
//
// It returns ErrInvalidAmount for a zero deposit and ErrInsufficientOutput
// when the deposit is too small relative to the pool (or the pool is empty)
// to earn a single token.
func TokensOut(pool, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, domain.ErrInvalidAmount
	}
	var num, den uint256.Int
	num.Mul(uint256.NewInt(amount), uint256.NewInt(pool))
	den.Add(uint256.NewInt(pool), uint256.NewInt(amount))
	num.Div(&num, &den)

	out := clamp(&num)
	if out == 0 {
		return 0, domain.ErrInsufficientOutput
	}
	return out, nil
}

// Quote describes the effect of a prospective deposit without applying it.
type Quote struct {
	Side      domain.Side `json:"side"`
	Amount    uint64      `json:"amount"`
	Fee       uint64      `json:"fee"`
	TokensOut uint64      `json:"tokens_out"`
	PoolAfter uint64      `json:"pool_after"`
	// AvgPriceBps is collateral paid per token received, in basis points.
	AvgPriceBps uint64 `json:"avg_price_bps"`
	// Share is the fraction of the winning pool the tokens would claim
	// against, in basis points, if the market resolved now.
	ShareBps uint64 `json:"share_bps"`
}

// QuoteDeposit prices net (the amount after fees) against pool.
func QuoteDeposit(side domain.Side, pool, net, fee uint64) (Quote, error) {
	out, err := TokensOut(pool, net)
	if err != nil {
		return Quote{}, err
	}
	after := SaturatingAdd(pool, net)
	return Quote{
		Side:        side,
		Amount:      SaturatingAdd(net, fee),
		Fee:         fee,
		TokensOut:   out,
		PoolAfter:   after,
		AvgPriceBps: MulDiv(net, bpsScale, out),
		ShareBps:    MulDiv(out, bpsScale, after),
	}, nil
}
