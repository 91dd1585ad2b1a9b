package amm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

func TestTokensOut(t *testing.T) {
	tests := []struct {
		name    string
		pool    uint64
		amount  uint64
		want    uint64
		wantErr error
	}{
		{name: "worked example", pool: 900, amount: 100, want: 90},
		{name: "equal pool and deposit", pool: 1000, amount: 1000, want: 500},
		{name: "empty pool", pool: 0, amount: 1000, wantErr: domain.ErrInsufficientOutput},
		{name: "deposit too small", pool: 1_000_000, amount: 1, wantErr: domain.ErrInsufficientOutput},
		{name: "zero amount", pool: 500, amount: 0, wantErr: domain.ErrInvalidAmount},
		{name: "one unit against one unit", pool: 1, amount: 1, wantErr: domain.ErrInsufficientOutput},
		{name: "saturated operands", pool: math.MaxUint64, amount: math.MaxUint64, want: math.MaxUint64 / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TokensOut(tt.pool, tt.amount)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokensOutCurveBound(t *testing.T) {
	pools := []uint64{1, 2, 17, 1000, 1 << 40, math.MaxUint64 - 1}
	amounts := []uint64{1, 3, 999, 1 << 20, 1 << 62, math.MaxUint64}
	for _, p := range pools {
		for _, a := range amounts {
			out, err := TokensOut(p, a)
			if err != nil {
				require.ErrorIs(t, err, domain.ErrInsufficientOutput)
				continue
			}
			assert.Less(t, out, p, "pool=%d amount=%d", p, a)
			assert.LessOrEqual(t, out, a, "pool=%d amount=%d", p, a)
		}
	}
}

func TestTokensOutDiminishingReturns(t *testing.T) {
	const pool = 1_000_000
	amounts := []uint64{1_000, 10_000, 100_000, 1_000_000, 10_000_000}

	prevAmount := uint64(0)
	prevOut := uint64(0)
	for _, a := range amounts {
		out, err := TokensOut(pool, a)
		require.NoError(t, err)
		if prevAmount > 0 {
			// out/a < prevOut/prevAmount, cross multiplied.
			assert.Less(t, out*prevAmount, prevOut*a, "amount=%d", a)
			assert.Greater(t, out, prevOut)
		}
		prevAmount, prevOut = a, out
	}
}

func TestMulDiv(t *testing.T) {
	assert.Equal(t, uint64(135), MulDiv(90, 1500, 1000))
	assert.Equal(t, uint64(0), MulDiv(90, 1500, 0))
	assert.Equal(t, uint64(math.MaxUint64), MulDiv(math.MaxUint64, math.MaxUint64, 1))
	assert.Equal(t, uint64(math.MaxUint64), MulDiv(math.MaxUint64, math.MaxUint64, math.MaxUint64))
	assert.Equal(t, uint64(3), MulDiv(10, 1, 3))
}

func TestSaturatingArithmetic(t *testing.T) {
	assert.Equal(t, uint64(math.MaxUint64), SaturatingAdd(math.MaxUint64, 1))
	assert.Equal(t, uint64(5), SaturatingAdd(2, 3))
	assert.Equal(t, uint64(0), SaturatingSub(2, 3))
	assert.Equal(t, uint64(1), SaturatingSub(3, 2))
}

func TestQuoteDeposit(t *testing.T) {
	q, err := QuoteDeposit(domain.SideYes, 900, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), q.TokensOut)
	assert.Equal(t, uint64(1000), q.PoolAfter)
	assert.Equal(t, uint64(11111), q.AvgPriceBps)
	assert.Equal(t, uint64(900), q.ShareBps)

	_, err = QuoteDeposit(domain.SideNo, 0, 100, 0)
	require.ErrorIs(t, err, domain.ErrInsufficientOutput)
}
