package market

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

const (
	creator = domain.Identity("0xCreator")
	alice   = domain.Identity("0xAlice")
	bob     = domain.Identity("0xBob")
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newMarket(t *testing.T, liquidity uint64) domain.Market {
	t.Helper()
	m, err := Initialize(creator, CreateParams{
		ID:               7,
		Question:         "Will it rain tomorrow?",
		ResolutionTime:   t0.Add(time.Hour),
		InitialLiquidity: liquidity,
	}, t0)
	require.NoError(t, err)
	return m
}

func TestInitialize(t *testing.T) {
	m := newMarket(t, 1001)
	assert.Equal(t, uint64(501), m.YesPool)
	assert.Equal(t, uint64(500), m.NoPool)
	assert.Equal(t, uint64(1001), m.TotalLiquidity)
	assert.Equal(t, domain.MarketStatusOpen, m.Status())
	assert.Equal(t, creator, m.Creator)
	assert.Equal(t, t0, m.CreatedAt)
	assert.Zero(t, m.FeeCollected)
}

func TestInitializeValidation(t *testing.T) {
	tests := []struct {
		name    string
		creator domain.Identity
		params  CreateParams
		wantErr error
	}{
		{
			name:    "empty question",
			creator: creator,
			params:  CreateParams{Question: "", ResolutionTime: t0.Add(time.Hour)},
			wantErr: domain.ErrInvalidQuestion,
		},
		{
			name:    "question too long",
			creator: creator,
			params:  CreateParams{Question: strings.Repeat("q", 257), ResolutionTime: t0.Add(time.Hour)},
			wantErr: domain.ErrInvalidQuestion,
		},
		{
			name:    "resolution time now",
			creator: creator,
			params:  CreateParams{Question: "ok", ResolutionTime: t0},
			wantErr: domain.ErrInvalidResolutionTime,
		},
		{
			name:    "resolution time in the past",
			creator: creator,
			params:  CreateParams{Question: "ok", ResolutionTime: t0.Add(-time.Second)},
			wantErr: domain.ErrInvalidResolutionTime,
		},
		{
			name:    "anonymous creator",
			creator: "",
			params:  CreateParams{Question: "ok", ResolutionTime: t0.Add(time.Hour)},
			wantErr: domain.ErrUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Initialize(tt.creator, tt.params, t0)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := Initialize(creator, CreateParams{Question: strings.Repeat("é", 256), ResolutionTime: t0.Add(time.Hour)}, t0)
	require.NoError(t, err, "256 multi-byte characters fit")

	_, err = Initialize(creator, CreateParams{Question: "   ", ResolutionTime: t0.Add(time.Hour)}, t0)
	require.NoError(t, err, "whitespace counts toward the length")
}

func TestPlacePrediction(t *testing.T) {
	m := newMarket(t, 1000)
	m.YesPool, m.NoPool = 900, 100

	d, err := PlacePrediction(m, alice, domain.SideYes, 100, nil, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, uint64(90), d.Position.TokensReceived)
	assert.Equal(t, uint64(1000), d.Market.YesPool)
	assert.Equal(t, uint64(100), d.Market.NoPool, "opposing pool untouched")
	assert.Equal(t, alice, d.Position.Predictor)
	assert.Equal(t, uint64(100), d.Position.AmountDeposited)
	assert.False(t, d.Position.Claimed)
	assert.Equal(t, t0.Add(time.Minute), d.Position.CreatedAt)

	// The input market is a value and stays unchanged.
	assert.Equal(t, uint64(900), m.YesPool)
}

func TestPlacePredictionRejections(t *testing.T) {
	open := newMarket(t, 1000)
	resolved, err := Resolve(open, creator, domain.SideYes, open.ResolutionTime)
	require.NoError(t, err)

	tests := []struct {
		name    string
		market  domain.Market
		side    domain.Side
		amount  uint64
		now     time.Time
		wantErr error
	}{
		{"zero amount", open, domain.SideYes, 0, t0, domain.ErrInvalidAmount},
		{"bad side", open, domain.Side("MAYBE"), 10, t0, domain.ErrInvalidAmount},
		{"resolved", resolved, domain.SideYes, 10, t0, domain.ErrMarketAlreadyResolved},
		{"at deadline", open, domain.SideYes, 10, open.ResolutionTime, domain.ErrMarketExpired},
		{"after deadline unresolved", open, domain.SideNo, 10, open.ResolutionTime.Add(time.Second), domain.ErrMarketExpired},
		{"dust", open, domain.SideNo, 1, t0, domain.ErrInsufficientOutput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PlacePrediction(tt.market, alice, tt.side, tt.amount, NoFee{}, tt.now)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPlacePredictionZeroSeed(t *testing.T) {
	m := newMarket(t, 0)
	_, err := PlacePrediction(m, alice, domain.SideYes, 1000, NoFee{}, t0)
	require.ErrorIs(t, err, domain.ErrInsufficientOutput)
}

func TestPlacePredictionWithFee(t *testing.T) {
	m := newMarket(t, 2000)
	d, err := PlacePrediction(m, alice, domain.SideNo, 1000, BasisPointsFee(100), t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), d.Fee)
	assert.Equal(t, uint64(990), d.Net)
	assert.Equal(t, uint64(10), d.Market.FeeCollected)
	assert.Equal(t, uint64(1990), d.Market.NoPool)
	assert.Equal(t, uint64(1000), d.Position.AmountDeposited)
	// floor(990*1000/1990)
	assert.Equal(t, uint64(497), d.Position.TokensReceived)

	_, err = PlacePrediction(m, alice, domain.SideNo, 1000, BasisPointsFee(10_000), t0)
	require.ErrorIs(t, err, domain.ErrInsufficientOutput)
}

func TestResolve(t *testing.T) {
	m := newMarket(t, 1000)

	_, err := Resolve(m, alice, domain.SideYes, m.ResolutionTime)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = Resolve(m, creator, domain.SideYes, m.ResolutionTime.Add(-time.Second))
	require.ErrorIs(t, err, domain.ErrMarketNotExpired)

	_, err = Resolve(m, creator, domain.Side(""), m.ResolutionTime)
	require.ErrorIs(t, err, domain.ErrInvalidOutcome)

	r, err := Resolve(m, creator, domain.SideNo, m.ResolutionTime)
	require.NoError(t, err)
	winner, ok := r.Resolution.Winner()
	require.True(t, ok)
	assert.Equal(t, domain.SideNo, winner)
	assert.Equal(t, domain.MarketStatusResolved, r.Status())
	assert.Equal(t, m.YesPool, r.YesPool)
	assert.Equal(t, m.NoPool, r.NoPool)

	again, err := Resolve(r, creator, domain.SideYes, m.ResolutionTime.Add(time.Hour))
	require.ErrorIs(t, err, domain.ErrMarketAlreadyResolved)
	winner, _ = again.Resolution.Winner()
	assert.Equal(t, domain.SideNo, winner, "outcome is write-once")
}

func resolvedMarket(yes, no uint64, outcome domain.Side) domain.Market {
	return domain.Market{
		ID:             7,
		Creator:        creator,
		ResolutionTime: t0,
		YesPool:        yes,
		NoPool:         no,
		Resolution:     domain.ResolvedTo(outcome),
	}
}

func TestClaimWorkedExample(t *testing.T) {
	m := resolvedMarket(1000, 500, domain.SideYes)
	p := domain.Position{MarketID: 7, Predictor: alice, Side: domain.SideYes, TokensReceived: 90}

	claimed, reward, err := Claim(m, p, alice, t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(135), reward)
	assert.True(t, claimed.Claimed)
	assert.Equal(t, uint64(135), claimed.Payout)

	_, _, err = Claim(m, claimed, alice, t0)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
}

func TestClaimRejections(t *testing.T) {
	winning := domain.Position{MarketID: 7, Predictor: alice, Side: domain.SideYes, TokensReceived: 90}
	losing := domain.Position{MarketID: 7, Predictor: bob, Side: domain.SideNo, TokensReceived: 40}

	open := resolvedMarket(1000, 500, domain.SideYes)
	open.Resolution = domain.Unresolved()

	tests := []struct {
		name    string
		market  domain.Market
		pos     domain.Position
		caller  domain.Identity
		wantErr error
	}{
		{"not resolved", open, winning, alice, domain.ErrMarketNotResolved},
		{"someone else's position", resolvedMarket(1000, 500, domain.SideYes), winning, bob, domain.ErrUnauthorized},
		{"losing side", resolvedMarket(1000, 500, domain.SideYes), losing, bob, domain.ErrPredictionLost},
		{"empty winning pool", resolvedMarket(1000, 0, domain.SideNo), domain.Position{MarketID: 7, Predictor: bob, Side: domain.SideNo}, bob, domain.ErrNoReward},
		{"zero tokens", resolvedMarket(1000, 500, domain.SideYes), domain.Position{MarketID: 7, Predictor: alice, Side: domain.SideYes}, alice, domain.ErrNoReward},
		{"malformed winner", domain.Market{ID: 7, Resolution: domain.ResolvedTo("")}, winning, alice, domain.ErrInvalidOutcome},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, err := Claim(tt.market, tt.pos, tt.caller, t0)
			require.ErrorIs(t, err, tt.wantErr)
			assert.False(t, p.Claimed)
		})
	}
}

func TestRewardsConserveReservoir(t *testing.T) {
	m := newMarket(t, 1000)
	deposits := []struct {
		who    domain.Identity
		side   domain.Side
		amount uint64
	}{
		{"0x01", domain.SideYes, 333},
		{"0x02", domain.SideNo, 1200},
		{"0x03", domain.SideYes, 77},
		{"0x04", domain.SideYes, 5000},
		{"0x05", domain.SideNo, 10},
		{"0x06", domain.SideYes, 1},
	}

	var positions []domain.Position
	var escrowed uint64 = 1000
	now := t0
	for _, d := range deposits {
		now = now.Add(time.Second)
		dep, err := PlacePrediction(m, d.who, d.side, d.amount, NoFee{}, now)
		if err != nil {
			require.ErrorIs(t, err, domain.ErrInsufficientOutput)
			continue
		}
		m = dep.Market
		positions = append(positions, dep.Position)
		escrowed += d.amount
	}

	m, err := Resolve(m, creator, domain.SideYes, m.ResolutionTime)
	require.NoError(t, err)
	reservoir := m.YesPool + m.NoPool
	assert.Equal(t, escrowed, reservoir)

	var paid uint64
	for _, p := range positions {
		_, reward, err := Claim(m, p, p.Predictor, now)
		if p.Side != domain.SideYes {
			require.ErrorIs(t, err, domain.ErrPredictionLost)
			continue
		}
		if err != nil {
			require.ErrorIs(t, err, domain.ErrNoReward)
			continue
		}
		paid += reward
	}
	assert.LessOrEqual(t, paid, reservoir)
	assert.Positive(t, paid)
}

func TestWithdrawFees(t *testing.T) {
	m := newMarket(t, 1000)
	m.FeeCollected = 50

	_, err := WithdrawFees(m, alice, 10)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = WithdrawFees(m, creator, 51)
	require.ErrorIs(t, err, domain.ErrInsufficientFees)

	_, err = WithdrawFees(m, alice, 0)
	require.ErrorIs(t, err, domain.ErrUnauthorized, "authorization is checked before the amount")

	got, err := WithdrawFees(m, creator, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), got.FeeCollected)

	got, err = WithdrawFees(m, creator, 50)
	require.NoError(t, err)
	assert.Zero(t, got.FeeCollected)

	resolved, err := Resolve(m, creator, domain.SideYes, m.ResolutionTime)
	require.NoError(t, err)
	got, err = WithdrawFees(resolved, creator, 20)
	require.NoError(t, err, "fees are withdrawable after resolution")
	assert.Equal(t, uint64(30), got.FeeCollected)
}

func TestQuoteDoesNotMutate(t *testing.T) {
	m := newMarket(t, 1800)
	q, err := Quote(m, domain.SideYes, 100, NoFee{}, t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), q.TokensOut)
	assert.Equal(t, uint64(900), m.YesPool)
}
