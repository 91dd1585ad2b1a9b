package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predmarket/internal/domain"
	"github.com/alanyoungcy/predmarket/internal/market"
	"github.com/alanyoungcy/predmarket/internal/store/memory"
)

const (
	creator = domain.Identity("0xC0")
	alice   = domain.Identity("0xA1")
	bob     = domain.Identity("0xB2")
	carol   = domain.Identity("0xC3")
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.EventEnvelope
}

func (p *recordingPublisher) Publish(_ context.Context, env domain.EventEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, env)
	return nil
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	svc    *MarketService
	store  *memory.Store
	clock  *fixedClock
	events *recordingPublisher
	audit  *memory.AuditStore
}

func newFixture(t *testing.T, fees market.FeePolicy) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.New(),
		clock:  &fixedClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
		events: &recordingPublisher{},
		audit:  memory.NewAuditStore(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewMarketService(f.store, nil, f.events, f.audit, fees, f.clock, logger)

	ctx := context.Background()
	for _, id := range []domain.Identity{creator, alice, bob, carol} {
		require.NoError(t, f.store.Custody().Credit(ctx, id, 1_000_000))
	}
	return f
}

func (f *fixture) balance(t *testing.T, id domain.Identity) uint64 {
	t.Helper()
	b, err := f.store.Custody().Balance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f *fixture) escrow(t *testing.T, id domain.MarketID) uint64 {
	t.Helper()
	b, err := f.store.Custody().EscrowBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f *fixture) create(t *testing.T, id domain.MarketID, liquidity uint64) domain.Market {
	t.Helper()
	m, err := f.svc.CreateMarket(context.Background(), creator, market.CreateParams{
		ID:               id,
		Question:         "Will the bridge open before June?",
		ResolutionTime:   f.clock.t.Add(24 * time.Hour),
		InitialLiquidity: liquidity,
	})
	require.NoError(t, err)
	return m
}

func TestCreateMarketEscrowsSeed(t *testing.T) {
	f := newFixture(t, nil)
	m := f.create(t, 1, 1000)

	assert.Equal(t, uint64(500), m.YesPool)
	assert.Equal(t, uint64(500), m.NoPool)
	assert.Equal(t, uint64(1000), f.escrow(t, 1))
	assert.Equal(t, uint64(999_000), f.balance(t, creator))
	assert.Equal(t, []domain.EventType{domain.EventMarketCreated}, f.events.types())

	_, err := f.svc.CreateMarket(context.Background(), creator, market.CreateParams{
		ID: 1, Question: "again", ResolutionTime: f.clock.t.Add(time.Hour),
	})
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCreateMarketWithoutCollateralLeavesNothingBehind(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.CreateMarket(context.Background(), "0xBroke", market.CreateParams{
		ID: 9, Question: "q", ResolutionTime: f.clock.t.Add(time.Hour), InitialLiquidity: 10,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = f.svc.GetMarket(context.Background(), 9)
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.events.types())
}

func TestPlacePredictionIsAtomicWithCustody(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, 1, 1000)

	_, err := f.svc.PlacePrediction(ctx, "0xBroke", 1, domain.SideYes, 100)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	m, err := f.svc.GetMarket(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), m.YesPool, "pool unchanged after failed escrow")
	_, err = f.svc.GetPosition(ctx, 1, "0xBroke")
	require.ErrorIs(t, err, domain.ErrPositionNotFound)
	assert.Equal(t, uint64(1000), f.escrow(t, 1))
}

func TestPlacePrediction(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, 1, 1000)

	dep, err := f.svc.PlacePrediction(ctx, alice, 1, domain.SideYes, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), dep.Position.TokensReceived)
	assert.Equal(t, uint64(1000), dep.Market.YesPool)
	assert.Equal(t, uint64(1500), f.escrow(t, 1))
	assert.Equal(t, uint64(999_500), f.balance(t, alice))

	_, err = f.svc.PlacePrediction(ctx, alice, 1, domain.SideNo, 500)
	require.ErrorIs(t, err, domain.ErrPositionExists)

	_, err = f.svc.PlacePrediction(ctx, bob, 1, domain.SideNo, 0)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.svc.PlacePrediction(ctx, bob, 42, domain.SideNo, 10)
	require.ErrorIs(t, err, domain.ErrMarketNotFound)
}

func TestDepositsAfterDeadlineExpire(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.create(t, 1, 1000)

	f.clock.t = m.ResolutionTime
	_, err := f.svc.PlacePrediction(ctx, alice, 1, domain.SideYes, 100)
	require.ErrorIs(t, err, domain.ErrMarketExpired)

	f.clock.t = m.ResolutionTime.Add(time.Hour)
	_, err = f.svc.PlacePrediction(ctx, alice, 1, domain.SideYes, 100)
	require.ErrorIs(t, err, domain.ErrMarketExpired)
}

func TestResolveIsWriteOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.create(t, 1, 1000)

	_, err := f.svc.ResolveMarket(ctx, creator, 1, domain.SideYes)
	require.ErrorIs(t, err, domain.ErrMarketNotExpired)

	f.clock.t = m.ResolutionTime
	_, err = f.svc.ResolveMarket(ctx, alice, 1, domain.SideYes)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.ResolveMarket(ctx, creator, 1, domain.SideYes)
	require.NoError(t, err)

	_, err = f.svc.ResolveMarket(ctx, creator, 1, domain.SideNo)
	require.ErrorIs(t, err, domain.ErrMarketAlreadyResolved)

	got, err := f.svc.GetMarket(ctx, 1)
	require.NoError(t, err)
	winner, ok := got.Resolution.Winner()
	require.True(t, ok)
	assert.Equal(t, domain.SideYes, winner)
}

func TestClaimRewardFlow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.create(t, 1, 1000)

	_, err := f.svc.PlacePrediction(ctx, alice, 1, domain.SideYes, 500)
	require.NoError(t, err)
	_, err = f.svc.PlacePrediction(ctx, bob, 1, domain.SideNo, 300)
	require.NoError(t, err)

	_, _, err = f.svc.ClaimReward(ctx, alice, 1)
	require.ErrorIs(t, err, domain.ErrMarketNotResolved)

	f.clock.t = m.ResolutionTime
	_, err = f.svc.ResolveMarket(ctx, creator, 1, domain.SideYes)
	require.NoError(t, err)

	before := f.balance(t, alice)
	pos, reward, err := f.svc.ClaimReward(ctx, alice, 1)
	require.NoError(t, err)
	// tokens 250, pools yes=1000 no=800: floor(250*1800/1000)
	assert.Equal(t, uint64(450), reward)
	assert.True(t, pos.Claimed)
	assert.Equal(t, before+450, f.balance(t, alice))
	assert.Equal(t, uint64(1800-450), f.escrow(t, 1))

	_, _, err = f.svc.ClaimReward(ctx, alice, 1)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	assert.Equal(t, before+450, f.balance(t, alice), "no second payout")

	_, _, err = f.svc.ClaimReward(ctx, bob, 1)
	require.ErrorIs(t, err, domain.ErrPredictionLost)

	_, _, err = f.svc.ClaimReward(ctx, carol, 1)
	require.ErrorIs(t, err, domain.ErrPositionNotFound)

	assert.Equal(t, []domain.EventType{
		domain.EventMarketCreated,
		domain.EventPredictionPlaced,
		domain.EventPredictionPlaced,
		domain.EventMarketResolved,
		domain.EventRewardClaimed,
	}, f.events.types())

	var claimed domain.RewardClaimed
	require.NoError(t, json.Unmarshal(f.events.events[4].Payload, &claimed))
	assert.Equal(t, alice, claimed.Claimer)
	assert.Equal(t, uint64(450), claimed.Reward)
}

func TestPayoutsNeverExceedEscrow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.create(t, 1, 10_000)

	winners := []domain.Identity{alice, bob, carol}
	for i, w := range winners {
		_, err := f.svc.PlacePrediction(ctx, w, 1, domain.SideNo, uint64(1000*(i+1)+7))
		require.NoError(t, err)
	}
	_, err := f.svc.PlacePrediction(ctx, creator, 1, domain.SideYes, 4321)
	require.NoError(t, err)

	f.clock.t = m.ResolutionTime
	resolved, err := f.svc.ResolveMarket(ctx, creator, 1, domain.SideNo)
	require.NoError(t, err)
	reservoir := resolved.YesPool + resolved.NoPool
	require.Equal(t, reservoir, f.escrow(t, 1))

	var paid uint64
	for _, w := range winners {
		_, reward, err := f.svc.ClaimReward(ctx, w, 1)
		require.NoError(t, err)
		paid += reward
	}
	assert.LessOrEqual(t, paid, reservoir)
	assert.Equal(t, reservoir-paid, f.escrow(t, 1))
}

func TestWithdrawFees(t *testing.T) {
	f := newFixture(t, market.BasisPointsFee(200))
	ctx := context.Background()
	f.create(t, 1, 1000)

	dep, err := f.svc.PlacePrediction(ctx, alice, 1, domain.SideYes, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), dep.Fee)
	assert.Equal(t, uint64(20), dep.Market.FeeCollected)
	assert.Equal(t, uint64(2000), f.escrow(t, 1))

	_, err = f.svc.WithdrawFees(ctx, alice, 1, 5)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.WithdrawFees(ctx, creator, 1, 21)
	require.ErrorIs(t, err, domain.ErrInsufficientFees)

	before := f.balance(t, creator)
	m, err := f.svc.WithdrawFees(ctx, creator, 1, 15)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), m.FeeCollected)
	assert.Equal(t, before+15, f.balance(t, creator))
	assert.Equal(t, uint64(1985), f.escrow(t, 1))

	entries, err := f.audit.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(domain.EventFeesWithdrawn), entries[0].Event)

	_, err = f.svc.WithdrawFees(ctx, alice, 1, 0)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	logged, err := f.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	before = f.balance(t, creator)
	m, err = f.svc.WithdrawFees(ctx, creator, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), m.FeeCollected)
	assert.Equal(t, before, f.balance(t, creator))
	assert.Equal(t, uint64(1985), f.escrow(t, 1))

	entries, err = f.audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, len(logged)+1, "a zero withdrawal is still recorded")
	assert.Equal(t, string(domain.EventFeesWithdrawn), entries[0].Event)
}

func TestQuote(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, 1, 1800)

	q, err := f.svc.Quote(ctx, 1, domain.SideNo, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(90), q.TokensOut)

	m, err := f.svc.GetMarket(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), m.NoPool)
}
