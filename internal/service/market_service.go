package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alanyoungcy/predmarket/internal/amm"
	"github.com/alanyoungcy/predmarket/internal/domain"
	"github.com/alanyoungcy/predmarket/internal/market"
)

// MarketService runs the five market operations. Each one reads the records
// it needs, applies the pure transition from package market, and writes the
// result together with the matching custody movement in a single unit of
// work. Events, audit entries and cache invalidation follow the commit and
// never fail the operation.
type MarketService struct {
	store  domain.RecordStore
	cache  domain.MarketCache
	events domain.EventPublisher
	audit  domain.AuditStore
	fees   market.FeePolicy
	clock  domain.Clock
	logger *slog.Logger
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(
	store domain.RecordStore,
	cache domain.MarketCache,
	events domain.EventPublisher,
	audit domain.AuditStore,
	fees market.FeePolicy,
	clock domain.Clock,
	logger *slog.Logger,
) *MarketService {
	if fees == nil {
		fees = market.NoFee{}
	}
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &MarketService{
		store:  store,
		cache:  cache,
		events: events,
		audit:  audit,
		fees:   fees,
		clock:  clock,
		logger: logger,
	}
}

// CreateMarket opens a market owned by caller. The seed liquidity is moved
// from the creator's account into the market escrow with the insert.
func (s *MarketService) CreateMarket(ctx context.Context, caller domain.Identity, params market.CreateParams) (domain.Market, error) {
	m, err := market.Initialize(caller, params, s.clock.Now())
	if err != nil {
		return domain.Market{}, err
	}

	err = s.store.Atomic(ctx, func(ctx context.Context, r domain.Records) error {
		if err := r.Markets().Create(ctx, m); err != nil {
			return err
		}
		if m.TotalLiquidity == 0 {
			return nil
		}
		return r.Custody().Escrow(ctx, caller, m.ID, m.TotalLiquidity)
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create market %s: %w", m.ID, err)
	}

	s.emit(ctx, domain.EventMarketCreated, m.ID, caller, domain.MarketCreated{
		MarketID:         m.ID,
		Creator:          caller,
		Question:         m.Question,
		ResolutionTime:   m.ResolutionTime,
		InitialLiquidity: m.TotalLiquidity,
	})
	s.logger.InfoContext(ctx, "market_service: market created",
		slog.String("market_id", m.ID.String()),
		slog.String("creator", string(caller)),
		slog.Time("resolution_time", m.ResolutionTime),
		slog.Uint64("initial_liquidity", m.TotalLiquidity),
	)
	return m, nil
}

// PlacePrediction deposits amount on side for caller and records the
// resulting position. The full amount is escrowed in the same unit of work.
func (s *MarketService) PlacePrediction(ctx context.Context, caller domain.Identity, id domain.MarketID, side domain.Side, amount uint64) (market.Deposit, error) {
	if amount == 0 || !side.Valid() {
		return market.Deposit{}, domain.ErrInvalidAmount
	}
	now := s.clock.Now()

	var dep market.Deposit
	err := s.store.Atomic(ctx, func(ctx context.Context, r domain.Records) error {
		m, err := r.Markets().Get(ctx, id)
		if err != nil {
			return err
		}
		dep, err = market.PlacePrediction(m, caller, side, amount, s.fees, now)
		if err != nil {
			return err
		}
		if err := r.Positions().Create(ctx, dep.Position); err != nil {
			return err
		}
		if err := r.Custody().Escrow(ctx, caller, id, amount); err != nil {
			return err
		}
		return r.Markets().Update(ctx, dep.Market)
	})
	if err != nil {
		return market.Deposit{}, fmt.Errorf("market_service: place prediction on %s: %w", id, err)
	}

	s.invalidate(ctx, id)
	s.emit(ctx, domain.EventPredictionPlaced, id, caller, domain.PredictionPlaced{
		MarketID:  id,
		Predictor: caller,
		Side:      side,
		Amount:    amount,
		Tokens:    dep.Position.TokensReceived,
		Fee:       dep.Fee,
	})
	s.logger.InfoContext(ctx, "market_service: prediction placed",
		slog.String("market_id", id.String()),
		slog.String("predictor", string(caller)),
		slog.String("side", string(side)),
		slog.Uint64("amount", amount),
		slog.Uint64("tokens", dep.Position.TokensReceived),
	)
	return dep, nil
}

// ResolveMarket fixes the outcome of a market. Only the creator may call it,
// once, after the resolution time.
func (s *MarketService) ResolveMarket(ctx context.Context, caller domain.Identity, id domain.MarketID, outcome domain.Side) (domain.Market, error) {
	if !outcome.Valid() {
		return domain.Market{}, domain.ErrInvalidOutcome
	}
	now := s.clock.Now()

	var resolved domain.Market
	err := s.store.Atomic(ctx, func(ctx context.Context, r domain.Records) error {
		m, err := r.Markets().Get(ctx, id)
		if err != nil {
			return err
		}
		resolved, err = market.Resolve(m, caller, outcome, now)
		if err != nil {
			return err
		}
		return r.Markets().Update(ctx, resolved)
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: resolve %s: %w", id, err)
	}

	s.invalidate(ctx, id)
	s.emit(ctx, domain.EventMarketResolved, id, caller, domain.MarketResolved{
		MarketID: id,
		Resolver: caller,
		Outcome:  outcome,
		YesPool:  resolved.YesPool,
		NoPool:   resolved.NoPool,
	})
	s.logger.InfoContext(ctx, "market_service: market resolved",
		slog.String("market_id", id.String()),
		slog.String("outcome", string(outcome)),
		slog.Uint64("yes_pool", resolved.YesPool),
		slog.Uint64("no_pool", resolved.NoPool),
	)
	return resolved, nil
}

// ClaimReward pays caller's winning position out of escrow and marks it
// claimed in the same unit of work.
func (s *MarketService) ClaimReward(ctx context.Context, caller domain.Identity, id domain.MarketID) (domain.Position, uint64, error) {
	now := s.clock.Now()

	var (
		claimed domain.Position
		reward  uint64
	)
	err := s.store.Atomic(ctx, func(ctx context.Context, r domain.Records) error {
		m, err := r.Markets().Get(ctx, id)
		if err != nil {
			return err
		}
		if !m.Resolution.IsResolved() {
			return domain.ErrMarketNotResolved
		}
		p, err := r.Positions().Get(ctx, id, caller)
		if err != nil {
			return err
		}
		claimed, reward, err = market.Claim(m, p, caller, now)
		if err != nil {
			return err
		}
		if err := r.Positions().Update(ctx, claimed); err != nil {
			return err
		}
		return r.Custody().Release(ctx, id, caller, reward)
	})
	if err != nil {
		return domain.Position{}, 0, fmt.Errorf("market_service: claim reward on %s: %w", id, err)
	}

	s.emit(ctx, domain.EventRewardClaimed, id, caller, domain.RewardClaimed{
		MarketID: id,
		Claimer:  caller,
		Reward:   reward,
	})
	s.logger.InfoContext(ctx, "market_service: reward claimed",
		slog.String("market_id", id.String()),
		slog.String("claimer", string(caller)),
		slog.Uint64("reward", reward),
	)
	return claimed, reward, nil
}

// WithdrawFees pays amount of the accrued fees to the creator.
func (s *MarketService) WithdrawFees(ctx context.Context, caller domain.Identity, id domain.MarketID, amount uint64) (domain.Market, error) {
	var updated domain.Market
	err := s.store.Atomic(ctx, func(ctx context.Context, r domain.Records) error {
		m, err := r.Markets().Get(ctx, id)
		if err != nil {
			return err
		}
		updated, err = market.WithdrawFees(m, caller, amount)
		if err != nil {
			return err
		}
		if amount == 0 {
			return nil
		}
		if err := r.Markets().Update(ctx, updated); err != nil {
			return err
		}
		return r.Custody().Release(ctx, id, caller, amount)
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: withdraw fees on %s: %w", id, err)
	}

	s.invalidate(ctx, id)
	s.emit(ctx, domain.EventFeesWithdrawn, id, caller, domain.FeesWithdrawn{
		MarketID: id,
		Admin:    caller,
		Amount:   amount,
	})
	s.logger.InfoContext(ctx, "market_service: fees withdrawn",
		slog.String("market_id", id.String()),
		slog.Uint64("amount", amount),
		slog.Uint64("remaining", updated.FeeCollected),
	)
	return updated, nil
}

// GetMarket retrieves a market by ID, checking the cache first and falling
// back to the record store on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id domain.MarketID) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := s.store.Markets().Get(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %s: %w", id, err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.String("market_id", id.String()),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// ListMarkets returns markets newest first.
func (s *MarketService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.store.Markets().List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list markets: %w", err)
	}
	return markets, nil
}

// ListPositions returns the positions held in a market.
func (s *MarketService) ListPositions(ctx context.Context, id domain.MarketID, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.store.Positions().ListByMarket(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list positions on %s: %w", id, err)
	}
	return positions, nil
}

// GetPosition returns predictor's position in a market.
func (s *MarketService) GetPosition(ctx context.Context, id domain.MarketID, predictor domain.Identity) (domain.Position, error) {
	p, err := s.store.Positions().Get(ctx, id, predictor)
	if err != nil {
		return domain.Position{}, fmt.Errorf("market_service: get position on %s: %w", id, err)
	}
	return p, nil
}

// Quote prices a prospective deposit without placing it.
func (s *MarketService) Quote(ctx context.Context, id domain.MarketID, side domain.Side, amount uint64) (amm.Quote, error) {
	m, err := s.GetMarket(ctx, id)
	if err != nil {
		return amm.Quote{}, err
	}
	return market.Quote(m, side, amount, s.fees, s.clock.Now())
}

func (s *MarketService) invalidate(ctx context.Context, id domain.MarketID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "market_service: cache invalidate failed",
			slog.String("market_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
}

// emit publishes a committed state change and records it in the audit log.
func (s *MarketService) emit(ctx context.Context, typ domain.EventType, id domain.MarketID, actor domain.Identity, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "market_service: marshal event failed",
			slog.String("event", string(typ)),
			slog.String("error", err.Error()),
		)
		return
	}
	env := domain.EventEnvelope{
		ID:         uuid.NewString(),
		Type:       typ,
		MarketID:   id,
		Actor:      actor,
		OccurredAt: s.clock.Now(),
		Payload:    body,
	}

	if s.events != nil {
		if pubErr := s.events.Publish(ctx, env); pubErr != nil {
			s.logger.WarnContext(ctx, "market_service: publish event failed",
				slog.String("event", string(typ)),
				slog.String("market_id", id.String()),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	if s.audit != nil {
		if auditErr := s.audit.Log(ctx, string(typ), map[string]any{
			"event_id":  env.ID,
			"market_id": id.String(),
			"actor":     string(actor),
			"payload":   env.Payload,
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "market_service: audit log failed",
				slog.String("event", string(typ)),
				slog.String("market_id", id.String()),
				slog.String("error", auditErr.Error()),
			)
		}
	}
}
