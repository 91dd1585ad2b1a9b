package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType names a market notification.
type EventType string

const (
	EventMarketCreated    EventType = "market_created"
	EventPredictionPlaced EventType = "prediction_placed"
	EventMarketResolved   EventType = "market_resolved"
	EventRewardClaimed    EventType = "reward_claimed"
	EventFeesWithdrawn    EventType = "fees_withdrawn"
)

// MarketCreated is emitted by initialize_market.
type MarketCreated struct {
	MarketID         MarketID  `json:"market_id"`
	Creator          Identity  `json:"creator"`
	Question         string    `json:"question"`
	ResolutionTime   time.Time `json:"resolution_time"`
	InitialLiquidity uint64    `json:"initial_liquidity"`
}

// PredictionPlaced is emitted by place_prediction.
type PredictionPlaced struct {
	MarketID  MarketID `json:"market_id"`
	Predictor Identity `json:"predictor"`
	Side      Side     `json:"side"`
	Amount    uint64   `json:"amount"`
	Tokens    uint64   `json:"tokens"`
	Fee       uint64   `json:"fee"`
}

// MarketResolved is emitted by resolve_market.
type MarketResolved struct {
	MarketID MarketID `json:"market_id"`
	Resolver Identity `json:"resolver"`
	Outcome  Side     `json:"outcome"`
	YesPool  uint64   `json:"yes_pool"`
	NoPool   uint64   `json:"no_pool"`
}

// RewardClaimed is emitted by claim_reward.
type RewardClaimed struct {
	MarketID MarketID `json:"market_id"`
	Claimer  Identity `json:"claimer"`
	Reward   uint64   `json:"reward"`
}

// FeesWithdrawn is emitted by withdraw_fees.
type FeesWithdrawn struct {
	MarketID MarketID `json:"market_id"`
	Admin    Identity `json:"admin"`
	Amount   uint64   `json:"amount"`
}

// EventEnvelope wraps a payload for publication. Signature is the operator's
// hex signature over Digest when an operator key is configured.
type EventEnvelope struct {
	ID         string          `json:"id"`
	Type       EventType       `json:"type"`
	MarketID   MarketID        `json:"market_id"`
	Actor      Identity        `json:"actor"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
	Signature  string          `json:"signature,omitempty"`
}

// EventPublisher delivers envelopes to the outside world. Events are
// observational and never read back into market state.
type EventPublisher interface {
	Publish(ctx context.Context, env EventEnvelope) error
}

// MarketChannel is the pub/sub channel carrying events for one market.
func MarketChannel(id MarketID) string { return "market:" + id.String() }

// EventStream is the durable stream that receives every market event.
const EventStream = "market-events"
