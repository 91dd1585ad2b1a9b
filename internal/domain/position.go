package domain

import "time"

// Position is a participant's single deposit on one side of a market,
// keyed by (MarketID, Predictor).
type Position struct {
	MarketID        MarketID  `json:"market_id"`
	Predictor       Identity  `json:"predictor"`
	Side            Side      `json:"side"`
	AmountDeposited uint64    `json:"amount_deposited"`
	TokensReceived  uint64    `json:"tokens_received"`
	Claimed         bool      `json:"claimed"`
	Payout          uint64    `json:"payout"`
	CreatedAt       time.Time `json:"created_at"`
	ClaimedAt       time.Time `json:"claimed_at"`
}
