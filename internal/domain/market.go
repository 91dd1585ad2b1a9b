package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxQuestionLength is the longest question a market may carry, in characters.
const MaxQuestionLength = 256

// MarketID is the caller-supplied market identifier.
type MarketID uint64

func (id MarketID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseMarketID parses the decimal form produced by MarketID.String.
func ParseMarketID(s string) (MarketID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse market id %q: %w", s, err)
	}
	return MarketID(v), nil
}

// Identity is an authenticated account. When requests are signed it is the
// checksummed hex address recovered from the signature.
type Identity string

// Side is the outcome a position backs.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Valid reports whether s is YES or NO.
func (s Side) Valid() bool { return s == SideYes || s == SideNo }

// ParseSide accepts YES/NO and true/false in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(s) {
	case "YES", "TRUE":
		return SideYes, nil
	case "NO", "FALSE":
		return SideNo, nil
	}
	return "", fmt.Errorf("invalid side %q", s)
}

// MarketStatus is the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusResolved MarketStatus = "resolved"
)

// Resolution is either unresolved or resolved to exactly one winning side.
// The zero value is unresolved. Once constructed with ResolvedTo the winner
// cannot be changed.
type Resolution struct {
	resolved bool
	winner   Side
}

// Unresolved returns the open-market resolution.
func Unresolved() Resolution { return Resolution{} }

// ResolvedTo returns a resolution fixed to winner.
func ResolvedTo(winner Side) Resolution {
	return Resolution{resolved: true, winner: winner}
}

// IsResolved reports whether an outcome has been fixed.
func (r Resolution) IsResolved() bool { return r.resolved }

// Winner returns the winning side. ok is false while unresolved, or if the
// stored winner is not a valid side.
func (r Resolution) Winner() (side Side, ok bool) {
	if !r.resolved || !r.winner.Valid() {
		return "", false
	}
	return r.winner, true
}

func (r Resolution) String() string {
	if !r.resolved {
		return "unresolved"
	}
	return "resolved:" + string(r.winner)
}

// MarshalJSON encodes an unresolved market as null and a resolved one as its
// winning side.
func (r Resolution) MarshalJSON() ([]byte, error) {
	if !r.resolved {
		return []byte("null"), nil
	}
	return json.Marshal(r.winner)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Resolution) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Unresolved()
		return nil
	}
	var s Side
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !s.Valid() {
		return fmt.Errorf("invalid resolution %q", s)
	}
	*r = ResolvedTo(s)
	return nil
}

// Market is the per-market record: configuration, pool balances, lifecycle
// and accrued fees.
type Market struct {
	ID             MarketID   `json:"market_id"`
	Question       string     `json:"question"`
	Creator        Identity   `json:"creator"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolutionTime time.Time  `json:"resolution_time"`
	YesPool        uint64     `json:"yes_pool"`
	NoPool         uint64     `json:"no_pool"`
	TotalLiquidity uint64     `json:"total_liquidity"`
	Resolution     Resolution `json:"outcome"`
	ResolvedAt     time.Time  `json:"resolved_at"`
	FeeCollected   uint64     `json:"fee_collected"`
}

// Status derives the lifecycle state from the resolution.
func (m Market) Status() MarketStatus {
	if m.Resolution.IsResolved() {
		return MarketStatusResolved
	}
	return MarketStatusOpen
}

// Pool returns the pool backing side.
func (m Market) Pool(side Side) uint64 {
	if side == SideYes {
		return m.YesPool
	}
	return m.NoPool
}
