package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

// ReplayGuard implements domain.ReplayGuard. Each signed request digest is
// recorded with SET NX for the acceptance window; a second sighting fails.
type ReplayGuard struct {
	c *Client
}

// NewReplayGuard creates a ReplayGuard backed by the given Client.
func NewReplayGuard(c *Client) *ReplayGuard {
	return &ReplayGuard{c: c}
}

// Seen records digest, returning domain.ErrReplay if it was already recorded
// within window.
func (g *ReplayGuard) Seen(ctx context.Context, digest string, window time.Duration) error {
	ok, err := g.c.rdb.SetNX(ctx, g.c.key("replay", digest), 1, window).Result()
	if err != nil {
		return fmt.Errorf("redis: replay check: %w", err)
	}
	if !ok {
		return domain.ErrReplay
	}
	return nil
}

// Compile-time interface check.
var _ domain.ReplayGuard = (*ReplayGuard)(nil)
