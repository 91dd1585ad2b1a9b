package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

// ReplayGuard remembers request digests in process. Expired digests are
// pruned on insert.
type ReplayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewReplayGuard creates an empty guard.
func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{seen: make(map[string]time.Time), now: time.Now}
}

func (g *ReplayGuard) Seen(_ context.Context, digest string, window time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for d, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, d)
		}
	}
	if _, ok := g.seen[digest]; ok {
		return domain.ErrReplay
	}
	g.seen[digest] = now.Add(window)
	return nil
}

// Compile-time interface check.
var _ domain.ReplayGuard = (*ReplayGuard)(nil)
