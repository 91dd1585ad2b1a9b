package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

// AuditStore keeps the audit log in a slice.
type AuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

// NewAuditStore returns an empty AuditStore.
func NewAuditStore() *AuditStore { return &AuditStore{} }

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	out := make([]domain.AuditEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if inRange(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	s.mu.Unlock()
	slices.Reverse(out)
	return page(out, opts), nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
