package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

// SnapshotLoader reads archived market snapshots. *s3blob.Archiver
// implements it.
type SnapshotLoader interface {
	Load(ctx context.Context, id domain.MarketID) (domain.MarketSnapshot, error)
}

// ArchiveHandler serves archived snapshots of resolved markets.
type ArchiveHandler struct {
	snapshots SnapshotLoader
	logger    *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(snapshots SnapshotLoader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{snapshots: snapshots, logger: logger.With(slog.String("handler", "archive"))}
}

// GetSnapshot returns the archived snapshot of a market.
// GET /api/markets/{id}/archive
func (h *ArchiveHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	snap, err := h.snapshots.Load(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
