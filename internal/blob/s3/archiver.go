package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

const archiveLockKey = "archiver"

// ArchiverConfig tunes the snapshot sweep.
type ArchiverConfig struct {
	// Prefix is prepended to every object key, e.g. "predmarket/".
	Prefix string
	// MinAge is how long after resolution a market waits before export.
	MinAge time.Duration
	// Interval between sweeps in Run.
	Interval time.Duration
	// BatchSize caps uploads per sweep. Zero means no cap.
	BatchSize int
	// MultipartThreshold switches uploads larger than this to the multipart
	// uploader.
	MultipartThreshold int64
}

// Archiver exports resolved markets, with their positions and remaining
// escrow, as JSON snapshots. Records are never deleted from the primary
// store; an existing snapshot is left untouched.
type Archiver struct {
	records domain.RecordStore
	writer  domain.BlobWriter
	reader  domain.BlobReader
	locks   domain.LockManager
	audit   domain.AuditStore
	clock   domain.Clock
	cfg     ArchiverConfig
	logger  *slog.Logger

	// watermark is the resolved_at of the newest market already handled.
	watermark time.Time
}

// NewArchiver creates an Archiver. locks may be nil for a single replica.
func NewArchiver(
	records domain.RecordStore,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	locks domain.LockManager,
	audit domain.AuditStore,
	clock domain.Clock,
	cfg ArchiverConfig,
	logger *slog.Logger,
) *Archiver {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.MultipartThreshold <= 0 {
		cfg.MultipartThreshold = MinPartSize
	}
	return &Archiver{
		records: records,
		writer:  writer,
		reader:  reader,
		locks:   locks,
		audit:   audit,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// Run sweeps once immediately and then on every interval until ctx ends.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "archiver: started",
		slog.Duration("interval", a.cfg.Interval),
		slog.Duration("min_age", a.cfg.MinAge),
	)
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := a.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.ErrorContext(ctx, "archiver: sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			a.logger.InfoContext(ctx, "archiver: stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce archives every eligible market not yet exported and returns how
// many snapshots it wrote. A sweep held by another replica is skipped.
func (a *Archiver) RunOnce(ctx context.Context) (int, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, a.cfg.Interval)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.DebugContext(ctx, "archiver: sweep held elsewhere")
				return 0, nil
			}
			return 0, fmt.Errorf("s3blob: archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := a.clock.Now().Add(-a.cfg.MinAge)
	markets, err := a.records.Markets().ListResolvedBefore(ctx, cutoff, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list resolved markets: %w", err)
	}

	written := 0
	for _, m := range markets {
		if m.ResolvedAt.Before(a.watermark) {
			continue
		}
		if a.cfg.BatchSize > 0 && written >= a.cfg.BatchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return written, err
		}

		path := domain.SnapshotPath(a.cfg.Prefix, m.ID)
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return written, err
		}
		if !exists {
			if err := a.archive(ctx, m, path); err != nil {
				return written, err
			}
			written++
		}
		a.watermark = m.ResolvedAt
	}

	if written > 0 {
		a.logger.InfoContext(ctx, "archiver: sweep complete", slog.Int("written", written))
	}
	return written, nil
}

func (a *Archiver) archive(ctx context.Context, m domain.Market, path string) error {
	positions, err := a.records.Positions().ListByMarket(ctx, m.ID, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("s3blob: archive positions %s: %w", m.ID, err)
	}
	escrow, err := a.records.Custody().EscrowBalance(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("s3blob: archive escrow %s: %w", m.ID, err)
	}

	snap := domain.MarketSnapshot{
		Market:     m,
		Positions:  positions,
		Escrow:     escrow,
		ArchivedAt: a.clock.Now(),
	}
	if snap.Positions == nil {
		snap.Positions = []domain.Position{}
	}
	buf, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("s3blob: marshal snapshot %s: %w", m.ID, err)
	}

	if int64(len(buf)) > a.cfg.MultipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.cfg.MultipartThreshold)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json")
	}
	if err != nil {
		return fmt.Errorf("s3blob: upload snapshot %s: %w", m.ID, err)
	}

	if err := a.audit.Log(ctx, "market_archived", map[string]any{
		"market_id": m.ID.String(),
		"path":      path,
		"positions": len(positions),
	}); err != nil {
		a.logger.WarnContext(ctx, "archiver: audit log failed",
			slog.String("market_id", m.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	a.logger.DebugContext(ctx, "archiver: market archived",
		slog.String("market_id", m.ID.String()),
		slog.String("path", path),
	)
	return nil
}

// Load reads back an archived snapshot. It returns domain.ErrNotFound when
// the market has not been archived.
func (a *Archiver) Load(ctx context.Context, id domain.MarketID) (domain.MarketSnapshot, error) {
	body, err := a.reader.Get(ctx, domain.SnapshotPath(a.cfg.Prefix, id))
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	defer body.Close()

	var snap domain.MarketSnapshot
	if err := json.NewDecoder(body).Decode(&snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("s3blob: decode snapshot %s: %w", id, err)
	}
	return snap, nil
}
