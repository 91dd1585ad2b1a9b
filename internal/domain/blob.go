package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// MarketSnapshot is the archived form of a resolved market.
type MarketSnapshot struct {
	Market     Market     `json:"market"`
	Positions  []Position `json:"positions"`
	Escrow     uint64     `json:"escrow"`
	ArchivedAt time.Time  `json:"archived_at"`
}

// SnapshotPath is the object key of a market's archived snapshot.
func SnapshotPath(prefix string, id MarketID) string {
	return prefix + "markets/" + id.String() + "/snapshot.json"
}
