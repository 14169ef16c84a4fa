package storage

import (
	"context"
	"errors"
	logx "finwatch/pkg/logx"
	"strings"
	"time"
)

// Store is the persistence API used by the app and the agents.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	InsertPrice(ctx context.Context, p PriceSample) error
	// LatestPrice returns the newest sample for pair.
	LatestPrice(ctx context.Context, pair string) (PriceSample, bool, error)
	// PriceAsOf returns the newest sample at or before cutoff.
	PriceAsOf(ctx context.Context, pair string, cutoff time.Time) (PriceSample, bool, error)
	PrunePrices(ctx context.Context, keep time.Duration) (int64, error)

	// InsertNews stores one item; returns ErrDuplicate if the URL is already stored.
	InsertNews(ctx context.Context, item NewsItem) error
	// RecentNews returns items fetched at or after since, newest first.
	RecentNews(ctx context.Context, since time.Time, limit int) ([]NewsItem, error)
	PruneNews(ctx context.Context, keep time.Duration) (int64, error)

	LastDigestAt(ctx context.Context) (time.Time, bool, error)
	// MarkDigest records a sent digest; returns ErrDuplicate if key was already marked.
	MarkDigest(ctx context.Context, at time.Time, key string) error

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
