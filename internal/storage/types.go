package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")

	// ErrDuplicate reports that an insert hit a uniqueness constraint
	// (news URL already stored, digest key already marked).
	ErrDuplicate = errors.New("duplicate entry")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (the default)
//   - "file": dependency-free file backend (jsonl + snapshot)
//
// If Driver is "none", storage is disabled and the daemon runs stateless.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records a daemon-side action (agent runs, deliveries, reloads).
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time
	Agent    string
	Action   string
	Target   string
	OK       int
	Fail     int
	Error    string
	TookMS   int64
	MetaJSON string
}

// PriceSample is one spot-price observation.
type PriceSample struct {
	At       time.Time
	Pair     string // e.g. "BTC-USD"
	Price    float64
	Currency string // quote currency, e.g. "USD"
}

// NewsItem is one stored search result. URL is the uniqueness key.
type NewsItem struct {
	At          time.Time // fetch time, not publish time
	Query       string
	Title       string
	URL         string
	Description string
	Source      string
	PublishedAt string // provider-supplied age hint, free-form ("2 hours ago")
}
