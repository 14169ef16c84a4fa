package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	logx "finwatch/pkg/logx"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Bounds for the in-memory market state. The journal is the source of
// truth on disk; the rings only have to cover what the agents query
// (alert lookback, digest window).
const (
	maxPricesPerPair = 4096
	maxNewsItems     = 1024
	maxDigestKeys    = 64
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl         (append-only JSON Lines)
//   - <prefix>.dedup.snapshot.json (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl (append-only journal)
//   - <prefix>.market.jsonl        (append-only price/news/digest journal)
//
// The dedup journal is periodically compacted into the snapshot. The market
// journal is replayed into bounded in-memory rings on open and rewritten
// from them when it grows.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	auditFile *os.File

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli

	dedupWrites int

	marketPath string
	marketFile *os.File

	prices       map[string][]PriceSample // per pair, ascending by At
	news         []NewsItem               // ascending by At
	newsURLs     map[string]struct{}
	digestKeys   map[string]struct{}
	lastDigestAt time.Time

	marketWrites int
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

// marketRecord is one line of the market journal. Kind selects which
// field group is populated.
type marketRecord struct {
	Kind string `json:"kind"` // "price" | "news" | "digest"
	At   int64  `json:"at"`   // unix milli

	Pair     string  `json:"pair,omitempty"`
	Price    float64 `json:"price,omitempty"`
	Currency string  `json:"currency,omitempty"`

	Query       string `json:"query,omitempty"`
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`

	Key string `json:"key,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	auditPath := prefix + ".audit.jsonl"
	snapPath := prefix + ".dedup.snapshot.json"
	journalPath := prefix + ".dedup.journal.jsonl"
	marketPath := prefix + ".market.jsonl"

	af, err := os.OpenFile(auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load dedup from snapshot + journal.
	dedup := map[string]int64{}
	_ = loadDedupSnapshot(snapPath, dedup)
	_ = replayDedupJournal(journalPath, dedup)
	pruneExpiredDedup(dedup)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	s := &fileStore{
		log:               log,
		auditFile:         af,
		dedupSnapshotPath: snapPath,
		dedupJournalFile:  jf,
		dedup:             dedup,
		marketPath:        marketPath,
		prices:            map[string][]PriceSample{},
		newsURLs:          map[string]struct{}{},
		digestKeys:        map[string]struct{}{},
	}

	_ = s.replayMarketJournal(marketPath)

	mf, err := os.OpenFile(marketPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		_ = jf.Close()
		return nil, err
	}
	s.marketFile = mf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, f := range []**os.File{&s.auditFile, &s.dedupJournalFile, &s.marketFile} {
		if *f == nil {
			continue
		}
		if err := (*f).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		*f = nil
	}
	return firstErr
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	enc := json.NewEncoder(s.auditFile)
	return enc.Encode(e)
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return errors.New("dedup journal closed")
	}
	if s.dedup == nil {
		s.dedup = map[string]int64{}
	}
	s.dedup[key] = ms

	// Append journal record.
	enc := json.NewEncoder(s.dedupJournalFile)
	if err := enc.Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%1000 == 0 {
		// Best-effort compact.
		if err := s.compactDedupLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedup == nil {
		return time.Time{}, false, nil
	}
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) InsertPrice(ctx context.Context, p PriceSample) error {
	_ = ctx
	if p.At.IsZero() {
		p.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ring := append(s.prices[p.Pair], p)
	if len(ring) > maxPricesPerPair {
		ring = ring[len(ring)-maxPricesPerPair:]
	}
	s.prices[p.Pair] = ring

	return s.appendMarketLocked(marketRecord{
		Kind:     "price",
		At:       p.At.UnixMilli(),
		Pair:     p.Pair,
		Price:    p.Price,
		Currency: p.Currency,
	})
}

func (s *fileStore) LatestPrice(ctx context.Context, pair string) (PriceSample, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ring := s.prices[pair]
	if len(ring) == 0 {
		return PriceSample{}, false, nil
	}
	return ring[len(ring)-1], true, nil
}

func (s *fileStore) PriceAsOf(ctx context.Context, pair string, cutoff time.Time) (PriceSample, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ring := s.prices[pair]
	// Reverse scan; rings are small and mostly queried near the tail.
	for i := len(ring) - 1; i >= 0; i-- {
		if !ring[i].At.After(cutoff) {
			return ring[i], true, nil
		}
	}
	return PriceSample{}, false, nil
}

func (s *fileStore) PrunePrices(ctx context.Context, keep time.Duration) (int64, error) {
	_ = ctx
	if keep <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-keep)
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for pair, ring := range s.prices {
		i := 0
		for i < len(ring) && ring[i].At.Before(cutoff) {
			i++
		}
		if i > 0 {
			removed += int64(i)
			s.prices[pair] = ring[i:]
		}
	}
	return removed, nil
}

func (s *fileStore) InsertNews(ctx context.Context, item NewsItem) error {
	_ = ctx
	url := strings.TrimSpace(item.URL)
	if url == "" {
		return errors.New("news item url is required")
	}
	if item.At.IsZero() {
		item.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.newsURLs[url]; dup {
		return ErrDuplicate
	}
	s.newsURLs[url] = struct{}{}
	s.news = append(s.news, item)
	if len(s.news) > maxNewsItems {
		drop := s.news[:len(s.news)-maxNewsItems]
		for _, d := range drop {
			delete(s.newsURLs, strings.TrimSpace(d.URL))
		}
		s.news = s.news[len(drop):]
	}

	return s.appendMarketLocked(marketRecord{
		Kind:        "news",
		At:          item.At.UnixMilli(),
		Query:       item.Query,
		Title:       item.Title,
		URL:         url,
		Description: item.Description,
		Source:      item.Source,
		PublishedAt: item.PublishedAt,
	})
}

func (s *fileStore) RecentNews(ctx context.Context, since time.Time, limit int) ([]NewsItem, error) {
	_ = ctx
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []NewsItem
	for i := len(s.news) - 1; i >= 0 && len(out) < limit; i-- {
		if s.news[i].At.Before(since) {
			break
		}
		out = append(out, s.news[i])
	}
	return out, nil
}

func (s *fileStore) PruneNews(ctx context.Context, keep time.Duration) (int64, error) {
	_ = ctx
	if keep <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-keep)
	s.mu.Lock()
	defer s.mu.Unlock()
	i := 0
	for i < len(s.news) && s.news[i].At.Before(cutoff) {
		delete(s.newsURLs, strings.TrimSpace(s.news[i].URL))
		i++
	}
	if i > 0 {
		s.news = s.news[i:]
	}
	return int64(i), nil
}

func (s *fileStore) LastDigestAt(ctx context.Context) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastDigestAt.IsZero() {
		return time.Time{}, false, nil
	}
	return s.lastDigestAt, true, nil
}

func (s *fileStore) MarkDigest(ctx context.Context, at time.Time, key string) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("digest key is required")
	}
	if at.IsZero() {
		at = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.digestKeys[key]; dup {
		return ErrDuplicate
	}
	s.digestKeys[key] = struct{}{}
	if len(s.digestKeys) > maxDigestKeys {
		// Keys are date-stamped; dropping all but the newest entry is safe
		// because duplicate protection only matters within a period.
		s.digestKeys = map[string]struct{}{key: {}}
	}
	if at.After(s.lastDigestAt) {
		s.lastDigestAt = at
	}

	return s.appendMarketLocked(marketRecord{Kind: "digest", At: at.UnixMilli(), Key: key})
}

func (s *fileStore) appendMarketLocked(r marketRecord) error {
	if s.marketFile == nil {
		return errors.New("market journal closed")
	}
	if err := json.NewEncoder(s.marketFile).Encode(r); err != nil {
		return err
	}
	s.marketWrites++
	if s.marketWrites%1000 == 0 {
		if err := s.compactMarketLocked(); err != nil {
			s.log.Debug("market compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) applyMarketLocked(r marketRecord) {
	switch r.Kind {
	case "price":
		ring := append(s.prices[r.Pair], PriceSample{
			At:       time.UnixMilli(r.At),
			Pair:     r.Pair,
			Price:    r.Price,
			Currency: r.Currency,
		})
		if len(ring) > maxPricesPerPair {
			ring = ring[len(ring)-maxPricesPerPair:]
		}
		s.prices[r.Pair] = ring
	case "news":
		url := strings.TrimSpace(r.URL)
		if url == "" {
			return
		}
		if _, dup := s.newsURLs[url]; dup {
			return
		}
		s.newsURLs[url] = struct{}{}
		s.news = append(s.news, NewsItem{
			At:          time.UnixMilli(r.At),
			Query:       r.Query,
			Title:       r.Title,
			URL:         url,
			Description: r.Description,
			Source:      r.Source,
			PublishedAt: r.PublishedAt,
		})
		if len(s.news) > maxNewsItems {
			drop := s.news[:len(s.news)-maxNewsItems]
			for _, d := range drop {
				delete(s.newsURLs, strings.TrimSpace(d.URL))
			}
			s.news = s.news[len(drop):]
		}
	case "digest":
		if r.Key == "" {
			return
		}
		s.digestKeys[r.Key] = struct{}{}
		at := time.UnixMilli(r.At)
		if at.After(s.lastDigestAt) {
			s.lastDigestAt = at
		}
	}
}

func (s *fileStore) replayMarketJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var r marketRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		s.applyMarketLocked(r)
	}
	return sc.Err()
}

// compactMarketLocked rewrites the market journal from the in-memory rings
// so it cannot grow without bound.
func (s *fileStore) compactMarketLocked() error {
	tmp := s.marketPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	writeErr := func() error {
		for pair, ring := range s.prices {
			for _, p := range ring {
				r := marketRecord{Kind: "price", At: p.At.UnixMilli(), Pair: pair, Price: p.Price, Currency: p.Currency}
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
		}
		for _, it := range s.news {
			r := marketRecord{
				Kind: "news", At: it.At.UnixMilli(), Query: it.Query, Title: it.Title,
				URL: it.URL, Description: it.Description, Source: it.Source, PublishedAt: it.PublishedAt,
			}
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		for key := range s.digestKeys {
			at := s.lastDigestAt
			if at.IsZero() {
				at = time.Now()
			}
			if err := enc.Encode(marketRecord{Kind: "digest", At: at.UnixMilli(), Key: key}); err != nil {
				return err
			}
		}
		return nil
	}()
	if writeErr != nil {
		_ = f.Close()
		return writeErr
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.marketPath); err != nil {
		return err
	}
	// The rename swapped the inode behind the live handle; reopen it.
	_ = s.marketFile.Close()
	mf, err := os.OpenFile(s.marketPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		s.marketFile = nil
		return err
	}
	s.marketFile = mf
	return nil
}

func (s *fileStore) compactDedupLocked() error {
	if s.dedup == nil {
		return nil
	}
	pruneExpiredDedup(s.dedup)

	tmp := s.dedupSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.dedup); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.dedupSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.dedupJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.dedupJournalFile.Seek(0, 2)
	return err
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return s.Err()
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
