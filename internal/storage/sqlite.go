package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	logx "finwatch/pkg/logx"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const defaultSQLitePath = "./finwatch.db"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = defaultSQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log(at, agent, action, target, ok, fail, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Agent, e.Action, nullStr(e.Target),
		e.OK, e.Fail, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, ms,
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpiredDedup(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpiredDedup(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now)
	return err
}

func (s *sqliteStore) InsertPrice(ctx context.Context, p PriceSample) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if p.At.IsZero() {
		p.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO price_history(at, pair, price, currency) VALUES(?,?,?,?)`,
		p.At.UnixMilli(), p.Pair, p.Price, p.Currency,
	)
	return err
}

func (s *sqliteStore) LatestPrice(ctx context.Context, pair string) (PriceSample, bool, error) {
	if s == nil || s.db == nil {
		return PriceSample{}, false, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT at, pair, price, currency FROM price_history
		 WHERE pair = ? ORDER BY at DESC, id DESC LIMIT 1`, pair)
	return scanPrice(row)
}

func (s *sqliteStore) PriceAsOf(ctx context.Context, pair string, cutoff time.Time) (PriceSample, bool, error) {
	if s == nil || s.db == nil {
		return PriceSample{}, false, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT at, pair, price, currency FROM price_history
		 WHERE pair = ? AND at <= ? ORDER BY at DESC, id DESC LIMIT 1`,
		pair, cutoff.UnixMilli())
	return scanPrice(row)
}

func scanPrice(row *sql.Row) (PriceSample, bool, error) {
	var (
		ms int64
		p  PriceSample
	)
	err := row.Scan(&ms, &p.Pair, &p.Price, &p.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return PriceSample{}, false, nil
	}
	if err != nil {
		return PriceSample{}, false, err
	}
	p.At = time.UnixMilli(ms)
	return p, true, nil
}

func (s *sqliteStore) PrunePrices(ctx context.Context, keep time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if keep <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-keep).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM price_history WHERE at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *sqliteStore) InsertNews(ctx context.Context, item NewsItem) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(item.URL) == "" {
		return errors.New("news item url is required")
	}
	if item.At.IsZero() {
		item.At = time.Now()
	}
	// OR IGNORE keeps the statement conflict-free; the affected-row count
	// tells us whether the URL was new.
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO news_items(at, query, title, url, description, source, published_at)
		 VALUES(?,?,?,?,?,?,?)`,
		item.At.UnixMilli(), item.Query, item.Title, item.URL,
		nullStr(item.Description), nullStr(item.Source), nullStr(item.PublishedAt),
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *sqliteStore) RecentNews(ctx context.Context, since time.Time, limit int) ([]NewsItem, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, query, title, url, description, source, published_at FROM news_items
		 WHERE at >= ? ORDER BY at DESC, id DESC LIMIT ?`,
		since.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NewsItem
	for rows.Next() {
		var ms int64
		var it NewsItem
		var desc, src, pubAt sql.NullString
		if err := rows.Scan(&ms, &it.Query, &it.Title, &it.URL, &desc, &src, &pubAt); err != nil {
			return nil, err
		}
		it.At = time.UnixMilli(ms)
		it.Description = desc.String
		it.Source = src.String
		it.PublishedAt = pubAt.String
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneNews(ctx context.Context, keep time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if keep <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-keep).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM news_items WHERE at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *sqliteStore) LastDigestAt(ctx context.Context) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT at FROM digest_log ORDER BY at DESC, id DESC LIMIT 1`).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) MarkDigest(ctx context.Context, at time.Time, key string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("digest key is required")
	}
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO digest_log(at, key) VALUES(?,?)`,
		at.UnixMilli(), key,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
