package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	core "finwatch/internal/agent"
	"finwatch/internal/storage"
	kit "finwatch/internal/transport"
	"finwatch/pkg/coinbase"
)

type fakeStore struct {
	mu     sync.Mutex
	prices []storage.PriceSample
	dedup  map[string]time.Time
	audits []storage.AuditEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{dedup: map[string]time.Time{}}
}

func (f *fakeStore) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, e)
	return nil
}

func (f *fakeStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dedup[key] = until
	return nil
}

func (f *fakeStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	until, ok := f.dedup[key]
	return until, ok, nil
}

func (f *fakeStore) InsertPrice(ctx context.Context, p storage.PriceSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices = append(f.prices, p)
	return nil
}

func (f *fakeStore) LatestPrice(ctx context.Context, pair string) (storage.PriceSample, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best storage.PriceSample
	found := false
	for _, p := range f.prices {
		if p.Pair != pair {
			continue
		}
		if !found || p.At.After(best.At) {
			best = p
			found = true
		}
	}
	return best, found, nil
}

func (f *fakeStore) PriceAsOf(ctx context.Context, pair string, cutoff time.Time) (storage.PriceSample, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best storage.PriceSample
	found := false
	for _, p := range f.prices {
		if p.Pair != pair || p.At.After(cutoff) {
			continue
		}
		if !found || p.At.After(best.At) {
			best = p
			found = true
		}
	}
	return best, found, nil
}

func (f *fakeStore) PrunePrices(ctx context.Context, keep time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeStore) InsertNews(ctx context.Context, item storage.NewsItem) error { return nil }

func (f *fakeStore) RecentNews(ctx context.Context, since time.Time, limit int) ([]storage.NewsItem, error) {
	return nil, nil
}

func (f *fakeStore) PruneNews(ctx context.Context, keep time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeStore) LastDigestAt(ctx context.Context) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (f *fakeStore) MarkDigest(ctx context.Context, at time.Time, key string) error { return nil }

func (f *fakeStore) Close() error { return nil }

type fakeNotifier struct {
	mu   sync.Mutex
	sent []kit.Notification
}

func (f *fakeNotifier) Notify(ctx context.Context, n kit.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) HasChannel(channel string) bool { return true }
func (f *fakeNotifier) DefaultChannel() string         { return "email" }
func (f *fakeNotifier) Channels() []string             { return []string{"email"} }

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestAgent(fs *fakeStore, fn *fakeNotifier) *Agent {
	a := New()
	deps := core.AgentDeps{Store: nil, Services: &core.Services{}}
	if fs != nil {
		deps.Store = fs
	}
	if fn != nil {
		deps.Services.Notifier = fn
	}
	a.InitEnhanced(deps, a.Name())
	return a
}

func TestOnConfigChangeDefaults(t *testing.T) {
	t.Parallel()

	a := newTestAgent(nil, nil)
	if err := a.OnConfigChange(context.Background(), nil); err != nil {
		t.Fatalf("OnConfigChange(nil) error = %v", err)
	}

	c := a.getConfig()
	if c.Pair != "BTC-USD" {
		t.Errorf("Pair = %q, want BTC-USD", c.Pair)
	}
	if c.MovePercent != 3.0 {
		t.Errorf("MovePercent = %v, want 3.0", c.MovePercent)
	}
	if c.window != time.Hour {
		t.Errorf("window = %v, want 1h", c.window)
	}
	if c.cooldown != 2*time.Hour {
		t.Errorf("cooldown = %v, want 2h", c.cooldown)
	}
	// Default schedule every:15m => staleness bound is three intervals.
	if c.staleAfter != 45*time.Minute {
		t.Errorf("staleAfter = %v, want 45m", c.staleAfter)
	}
}

func TestOnConfigChangeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"bad window", `{"window":"soon"}`},
		{"negative cooldown", `{"cooldown":"-1h"}`},
		{"bad schedule", `{"scheduler":{"enabled":true,"schedule":"every other day"}}`},
		{"bad timeouts key", `{"timeouts":{"job":"10s"}}`},
		{"malformed json", `{"pair":`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := newTestAgent(nil, nil)
			if err := a.OnConfigChange(context.Background(), []byte(tt.raw)); err == nil {
				t.Fatalf("OnConfigChange(%s) error = nil, want error", tt.raw)
			}
		})
	}
}

func TestOnConfigChangeSchedulerDisabled(t *testing.T) {
	t.Parallel()

	a := newTestAgent(nil, nil)
	raw := []byte(`{"scheduler":{"enabled":false}}`)
	if err := a.OnConfigChange(context.Background(), raw); err != nil {
		t.Fatalf("OnConfigChange error = %v", err)
	}
	if got := a.getConfig().staleAfter; got != 0 {
		t.Errorf("staleAfter = %v, want 0 when scheduling is off", got)
	}
}

func TestMoveAlert(t *testing.T) {
	t.Parallel()

	base := time.Now().Add(-2 * time.Hour)
	tests := []struct {
		name      string
		refPrice  float64
		nowPrice  float64
		wantAlert bool
		wantDir   string
	}{
		{"up move over threshold", 100, 103.5, true, "up"},
		{"down move over threshold", 100, 96.5, true, "down"},
		{"exactly threshold", 100, 103, true, "up"},
		{"under threshold", 100, 102.9, false, ""},
		{"flat", 100, 100, false, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fs := newFakeStore()
			fn := &fakeNotifier{}
			a := newTestAgent(fs, fn)

			fs.prices = append(fs.prices, storage.PriceSample{
				At: base, Pair: "BTC-USD", Price: tt.refPrice, Currency: "USD",
			})

			cfg := Config{
				Pair:        "BTC-USD",
				MovePercent: 3.0,
				window:      time.Hour,
				cooldown:    2 * time.Hour,
			}
			spot := coinbase.Spot{Pair: "BTC-USD", Amount: tt.nowPrice, Currency: "USD", At: time.Now()}

			a.maybeAlert(context.Background(), cfg, spot)

			if tt.wantAlert {
				if fn.count() != 1 {
					t.Fatalf("notifications = %d, want 1", fn.count())
				}
				wantKey := "price_alert:BTC-USD:" + tt.wantDir
				if _, ok, _ := fs.GetDedup(context.Background(), wantKey); !ok {
					t.Errorf("cooldown key %q not stored", wantKey)
				}
				// Repeat within the cooldown stays quiet.
				a.maybeAlert(context.Background(), cfg, spot)
				if fn.count() != 1 {
					t.Errorf("notifications after repeat = %d, want 1", fn.count())
				}
			} else if fn.count() != 0 {
				t.Fatalf("notifications = %d, want 0", fn.count())
			}
		})
	}
}

func TestMoveAlertWithoutHistory(t *testing.T) {
	t.Parallel()

	fs := newFakeStore()
	fn := &fakeNotifier{}
	a := newTestAgent(fs, fn)

	cfg := Config{Pair: "BTC-USD", MovePercent: 3.0, window: time.Hour, cooldown: time.Hour}
	spot := coinbase.Spot{Pair: "BTC-USD", Amount: 100, Currency: "USD", At: time.Now()}
	a.maybeAlert(context.Background(), cfg, spot)

	if fn.count() != 0 {
		t.Fatalf("notifications = %d, want 0 without a reference sample", fn.count())
	}
}

func TestRunFetchStoresSample(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/prices/BTC-USD/spot" {
			t.Errorf("path = %q, want /v2/prices/BTC-USD/spot", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"base":"BTC","currency":"USD","amount":"57123.45"}}`))
	}))
	defer srv.Close()

	fs := newFakeStore()
	a := newTestAgent(fs, &fakeNotifier{})
	a.mu.Lock()
	a.client = coinbase.New(coinbase.Config{BaseURL: srv.URL})
	a.mu.Unlock()

	if err := a.runFetch(context.Background(), "test"); err != nil {
		t.Fatalf("runFetch error = %v", err)
	}

	got, ok, err := fs.LatestPrice(context.Background(), "BTC-USD")
	if err != nil || !ok {
		t.Fatalf("LatestPrice ok = %v, err = %v", ok, err)
	}
	if got.Price != 57123.45 || got.Currency != "USD" {
		t.Errorf("stored sample = %+v", got)
	}
	if a.lastFetch.Load() == 0 {
		t.Errorf("lastFetch not recorded")
	}
}

func TestHealthStaleness(t *testing.T) {
	t.Parallel()

	a := newTestAgent(nil, nil)
	if st, _ := a.Health(context.Background()); st != "not_started" {
		t.Fatalf("Health before start = %q, want not_started", st)
	}

	a.StartEnhanced(context.Background())
	defer a.StopEnhanced(context.Background())

	a.mu.Lock()
	a.cfg.staleAfter = 45 * time.Minute
	a.mu.Unlock()

	if st, err := a.Health(context.Background()); st != "waiting_first_fetch" || err != nil {
		t.Fatalf("Health = %q, %v; want waiting_first_fetch, nil", st, err)
	}

	a.lastFetch.Store(time.Now().UnixNano())
	if st, err := a.Health(context.Background()); st != "ok" || err != nil {
		t.Fatalf("Health = %q, %v; want ok, nil", st, err)
	}

	a.lastFetch.Store(time.Now().Add(-time.Hour).UnixNano())
	st, err := a.Health(context.Background())
	if st != "stale" || err == nil {
		t.Fatalf("Health = %q, %v; want stale with error", st, err)
	}
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()

	cfg := Config{Pair: "BTC-USD", MovePercent: 3.0, window: time.Hour}
	spot := coinbase.Spot{Pair: "BTC-USD", Amount: 57123.45, Currency: "USD", At: time.Now()}
	ref := storage.PriceSample{Pair: "BTC-USD", Price: 55000, Currency: "USD"}

	subject, body := formatAlert(cfg, spot, ref, 3.86)
	if subject != "BTC-USD moved +3.86% in 1h" {
		t.Errorf("subject = %q", subject)
	}
	for _, want := range []string{"57,123.45", "55,000", "1h", "3.0%"} {
		if !strings.Contains(body, want) {
			t.Errorf("body %q missing %q", body, want)
		}
	}
}

func TestShortDur(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{time.Hour, "1h"},
		{90 * time.Minute, "1h30m"},
		{15 * time.Minute, "15m"},
		{45 * time.Second, "45s"},
		{2 * time.Hour, "2h"},
	}
	for _, tt := range tests {
		if got := shortDur(tt.in); got != tt.want {
			t.Errorf("shortDur(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
