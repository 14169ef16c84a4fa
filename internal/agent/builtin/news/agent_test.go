package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	core "finwatch/internal/agent"
	"finwatch/internal/config"
	"finwatch/internal/storage"
)

type fakeStore struct {
	mu    sync.Mutex
	items []storage.NewsItem
	urls  map[string]struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{urls: map[string]struct{}{}}
}

func (f *fakeStore) AppendAudit(ctx context.Context, e storage.AuditEntry) error { return nil }

func (f *fakeStore) PutDedup(ctx context.Context, key string, until time.Time) error { return nil }

func (f *fakeStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (f *fakeStore) InsertPrice(ctx context.Context, p storage.PriceSample) error { return nil }

func (f *fakeStore) LatestPrice(ctx context.Context, pair string) (storage.PriceSample, bool, error) {
	return storage.PriceSample{}, false, nil
}

func (f *fakeStore) PriceAsOf(ctx context.Context, pair string, cutoff time.Time) (storage.PriceSample, bool, error) {
	return storage.PriceSample{}, false, nil
}

func (f *fakeStore) PrunePrices(ctx context.Context, keep time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeStore) InsertNews(ctx context.Context, item storage.NewsItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.urls[item.URL]; ok {
		return storage.ErrDuplicate
	}
	f.urls[item.URL] = struct{}{}
	f.items = append(f.items, item)
	return nil
}

func (f *fakeStore) RecentNews(ctx context.Context, since time.Time, limit int) ([]storage.NewsItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]storage.NewsItem(nil), f.items...)
	return out, nil
}

func (f *fakeStore) PruneNews(ctx context.Context, keep time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeStore) LastDigestAt(ctx context.Context) (time.Time, bool, error) {
	return time.Time{}, false, nil
}

func (f *fakeStore) MarkDigest(ctx context.Context, at time.Time, key string) error { return nil }

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// newTestConfig returns a ConfigManager snapshot with client endpoints pointed
// at test servers.
func newTestConfig(braveURL, braveKey, llmURL, llmKey string) *config.ConfigManager {
	cm := config.NewConfigManager("unused.json")
	cfg := &config.Config{}
	cfg.News.Brave.BaseURL = braveURL
	cfg.News.Brave.APIKey = braveKey
	cfg.News.LLM.BaseURL = llmURL
	cfg.News.LLM.APIKey = llmKey
	cm.Commit(cfg)
	return cm
}

func newTestAgent(cm *config.ConfigManager, fs *fakeStore) *Agent {
	a := New()
	deps := core.AgentDeps{Config: cm, Services: &core.Services{}}
	if fs != nil {
		deps.Store = fs
	}
	a.InitEnhanced(deps, a.Name())
	return a
}

func TestOnConfigChangeDefaults(t *testing.T) {
	t.Parallel()

	a := newTestAgent(newTestConfig("", "key", "", ""), nil)
	if err := a.OnConfigChange(context.Background(), nil); err != nil {
		t.Fatalf("OnConfigChange(nil) error = %v", err)
	}

	c := a.getConfig()
	if c.Queries != 3 {
		t.Errorf("Queries = %d, want 3", c.Queries)
	}
	if c.ResultsPerQuery != 10 {
		t.Errorf("ResultsPerQuery = %d, want 10", c.ResultsPerQuery)
	}
	if c.Freshness != "pw" {
		t.Errorf("Freshness = %q, want pw", c.Freshness)
	}
	if c.Lang != "en" {
		t.Errorf("Lang = %q, want en", c.Lang)
	}
	if c.pace != time.Second {
		t.Errorf("pace = %v, want 1s", c.pace)
	}

	gen, search := a.getClients()
	if search == nil {
		t.Error("search client not built")
	}
	if gen != nil {
		t.Error("llm client built without an api key")
	}
}

func TestOnConfigChangeMissingSearchKey(t *testing.T) {
	t.Parallel()

	a := newTestAgent(newTestConfig("", "", "", ""), nil)
	err := a.OnConfigChange(context.Background(), nil)
	if err == nil {
		t.Fatal("OnConfigChange error = nil, want missing-key error")
	}
	if !strings.Contains(err.Error(), "api_key") {
		t.Errorf("error = %v, want api_key mention", err)
	}

	// With scheduling off the agent tolerates a missing key (nothing runs).
	raw := []byte(`{"scheduler":{"enabled":false}}`)
	if err := a.OnConfigChange(context.Background(), raw); err != nil {
		t.Fatalf("OnConfigChange(disabled) error = %v", err)
	}
}

func TestOnConfigChangeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"bad pace", `{"pace":"fast"}`},
		{"bad daily_at", `{"scheduler":{"enabled":true,"daily_at":"25:00"}}`},
		{"bad schedule override", `{"scheduler":{"enabled":true,"schedule":"whenever"}}`},
		{"bad timeouts key", `{"timeouts":{"request":"10s"}}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := newTestAgent(newTestConfig("", "key", "", ""), nil)
			if err := a.OnConfigChange(context.Background(), []byte(tt.raw)); err == nil {
				t.Fatalf("OnConfigChange(%s) error = nil, want error", tt.raw)
			}
		})
	}
}

func TestRunFetchStoresResults(t *testing.T) {
	t.Parallel()

	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"bitcoin etf flows"}}]}`))
	}))
	defer llmSrv.Close()

	var braveQueries []string
	var braveMu sync.Mutex
	braveSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		braveMu.Lock()
		braveQueries = append(braveQueries, r.URL.Query().Get("q"))
		braveMu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web":{"results":[
			{"title":"A","url":"https://a.example/1","description":"da","age":"2 hours ago","meta_url":{"hostname":"a.example"}},
			{"title":"B","url":"https://b.example/2","description":"db","age":"1 day ago","meta_url":{"hostname":"b.example"}}
		]}}`))
	}))
	defer braveSrv.Close()

	fs := newFakeStore()
	a := newTestAgent(newTestConfig(braveSrv.URL, "bk", llmSrv.URL, "lk"), fs)

	raw := []byte(`{"scheduler":{"enabled":false},"queries":2,"pace":"1ms"}`)
	if err := a.OnConfigChange(context.Background(), raw); err != nil {
		t.Fatalf("OnConfigChange error = %v", err)
	}

	if err := a.runFetch(context.Background(), "test"); err != nil {
		t.Fatalf("runFetch error = %v", err)
	}

	// Two unique URLs stored on the first query; the second query returns the
	// same URLs and must count as duplicates, not failures.
	if fs.count() != 2 {
		t.Fatalf("stored items = %d, want 2", fs.count())
	}

	braveMu.Lock()
	defer braveMu.Unlock()
	if len(braveQueries) != 2 {
		t.Fatalf("searches = %d, want 2", len(braveQueries))
	}
	for _, q := range braveQueries {
		if q != "bitcoin etf flows" {
			t.Errorf("query = %q, want generated query", q)
		}
	}
}

func TestRunFetchFallbackQuery(t *testing.T) {
	t.Parallel()

	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded","type":"server_error"}}`, http.StatusInternalServerError)
	}))
	defer llmSrv.Close()

	var gotQuery string
	var mu sync.Mutex
	braveSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotQuery = r.URL.Query().Get("q")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web":{"results":[]}}`))
	}))
	defer braveSrv.Close()

	a := newTestAgent(newTestConfig(braveSrv.URL, "bk", llmSrv.URL, "lk"), newFakeStore())
	raw := []byte(`{"scheduler":{"enabled":false},"queries":1,"pace":"1ms"}`)
	if err := a.OnConfigChange(context.Background(), raw); err != nil {
		t.Fatalf("OnConfigChange error = %v", err)
	}

	if err := a.runFetch(context.Background(), "test"); err != nil {
		t.Fatalf("runFetch error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotQuery != fallbackQuery {
		t.Errorf("query = %q, want %q", gotQuery, fallbackQuery)
	}
}

func TestRunFetchAllSearchesFailed(t *testing.T) {
	t.Parallel()

	braveSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer braveSrv.Close()

	a := newTestAgent(newTestConfig(braveSrv.URL, "bk", "", ""), newFakeStore())
	raw := []byte(`{"scheduler":{"enabled":false},"queries":2,"pace":"1ms"}`)
	if err := a.OnConfigChange(context.Background(), raw); err != nil {
		t.Fatalf("OnConfigChange error = %v", err)
	}

	if err := a.runFetch(context.Background(), "test"); err == nil {
		t.Fatal("runFetch error = nil, want all-failed error")
	}
}

func TestFormatItem(t *testing.T) {
	t.Parallel()

	got := FormatItem(storage.NewsItem{
		Title:       "Markets wobble",
		Description: "A description",
		URL:         "https://example.com/a",
		Source:      "example.com",
		PublishedAt: "2 hours ago",
	})
	want := "Title: Markets wobble\n" +
		"Description: A description\n" +
		"URL: https://example.com/a\n" +
		"Source: example.com\n" +
		"Published: 2 hours ago"
	if got != want {
		t.Errorf("FormatItem = %q, want %q", got, want)
	}
}

func TestGenerateQueryWithoutClient(t *testing.T) {
	t.Parallel()

	a := newTestAgent(newTestConfig("", "key", "", ""), nil)
	if got := a.generateQuery(context.Background(), nil, Config{}, 0); got != fallbackQuery {
		t.Errorf("generateQuery(nil client) = %q, want %q", got, fallbackQuery)
	}
}
