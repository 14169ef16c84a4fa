package brave

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestSearch(t *testing.T) {
	t.Parallel()

	var gotQuery url.Values
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/res/v1/web/search" {
			t.Errorf("path = %q, want /res/v1/web/search", r.URL.Path)
		}
		gotQuery = r.URL.Query()
		gotToken = r.Header.Get("X-Subscription-Token")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web":{"results":[
			{"title":"Fed holds rates","url":"https://example.com/fed","description":"The Fed kept rates steady.","age":"2 hours ago","meta_url":{"hostname":"example.com"}},
			{"title":"Markets wobble","url":"https://other.org/x","description":""}
		]}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "token123"})
	results, err := c.Search(context.Background(), "latest finance news", SearchOptions{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if r := results[0]; r.Title != "Fed holds rates" || r.Source != "example.com" || r.Published != "2 hours ago" {
		t.Fatalf("results[0] = %+v", r)
	}
	if results[1].Source != "other.org" {
		t.Fatalf("results[1].Source = %q, want URL host fallback", results[1].Source)
	}

	if gotToken != "token123" {
		t.Fatalf("X-Subscription-Token = %q, want token123", gotToken)
	}
	if gotQuery.Get("q") != "latest finance news" {
		t.Fatalf("q = %q", gotQuery.Get("q"))
	}
	if gotQuery.Get("count") != "10" || gotQuery.Get("search_lang") != "en" || gotQuery.Get("freshness") != "pw" {
		t.Fatalf("query defaults = %v, want count=10 search_lang=en freshness=pw", gotQuery)
	}
}

func TestSearchOptionOverrides(t *testing.T) {
	t.Parallel()

	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"web":{"results":[]}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k"})
	if _, err := c.Search(context.Background(), "btc", SearchOptions{Count: 3, Freshness: "pd", Lang: "de"}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotQuery.Get("count") != "3" || gotQuery.Get("freshness") != "pd" || gotQuery.Get("search_lang") != "de" {
		t.Fatalf("query = %v, want overrides applied", gotQuery)
	}
}

func TestSearchNoAPIKey(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	_, err := c.Search(context.Background(), "btc", SearchOptions{})
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("err = %v, want ErrNoAPIKey", err)
	}
}

func TestSearchHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "k"})
	if _, err := c.Search(context.Background(), "btc", SearchOptions{}); err == nil {
		t.Fatalf("Search should surface http 429")
	}
}
