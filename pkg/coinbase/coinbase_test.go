package coinbase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSpotPrice(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/prices/BTC-USD/spot" {
			t.Errorf("path = %q, want /v2/prices/BTC-USD/spot", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"base":"BTC","currency":"USD","amount":"57123.45"}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	spot, err := c.SpotPrice(context.Background(), "BTC-USD")
	if err != nil {
		t.Fatalf("SpotPrice: %v", err)
	}
	if spot.Amount != 57123.45 {
		t.Fatalf("Amount = %v, want 57123.45", spot.Amount)
	}
	if spot.Pair != "BTC-USD" || spot.Currency != "USD" {
		t.Fatalf("quote = %+v, want pair BTC-USD in USD", spot)
	}
	if spot.At.IsZero() {
		t.Fatalf("At should be set")
	}
}

func TestSpotPriceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "http error", status: http.StatusNotFound, body: `{"errors":[{"id":"not_found"}]}`},
		{name: "bad amount", status: http.StatusOK, body: `{"data":{"amount":"much"}}`},
		{name: "bad json", status: http.StatusOK, body: `{`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(Config{BaseURL: srv.URL})
			if _, err := c.SpotPrice(context.Background(), "BTC-USD"); err == nil {
				t.Fatalf("SpotPrice should fail on %s", tt.name)
			}
		})
	}
}

func TestSpotPriceEmptyPair(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	if _, err := c.SpotPrice(context.Background(), "  "); err == nil {
		t.Fatalf("empty pair should error without a request")
	}
}
