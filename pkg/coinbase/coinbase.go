// Package coinbase is a minimal client for the public Coinbase v2 price API.
package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.coinbase.com"

type Config struct {
	// BaseURL overrides the API host (tests, proxies). Defaults to the
	// public endpoint.
	BaseURL string
	Timeout time.Duration
	// UserAgent is sent verbatim when set.
	UserAgent string
	// HTTPClient overrides the default client (tests). Timeout is ignored
	// when set.
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
	hc  *http.Client
}

// Spot is one spot-price quote.
type Spot struct {
	Pair     string // e.g. "BTC-USD"
	Amount   float64
	Currency string // quote currency from the response
	At       time.Time
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, hc: hc}
}

// SpotPrice fetches the current spot price for a pair like "BTC-USD".
//
// The v2 endpoint needs no authentication and returns the amount as a
// decimal string:
//
//	{"data":{"base":"BTC","currency":"USD","amount":"57123.45"}}
func (c *Client) SpotPrice(ctx context.Context, pair string) (Spot, error) {
	pair = strings.TrimSpace(pair)
	if pair == "" {
		return Spot{}, fmt.Errorf("coinbase: empty pair")
	}

	url := c.cfg.BaseURL + "/v2/prices/" + pair + "/spot"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Spot{}, fmt.Errorf("coinbase: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return Spot{}, fmt.Errorf("coinbase: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Spot{}, fmt.Errorf("coinbase: %s: http %d: %s", pair, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Data struct {
			Base     string `json:"base"`
			Currency string `json:"currency"`
			Amount   string `json:"amount"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Spot{}, fmt.Errorf("coinbase: decode: %w", err)
	}

	amount, err := strconv.ParseFloat(out.Data.Amount, 64)
	if err != nil {
		return Spot{}, fmt.Errorf("coinbase: parse amount %q: %w", out.Data.Amount, err)
	}

	return Spot{
		Pair:     pair,
		Amount:   amount,
		Currency: out.Data.Currency,
		At:       time.Now(),
	}, nil
}
