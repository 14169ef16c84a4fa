// Package brave is a client for the Brave Search web API.
package brave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.search.brave.com"

var ErrNoAPIKey = errors.New("brave: api key not configured")

type Config struct {
	// BaseURL overrides the API host (tests). Defaults to the public endpoint.
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// HTTPClient overrides the default client (tests). Timeout is ignored
	// when set.
	HTTPClient *http.Client
}

type Client struct {
	cfg Config
	hc  *http.Client
}

// SearchOptions tune one query. Zero values fall back to count 10,
// freshness "pw" (past week) and search language "en".
type SearchOptions struct {
	Count     int
	Freshness string
	Lang      string
}

// Result is one web search hit.
//
// Published is the provider's free-form recency hint ("2 hours ago");
// Source is the site hostname (falling back to the URL host).
type Result struct {
	Title       string
	URL         string
	Description string
	Published   string
	Source      string
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, hc: hc}
}

// Search runs one web search query.
//
// The transport negotiates gzip on its own; only Accept and the
// subscription token header are set explicitly.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) ([]Result, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("brave: empty query")
	}
	if opts.Count <= 0 {
		opts.Count = 10
	}
	if opts.Freshness == "" {
		opts.Freshness = "pw"
	}
	if opts.Lang == "" {
		opts.Lang = "en"
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(opts.Count))
	q.Set("search_lang", opts.Lang)
	q.Set("freshness", opts.Freshness)

	u := c.cfg.BaseURL + "/res/v1/web/search?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("brave: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.cfg.APIKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("brave: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
				Age         string `json:"age"`
				MetaURL     struct {
					Hostname string `json:"hostname"`
				} `json:"meta_url"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("brave: decode: %w", err)
	}

	results := make([]Result, 0, len(out.Web.Results))
	for _, r := range out.Web.Results {
		source := r.MetaURL.Hostname
		if source == "" {
			if u, err := url.Parse(r.URL); err == nil {
				source = u.Hostname()
			}
		}
		results = append(results, Result{
			Title:       r.Title,
			URL:         r.URL,
			Description: r.Description,
			Published:   r.Age,
			Source:      source,
		})
	}
	return results, nil
}
