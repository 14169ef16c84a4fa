package news

import (
	"errors"
	"time"

	"finwatch/pkg/brave"
	"finwatch/pkg/llm"
)

var errNonPositive = errors.New("must be positive")

// getConfig returns a snapshot of the current config with safe defaults applied.
func (a *Agent) getConfig() Config {
	a.mu.RLock()
	c := a.cfg
	a.mu.RUnlock()

	if c.Queries <= 0 {
		c.Queries = 3
	}
	if c.ResultsPerQuery <= 0 {
		c.ResultsPerQuery = 10
	}
	if c.Freshness == "" {
		c.Freshness = "pw"
	}
	if c.Lang == "" {
		c.Lang = "en"
	}
	if c.pace <= 0 {
		c.pace = time.Second
	}
	if c.operationTimeout <= 0 {
		c.operationTimeout = 30 * time.Second
	}
	if c.taskTimeout <= 0 {
		c.taskTimeout = 5 * time.Minute
	}
	return c
}

func (a *Agent) getClients() (*llm.Client, *brave.Client) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.gen, a.search
}

// parseDur parses an optional Go duration string from agent config.
// Empty selects def; invalid or non-positive values are config errors.
func parseDur(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errNonPositive
	}
	return d, nil
}

// durOr parses a Go duration string from global config, falling back to def.
func durOr(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
