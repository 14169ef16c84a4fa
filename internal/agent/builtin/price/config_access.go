package price

import (
	"errors"
	"time"

	"finwatch/pkg/coinbase"
)

var errNonPositive = errors.New("must be positive")

// getConfig returns a snapshot of the current config with safe defaults applied.
//
// Defaults are usually set in OnConfigChange, but a scheduled task can run
// before a config is loaded (or after a failed reload). Keeping this helper
// makes the run logic defensive.
func (a *Agent) getConfig() Config {
	a.mu.RLock()
	c := a.cfg
	a.mu.RUnlock()

	if c.Pair == "" {
		c.Pair = "BTC-USD"
	}
	if c.MovePercent <= 0 {
		c.MovePercent = 3.0
	}
	if c.window <= 0 {
		c.window = time.Hour
	}
	if c.cooldown <= 0 {
		c.cooldown = 2 * time.Hour
	}
	if c.operationTimeout <= 0 {
		c.operationTimeout = 30 * time.Second
	}
	if c.taskTimeout <= 0 {
		c.taskTimeout = 60 * time.Second
	}
	return c
}

func (a *Agent) getClient() *coinbase.Client {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client
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
// Global sections are validated elsewhere; agents never quarantine over them.
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
