package digest

import (
	"time"
)

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
	if c.Channel == "" {
		c.Channel = "email"
	}
	if c.MaxNews <= 0 {
		c.MaxNews = 10
	}
	if c.operationTimeout <= 0 {
		c.operationTimeout = 30 * time.Second
	}
	if c.taskTimeout <= 0 {
		c.taskTimeout = 60 * time.Second
	}
	return c
}
