package digest

import (
	"sync"
	"time"

	agentkit "finwatch/internal/agent/kit"
)

// Config defines agent configuration
type Config struct {
	Scheduler agentkit.DailyTaskConfig `json:"scheduler"`
	Timeouts  agentkit.TimeoutsConfig  `json:"timeouts,omitempty"`

	// Pair is the product summarized in the market section (default
	// "BTC-USD").
	Pair string `json:"pair"`

	// Channel routes the digest (default "email").
	Channel string `json:"channel,omitempty"`

	// MaxNews caps the news rows in one digest (default 10).
	MaxNews int `json:"max_news"`

	// SkipWhenEmpty suppresses the digest when storage holds nothing new.
	SkipWhenEmpty bool `json:"skip_when_empty"`

	// Weekly adds a rollup over the past seven days on top of the daily
	// digest.
	Weekly WeeklyConfig `json:"weekly,omitempty"`

	taskTimeout      time.Duration `json:"-"`
	operationTimeout time.Duration `json:"-"`
}

// WeeklyConfig configures the optional weekly rollup task.
type WeeklyConfig struct {
	Enabled bool   `json:"enabled"`
	Weekday string `json:"weekday,omitempty"` // weekday name, default "monday"
	At      string `json:"at,omitempty"`      // "HH:MM", default "08:00"
}

// Agent assembles and sends the periodic market + news digest.
type Agent struct {
	agentkit.EnhancedAgentBase
	cfg        Config
	mu         sync.RWMutex
	autoTask   string // last scheduled daily short name
	weeklyTask string // last scheduled weekly short name
}
