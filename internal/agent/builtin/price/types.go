package price

import (
	"sync"
	"sync/atomic"
	"time"

	agentkit "finwatch/internal/agent/kit"
	"finwatch/pkg/coinbase"
)

// Config defines agent configuration
type Config struct {
	Scheduler agentkit.SchedulerTaskConfig `json:"scheduler"`
	Timeouts  agentkit.TimeoutsConfig      `json:"timeouts,omitempty"`

	// Pair is the product to watch (defaults to "BTC-USD").
	Pair string `json:"pair"`

	// Channel routes alert notifications. Empty means the notifier's
	// default channel.
	Channel string `json:"channel,omitempty"`

	// MovePercent is the absolute percent move over Window that raises an
	// alert. <= 0 selects the default (3.0).
	MovePercent float64 `json:"move_percent"`

	// Window is the lookback for the move comparison, as a Go duration
	// string (default "1h").
	Window string `json:"window,omitempty"`

	// Cooldown suppresses repeat alerts for the same pair + direction,
	// as a Go duration string (default "2h").
	Cooldown string `json:"cooldown,omitempty"`

	window           time.Duration `json:"-"`
	cooldown         time.Duration `json:"-"`
	taskTimeout      time.Duration `json:"-"`
	operationTimeout time.Duration `json:"-"`
	// staleAfter bounds the age of the last successful fetch before the
	// health check reports stale. Zero disables the staleness check.
	staleAfter time.Duration `json:"-"`
}

// Agent polls the spot price, stores samples and raises move alerts.
type Agent struct {
	agentkit.EnhancedAgentBase
	cfg      Config
	mu       sync.RWMutex
	autoTask string // last scheduled short name

	client *coinbase.Client

	// lastFetch is the UnixNano of the last successful spot fetch.
	lastFetch atomic.Int64
}
