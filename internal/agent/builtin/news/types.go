package news

import (
	"sync"
	"time"

	agentkit "finwatch/internal/agent/kit"
	"finwatch/pkg/brave"
	"finwatch/pkg/llm"
)

// Config defines agent configuration
type Config struct {
	Scheduler agentkit.DailyTaskConfig `json:"scheduler"`
	Timeouts  agentkit.TimeoutsConfig  `json:"timeouts,omitempty"`

	// Queries is how many generated searches to run per fetch (default 3).
	Queries int `json:"queries"`

	// ResultsPerQuery is the hit count requested per search (default 10).
	ResultsPerQuery int `json:"results_per_query"`

	// Freshness is the provider's recency window code (default "pw",
	// the past week).
	Freshness string `json:"freshness,omitempty"`

	// Lang is the search language (default "en").
	Lang string `json:"lang,omitempty"`

	// Pace is the minimum spacing between searches, as a Go duration
	// string (default "1s").
	Pace string `json:"pace,omitempty"`

	pace             time.Duration `json:"-"`
	taskTimeout      time.Duration `json:"-"`
	operationTimeout time.Duration `json:"-"`
}

// Agent generates finance search queries, runs them and stores the hits.
type Agent struct {
	agentkit.EnhancedAgentBase
	cfg      Config
	mu       sync.RWMutex
	autoTask string // last scheduled short name

	// gen is nil when no LLM key is configured; runs then use the static
	// fallback query.
	gen    *llm.Client
	search *brave.Client
}
