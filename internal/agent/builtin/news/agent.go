package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	core "finwatch/internal/agent"
	"finwatch/pkg/brave"
	"finwatch/pkg/llm"
)

func New() *Agent {
	return &Agent{}
}

// Name returns agent name
func (a *Agent) Name() string {
	return "news"
}

// Init initializes the agent
func (a *Agent) Init(ctx context.Context, deps core.AgentDeps) error {
	a.InitEnhanced(deps, a.Name())
	return nil
}

// Start starts the agent
func (a *Agent) Start(ctx context.Context) error {
	a.StartEnhanced(ctx)
	return nil
}

// Stop stops the agent
func (a *Agent) Stop(ctx context.Context) error {
	return a.StopEnhanced(ctx)
}

// OnConfigChange handles configuration updates
func (a *Agent) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	// probe detects explicitly-set keys so defaults don't override them.
	var probe map[string]json.RawMessage
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &probe)
	}

	var c Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("unmarshal config: %w", err)
		}
	}

	// Set defaults
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
	var err error
	if c.pace, err = parseDur(c.Pace, time.Second); err != nil {
		return fmt.Errorf("invalid news.pace: %w", err)
	}

	if err := c.Timeouts.Validate("news.timeouts"); err != nil {
		return err
	}
	// timeouts.operation bounds a single upstream call (LLM or search).
	c.operationTimeout = c.Timeouts.OperationOr(30 * time.Second)
	// timeouts.task bounds the whole fetch run.
	c.taskTimeout = c.Timeouts.TaskOr(5 * time.Minute)

	// Scheduling defaults on when the section is omitted: this agent is
	// its schedule.
	sc := c.Scheduler
	if _, ok := probe["scheduler"]; !ok {
		sc.Enabled = true
	}
	if sc.TaskName == "" {
		sc.TaskName = "fetch"
	}
	if sc.DailyAt == "" {
		sc.DailyAt = "07:00"
	}
	// Validate schedule early to avoid removing a working schedule on a bad config.
	if sc.Enabled {
		if sc.Schedule != "" {
			if _, err := core.ParseSchedule(sc.Schedule); err != nil {
				return fmt.Errorf("invalid news.scheduler.schedule: %w", err)
			}
		} else if _, _, err := core.ParseClock(sc.DailyAt); err != nil {
			return fmt.Errorf("invalid news.scheduler.daily_at: %w", err)
		}
	}

	// Clients follow the global news section. Rebuilt on every apply so
	// key/endpoint changes take effect without a restart.
	var bc brave.Config
	var lc llm.Config
	if gc := a.Deps.Config; gc != nil {
		if snap := gc.Get(); snap != nil {
			n := snap.News
			bc.BaseURL = n.Brave.BaseURL
			bc.APIKey = n.Brave.APIKey
			bc.Timeout = durOr(n.Brave.RequestTimeout, 15*time.Second)
			lc.BaseURL = n.LLM.BaseURL
			lc.APIKey = n.LLM.APIKey
			lc.Model = n.LLM.Model
			lc.Timeout = durOr(n.LLM.RequestTimeout, 30*time.Second)
		}
	}
	if sc.Enabled && bc.APIKey == "" {
		return errors.New("news.brave.api_key not configured (set it or $BRAVE_API_KEY)")
	}

	a.mu.Lock()
	a.cfg = c
	a.search = brave.New(bc)
	if lc.APIKey != "" {
		a.gen = llm.New(lc)
	} else {
		a.gen = nil
	}
	a.mu.Unlock()
	if lc.APIKey == "" {
		a.Log.Warn("llm api key not configured; searches use the static fallback query")
	}

	// Reconcile the fetch schedule.
	oldTask := func() string {
		a.mu.RLock()
		defer a.mu.RUnlock()
		return a.autoTask
	}()
	if !a.Schedule().Available() {
		a.Log.Warn("scheduler not available; news fetch not scheduled")
		return nil
	}
	if oldTask != "" && oldTask != sc.TaskName {
		a.Schedule().Remove(oldTask)
	}
	if !sc.Enabled {
		if oldTask != "" {
			a.Schedule().Remove(oldTask)
		}
		a.mu.Lock()
		a.autoTask = ""
		a.mu.Unlock()
		return nil
	}

	job := func(ctx context.Context) error {
		return a.runFetch(ctx, "schedule")
	}
	if sc.Schedule != "" {
		err = a.Schedule().Spec(sc.TaskName, sc.Schedule).
			Timeout(c.taskTimeout).
			SkipIfRunning().
			Do(job)
	} else {
		err = a.Schedule().Daily(sc.TaskName, sc.DailyAt).
			Timeout(c.taskTimeout).
			SkipIfRunning().
			Do(job)
	}
	if err == nil {
		a.mu.Lock()
		a.autoTask = sc.TaskName
		a.mu.Unlock()
	}
	return err
}
