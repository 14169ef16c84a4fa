package price

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	core "finwatch/internal/agent"
	"finwatch/pkg/coinbase"
)

func New() *Agent {
	return &Agent{}
}

// Name returns agent name
func (a *Agent) Name() string {
	return "price"
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

// HealthLoopEnabled opts into the manager's periodic health loop.
func (a *Agent) HealthLoopEnabled() bool { return true }

// Health reports stale when the last successful fetch is older than
// three schedule intervals.
func (a *Agent) Health(ctx context.Context) (string, error) {
	if st, err := a.AgentBase.Health(ctx); err != nil || st != "ok" {
		return st, err
	}
	cfg := a.getConfig()
	if cfg.staleAfter <= 0 {
		return "ok", nil
	}
	ns := a.lastFetch.Load()
	if ns == 0 {
		return "waiting_first_fetch", nil
	}
	if age := time.Since(time.Unix(0, ns)); age > cfg.staleAfter {
		return "stale", fmt.Errorf("last successful fetch %s ago", age.Round(time.Second))
	}
	return "ok", nil
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
	if c.Pair == "" {
		c.Pair = "BTC-USD"
	}
	if c.MovePercent <= 0 {
		c.MovePercent = 3.0
	}
	var err error
	if c.window, err = parseDur(c.Window, time.Hour); err != nil {
		return fmt.Errorf("invalid price.window: %w", err)
	}
	if c.cooldown, err = parseDur(c.Cooldown, 2*time.Hour); err != nil {
		return fmt.Errorf("invalid price.cooldown: %w", err)
	}

	if err := c.Timeouts.Validate("price.timeouts"); err != nil {
		return err
	}
	c.operationTimeout = c.Timeouts.OperationOr(30 * time.Second)
	c.taskTimeout = c.Timeouts.TaskOr(60 * time.Second)

	// Scheduling defaults on when the section is omitted: this agent is
	// its schedule.
	sc := c.Scheduler
	if _, ok := probe["scheduler"]; !ok {
		sc.Enabled = true
	}
	if sc.TaskName == "" {
		sc.TaskName = "fetch"
	}
	if sc.Schedule == "" {
		sc.Schedule = "every:15m"
	}
	// Validate schedule early to avoid removing a working schedule on a bad config.
	var ps core.ParsedSpec
	if sc.Enabled {
		if ps, err = core.ParseSchedule(sc.Schedule); err != nil {
			return fmt.Errorf("invalid price.scheduler.schedule: %w", err)
		}
	}
	// Health staleness only makes sense while fetches are scheduled.
	c.staleAfter = 0
	if sc.Enabled {
		if ps.Kind == core.SpecInterval && ps.Every > 0 {
			c.staleAfter = 3 * ps.Every
		} else {
			c.staleAfter = 3 * time.Hour
		}
	}

	// Market client follows the global market section. Rebuilt on every
	// apply so base-URL/timeout changes take effect without a restart.
	cc := coinbase.Config{UserAgent: "finwatch"}
	if gc := a.Deps.Config; gc != nil {
		if snap := gc.Get(); snap != nil {
			cc.BaseURL = snap.Market.BaseURL
			cc.Timeout = durOr(snap.Market.RequestTimeout, 10*time.Second)
		}
	}

	a.mu.Lock()
	a.cfg = c
	a.client = coinbase.New(cc)
	a.mu.Unlock()

	// Reconcile the fetch schedule.
	oldTask := func() string {
		a.mu.RLock()
		defer a.mu.RUnlock()
		return a.autoTask
	}()
	if !a.Schedule().Available() {
		a.Log.Warn("scheduler not available; price fetch not scheduled")
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

	err = a.Schedule().Spec(sc.TaskName, sc.Schedule).
		Timeout(c.taskTimeout).
		SkipIfRunning().
		Do(func(ctx context.Context) error {
			return a.runFetch(ctx, "schedule")
		})
	if err == nil {
		a.mu.Lock()
		a.autoTask = sc.TaskName
		a.mu.Unlock()
	}
	return err
}
