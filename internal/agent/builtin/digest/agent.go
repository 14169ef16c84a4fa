package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	core "finwatch/internal/agent"
	logx "finwatch/pkg/logx"
)

func New() *Agent {
	return &Agent{}
}

// Name returns agent name
func (a *Agent) Name() string {
	return "digest"
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
	if c.Pair == "" {
		c.Pair = "BTC-USD"
	}
	if c.Channel == "" {
		c.Channel = "email"
	}
	if c.MaxNews <= 0 {
		c.MaxNews = 10
	}

	if err := c.Timeouts.Validate("digest.timeouts"); err != nil {
		return err
	}
	// timeouts.operation bounds the storage reads, timeouts.task the whole run.
	c.operationTimeout = c.Timeouts.OperationOr(30 * time.Second)
	c.taskTimeout = c.Timeouts.TaskOr(60 * time.Second)

	// Scheduling defaults on when the section is omitted: this agent is
	// its schedule.
	sc := c.Scheduler
	if _, ok := probe["scheduler"]; !ok {
		sc.Enabled = true
	}
	if sc.TaskName == "" {
		sc.TaskName = "send"
	}
	if sc.DailyAt == "" {
		sc.DailyAt = "07:30"
	}
	// Validate schedules early to avoid removing a working schedule on a bad config.
	if sc.Enabled {
		if sc.Schedule != "" {
			if _, err := core.ParseSchedule(sc.Schedule); err != nil {
				return fmt.Errorf("invalid digest.scheduler.schedule: %w", err)
			}
		} else if _, _, err := core.ParseClock(sc.DailyAt); err != nil {
			return fmt.Errorf("invalid digest.scheduler.daily_at: %w", err)
		}
	}
	wk := c.Weekly
	if wk.Weekday == "" {
		wk.Weekday = "monday"
	}
	if wk.At == "" {
		wk.At = "08:00"
	}
	var weeklyDay time.Weekday
	if wk.Enabled {
		var err error
		if weeklyDay, err = core.ParseWeekday(wk.Weekday); err != nil {
			return fmt.Errorf("invalid digest.weekly.weekday: %w", err)
		}
		if _, _, err := core.ParseClock(wk.At); err != nil {
			return fmt.Errorf("invalid digest.weekly.at: %w", err)
		}
	}

	a.mu.Lock()
	a.cfg = c
	a.mu.Unlock()

	// The channel may appear later (notifier reconfiguration), so a missing
	// one is only worth a warning here.
	if np := a.Deps.Services.Notifier; np != nil && !np.HasChannel(c.Channel) {
		a.Log.Warn("digest channel not registered yet", logx.String("channel", c.Channel))
	}

	// Reconcile the send schedules.
	oldTask, oldWeekly := func() (string, string) {
		a.mu.RLock()
		defer a.mu.RUnlock()
		return a.autoTask, a.weeklyTask
	}()
	if !a.Schedule().Available() {
		a.Log.Warn("scheduler not available; digest not scheduled")
		return nil
	}
	if oldTask != "" && oldTask != sc.TaskName {
		a.Schedule().Remove(oldTask)
	}
	if !sc.Enabled {
		if oldTask != "" {
			a.Schedule().Remove(oldTask)
		}
		if oldWeekly != "" {
			a.Schedule().Remove(oldWeekly)
		}
		a.mu.Lock()
		a.autoTask = ""
		a.weeklyTask = ""
		a.mu.Unlock()
		return nil
	}

	var err error
	job := func(ctx context.Context) error {
		return a.runDigest(ctx, "schedule")
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
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.autoTask = sc.TaskName
	a.mu.Unlock()

	// Weekly rollup is a second task next to the daily one.
	if !wk.Enabled {
		if oldWeekly != "" {
			a.Schedule().Remove(oldWeekly)
			a.mu.Lock()
			a.weeklyTask = ""
			a.mu.Unlock()
		}
		return nil
	}
	err = a.Schedule().Weekly(weeklyTaskName, weeklyDay, wk.At).
		Timeout(c.taskTimeout).
		SkipIfRunning().
		Do(func(ctx context.Context) error {
			return a.runWeekly(ctx, "schedule")
		})
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.weeklyTask = weeklyTaskName
	a.mu.Unlock()
	return nil
}
