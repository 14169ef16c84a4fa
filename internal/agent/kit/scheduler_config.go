package agentkit

// SchedulerTaskConfig is a small, agent-local scheduling configuration that can
// be reused across agents to keep scheduler-related settings consistent.
//
// It configures *one* scheduled task inside an agent.
//
// Recommended JSON schema:
//
//	"scheduler": {
//	  "enabled": true,
//	  "task_name": "fetch",
//	  "schedule": "every:15m"
//	}
//
// Schedule supports the same formats as core.ParseSchedule:
// cron (5/6-field), "@every 55m", duration ("55m", "every:15m"), or HH:MM ("02:30").
type SchedulerTaskConfig struct {
	Enabled  bool   `json:"enabled"`
	TaskName string `json:"task_name,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

// NameOr returns TaskName if set, otherwise def.
func (c SchedulerTaskConfig) NameOr(def string) string {
	if c.TaskName != "" {
		return c.TaskName
	}
	return def
}

// Active reports whether the task should be scheduled.
func (c SchedulerTaskConfig) Active() bool { return c.Enabled && c.Schedule != "" }

// DailyTaskConfig configures one daily task anchored to a local time of day,
// with an optional cron/interval override.
//
// Recommended JSON schema:
//
//	"scheduler": {
//	  "enabled": true,
//	  "task_name": "fetch",
//	  "daily_at": "07:00"
//	}
//
// DailyAt is a "HH:MM" time of day (scheduler timezone). When Schedule is
// set it wins and is parsed like SchedulerTaskConfig.Schedule.
type DailyTaskConfig struct {
	Enabled  bool   `json:"enabled"`
	TaskName string `json:"task_name,omitempty"`
	DailyAt  string `json:"daily_at,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

// NameOr returns TaskName if set, otherwise def.
func (c DailyTaskConfig) NameOr(def string) string {
	if c.TaskName != "" {
		return c.TaskName
	}
	return def
}

// AtOr returns DailyAt if set, otherwise def.
func (c DailyTaskConfig) AtOr(def string) string {
	if c.DailyAt != "" {
		return c.DailyAt
	}
	return def
}
