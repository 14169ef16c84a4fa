package agent

import (
	"context"
	"time"

	kit "finwatch/internal/transport"
)

// Service ports exposed to agents.
//
// Ports are small interfaces over the concrete services so the manager can
// wrap them with capability checks before handing them out via AgentDeps.

type SchedulerPort interface {
	Enabled() bool
	Snapshot() Snapshot
	AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddCronOpt(name, spec string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (string, error)
	AddInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddIntervalOpt(name string, every time.Duration, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (string, error)
	AddDaily(name string, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	AddWeekly(name string, weekday time.Weekday, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) (string, error)
	Remove(name string) bool
}

type NotifierPort interface {
	Notify(ctx context.Context, n kit.Notification) error
	HasChannel(channel string) bool
	DefaultChannel() string
	Channels() []string
}

// AgentsPort is the operational read surface of the agent manager.
type AgentsPort interface {
	Snapshot() AgentsSnapshot
	CheckHealth(ctx context.Context, names []string) []AgentHealthResult
}

// Services bundles the service ports handed to agents.
type Services struct {
	Scheduler SchedulerPort
	Notifier  NotifierPort
	Agents    AgentsPort

	// AppSupervisor is the app-level supervisor (operational visibility only).
	AppSupervisor *Supervisor
}
