package agent

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"finwatch/internal/eventbus"
	"finwatch/internal/storage"
	kit "finwatch/internal/transport"
	logx "finwatch/pkg/logx"
)

// ConfigValidator is an optional hook to validate agent config before applying it.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

// AgentBase is a small helper to make writing agents faster and safer.
// Typical usage:
//
//	type Agent struct { agent.AgentBase }
//	func (a *Agent) Init(ctx context.Context, deps agent.AgentDeps) error { a.InitBase(deps, a.Name()); return nil }
//	func (a *Agent) Start(ctx context.Context) error { a.StartBase(ctx); a.Runner.Go(...); return nil }
//	func (a *Agent) Stop(ctx context.Context) error { return a.StopBase(ctx) }
type AgentBase struct {
	Log       logx.Logger
	Deps      AgentDeps
	Runner    *Supervisor
	agentName string

	ctx context.Context
}

// Supervisor returns the per-agent supervisor, if StartBase has been called.
// This lets the manager attach additional agent-scoped goroutines (e.g. health
// loops) so they become owned + joinable under StopBase.
func (b *AgentBase) Supervisor() *Supervisor { return b.Runner }

// Health implements HealthChecker for any agent embedding AgentBase.
//
// It is intentionally lightweight and should never block.
// If an agent needs richer health reporting, it can override Health().
func (b *AgentBase) Health(ctx context.Context) (string, error) {
	if b == nil {
		return "nil", errors.New("agent base is nil")
	}
	if b.ctx == nil {
		return "not_started", nil
	}
	select {
	case <-b.ctx.Done():
		return "stopped", b.ctx.Err()
	default:
	}
	return "ok", nil
}

// InitBase wires deps + logger.
func (b *AgentBase) InitBase(deps AgentDeps, agentName string) {
	b.Deps = deps
	b.agentName = agentName
	if !deps.Logger.IsZero() {
		b.Log = deps.Logger.With(logx.String("agent", agentName))
	} else {
		b.Log = logx.Nop().With(logx.String("agent", agentName))
	}
}

// StartBase creates a per-agent supervisor tied to ctx.
func (b *AgentBase) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = NewSupervisor(ctx, WithLogger(b.Log), WithCancelOnError(false))
}

// StopBase cancels runner + waits bounded by ctx.
func (b *AgentBase) StopBase(ctx context.Context) error {
	if b.Runner == nil {
		return nil
	}
	b.Runner.Cancel()
	err := b.Runner.Wait(ctx)
	b.Runner = nil
	return err
}

// Context returns the agent runtime context (canceled on stop/disable).
func (b *AgentBase) Context() context.Context { return b.ctx }

// Scheduler helpers (namespaced by agent).
func (b *AgentBase) Every(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if b.Deps.Services == nil || b.Deps.Services.Scheduler == nil {
		return "", errors.New("scheduler not available")
	}
	return b.Deps.Services.Scheduler.AddInterval(b.ns(name), every, timeout, job)
}

func (b *AgentBase) Cron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if b.Deps.Services == nil || b.Deps.Services.Scheduler == nil {
		return "", errors.New("scheduler not available")
	}
	return b.Deps.Services.Scheduler.AddCron(b.ns(name), spec, timeout, job)
}

func (b *AgentBase) ns(name string) string {
	if b.agentName == "" {
		return name
	}
	if name == "" {
		return b.agentName
	}
	return b.agentName + ":" + name
}

// Notify hands a notification to the notifier pipeline.
func (b *AgentBase) Notify(ctx context.Context, n kit.Notification) error {
	if b.Deps.Services == nil || b.Deps.Services.Notifier == nil {
		return errors.New("notifier not available")
	}
	return b.Deps.Services.Notifier.Notify(ctx, n)
}

// AppendAudit writes an audit entry to the configured storage (if present).
// Agents should treat this as best-effort; if storage is disabled, an error is returned.
func (b *AgentBase) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	if b == nil {
		return errors.New("agent is nil")
	}
	st := b.Deps.Store
	if st == nil {
		return errors.New("storage not available")
	}
	return st.AppendAudit(ctx, e)
}

// PublishEvent publishes a lightweight event to the in-process event bus (if present).
// This is safe to call from agents; Publish is non-blocking.
func (b *AgentBase) PublishEvent(typ string, data any) {
	if b == nil {
		return
	}
	bus := b.Deps.Bus
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// DecodeAgentConfig decodes per-agent raw json into a typed config struct.
func DecodeAgentConfig[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
