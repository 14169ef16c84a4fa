package agentkit

import (
	"context"

	core "finwatch/internal/agent"
)

// EnhancedAgentBase extends core.AgentBase with agent-scoped helper APIs.
//
// This is an opt-in layer: agents can keep using core.AgentBase directly.
// Embedding EnhancedAgentBase reduces boilerplate and avoids schedule name
// collisions (via automatic namespacing).
type EnhancedAgentBase struct {
	core.AgentBase

	schedule *ScheduleHelper
	notify   *NotifyHelper
}

// InitEnhanced initializes the embedded core.AgentBase and constructs helpers.
func (b *EnhancedAgentBase) InitEnhanced(deps core.AgentDeps, agentName string) {
	b.InitBase(deps, agentName)
	// Helpers are nil-safe; they may wrap nil services in minimal environments.
	b.schedule = NewScheduleHelper(agentName, deps)
	b.notify = NewNotifyHelper(agentName, deps)
}

// StartEnhanced extends StartBase with helper context binding.
func (b *EnhancedAgentBase) StartEnhanced(ctx context.Context) {
	b.StartBase(ctx)
	if b.schedule != nil {
		b.schedule.bindContext(ctx)
	}
	if b.notify != nil {
		b.notify.bindContext(ctx)
	}
}

// StopEnhanced extends StopBase with helper auto cleanup.
func (b *EnhancedAgentBase) StopEnhanced(ctx context.Context) error {
	if b.schedule != nil {
		b.schedule.cleanup()
	}
	return b.StopBase(ctx)
}

// Schedule returns the agent-scoped scheduler helper.
func (b *EnhancedAgentBase) Schedule() *ScheduleHelper { return b.schedule }

// Notify returns the notifier helper.
func (b *EnhancedAgentBase) Notify() *NotifyHelper { return b.notify }
