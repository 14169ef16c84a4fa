package agent

import ops "finwatch/internal/agent/ops"

// Re-export operational status types from agent/ops so callers can refer to
// them via agent.* without importing the ops package directly.

type AgentsSnapshot = ops.AgentsSnapshot

type AgentStatus = ops.AgentStatus

type AgentHealthResult = ops.AgentHealthResult
