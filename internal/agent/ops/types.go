package ops

import "time"

// AgentsSnapshot is a point-in-time view of agent runtime state.
//
// This package intentionally contains *data-only* operational types so
// observability surfaces can render agent state without depending on the
// agent manager.
type AgentsSnapshot struct {
	Time   time.Time     `json:"time"`
	Agents []AgentStatus `json:"agents"`
}

// AgentStatus captures enable/run/quarantine and last-known health info.
type AgentStatus struct {
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
	Running   bool   `json:"running"`
	HasConfig bool   `json:"has_config"`

	Quarantined     bool      `json:"quarantined"`
	QuarantineErr   string    `json:"quarantine_err,omitempty"`
	QuarantineSince time.Time `json:"quarantine_since,omitempty"`

	HasHealthChecker bool `json:"has_health_checker"`
	HealthLoopActive bool `json:"health_loop_active"`

	LastHealth AgentHealthResult `json:"last_health"`
}

// AgentHealthResult is a single health probe outcome.
type AgentHealthResult struct {
	Agent  string    `json:"agent"`
	At     time.Time `json:"at"`
	Status string    `json:"status,omitempty"`
	Err    string    `json:"err,omitempty"`
	Fails  int       `json:"fails,omitempty"`
}
