// Package lifecycle holds small shared types describing why parts of the
// daemon start and stop. Kept dependency-free so any layer can import it.
package lifecycle

// StopReason says why a component (or the whole app) is being stopped.
// It flows into logs and audit entries.
type StopReason string

const (
	StopUnknown         StopReason = "unknown"
	StopSIGINT          StopReason = "sigint"
	StopSIGTERM         StopReason = "sigterm"
	StopFatalError      StopReason = "fatal_error"
	StopAppStop         StopReason = "app_stop"
	StopAgentDisable    StopReason = "agent_disable"
	StopAgentQuarantine StopReason = "agent_quarantine"
	StopConfigReload    StopReason = "config_reload"
)

func (r StopReason) String() string {
	if r == "" {
		return string(StopUnknown)
	}
	return string(r)
}
