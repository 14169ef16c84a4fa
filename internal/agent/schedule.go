package agent

import (
	"time"

	"finwatch/internal/task/scheduler"
)

// Schedule parsing helpers.
// These are used by agentkit and built-in agents to validate config.

type SpecKind = scheduler.SpecKind

type ParsedSpec = scheduler.ParsedSpec

const (
	SpecCron     = scheduler.SpecCron
	SpecInterval = scheduler.SpecInterval
)

func ParseSchedule(raw string) (ParsedSpec, error) {
	return scheduler.ParseSchedule(raw)
}

// ParseClock validates a "HH:MM" time of day (hours 0..23).
func ParseClock(s string) (hour, minute int, err error) {
	return scheduler.ParseClock(s)
}

// ParseWeekday maps a weekday name ("monday", "mon") to time.Weekday.
func ParseWeekday(s string) (time.Weekday, error) {
	return scheduler.ParseWeekday(s)
}
