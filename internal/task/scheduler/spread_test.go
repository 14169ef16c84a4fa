package scheduler

import (
	"testing"
	"time"

	"github.com/robfig/cron/v3"
)

func TestIntervalSpreadBounds(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		every time.Duration
		max   time.Duration
	}{
		{name: "long interval capped", every: 15 * time.Minute, max: maxStartupSpread},
		{name: "short interval capped by itself", every: 5 * time.Second, max: 5 * time.Second},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 32; i++ {
				sched, jitter := makeIntervalScheduleWithSpread(tt.every, now, tt.name)
				if jitter < 0 || jitter >= tt.max {
					t.Fatalf("jitter = %v, want in [0, %v)", jitter, tt.max)
				}
				first := sched.Next(now)
				if want := now.Add(tt.every + jitter); !first.Equal(want) {
					t.Fatalf("first run = %v, want %v", first, want)
				}
			}
		})
	}
}

func TestStartupSpreadDelegatesAfterFirstRun(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := cron.Every(time.Minute)
	first := now.Add(90 * time.Second)
	sched := &startupSpreadSchedule{base: base, first: first}

	if got := sched.Next(now); !got.Equal(first) {
		t.Fatalf("Next before first = %v, want %v", got, first)
	}
	if got, want := sched.Next(first), base.Next(first); !got.Equal(want) {
		t.Fatalf("Next at first = %v, want base %v", got, want)
	}
	later := first.Add(5 * time.Minute)
	if got, want := sched.Next(later), base.Next(later); !got.Equal(want) {
		t.Fatalf("Next after first = %v, want base %v", got, want)
	}
}
