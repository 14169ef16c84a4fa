package agentkit

import (
	"context"
	"testing"
	"time"

	core "finwatch/internal/agent"
)

type fakePort struct {
	added   map[string]string // fullName -> kind
	removed []string
}

func newFakePort() *fakePort { return &fakePort{added: map[string]string{}} }

func (f *fakePort) Enabled() bool           { return true }
func (f *fakePort) Snapshot() core.Snapshot { return core.Snapshot{Enabled: true} }

func (f *fakePort) AddCron(name, _ string, _ time.Duration, _ func(ctx context.Context) error) (string, error) {
	f.added[name] = "cron"
	return name, nil
}

func (f *fakePort) AddCronOpt(name, _ string, _ time.Duration, _ core.TaskOptions, _ func(ctx context.Context) error) (string, error) {
	f.added[name] = "cron"
	return name, nil
}

func (f *fakePort) AddInterval(name string, _, _ time.Duration, _ func(ctx context.Context) error) (string, error) {
	f.added[name] = "interval"
	return name, nil
}

func (f *fakePort) AddIntervalOpt(name string, _, _ time.Duration, _ core.TaskOptions, _ func(ctx context.Context) error) (string, error) {
	f.added[name] = "interval"
	return name, nil
}

func (f *fakePort) AddDaily(name, _ string, _ time.Duration, _ func(ctx context.Context) error) (string, error) {
	f.added[name] = "daily"
	return name, nil
}

func (f *fakePort) AddWeekly(name string, _ time.Weekday, _ string, _ time.Duration, _ func(ctx context.Context) error) (string, error) {
	f.added[name] = "weekly"
	return name, nil
}

func (f *fakePort) Remove(name string) bool {
	f.removed = append(f.removed, name)
	delete(f.added, name)
	return true
}

func noop(context.Context) error { return nil }

func helperWith(port core.SchedulerPort) *ScheduleHelper {
	deps := core.AgentDeps{Services: &core.Services{Scheduler: port}}
	return NewScheduleHelper("price", deps)
}

func TestScheduleNamespacing(t *testing.T) {
	t.Parallel()

	port := newFakePort()
	h := helperWith(port)

	if err := h.Every("fetch", 15*time.Minute).Do(noop); err != nil {
		t.Fatalf("Every.Do: %v", err)
	}
	if kind, ok := port.added["price:fetch"]; !ok || kind != "interval" {
		t.Fatalf("added = %v, want price:fetch as interval", port.added)
	}
}

func TestScheduleSpecKinds(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		wantKind string
		wantErr  bool
	}{
		{name: "cron", spec: "*/5 * * * *", wantKind: "cron"},
		{name: "macro", spec: "@hourly", wantKind: "cron"},
		{name: "duration", spec: "55m", wantKind: "interval"},
		{name: "every prefix", spec: "every:15m", wantKind: "interval"},
		{name: "hhmm", spec: "02:30", wantKind: "interval"},
		{name: "garbage", spec: "tomorrow", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			port := newFakePort()
			h := helperWith(port)
			err := h.Spec("job", tt.spec).Do(noop)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Spec(%q).Do() error = nil, want parse error", tt.spec)
				}
				if len(port.added) != 0 {
					t.Fatalf("nothing should be registered on parse error, got %v", port.added)
				}
				return
			}
			if err != nil {
				t.Fatalf("Spec(%q).Do() error = %v", tt.spec, err)
			}
			if got := port.added["price:job"]; got != tt.wantKind {
				t.Fatalf("kind = %q, want %q", got, tt.wantKind)
			}
		})
	}
}

func TestScheduleCleanup(t *testing.T) {
	t.Parallel()

	port := newFakePort()
	h := helperWith(port)

	if err := h.Daily("digest", "07:30").Do(noop); err != nil {
		t.Fatalf("Daily.Do: %v", err)
	}
	if err := h.Weekly("rollup", time.Monday, "07:35").Do(noop); err != nil {
		t.Fatalf("Weekly.Do: %v", err)
	}
	if len(port.added) != 2 {
		t.Fatalf("added = %v, want 2 tasks", port.added)
	}

	h.Remove("digest")
	if _, ok := port.added["price:digest"]; ok {
		t.Fatalf("price:digest still registered after Remove")
	}

	h.cleanup()
	if len(port.added) != 0 {
		t.Fatalf("added after cleanup = %v, want empty", port.added)
	}
}

func TestScheduleWithoutService(t *testing.T) {
	t.Parallel()

	h := NewScheduleHelper("price", core.AgentDeps{})
	if err := h.Every("fetch", time.Minute).Do(noop); err == nil {
		t.Fatalf("Do without scheduler service should error")
	}
}
