package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	kit "finwatch/internal/transport"
	logx "finwatch/pkg/logx"
)

type fakeSender struct {
	channel string

	mu   sync.Mutex
	fail int // fail this many sends before succeeding
	got  []kit.Notification
}

func (f *fakeSender) Channel() string                 { return f.channel }
func (f *fakeSender) Start(ctx context.Context) error { return nil }
func (f *fakeSender) Stop(ctx context.Context) error  { return nil }

func (f *fakeSender) Send(ctx context.Context, n kit.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("send failed")
	}
	f.got = append(f.got, n)
	return nil
}

func (f *fakeSender) sent() []kit.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kit.Notification(nil), f.got...)
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop(), nil, nil)

	if s.cfg.DefaultChannel != "telegram" {
		t.Fatalf("DefaultChannel = %q, want telegram", s.cfg.DefaultChannel)
	}
	if s.cfg.Workers != 2 {
		t.Fatalf("Workers = %d, want 2", s.cfg.Workers)
	}
	if s.cfg.QueueSize != 512 {
		t.Fatalf("QueueSize = %d, want 512", s.cfg.QueueSize)
	}
	if s.cfg.RatePerSec != 3 {
		t.Fatalf("RatePerSec = %d, want 3", s.cfg.RatePerSec)
	}
	if s.cfg.RetryBase != 500*time.Millisecond {
		t.Fatalf("RetryBase = %v, want 500ms", s.cfg.RetryBase)
	}
	if s.cfg.RetryMaxDelay != 10*time.Second {
		t.Fatalf("RetryMaxDelay = %v, want 10s", s.cfg.RetryMaxDelay)
	}
	if s.cfg.DedupMaxEntries != 2000 {
		t.Fatalf("DedupMaxEntries = %d, want 2000", s.cfg.DedupMaxEntries)
	}
}

func TestDedupKeyDistinguishesFields(t *testing.T) {
	t.Parallel()
	base := kit.Notification{Channel: "telegram", Target: kit.Target{ChatID: 1}, Subject: "s", Text: "body"}

	if dedupKey(kit.Notification{Text: "no channel"}) != "" {
		t.Fatal("expected empty key for notification without channel")
	}

	keys := map[string]string{"base": dedupKey(base)}
	variants := map[string]kit.Notification{}

	n := base
	n.Channel = "email"
	variants["channel"] = n
	n = base
	n.Target = kit.Target{Address: "ops@example.com"}
	variants["target"] = n
	n = base
	n.Subject = "other"
	variants["subject"] = n
	n = base
	n.Text = "other body"
	variants["text"] = n
	n = base
	n.Priority = 9
	variants["priority"] = n

	for name, v := range variants {
		k := dedupKey(v)
		if k == keys["base"] {
			t.Fatalf("variant %q produced same key as base", name)
		}
		keys[name] = k
	}

	if dedupKey(base) != keys["base"] {
		t.Fatal("dedupKey is not stable for identical input")
	}
}

func TestDedupAllowWindow(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, logx.Nop(), nil, nil)
	ctx := context.Background()

	if !s.dedupAllow(ctx, "k", time.Minute, 10, false, nil, nil) {
		t.Fatal("first notification should be allowed")
	}
	if s.dedupAllow(ctx, "k", time.Minute, 10, false, nil, nil) {
		t.Fatal("second notification inside the window should be suppressed")
	}

	if !s.dedupAllow(ctx, "short", time.Nanosecond, 10, false, nil, nil) {
		t.Fatal("first short-window notification should be allowed")
	}
	time.Sleep(2 * time.Millisecond)
	if !s.dedupAllow(ctx, "short", time.Nanosecond, 10, false, nil, nil) {
		t.Fatal("expired window should allow again")
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 500 * time.Millisecond, RetryMaxDelay: 10 * time.Second}

	d := retryDelay(cfg, 1)
	if d < 350*time.Millisecond || d > 650*time.Millisecond {
		t.Fatalf("retryDelay(1) = %v, want within 0.7..1.3 of base", d)
	}

	d = retryDelay(cfg, 10)
	if d > cfg.RetryMaxDelay {
		t.Fatalf("retryDelay(10) = %v, want <= %v", d, cfg.RetryMaxDelay)
	}
}

func TestPrefixForPriority(t *testing.T) {
	t.Parallel()
	tests := []struct {
		priority int
		prefix   string
	}{
		{priority: 9, prefix: "🚨 "},
		{priority: 7, prefix: "⚠️ "},
		{priority: 5, prefix: "ℹ️ "},
		{priority: 3, prefix: ""},
		{priority: 0, prefix: ""},
	}
	for _, tt := range tests {
		if got := prefixForPriority(tt.priority); got != tt.prefix {
			t.Fatalf("prefixForPriority(%d) = %q, want %q", tt.priority, got, tt.prefix)
		}
	}
}

func TestNotifyDeliversViaDefaultChannel(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{channel: "telegram"}
	s := New(Config{Enabled: true, Workers: 1, RatePerSec: 100}, logx.Nop(), nil, nil)
	s.SetSender(fs)
	s.Start(context.Background())

	n := kit.Notification{
		Priority: 9,
		Target:   kit.Target{ChatID: 42},
		Subject:  "price alert",
		Text:     "BTC-USD moved 4.2% in 1h",
	}
	if err := s.Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	s.Stop(context.Background())

	got := fs.sent()
	if len(got) != 1 {
		t.Fatalf("sent = %d notifications, want 1", len(got))
	}
	if got[0].Channel != "telegram" {
		t.Fatalf("Channel = %q, want telegram (default)", got[0].Channel)
	}
	if !strings.HasPrefix(got[0].Text, "🚨 ") {
		t.Fatalf("Text = %q, want priority prefix", got[0].Text)
	}

	hist := s.Snapshot()
	if len(hist) != 1 {
		t.Fatalf("history = %d items, want 1", len(hist))
	}
	if !strings.HasPrefix(hist[0].Text, "price alert: ") {
		t.Fatalf("history text = %q, want subject prefix", hist[0].Text)
	}
}

func TestNotifyUnknownChannel(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Workers: 1}, logx.Nop(), nil, nil)
	s.SetSender(&fakeSender{channel: "telegram"})
	s.Start(context.Background())
	defer s.Stop(context.Background())

	err := s.Notify(context.Background(), kit.Notification{Channel: "pager", Text: "x"})
	if !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("Notify error = %v, want ErrUnknownChannel", err)
	}
}

func TestNotifyDisabledAndStopped(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: false}, logx.Nop(), nil, nil)
	if err := s.Notify(context.Background(), kit.Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Notify on disabled = %v, want ErrDisabled", err)
	}

	s = New(Config{Enabled: true}, logx.Nop(), nil, nil)
	if err := s.Notify(context.Background(), kit.Notification{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify before Start = %v, want ErrStopped", err)
	}
}

func TestHighPriorityGetsExtraAttempt(t *testing.T) {
	t.Parallel()
	cfg := Config{
		Enabled:       true,
		Workers:       1,
		RatePerSec:    100,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}

	// RetryMax 2 means 3 attempts; 3 failures exhaust them.
	fs := &fakeSender{channel: "telegram", fail: 3}
	s := New(cfg, logx.Nop(), nil, nil)
	s.SetSender(fs)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), kit.Notification{Target: kit.Target{ChatID: 1}, Text: "routine"}); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	s.Stop(context.Background())
	if got := fs.sent(); len(got) != 0 {
		t.Fatalf("routine notification delivered after %d sends, want dropped", len(got))
	}

	// Priority >= 7 adds a fourth attempt, which succeeds.
	fs = &fakeSender{channel: "telegram", fail: 3}
	s = New(cfg, logx.Nop(), nil, nil)
	s.SetSender(fs)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), kit.Notification{Priority: 8, Target: kit.Target{ChatID: 1}, Text: "alert"}); err != nil {
		t.Fatalf("Notify error: %v", err)
	}
	s.Stop(context.Background())
	if got := fs.sent(); len(got) != 1 {
		t.Fatalf("alert delivered %d times, want 1", len(got))
	}
}
