package watchdog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	sdaemon "github.com/coreos/go-systemd/v22/daemon"

	logx "finwatch/pkg/logx"
)

type notifyCounts struct {
	ready    atomic.Int64
	pings    atomic.Int64
	stopping atomic.Int64
}

func (c *notifyCounts) fn(unsetEnv bool, state string) (bool, error) {
	switch state {
	case sdaemon.SdNotifyReady:
		c.ready.Add(1)
	case sdaemon.SdNotifyWatchdog:
		c.pings.Add(1)
	case sdaemon.SdNotifyStopping:
		c.stopping.Add(1)
	}
	return true, nil
}

func TestStartPingsAndStop(t *testing.T) {
	t.Parallel()

	var c notifyCounts
	s := New(Config{Interval: 5 * time.Millisecond}, logx.Nop())
	s.notify = c.fn
	s.wdInterval = func(bool) (time.Duration, error) { return 0, nil }

	s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for c.pings.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("pings = %d, want at least 2", c.pings.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Stop(context.Background())
	if got := c.ready.Load(); got != 1 {
		t.Errorf("READY notifications = %d, want 1", got)
	}
	if got := c.stopping.Load(); got != 1 {
		t.Errorf("STOPPING notifications = %d, want 1", got)
	}

	after := c.pings.Load()
	time.Sleep(30 * time.Millisecond)
	if got := c.pings.Load(); got != after {
		t.Errorf("pings continued after stop: %d -> %d", after, got)
	}
}

func TestNoLoopWithoutSystemdWatchdog(t *testing.T) {
	t.Parallel()

	var c notifyCounts
	s := New(Config{}, logx.Nop())
	s.notify = c.fn
	s.wdInterval = func(bool) (time.Duration, error) { return 0, nil }

	s.Start(context.Background())
	if s.sup != nil {
		t.Error("ping loop started without a watchdog interval")
	}
	if got := c.ready.Load(); got != 1 {
		t.Errorf("READY notifications = %d, want 1", got)
	}
}

func TestExplicitDisable(t *testing.T) {
	t.Parallel()

	en := false
	var c notifyCounts
	s := New(Config{Enabled: &en}, logx.Nop())
	s.notify = c.fn
	s.wdInterval = func(bool) (time.Duration, error) { return 30 * time.Second, nil }

	s.Start(context.Background())
	s.Stop(context.Background())
	if total := c.ready.Load() + c.pings.Load() + c.stopping.Load(); total != 0 {
		t.Errorf("notifications = %d, want 0 when disabled", total)
	}
}

func TestPingInterval(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop())
	s.wdInterval = func(bool) (time.Duration, error) { return 30 * time.Second, nil }

	if got := s.pingInterval(Config{}); got != 15*time.Second {
		t.Errorf("pingInterval = %v, want half of WatchdogSec", got)
	}
	if got := s.pingInterval(Config{Interval: 5 * time.Second}); got != 5*time.Second {
		t.Errorf("pingInterval override = %v, want 5s", got)
	}

	s.wdInterval = func(bool) (time.Duration, error) { return 0, nil }
	if got := s.pingInterval(Config{}); got != 0 {
		t.Errorf("pingInterval without systemd = %v, want 0", got)
	}
}

func TestReconfigureStopsLoop(t *testing.T) {
	t.Parallel()

	var c notifyCounts
	s := New(Config{Interval: 5 * time.Millisecond}, logx.Nop())
	s.notify = c.fn
	s.wdInterval = func(bool) (time.Duration, error) { return 0, nil }

	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for c.pings.Load() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("ping loop did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	en := false
	s.Reconfigure(context.Background(), Config{Enabled: &en, Interval: 5 * time.Millisecond})
	if s.sup != nil {
		t.Error("ping loop still running after disable")
	}
}
