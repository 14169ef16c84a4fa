package watchdog

import (
	"context"
	"sync"
	"time"

	sdaemon "github.com/coreos/go-systemd/v22/daemon"

	rtsup "finwatch/internal/runtime/supervisor"
	logx "finwatch/pkg/logx"
)

// Config controls systemd sd_notify integration.
type Config struct {
	// Enabled nil means auto: active, with pings only when systemd
	// advertises a watchdog. Explicit false turns all notifications off.
	Enabled *bool

	// Interval overrides the ping cadence. Zero means half the interval
	// systemd advertises via WatchdogSec.
	Interval time.Duration
}

// Service reports daemon liveness to systemd: READY=1 once started,
// WATCHDOG=1 pings while running, STOPPING=1 on shutdown.
//
// Outside systemd there is no NOTIFY_SOCKET and every sd_notify call is a
// no-op, so the service is safe to run unconditionally.
type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	sup *rtsup.Supervisor

	// seams for tests
	notify     func(unsetEnv bool, state string) (bool, error)
	wdInterval func(unsetEnv bool) (time.Duration, error)
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:        cfg,
		log:        log,
		notify:     sdaemon.SdNotify,
		wdInterval: sdaemon.SdWatchdogEnabled,
	}
}

func (s *Service) enabled(cfg Config) bool {
	if cfg.Enabled != nil {
		return *cfg.Enabled
	}
	return true
}

// pingInterval resolves the effective cadence: the config override, or half
// of systemd's WatchdogSec. Zero means no ping loop.
func (s *Service) pingInterval(cfg Config) time.Duration {
	if cfg.Interval > 0 {
		return cfg.Interval
	}
	wd, err := s.wdInterval(false)
	if err != nil {
		s.log.Warn("systemd watchdog detection failed", logx.Err(err))
		return 0
	}
	if wd <= 0 {
		return 0
	}
	return wd / 2
}

// Start announces READY=1 and begins the ping loop when a watchdog interval
// is known. Idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg
	running := s.sup != nil
	s.mu.Unlock()

	if running || !s.enabled(cfg) {
		return
	}

	if sent, err := s.notify(false, sdaemon.SdNotifyReady); err != nil {
		s.log.Warn("sd_notify READY failed", logx.Err(err))
	} else if sent {
		s.log.Info("systemd notified: ready")
	}

	interval := s.pingInterval(cfg)
	if interval <= 0 {
		s.log.Debug("systemd watchdog not configured; ping loop disabled")
		return
	}

	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// Liveness reporting must never take the app down.
		rtsup.WithCancelOnError(false),
	)
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		sup.Cancel()
		return
	}
	s.sup = sup
	s.mu.Unlock()

	s.log.Info("watchdog ping loop started", logx.Duration("interval", interval))
	sup.Go0("watchdog.ping", func(c context.Context) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				if _, err := s.notify(false, sdaemon.SdNotifyWatchdog); err != nil {
					s.log.Warn("sd_notify WATCHDOG failed", logx.Err(err))
				}
			}
		}
	})
}

// Reconfigure applies cfg; enable or interval changes restart the ping loop.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.sup != nil
	s.mu.Unlock()

	if s.enabled(prev) == s.enabled(cfg) && prev.Interval == cfg.Interval {
		return
	}
	if running {
		s.stopLoop(ctx)
	}
	if s.enabled(cfg) {
		s.Start(ctx)
	}
}

// Stop announces STOPPING=1 and ends the ping loop.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if s.enabled(cfg) {
		if _, err := s.notify(false, sdaemon.SdNotifyStopping); err != nil {
			s.log.Warn("sd_notify STOPPING failed", logx.Err(err))
		}
	}
	s.stopLoop(ctx)
}

func (s *Service) stopLoop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
}
