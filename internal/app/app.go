package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"finwatch/internal/config"
	"finwatch/internal/eventbus"
	"finwatch/internal/notifier"
	"finwatch/internal/observability/pprof"
	"finwatch/internal/observability/watchdog"
	"finwatch/internal/storage"
	"finwatch/internal/task/engine"
	"finwatch/internal/task/scheduler"
	kit "finwatch/internal/transport"
	"finwatch/internal/transport/email"
	"finwatch/internal/transport/telegram"
	logx "finwatch/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	tg   *telegram.Sender
	mail *email.Sender

	engine *engine.Service
	sched  *scheduler.Service
	notif  *notifier.Service
	pprof  *pprof.Service
	wd     *watchdog.Service

	agents *AgentManager

	serv *Services
	subs *SupervisorRegistry
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level)

	// Senders: both channels are optional. A missing token/host just leaves the
	// channel unregistered; the notifier rejects sends to unknown channels.
	var tg *telegram.Sender
	if tgCfg, on, err := mapTelegramConfig(cfg); err != nil {
		return nil, err
	} else if on {
		tg, err = telegram.New(tgCfg, bootLog.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
	}

	var mail *email.Sender
	if emCfg, on, err := mapEmailConfig(cfg); err != nil {
		return nil, err
	} else if on {
		mail, err = email.New(emCfg, bootLog.With(logx.String("comp", "email")))
		if err != nil {
			return nil, err
		}
	}

	// Logging service mapping
	// Important: logx.New() calls Apply() immediately. If Telegram logging is enabled but the target
	// chat isn't configured yet, Apply() will emit a warning. To avoid a false-positive warning,
	// we bootstrap with Telegram logging disabled, set the target, then Apply() the final config.
	baseLogCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    false, // set target first, then enable via Apply()
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	var logSink kit.TextSender
	if tg != nil {
		logSink = tg
	}
	logSvc, log := logx.New(baseLogCfg, logSink)
	log = log.With(logx.String("comp", "app"))

	// Set Telegram log target (chat + thread)
	if cfg.Telegram.ChatID != 0 {
		logSvc.SetTelegramTarget(cfg.Telegram.ChatID, cfg.Logging.Telegram.ThreadID)
	}

	// Apply final logging config (including Telegram enable flag). The sink
	// stays off when no Telegram sender exists.
	finalLogCfg := baseLogCfg
	finalLogCfg.Telegram.Enabled = cfg.Logging.Telegram.Enabled && tg != nil
	logSvc.Apply(finalLogCfg)

	if cfg.Logging.Telegram.Enabled && tg == nil {
		log.Warn("logging.telegram.enabled but no telegram token configured; sink disabled")
	}

	bus := eventbus.New()

	// Storage (default sqlite; driver "none" runs stateless)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	} else {
		log.Warn("storage disabled; price history, news and digest markers will not persist")
	}

	// Services mapping
	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}

	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)

	schedSvc := scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, engineSvc, log.With(logx.String("comp", "scheduler")), bus)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notifSvc := notifier.New(ncfg, log.With(logx.String("comp", "notifier")), bus, store)
	if tg != nil {
		notifSvc.SetSender(tg)
	}
	if mail != nil {
		notifSvc.SetSender(mail)
	}
	if dc := notifSvc.DefaultChannel(); ncfg.Enabled && !notifSvc.HasChannel(dc) {
		log.Warn("default notification channel has no configured sender",
			logx.String("channel", dc),
			logx.Any("configured", notifSvc.Channels()),
		)
	}

	// Watchdog (inert when not under systemd)
	wdCfg, err := mapWatchdogConfig(cfg)
	if err != nil {
		return nil, err
	}
	wdSvc := watchdog.New(wdCfg, log.With(logx.String("comp", "watchdog")))

	// pprof service mapping (optional)
	pprofCfg, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	pprofSvc := pprof.New(pprofCfg, log.With(logx.String("comp", "pprof")))

	serv := &Services{
		Scheduler: schedSvc,
		Notifier:  notifSvc,
	}

	am := NewAgentManager(log.With(logx.String("comp", "agents")),
		cfgm, AgentDeps{
			Logger:   log,
			Config:   cfgm,
			Services: serv,
			Bus:      bus,
			Store:    store,
		})
	// Expose agent runtime state for operational endpoints.
	serv.Agents = am

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		tg:      tg,
		mail:    mail,
		engine:  engineSvc,
		sched:   schedSvc,
		notif:   notifSvc,
		pprof:   pprofSvc,
		wd:      wdSvc,
		agents:  am,
		serv:    serv,
		subs:    NewSupervisorRegistry(),
	}

	// Debug snapshots served by pprof behind the same auth as the profiles.
	pprofSvc.RegisterStatus("agents", func() any { return am.Snapshot() })
	pprofSvc.RegisterStatus("scheduler", func() any { return schedSvc.Snapshot() })
	pprofSvc.RegisterStatus("engine", func() any { return engineSvc.Snapshot() })
	pprofSvc.RegisterStatus("notifier", func() any { return notifSvc.Snapshot() })
	pprofSvc.RegisterStatus("supervisors", func() any {
		out := map[string]any{}
		if a.sup != nil {
			out["app"] = a.sup.Snapshot()
		}
		for name, sup := range a.subs.Snapshot() {
			if sup != nil {
				out[name] = sup.Snapshot()
			}
		}
		return out
	})

	return a, nil
}

// trackSupervisor records a subsystem's internal supervisor for diagnostics.
// Call it after the subsystem (re)starts; services without a supervisor are
// simply removed from the registry.
func (a *App) trackSupervisor(name string, v any) {
	if a.subs == nil {
		return
	}
	if sp, ok := v.(interface{ Supervisor() *Supervisor }); ok {
		if sup := sp.Supervisor(); sup != nil {
			a.subs.Set(name, sup)
			return
		}
	}
	a.subs.Delete(name)
}

func (a *App) Agents() *AgentManager { return a.agents }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	if a.serv != nil {
		a.serv.AppSupervisor = a.sup
	}
	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
			// Engine config bounds
			if cfg.TaskEngine != nil {
				if cfg.TaskEngine.Workers < 0 {
					return fmt.Errorf("task_engine.workers must be >= 0")
				}
				if cfg.TaskEngine.QueueSize < 0 {
					return fmt.Errorf("task_engine.queue_size must be >= 0")
				}
				if cfg.TaskEngine.HistorySize < 0 {
					return fmt.Errorf("task_engine.history_size must be >= 0")
				}
				if cfg.TaskEngine.RetryMax < 0 {
					return fmt.Errorf("task_engine.retry_max must be >= 0")
				}
				if _, err := parseDurationField("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout); err != nil {
					return err
				}
				if _, err := parseDurationField("task_engine.max_queue_delay", cfg.TaskEngine.MaxQueueDelay); err != nil {
					return err
				}
				if cfg.Scheduler.Enabled && cfg.TaskEngine.Enabled != nil && !*cfg.TaskEngine.Enabled {
					return fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
				}
			}

			// duration/timezone validation (reject bad hot-reload)
			if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
				if _, err := time.LoadLocation(tz); err != nil {
					return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
				}
			}
			// sender validation (durations + address sanity)
			if _, _, err := mapTelegramConfig(cfg); err != nil {
				return err
			}
			if _, _, err := mapEmailConfig(cfg); err != nil {
				return err
			}
			// watchdog validation
			if _, err := mapWatchdogConfig(cfg); err != nil {
				return err
			}
			// pprof validation (safe even when disabled)
			if _, err := mapPprofConfig(cfg); err != nil {
				return err
			}
			// notifier validation (parse durations + basic bounds)
			if _, err := mapNotifierConfig(cfg); err != nil {
				return err
			}
			// storage validation
			if _, _, err := mapStorageConfig(cfg); err != nil {
				return err
			}
			// market/news client durations (agents parse these too; fail early here)
			if _, err := parseDurationField("market.request_timeout", cfg.Market.RequestTimeout); err != nil {
				return err
			}
			if _, err := parseDurationField("news.brave.request_timeout", cfg.News.Brave.RequestTimeout); err != nil {
				return err
			}
			if _, err := parseDurationField("news.llm.request_timeout", cfg.News.LLM.RequestTimeout); err != nil {
				return err
			}
			// per-agent validation
			if a.agents != nil {
				return a.agents.ValidateConfig(c, cfg)
			}
			return nil
		})
	}

	if a.tg != nil {
		if err := a.tg.Start(a.sup.Context()); err != nil {
			return err
		}
	}
	if a.mail != nil {
		if err := a.mail.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	if a.notif != nil && a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
		a.trackSupervisor("notifier", a.notif)
	}
	if a.engine != nil && a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
		a.trackSupervisor("task.engine", a.engine)
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	if a.pprof != nil && a.pprof.Enabled() {
		a.pprof.Start(a.sup.Context())
		a.trackSupervisor("pprof", a.pprof)
	}

	if err := a.agents.StartAll(a.sup.Context()); err != nil {
		return err
	}

	// READY=1 only after agents are scheduled.
	if a.wd != nil {
		a.wd.Start(a.sup.Context())
	}

	// Optional: log events for observability/debug (components can also subscribe themselves).
	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					// Keep this debug-level to avoid noise for frequent schedulers.
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary for logx.
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs, agentChanged := SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
					if len(agentChanged) > 0 {
						a.log.Debug("agent config changes detected", logx.Any("agents", agentChanged))
					}
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				lastApplied = newCfg

				for _, s := range sections {
					if s == "storage" || s == "telegram" || s == "email" {
						a.log.Warn("sender/storage config changed; restart required for changes to take effect",
							logx.String("section", s))
					}
				}

				// update log target first (so Apply() doesn't warn when Telegram logging is enabled)
				if newCfg.Telegram.ChatID != 0 {
					a.logs.SetTelegramTarget(newCfg.Telegram.ChatID, newCfg.Logging.Telegram.ThreadID)
				} else {
					// allow clearing target via config hot-reload
					a.logs.SetTelegramTarget(0, 0)
				}

				// apply logging updates
				a.logs.Apply(logx.Config{
					Level:   newCfg.Logging.Level,
					Console: newCfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: newCfg.Logging.File.Enabled,
						Path:    newCfg.Logging.File.Path,
					},
					Telegram: logx.TelegramConfig{
						Enabled:    newCfg.Logging.Telegram.Enabled && a.tg != nil,
						ThreadID:   newCfg.Logging.Telegram.ThreadID,
						MinLevel:   newCfg.Logging.Telegram.MinLevel,
						RatePerSec: newCfg.Logging.Telegram.RatePerSec,
					},
				})

				// apply scheduler/taskengine updates (live)
				prevSchedEnabled := a.sched.Enabled()
				prevEngEnabled := false
				if a.engine != nil {
					prevEngEnabled = a.engine.Enabled()
				}

				newEngCfg, err := mapTaskEngineConfig(newCfg)
				if err != nil {
					a.log.Warn("invalid task_engine config; keeping previous", logx.Any("err", err))
				} else if a.engine != nil {
					a.engine.Apply(c, newEngCfg)
				}
				newEngEnabled := prevEngEnabled
				if err == nil {
					newEngEnabled = newEngCfg.Enabled
				}

				a.sched.Apply(scheduler.Config{
					Enabled:  newCfg.Scheduler.Enabled,
					Timezone: newCfg.Scheduler.Timezone,
				})
				newSchedEnabled := newCfg.Scheduler.Enabled

				// enable/disable services on the fly (scheduler first on shutdown; engine first on startup)
				if prevSchedEnabled && !newSchedEnabled {
					a.log.Info("scheduler disabled via config")
					stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
					a.sched.Stop(stopCtx)
					cancel()
				}
				if prevEngEnabled && !newEngEnabled {
					a.log.Info("task engine disabled via config")
					stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
					if a.engine != nil {
						a.engine.Stop(stopCtx)
					}
					cancel()
				}
				if !prevEngEnabled && newEngEnabled {
					a.log.Info("task engine enabled via config")
					if a.engine != nil {
						a.engine.Start(c)
						a.trackSupervisor("task.engine", a.engine)
					}
				}
				if !prevSchedEnabled && newSchedEnabled {
					a.log.Info("scheduler enabled via config")
					a.sched.Start(c)
				}

				// apply notifier updates (live)
				if a.notif != nil {
					prevNotifEnabled := a.notif.Enabled()
					ncfg, err := mapNotifierConfig(newCfg)
					if err != nil {
						a.log.Warn("invalid notifier config; keeping previous", logx.Any("err", err))
					} else {
						a.notif.Apply(ncfg)
						if prevNotifEnabled && !ncfg.Enabled {
							a.log.Info("notifier disabled via config")
							stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
							a.notif.Stop(stopCtx)
							cancel()
						} else if !prevNotifEnabled && ncfg.Enabled {
							a.log.Info("notifier enabled via config")
							a.notif.Start(c)
							a.trackSupervisor("notifier", a.notif)
						}
					}
				}

				// apply pprof updates (live)
				if a.pprof != nil {
					ppc, err := mapPprofConfig(newCfg)
					if err != nil {
						a.log.Warn("invalid pprof config; keeping previous", logx.Any("err", err))
					} else {
						a.pprof.Reconfigure(c, ppc)
					}
				}

				// apply watchdog updates (live)
				if a.wd != nil {
					wdc, err := mapWatchdogConfig(newCfg)
					if err != nil {
						a.log.Warn("invalid watchdog config; keeping previous", logx.Any("err", err))
					} else {
						a.wd.Reconfigure(c, wdc)
					}
				}

				// apply agent enable/disable + per-agent config
				a.agents.OnConfigUpdate(c, newCfg)

				// Keep the final log line concise and human-friendly (details are in debug logs).
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			elapsed := time.Since(start)
			a.log.Warn(
				"stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", elapsed),
			)
			// Leak logging: observe when/if the step eventually finishes.
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.String("err", err.Error()), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Tell systemd we are leaving before the teardown starts counting.
	step("watchdog", 1*time.Second, func(c context.Context) error {
		if a.wd != nil {
			a.wd.Stop(c)
		}
		return nil
	})

	// Stop agents first (they depend on the services). StopAll is timeout-safe per-agent.
	step("agents", 4*time.Second, func(c context.Context) error { a.agents.StopAll(c, reason); return nil })

	// Stop services (order: triggers, executor, observability, delivery)
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 2*time.Second, func(c context.Context) error {
		if a.engine != nil {
			a.engine.Stop(c)
		}
		return nil
	})
	step("pprof", 1*time.Second, func(c context.Context) error {
		if a.pprof != nil {
			a.pprof.Stop(c)
		}
		return nil
	})
	step("notifier", 1*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("senders", 2*time.Second, func(c context.Context) error {
		var firstErr error
		if a.tg != nil {
			if err := a.tg.Stop(c); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if a.mail != nil {
			if err := a.mail.Stop(c); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, eventbus tap, etc.)
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	if cfg == nil {
		return engine.Config{}, nil
	}

	// Defaults (applied when config values are omitted or 0)
	enabled := cfg.Scheduler.Enabled
	workers := 0
	queueSize := 0
	historySize := 0
	retryMax := 0
	defTimeoutStr := ""
	maxQueueDelayStr := ""

	if te := cfg.TaskEngine; te != nil {
		if te.Enabled != nil {
			enabled = *te.Enabled
		}
		workers = te.Workers
		queueSize = te.QueueSize
		historySize = te.HistorySize
		retryMax = te.RetryMax
		defTimeoutStr = te.DefaultTimeout
		maxQueueDelayStr = te.MaxQueueDelay

		// Safety: avoid a config where scheduler triggers run but engine is explicitly disabled.
		if cfg.Scheduler.Enabled && te.Enabled != nil && !*te.Enabled {
			return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
		}
	}

	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if historySize < 0 {
		historySize = 0
	} else if historySize == 0 {
		historySize = 200
	}
	if retryMax < 0 {
		retryMax = 0
	} else if retryMax == 0 {
		retryMax = 3
	}

	defTimeout, err := parseDurationField("task_engine.default_timeout", defTimeoutStr)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := parseDurationField("task_engine.max_queue_delay", maxQueueDelayStr)
	if err != nil {
		return engine.Config{}, err
	}

	return engine.Config{
		Enabled:        enabled,
		Workers:        workers,
		QueueSize:      queueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    historySize,
		RetryMax:       retryMax,
	}, nil
}
