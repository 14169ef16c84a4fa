package agent

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"finwatch/internal/config"
	"finwatch/internal/eventbus"
	"finwatch/internal/runtime/lifecycle"
	"finwatch/internal/storage"
	logx "finwatch/pkg/logx"
)

type StopReason = lifecycle.StopReason

const (
	StopAgentDisable    = lifecycle.StopAgentDisable
	StopAgentQuarantine = lifecycle.StopAgentQuarantine
)

type agentEvent struct {
	Agent  string `json:"agent"`
	Stage  string `json:"stage,omitempty"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
	Count  int    `json:"count,omitempty"`
}

type Agent interface {
	Name() string
	Init(ctx context.Context, deps AgentDeps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type ConfigurableAgent interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

type AgentDeps struct {
	Logger   logx.Logger
	Config   *ConfigManager
	Services *Services
	Bus      eventbus.Bus
	Store    storage.Store
}

type AgentManager struct {
	mu sync.Mutex

	log  logx.Logger
	cfgm *ConfigManager
	deps AgentDeps
	reg  map[string]Agent
	run  map[string]bool
	// inited tracks agents that have successfully passed Init at least once.
	// We avoid re-calling Init on every enable/disable cycle to prevent
	// accidental double-initialization leaks (goroutines, resources, etc.).
	// Agents that need to react to config changes should implement
	// ConfigurableAgent and/or HealthChecker.
	inited map[string]bool
	// last config blob hash per running agent (used to avoid redundant OnConfigChange calls)
	lastRawHash map[string]uint64
	// last hash of selected global config values that agents may implicitly depend on
	lastGlobalHash uint64

	// Internal, long-lived base context for all agent contexts.
	// IMPORTANT: baseCtx is NOT the app ctx passed to StartAll/OnConfigUpdate (which may be call-scoped).
	// We "bind" app ctx only as a bridge: when appCtx is done, baseCancel is called.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	bound      bool

	// per-agent run context (cancelled on disable/stop)
	actx    map[string]context.Context
	acancel map[string]context.CancelFunc

	// quarantine tracks agents that are intentionally kept disabled due to invalid config.
	quarantine map[string]quarantineState

	// per-agent allowlists (mutable for hot reload)
	caps  map[string]*capRef
	chans map[string]*capRef

	// health loops started for running agents implementing HealthChecker
	healthStarted map[string]bool
	// last known health result per agent (updated by periodic loop and on-demand checks)
	healthLast map[string]AgentHealthResult
}

// HealthChecker is an optional agent interface.
// If implemented, the manager will periodically call Health() and publish an event.
type HealthChecker interface {
	Health(ctx context.Context) (status string, err error)
}

// HealthLoopOptIn is an optional marker interface.
//
// By default, the manager will NOT start a periodic health loop even if an
// agent implements HealthChecker. Agents must explicitly opt-in to avoid
// creating background loops for simple agents.
//
// This is especially important because many agents embed AgentBase, which
// provides a trivial Health() implementation for convenience.
type HealthLoopOptIn interface {
	HealthLoopEnabled() bool
}

// SupervisorProvider is an optional interface implemented by agents embedding
// AgentBase (directly or via agentkit.EnhancedAgentBase).
// It allows the manager to attach internal goroutines (like health loops)
// to the agent's supervisor so they are owned + joinable.
type SupervisorProvider interface {
	Supervisor() *Supervisor
}

type quarantineState struct {
	rawHash uint64
	err     string
	since   time.Time
	count   int
}

func NewAgentManager(log logx.Logger, cfgm *ConfigManager, deps AgentDeps) *AgentManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &AgentManager{
		log:            log,
		cfgm:           cfgm,
		deps:           deps,
		reg:            map[string]Agent{},
		run:            map[string]bool{},
		inited:         map[string]bool{},
		lastRawHash:    map[string]uint64{},
		lastGlobalHash: 0,
		baseCtx:        baseCtx,
		baseCancel:     baseCancel,
		actx:           map[string]context.Context{},
		acancel:        map[string]context.CancelFunc{},
		quarantine:     map[string]quarantineState{},
		caps:           map[string]*capRef{},
		chans:          map[string]*capRef{},
		healthStarted:  map[string]bool{},
		healthLast:     map[string]AgentHealthResult{},
	}
}

func (am *AgentManager) emit(typ string, data agentEvent) {
	bus := am.deps.Bus
	if bus == nil {
		return
	}
	bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (am *AgentManager) ensureGuards(name string, allow, channels []string) (caps, chans *capRef) {
	am.mu.Lock()
	defer am.mu.Unlock()
	caps = am.caps[name]
	if caps == nil {
		caps = newCapRef(allow)
		am.caps[name] = caps
	} else {
		caps.Update(allow)
	}
	chans = am.chans[name]
	if chans == nil {
		chans = newCapRef(channels)
		am.chans[name] = chans
	} else {
		chans.Update(channels)
	}
	return caps, chans
}

func (am *AgentManager) deleteGuardsLocked(name string) {
	delete(am.caps, name)
	delete(am.chans, name)
	delete(am.healthStarted, name)
}

func (am *AgentManager) depsForAgent(name string, raw AgentConfigRaw) AgentDeps {
	// Create per-agent allowlist refs and wrap selected ports.
	caps, chans := am.ensureGuards(name, raw.Allow, raw.Channels)
	d := am.deps
	d.Services = wrapServicesForAgent(am.deps.Services, caps, chans)
	d.Store = wrapStoreForAgent(am.deps.Store, caps)
	return d
}

func (am *AgentManager) startHealthLoop(name string, a Agent, hc HealthChecker, agentCtx context.Context) {
	if hc == nil {
		return
	}

	// Require explicit opt-in to avoid spawning health loops for every agent
	// that happens to implement HealthChecker (e.g. by embedding AgentBase).
	if oi, ok := a.(HealthLoopOptIn); !ok || !oi.HealthLoopEnabled() {
		return
	}

	am.mu.Lock()
	if am.healthStarted[name] {
		am.mu.Unlock()
		return
	}
	am.healthStarted[name] = true
	am.mu.Unlock()

	const (
		interval   = 30 * time.Second
		timeout    = 3 * time.Second
		failThresh = 3
	)

	am.log.Debug("agent health loop started", logx.String("agent", name))
	am.emit("agent.health.loop_started", agentEvent{Agent: name})

	loop := func(ctx context.Context) {
		defer func() {
			am.log.Debug("agent health loop stopped", logx.String("agent", name))
			am.emit("agent.health.loop_stopped", agentEvent{Agent: name})
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		fails := 0

		run := func() {
			hctx, cancel := context.WithTimeout(ctx, timeout)
			status, err := hc.Health(hctx)
			cancel()
			at := time.Now()
			if err != nil {
				fails++
				am.mu.Lock()
				am.healthLast[name] = AgentHealthResult{Agent: name, At: at, Status: status, Err: err.Error(), Fails: fails}
				am.mu.Unlock()
				am.emit("agent.health", agentEvent{Agent: name, Stage: status, Err: err.Error(), Count: fails})
				if fails == failThresh {
					am.log.Warn("agent health failing repeatedly", logx.String("agent", name), logx.Int("fails", fails), logx.String("err", err.Error()))
					am.emit("agent.unhealthy", agentEvent{Agent: name, Err: err.Error(), Count: fails})
				}
				return
			}
			if fails > 0 {
				am.emit("agent.recovered", agentEvent{Agent: name, Stage: status, Count: fails})
				fails = 0
			}
			am.mu.Lock()
			am.healthLast[name] = AgentHealthResult{Agent: name, At: at, Status: status}
			am.mu.Unlock()
			am.emit("agent.health", agentEvent{Agent: name, Stage: status})
		}

		// initial check
		run()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}

	// Prefer attaching to the agent supervisor so the goroutine becomes owned + joinable.
	if sp, ok := a.(SupervisorProvider); ok {
		if sup := sp.Supervisor(); sup != nil {
			sup.Go0("health.loop", loop)
			return
		}
	}

	// Fallback: run on a raw goroutine bound to agentCtx.
	// For opt-in agents we expect SupervisorProvider to be available.
	if agentCtx == nil {
		agentCtx = context.Background()
	}
	go loop(agentCtx)
}

func (am *AgentManager) isQuarantined(name string, rawHash uint64) bool {
	am.mu.Lock()
	st, ok := am.quarantine[name]
	am.mu.Unlock()
	return ok && st.rawHash == rawHash
}

func (am *AgentManager) clearQuarantineOnChange(name string, rawHash uint64) {
	am.mu.Lock()
	st, ok := am.quarantine[name]
	if ok && st.rawHash != rawHash {
		delete(am.quarantine, name)
		am.mu.Unlock()
		am.log.Info("agent quarantine cleared (config changed)", logx.String("agent", name))
		am.emit("agent.quarantine_cleared", agentEvent{Agent: name})
		return
	}
	am.mu.Unlock()
}

// Global deps feed into agent applies (API keys, endpoints), so a global
// change also warrants a retry.
func (am *AgentManager) clearQuarantineOnGlobalChange(name string) {
	am.mu.Lock()
	if _, ok := am.quarantine[name]; ok {
		delete(am.quarantine, name)
		am.mu.Unlock()
		am.log.Info("agent quarantine cleared (global deps changed)", logx.String("agent", name))
		am.emit("agent.quarantine_cleared", agentEvent{Agent: name})
		return
	}
	am.mu.Unlock()
}

func (am *AgentManager) setQuarantine(name string, rawHash uint64, err error, stage string) {
	if err == nil {
		return
	}
	errStr := err.Error()
	am.mu.Lock()
	prev, ok := am.quarantine[name]
	// Avoid spamming logs when reconcile runs repeatedly with the same broken config.
	if ok && prev.rawHash == rawHash && prev.err == errStr {
		prev.count++
		am.quarantine[name] = prev
		am.mu.Unlock()
		return
	}
	count := 1
	if ok {
		count = prev.count + 1
	}
	am.quarantine[name] = quarantineState{rawHash: rawHash, err: errStr, since: time.Now(), count: count}
	am.mu.Unlock()

	am.log.Error("agent quarantined", logx.String("agent", name), logx.String("stage", stage), logx.String("err", errStr))
	am.emit("agent.quarantined", agentEvent{Agent: name, Stage: stage, Err: errStr, Count: count})
}

// globalDepsHash captures a small, conservative subset of config that agents might implicitly depend on.
// Keeping this small avoids poking unrelated agents on common service-level config changes.
func globalDepsHash(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	type deps struct {
		Market         config.MarketConfig `json:"market"`
		News           config.NewsConfig   `json:"news"`
		DefaultChannel string              `json:"default_channel"`
	}
	var d deps
	d.Market = cfg.Market
	d.News = cfg.News
	if cfg.Notifier != nil {
		d.DefaultChannel = cfg.Notifier.DefaultChannel
	}
	b, _ := json.Marshal(d)
	return hashBytes(b)
}

// BindContext binds appCtx to baseCtx via cancellation bridge. First non-nil bind wins.
// This avoids agents dying because caller passed a short-lived ctx into StartAll/OnConfigUpdate.
func (am *AgentManager) BindContext(appCtx context.Context) {
	am.mu.Lock()
	if am.bound || appCtx == nil {
		am.mu.Unlock()
		return
	}
	am.bound = true
	baseCancel := am.baseCancel
	am.mu.Unlock()

	go func() {
		<-appCtx.Done()
		baseCancel()
	}()
}

func (am *AgentManager) ctxOr(fallback context.Context, name string) context.Context {
	am.mu.Lock()
	actx := am.actx[name]
	am.mu.Unlock()
	if actx != nil {
		return actx
	}
	return fallback
}

func (am *AgentManager) Register(a ...Agent) {
	am.mu.Lock()
	defer am.mu.Unlock()
	for _, ag := range a {
		am.reg[ag.Name()] = ag
	}
}

func (am *AgentManager) StartAll(ctx context.Context) error {
	am.BindContext(ctx)
	return am.reconcile(am.cfgm.Get())
}

func (am *AgentManager) StopAll(ctx context.Context, reason StopReason) {
	am.mu.Lock()
	names := make([]string, 0, len(am.reg))
	for name := range am.reg {
		names = append(names, name)
	}
	am.mu.Unlock()

	for _, name := range names {
		am.stopOne(ctx, name, reason)
	}
}

func (am *AgentManager) OnConfigUpdate(ctx context.Context, cfg *Config) {
	am.BindContext(ctx)
	_ = am.reconcile(cfg)
}

func (am *AgentManager) stopOne(stopCtx context.Context, name string, reason StopReason) {
	am.mu.Lock()
	a := am.reg[name]
	running := am.run[name]
	cancel := am.acancel[name]
	actx := am.actx[name]
	am.mu.Unlock()

	if !running || a == nil {
		return
	}

	start := time.Now()
	am.log.Debug("stopping agent", logx.String("agent", name), logx.String("reason", string(reason)))

	// cancel agent context first (stop background loops promptly)
	if cancel != nil {
		cancel()
	}

	// call Stop with stopCtx, but do not allow a misbehaving agent to block shutdown forever.
	done := make(chan struct{})
	go func() {
		_ = am.safeCall("agent.stop."+name, func() error { return a.Stop(stopCtx) })
		close(done)
	}()
	select {
	case <-done:
		// ok
	case <-stopCtx.Done():
		am.log.Warn("agent stop timeout (continuing)", logx.String("agent", name), logx.String("err", stopCtx.Err().Error()))
		am.emit("agent.stop_timeout", agentEvent{Agent: name, Reason: string(reason), Err: stopCtx.Err().Error()})
	}

	am.mu.Lock()
	am.run[name] = false
	am.healthLast[name] = AgentHealthResult{Agent: name, At: time.Now(), Status: "stopped"}
	delete(am.actx, name)
	delete(am.acancel, name)
	delete(am.lastRawHash, name)
	am.deleteGuardsLocked(name)
	am.mu.Unlock()

	took := time.Since(start)
	am.emit("agent.stopped", agentEvent{Agent: name, Reason: string(reason), TookMS: took.Milliseconds()})
	if took >= 500*time.Millisecond {
		am.log.Info("agent stopped", logx.String("agent", name), logx.String("reason", string(reason)), logx.Duration("took", took), logx.Bool("ctx_was_set", actx != nil))
	} else {
		am.log.Debug("agent stopped", logx.String("agent", name), logx.String("reason", string(reason)), logx.Duration("took", took), logx.Bool("ctx_was_set", actx != nil))
	}
}

func (am *AgentManager) reconcile(cfg *Config) error {
	// compute global dependency hash once per reconcile (kept intentionally small)
	newGlobal := globalDepsHash(cfg)
	am.mu.Lock()
	globalChanged := newGlobal != am.lastGlobalHash
	am.mu.Unlock()

	// snapshot desired actions without holding lock during agent calls
	type op struct {
		name    string
		a       Agent
		raw     AgentConfigRaw
		rawHash uint64
		enabled bool
		run     bool
	}
	am.mu.Lock()
	ops := make([]op, 0, len(am.reg))
	for name, a := range am.reg {
		raw, ok := cfg.Agents[name]
		enabled := ok && raw.Enabled
		running := am.run[name]
		rh := effectiveAgentHash(raw)
		ops = append(ops, op{name: name, a: a, raw: raw, rawHash: rh, enabled: enabled, run: running})
	}
	am.mu.Unlock()

	const callTimeout = 10 * time.Second

	for _, o := range ops {
		switch {
		case o.enabled && !o.run:
			// If config changed since last quarantine, clear it so we can retry.
			am.clearQuarantineOnChange(o.name, o.rawHash)
			if globalChanged {
				am.clearQuarantineOnGlobalChange(o.name)
			}
			if am.isQuarantined(o.name, o.rawHash) {
				am.log.Warn("agent enable skipped (quarantined)", logx.String("agent", o.name))
				continue
			}
			// Standardized timeout validation is enforced via quarantine (not global config rejection).
			if err := validateStandardTimeouts(o.name, o.raw.Config); err != nil {
				am.setQuarantine(o.name, o.rawHash, err, "timeouts")
				continue
			}

			am.log.Debug("agent enable requested", logx.String("agent", o.name))
			am.emit("agent.enable_requested", agentEvent{Agent: o.name})

			// start: create LONG-LIVED agent ctx from internal base ctx
			actx, cancel := context.WithCancel(am.baseCtx)
			deps := am.depsForAgent(o.name, o.raw)

			// init (bounded by timeout ctx)
			am.mu.Lock()
			needInit := !am.inited[o.name]
			am.mu.Unlock()
			if needInit {
				ictx, icancel := context.WithTimeout(actx, callTimeout)
				err := am.safeCall("agent.init."+o.name, func() error { return o.a.Init(ictx, deps) })
				icancel()
				if err != nil {
					am.log.Error("agent init failed", logx.String("agent", o.name), logx.Any("err", err))
					am.emit("agent.init_failed", agentEvent{Agent: o.name, Err: err.Error()})
					cancel()
					continue
				}
				am.mu.Lock()
				am.inited[o.name] = true
				am.mu.Unlock()
			} else {
				am.log.Debug("agent already initialized; skipping Init", logx.String("agent", o.name))
			}

			// apply config before Start (bounded by timeout ctx)
			if v, ok := o.a.(ConfigValidator); ok {
				cctx, ccancel := context.WithTimeout(actx, callTimeout)
				if err := v.ValidateConfig(cctx, o.raw.Config); err != nil {
					ccancel()
					am.setQuarantine(o.name, o.rawHash, fmt.Errorf("config validate: %w", err), "validate")
					am.emit("agent.config_invalid", agentEvent{Agent: o.name, Err: err.Error()})
					cancel()
					continue
				}
				ccancel()
			}

			if ca, ok := o.a.(ConfigurableAgent); ok {
				cctx, ccancel := context.WithTimeout(actx, callTimeout)
				err := am.safeCall("agent.config."+o.name, func() error { return ca.OnConfigChange(cctx, o.raw.Config) })
				ccancel()
				if err != nil {
					am.setQuarantine(o.name, o.rawHash, fmt.Errorf("config apply: %w", err), "config")
					am.emit("agent.config_failed", agentEvent{Agent: o.name, Err: err.Error()})
					cancel()
					continue
				}
				am.emit("agent.config_applied", agentEvent{Agent: o.name})
			}

			// Start should receive actx (long-lived). We enforce timeout externally.
			if err := am.startWithTimeout(o.name, o.a, actx, cancel, callTimeout); err != nil {
				am.log.Error("agent start failed", logx.String("agent", o.name), logx.Any("err", err))
				am.emit("agent.start_failed", agentEvent{Agent: o.name, Err: err.Error()})
				cancel()
				continue
			}

			am.mu.Lock()
			am.run[o.name] = true
			am.actx[o.name] = actx
			am.acancel[o.name] = cancel
			am.lastRawHash[o.name] = o.rawHash
			delete(am.quarantine, o.name)
			am.mu.Unlock()

			am.log.Info("agent started", logx.String("agent", o.name))
			am.emit("agent.started", agentEvent{Agent: o.name})
			if hc, ok := o.a.(HealthChecker); ok {
				am.startHealthLoop(o.name, o.a, hc, actx)
			}

		case !o.enabled && o.run:
			am.log.Debug("agent disable requested", logx.String("agent", o.name))
			am.emit("agent.disable_requested", agentEvent{Agent: o.name})
			stopCtx, cancel := context.WithTimeout(am.baseCtx, callTimeout)
			am.stopOne(stopCtx, o.name, StopAgentDisable)
			cancel()
		case o.enabled && o.run:
			if ca, ok := o.a.(ConfigurableAgent); ok {
				// Update allowlists even if the config blob itself didn't change.
				am.ensureGuards(o.name, o.raw.Allow, o.raw.Channels)
				newHash := o.rawHash
				am.mu.Lock()
				oldHash := am.lastRawHash[o.name]
				actx := am.actx[o.name]
				am.mu.Unlock()
				// If the raw config blob didn't change and global deps didn't change, skip OnConfigChange.
				// This prevents thrashing schedules/background loops on unrelated config reloads.
				if newHash == oldHash && !globalChanged {
					am.log.Debug("agent config unchanged; skipping", logx.String("agent", o.name))
					break
				}
				// If raw config changed, enforce standardized timeout validation via quarantine.
				if newHash != oldHash {
					if err := validateStandardTimeouts(o.name, o.raw.Config); err != nil {
						am.setQuarantine(o.name, newHash, err, "timeouts")
						stopCtx, cancel := context.WithTimeout(am.baseCtx, callTimeout)
						am.stopOne(stopCtx, o.name, StopAgentQuarantine)
						cancel()
						break
					}
				}
				if newHash == oldHash && globalChanged {
					am.log.Debug("agent config unchanged, but global deps changed; reapplying", logx.String("agent", o.name))
				}
				if actx == nil {
					actx = am.baseCtx
				}
				cctx, ccancel := context.WithTimeout(actx, callTimeout)
				err := am.safeCall("agent.config."+o.name, func() error { return ca.OnConfigChange(cctx, o.raw.Config) })
				ccancel()
				if err != nil {
					am.setQuarantine(o.name, newHash, fmt.Errorf("config apply: %w", err), "config")
					am.emit("agent.config_failed", agentEvent{Agent: o.name, Err: err.Error()})
					stopCtx, cancel := context.WithTimeout(am.baseCtx, callTimeout)
					am.stopOne(stopCtx, o.name, StopAgentQuarantine)
					cancel()
					break
				}
				am.emit("agent.config_applied", agentEvent{Agent: o.name})
				am.mu.Lock()
				am.lastRawHash[o.name] = newHash
				delete(am.quarantine, o.name)
				am.mu.Unlock()
			}
		}
	}

	am.mu.Lock()
	am.lastGlobalHash = newGlobal
	am.mu.Unlock()
	return nil
}

// startWithTimeout calls Start(actx) but enforces a deadline. If it times out, agent ctx is cancelled.
func (am *AgentManager) startWithTimeout(name string, a Agent, actx context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- am.safeCall("agent.start."+name, func() error { return a.Start(actx) })
	}()

	if timeout <= 0 {
		return <-done
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case err := <-done:
		return err
	case <-t.C:
		// cancel agent ctx and wait small grace for Start() to return
		cancel()

		grace := time.NewTimer(2 * time.Second)
		defer grace.Stop()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("start timeout (%s): %w", timeout, err)
			}
			return fmt.Errorf("start timeout (%s)", timeout)
		case <-grace.C:
			return fmt.Errorf("start timeout (%s): start did not return after cancel", timeout)
		}
	}
}

func (am *AgentManager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			am.log.Error("panic in agent call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

func validateStandardTimeouts(agentName string, raw json.RawMessage) error {
	// Only validate if "timeouts" is present; agents without the block are fine.
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil
	}
	b, ok := top["timeouts"]
	if !ok || len(b) == 0 || string(b) == "null" {
		return nil
	}
	var tm map[string]json.RawMessage
	if err := json.Unmarshal(b, &tm); err != nil {
		return fmt.Errorf("agent %s: timeouts must be an object", agentName)
	}
	for k, v := range tm {
		switch k {
		case "task", "operation":
			// ok
		default:
			return fmt.Errorf("agent %s: unknown timeouts field %q (supported: task, operation)", agentName, k)
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return fmt.Errorf("agent %s: invalid timeouts.%s: %w", agentName, k, err)
		}
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("agent %s: invalid timeouts.%s: %w", agentName, k, err)
		}
	}
	return nil
}

// ValidateConfig performs per-agent config validation BEFORE committing/applying a new config.
// It does not call Init/Start/Stop and should be fast.
func (am *AgentManager) ValidateConfig(ctx context.Context, cfg *Config) error {
	am.mu.Lock()
	ops := make([]struct {
		name string
		a    Agent
		raw  AgentConfigRaw
		en   bool
	}, 0, len(am.reg))
	for name, a := range am.reg {
		raw, ok := cfg.Agents[name]
		enabled := ok && raw.Enabled
		ops = append(ops, struct {
			name string
			a    Agent
			raw  AgentConfigRaw
			en   bool
		}{name: name, a: a, raw: raw, en: enabled})
	}
	am.mu.Unlock()

	for _, o := range ops {
		if !o.en || o.a == nil {
			continue
		}
		// Validate standardized timeouts schema if present.
		if err := validateStandardTimeouts(o.name, o.raw.Config); err != nil {
			return err
		}
		if v, ok := o.a.(ConfigValidator); ok {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := v.ValidateConfig(cctx, o.raw.Config)
			cancel()
			if err != nil {
				return fmt.Errorf("agent %s: config validate: %w", o.name, err)
			}
		}
	}
	return nil
}

func (am *AgentManager) DebugStatus() string {
	am.mu.Lock()
	defer am.mu.Unlock()
	out := ""
	for name := range am.reg {
		out += fmt.Sprintf("- %s: %v\n", name, am.run[name])
	}
	return out
}

// Snapshot implements AgentsPort.
func (am *AgentManager) Snapshot() AgentsSnapshot {
	cfg := am.cfgm.Get()
	am.mu.Lock()
	names := make([]string, 0, len(am.reg))
	for name := range am.reg {
		names = append(names, name)
	}
	sort.Strings(names)
	out := AgentsSnapshot{Time: time.Now(), Agents: make([]AgentStatus, 0, len(names))}
	for _, name := range names {
		a := am.reg[name]
		running := am.run[name]
		hasHealth := false
		if a != nil {
			_, hasHealth = a.(HealthChecker)
		}
		enabled := false
		hasCfg := false
		if cfg != nil && cfg.Agents != nil {
			if r, ok := cfg.Agents[name]; ok {
				enabled = r.Enabled
				hasCfg = true
			}
		}
		q, qok := am.quarantine[name]
		last := am.healthLast[name]
		out.Agents = append(out.Agents, AgentStatus{
			Name:             name,
			Enabled:          enabled,
			Running:          running,
			HasConfig:        hasCfg,
			Quarantined:      qok,
			QuarantineErr:    q.err,
			QuarantineSince:  q.since,
			HasHealthChecker: hasHealth,
			HealthLoopActive: am.healthStarted[name],
			LastHealth:       last,
		})
	}
	am.mu.Unlock()
	return out
}

// CheckHealth implements AgentsPort.
func (am *AgentManager) CheckHealth(ctx context.Context, names []string) []AgentHealthResult {
	const perAgentTimeout = 3 * time.Second

	// Determine targets without holding lock during agent calls.
	type target struct {
		name    string
		a       Agent
		hc      HealthChecker
		running bool
	}

	am.mu.Lock()
	var targets []target
	if len(names) > 0 {
		for _, name := range names {
			a := am.reg[name]
			if a == nil {
				continue
			}
			hc, _ := a.(HealthChecker)
			targets = append(targets, target{name: name, a: a, hc: hc, running: am.run[name]})
		}
	} else {
		for name, a := range am.reg {
			hc, ok := a.(HealthChecker)
			if !ok {
				continue
			}
			if !am.run[name] {
				continue
			}
			targets = append(targets, target{name: name, a: a, hc: hc, running: true})
		}
	}
	am.mu.Unlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].name < targets[j].name })

	results := make([]AgentHealthResult, 0, len(targets))
	for _, t := range targets {
		at := time.Now()
		// If not running or no health checker, just record a synthetic state.
		if !t.running || t.hc == nil {
			r := AgentHealthResult{Agent: t.name, At: at, Status: "stopped"}
			am.mu.Lock()
			am.healthLast[t.name] = r
			am.mu.Unlock()
			results = append(results, r)
			continue
		}

		base := am.ctxOr(context.Background(), t.name)
		hctx, cancel := context.WithTimeout(base, perAgentTimeout)
		// Also respect the caller context, without changing the base owner context.
		stop := func() bool { return false }
		if ctx != nil {
			stop = context.AfterFunc(ctx, cancel)
		}
		status, err := t.hc.Health(hctx)
		_ = stop()
		cancel()

		am.mu.Lock()
		prev := am.healthLast[t.name]
		fails := prev.Fails
		r := AgentHealthResult{Agent: t.name, At: at, Status: status}
		if err != nil {
			fails++
			r.Err = err.Error()
			r.Fails = fails
		} else {
			fails = 0
			r.Fails = 0
		}
		am.healthLast[t.name] = r
		am.mu.Unlock()

		results = append(results, r)
	}

	return results
}

func effectiveAgentHash(raw AgentConfigRaw) uint64 {
	// Hash config (canonical JSON) + both allowlists (order-insensitive).
	ch := canonicalHashJSON(raw.Config)

	allow := append([]string(nil), raw.Allow...)
	sort.Strings(allow)
	ab, _ := json.Marshal(allow)
	ah := hashBytes(ab)

	channels := append([]string(nil), raw.Channels...)
	sort.Strings(channels)
	cb, _ := json.Marshal(channels)
	chh := hashBytes(cb)

	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:8], ch)
	binary.LittleEndian.PutUint64(buf[8:16], ah)
	binary.LittleEndian.PutUint64(buf[16:24], chh)
	return hashBytes(buf[:])
}
