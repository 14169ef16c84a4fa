package config

import (
	logx "finwatch/pkg/logx"
	"reflect"
	"sort"
	"strings"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens,
// passwords or API keys), and (3) a list of agent names that changed
// (enable/channels/config).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Telegram (never log token)
	oTg, nTg := oldCfg.Telegram, newCfg.Telegram
	oTok := strings.TrimSpace(oTg.Token) != ""
	nTok := strings.TrimSpace(nTg.Token) != ""
	oTg.Token, nTg.Token = "", ""
	if oTok != nTok || oTg != nTg {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", nTok),
			logx.Bool("telegram.chat_id_set", newCfg.Telegram.ChatID != 0),
			logx.Int("telegram.thread_id", newCfg.Telegram.ThreadID),
			logx.String("telegram.request_timeout", strings.TrimSpace(newCfg.Telegram.RequestTimeout)),
		)
	}

	// Email (never log SMTP password)
	oEm, nEm := oldCfg.Email, newCfg.Email
	oPw := strings.TrimSpace(oEm.SMTP.Password) != ""
	nPw := strings.TrimSpace(nEm.SMTP.Password) != ""
	oEm.SMTP.Password, nEm.SMTP.Password = "", ""
	if oPw != nPw || !reflect.DeepEqual(oEm, nEm) {
		changed = append(changed, "email")
		attrs = append(attrs,
			logx.String("email.smtp_host", strings.TrimSpace(newCfg.Email.SMTP.Host)),
			logx.Int("email.smtp_port", newCfg.Email.SMTP.Port),
			logx.Bool("email.starttls", newCfg.Email.SMTP.StartTLS),
			logx.Bool("email.from_set", strings.TrimSpace(newCfg.Email.From) != ""),
			logx.Int("email.to_count", len(newCfg.Email.To)),
			logx.Bool("email.password_set", nPw),
		)
	}

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) ||
		oldCfg.Logging.Telegram.Enabled != newCfg.Logging.Telegram.Enabled ||
		oldCfg.Logging.Telegram.ThreadID != newCfg.Logging.Telegram.ThreadID ||
		oldCfg.Logging.Telegram.MinLevel != newCfg.Logging.Telegram.MinLevel ||
		oldCfg.Logging.Telegram.RatePerSec != newCfg.Logging.Telegram.RatePerSec {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Pprof (never log token)
	if oldCfg.Pprof.Enabled != newCfg.Pprof.Enabled ||
		strings.TrimSpace(oldCfg.Pprof.Addr) != strings.TrimSpace(newCfg.Pprof.Addr) ||
		strings.TrimSpace(oldCfg.Pprof.Prefix) != strings.TrimSpace(newCfg.Pprof.Prefix) ||
		oldCfg.Pprof.AllowInsecure != newCfg.Pprof.AllowInsecure ||
		strings.TrimSpace(oldCfg.Pprof.ReadTimeout) != strings.TrimSpace(newCfg.Pprof.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.WriteTimeout) != strings.TrimSpace(newCfg.Pprof.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Pprof.IdleTimeout) != strings.TrimSpace(newCfg.Pprof.IdleTimeout) ||
		oldCfg.Pprof.MutexProfileFraction != newCfg.Pprof.MutexProfileFraction ||
		oldCfg.Pprof.BlockProfileRate != newCfg.Pprof.BlockProfileRate ||
		oldCfg.Pprof.MemProfileRate != newCfg.Pprof.MemProfileRate ||
		(strings.TrimSpace(oldCfg.Pprof.Token) != "") != (strings.TrimSpace(newCfg.Pprof.Token) != "") {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.String("pprof.prefix", strings.TrimSpace(newCfg.Pprof.Prefix)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	// Watchdog. Enabled is a pointer (omitted means auto-detect).
	if !reflect.DeepEqual(oldCfg.Watchdog, newCfg.Watchdog) {
		changed = append(changed, "watchdog")
		enabledSet := newCfg.Watchdog.Enabled != nil
		attrs = append(attrs,
			logx.Bool("watchdog.enabled_set", enabledSet),
			logx.Bool("watchdog.enabled", enabledSet && *newCfg.Watchdog.Enabled),
			logx.String("watchdog.interval", strings.TrimSpace(newCfg.Watchdog.Interval)),
		)
	}

	// Scheduler (triggers)
	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	// Task engine (executor)
	oTE := derefTaskEngine(oldCfg.TaskEngine)
	nTE := derefTaskEngine(newCfg.TaskEngine)
	oPresent := oldCfg.TaskEngine != nil
	nPresent := newCfg.TaskEngine != nil
	if oPresent != nPresent || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")

		enabledEffective := newCfg.Scheduler.Enabled
		enabledSet := false
		if newCfg.TaskEngine != nil && newCfg.TaskEngine.Enabled != nil {
			enabledSet = true
			enabledEffective = *newCfg.TaskEngine.Enabled
		}

		attrs = append(attrs,
			logx.Bool("task_engine.present", nPresent),
			logx.Bool("task_engine.enabled", enabledEffective),
			logx.Bool("task_engine.enabled_set", enabledSet),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.String("task_engine.max_queue_delay", strings.TrimSpace(nTE.MaxQueueDelay)),
			logx.Int("task_engine.history_size", nTE.HistorySize),
			logx.Int("task_engine.retry_max", nTE.RetryMax),
		)
	}

	// Notifier (async pipeline)
	// Note: section may be nil (omitted). Treat nil as runtime defaults for a more accurate summary.
	defN := &NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       "500ms",
		RetryMaxDelay:   "10s",
		DedupWindow:     "1m",
		DedupMaxEntries: 2000,
		PersistDedup:    false,
	}
	oldN := oldCfg.Notifier
	newN := newCfg.Notifier
	if oldN == nil {
		oldN = defN
	}
	if newN == nil {
		newN = defN
	}
	if !reflect.DeepEqual(*oldN, *newN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.String("notifier.default_channel", strings.TrimSpace(newN.DefaultChannel)),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
			logx.Bool("notifier.persist_dedup", newN.PersistDedup),
		)
	}

	// Storage (persistence)
	// Note: nil means the default sqlite store, not "disabled".
	defS := &StorageConfig{Driver: "sqlite", Path: "./finwatch.db"}
	oldS := oldCfg.Storage
	newS := newCfg.Storage
	if oldS == nil {
		oldS = defS
	}
	if newS == nil {
		newS = defS
	}
	if !reflect.DeepEqual(*oldS, *newS) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newS.BusyTimeout)),
		)
	}

	// Market (spot-price client)
	if strings.TrimSpace(oldCfg.Market.BaseURL) != strings.TrimSpace(newCfg.Market.BaseURL) ||
		strings.TrimSpace(oldCfg.Market.RequestTimeout) != strings.TrimSpace(newCfg.Market.RequestTimeout) {
		changed = append(changed, "market")
		attrs = append(attrs,
			logx.Bool("market.base_url_set", strings.TrimSpace(newCfg.Market.BaseURL) != ""),
			logx.String("market.request_timeout", strings.TrimSpace(newCfg.Market.RequestTimeout)),
		)
	}

	// News (never log API keys)
	oNw, nNw := oldCfg.News, newCfg.News
	oBKey := strings.TrimSpace(oNw.Brave.APIKey) != ""
	nBKey := strings.TrimSpace(nNw.Brave.APIKey) != ""
	oLKey := strings.TrimSpace(oNw.LLM.APIKey) != ""
	nLKey := strings.TrimSpace(nNw.LLM.APIKey) != ""
	oNw.Brave.APIKey, oNw.LLM.APIKey = "", ""
	nNw.Brave.APIKey, nNw.LLM.APIKey = "", ""
	if oBKey != nBKey || oLKey != nLKey || oNw != nNw {
		changed = append(changed, "news")
		attrs = append(attrs,
			logx.Bool("news.brave_key_set", nBKey),
			logx.Bool("news.llm_key_set", nLKey),
			logx.String("news.llm_model", strings.TrimSpace(newCfg.News.LLM.Model)),
		)
	}

	// Agents (summarize only; details at debug)
	agentChanged := diffAgents(oldCfg.Agents, newCfg.Agents)
	if len(agentChanged) > 0 {
		changed = append(changed, "agents")
		attrs = append(attrs,
			logx.Int("agents.changed_count", len(agentChanged)),
			logx.Int("agents.enabled_count", countEnabled(newCfg.Agents)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, agentChanged
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func countEnabled(m map[string]AgentConfigRaw) int {
	if len(m) == 0 {
		return 0
	}
	n := 0
	for _, v := range m {
		if v.Enabled {
			n++
		}
	}
	return n
}

func diffAgents(oldM, newM map[string]AgentConfigRaw) []string {
	if oldM == nil {
		oldM = map[string]AgentConfigRaw{}
	}
	if newM == nil {
		newM = map[string]AgentConfigRaw{}
	}

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o := oldM[name]
		n := newM[name]
		if o.Enabled != n.Enabled {
			out = append(out, name)
			continue
		}
		if !reflect.DeepEqual(o.Channels, n.Channels) {
			out = append(out, name)
			continue
		}
		if !reflect.DeepEqual(o.Allow, n.Allow) {
			out = append(out, name)
			continue
		}
		if canonicalHashJSON(o.Config) != canonicalHashJSON(n.Config) {
			out = append(out, name)
			continue
		}
	}
	sort.Strings(out)
	return out
}
