package config

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Email    EmailConfig    `json:"email,omitempty"`
	Logging  LoggingConfig  `json:"logging"`
	Pprof    PprofConfig    `json:"pprof,omitempty"`
	Watchdog WatchdogConfig `json:"watchdog,omitempty"`

	// Scheduler controls trigger behavior (cron/interval/daily/weekly).
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution settings for scheduled tasks.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`

	// Market configures the spot-price API client shared by agents.
	Market MarketConfig `json:"market,omitempty"`
	// News configures the search + LLM clients used by the news agent.
	News NewsConfig `json:"news,omitempty"`

	Agents map[string]AgentConfigRaw `json:"agents"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Enabled is a pointer so we can distinguish "omitted" (default to
// scheduler.enabled) from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - enabled: scheduler.enabled
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 3
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout is a Go duration string (e.g. "10s", "1m").
	// Use "0s" to disable a global default timeout.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// MaxQueueDelay drops tasks that have been queued longer than this duration.
	// Use "0s" to disable stale queue dropping.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled bool `json:"enabled"`

	// DefaultChannel receives notifications that don't name a channel.
	// Must match a configured sender ("email" or "telegram").
	DefaultChannel string `json:"default_channel,omitempty"`

	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./finwatch.db" }
//
// If the whole section is omitted, storage defaults to sqlite at
// "./finwatch.db". Use driver "none" to run stateless.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// WatchdogConfig controls systemd sd_notify integration.
//
// Enabled is a pointer: omitted means "on when running under systemd with a
// watchdog configured", explicit false disables it entirely.
type WatchdogConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Interval overrides the ping interval (Go duration string). When empty,
	// half of the systemd-provided WatchdogSec is used.
	Interval string `json:"interval,omitempty"`
}

// TelegramConfig configures the outbound telegram channel.
// Token may be left empty in the file and supplied via $TELEGRAM_TOKEN.
type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	// ChatID is the default destination chat for notifications and the log sink.
	ChatID   int64 `json:"chat_id,omitempty"`
	ThreadID int   `json:"thread_id,omitempty"`
	// RequestTimeout is a Go duration string (e.g. "10s").
	RequestTimeout string `json:"request_timeout,omitempty"`
}

// EmailConfig configures the outbound email channel.
// SMTP.Password may be left empty in the file and supplied via $SMTP_PASSWORD.
type EmailConfig struct {
	SMTP EmailSMTP `json:"smtp,omitempty"`
	From string    `json:"from,omitempty"`
	To   []string  `json:"to,omitempty"`
	// Timeout is a Go duration string for the whole SMTP conversation.
	Timeout string `json:"timeout,omitempty"`
}

type EmailSMTP struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	StartTLS bool   `json:"starttls,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the scheduler (trigger) service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone (IANA name, e.g. "Europe/Berlin"). Empty means local.
	Timezone string `json:"timezone,omitempty"`
}

// MarketConfig configures the spot-price client.
type MarketConfig struct {
	// BaseURL defaults to the public Coinbase API.
	BaseURL string `json:"base_url,omitempty"`
	// RequestTimeout is a Go duration string (default "10s").
	RequestTimeout string `json:"request_timeout,omitempty"`
}

// NewsConfig configures the clients behind the news agent.
// API keys may be left empty and supplied via $BRAVE_API_KEY / $OPENAI_API_KEY.
type NewsConfig struct {
	Brave BraveConfig `json:"brave,omitempty"`
	LLM   LLMConfig   `json:"llm,omitempty"`
}

type BraveConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	// RequestTimeout is a Go duration string (default "15s").
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type LLMConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"` // default: https://api.openai.com/v1
	Model   string `json:"model,omitempty"`    // default: gpt-4o
	// RequestTimeout is a Go duration string (default "30s").
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type AgentConfigRaw struct {
	Enabled bool `json:"enabled"`
	// Channels is an optional notification-channel allowlist for this agent.
	//
	// Notes:
	//   - This is NOT a security boundary (agents are still in-process).
	//   - It is an operational guardrail: the agent manager's notifier port
	//     denies Notify calls on channels outside the list.
	//   - If omitted or empty, all channels are allowed.
	Channels []string `json:"channels,omitempty"`
	// Allow is an optional capability allowlist (e.g. "notify.send",
	// "scheduler.write", "storage.write"). Empty means all capabilities.
	Allow  []string        `json:"allow,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields to ensure removed legacy keys
// are caught early during config reload.
func (a *AgentConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled  bool            `json:"enabled"`
		Channels []string        `json:"channels,omitempty"`
		Allow    []string        `json:"allow,omitempty"`
		Config   json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*a = AgentConfigRaw{Enabled: t.Enabled, Channels: t.Channels, Allow: t.Allow, Config: t.Config}
	return nil
}

// Env var names for secrets. Secret injection is configuration, not
// architecture: an empty config field falls back to the environment.
const (
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvSMTPPassword  = "SMTP_PASSWORD"
	EnvBraveAPIKey   = "BRAVE_API_KEY"
	EnvOpenAIAPIKey  = "OPENAI_API_KEY"
)

// applyEnvSecrets fills empty secret fields from the environment.
// Called after every successful parse so reloads behave like boot.
func applyEnvSecrets(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		cfg.Telegram.Token = strings.TrimSpace(os.Getenv(EnvTelegramToken))
	}
	if strings.TrimSpace(cfg.Email.SMTP.Password) == "" {
		cfg.Email.SMTP.Password = strings.TrimSpace(os.Getenv(EnvSMTPPassword))
	}
	if strings.TrimSpace(cfg.News.Brave.APIKey) == "" {
		cfg.News.Brave.APIKey = strings.TrimSpace(os.Getenv(EnvBraveAPIKey))
	}
	if strings.TrimSpace(cfg.News.LLM.APIKey) == "" {
		cfg.News.LLM.APIKey = strings.TrimSpace(os.Getenv(EnvOpenAIAPIKey))
	}
}
