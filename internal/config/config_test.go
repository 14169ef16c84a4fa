package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestParseYAMLConfig(t *testing.T) {
	t.Setenv(EnvTelegramToken, "")
	t.Setenv(EnvSMTPPassword, "")
	t.Setenv(EnvBraveAPIKey, "")
	t.Setenv(EnvOpenAIAPIKey, "")

	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  chat_id: 42
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  timezone: "Europe/Berlin"
notifier:
  enabled: true
  default_channel: email
agents:
  price:
    enabled: true
    channels: [telegram]
    config:
      pair: BTC-USD
`)

	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("telegram.token = %q, want %q", cfg.Telegram.Token, "123:abc")
	}
	if cfg.Telegram.ChatID != 42 {
		t.Fatalf("telegram.chat_id = %d, want 42", cfg.Telegram.ChatID)
	}
	if cfg.Scheduler.Timezone != "Europe/Berlin" {
		t.Fatalf("scheduler.timezone = %q, want %q", cfg.Scheduler.Timezone, "Europe/Berlin")
	}
	if cfg.Notifier == nil || cfg.Notifier.DefaultChannel != "email" {
		t.Fatalf("notifier.default_channel not decoded: %+v", cfg.Notifier)
	}
	ag, ok := cfg.Agents["price"]
	if !ok || !ag.Enabled {
		t.Fatalf("agents.price not decoded: %+v", cfg.Agents)
	}
	if len(ag.Channels) != 1 || ag.Channels[0] != "telegram" {
		t.Fatalf("agents.price.channels = %v, want [telegram]", ag.Channels)
	}
	if !strings.Contains(string(ag.Config), "BTC-USD") {
		t.Fatalf("agents.price.config = %s, want raw JSON with pair", ag.Config)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"top_level", "bogus: 1\n"},
		{"nested", "telegram:\n  bogus: 1\n"},
		{"agent_level", "agents:\n  price:\n    enabled: true\n    commands: [x]\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, "config.yaml", tt.body)
			if _, err := NewConfigManager(path).Parse(); err == nil {
				t.Fatal("Parse() = nil error, want unknown-field rejection")
			}
		})
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"scheduler":{"enabled":true}} {"extra":1}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("Parse() = nil error, want trailing-data rejection")
	}
}

func TestParseEnvSecretFallback(t *testing.T) {
	t.Setenv(EnvTelegramToken, "env-token")
	t.Setenv(EnvSMTPPassword, "env-pass")
	t.Setenv(EnvBraveAPIKey, "env-brave")
	t.Setenv(EnvOpenAIAPIKey, "env-openai")

	path := writeConfig(t, "config.json", `{"scheduler":{"enabled":true}}`)
	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("telegram.token = %q, want env fallback", cfg.Telegram.Token)
	}
	if cfg.Email.SMTP.Password != "env-pass" {
		t.Fatalf("email.smtp.password = %q, want env fallback", cfg.Email.SMTP.Password)
	}
	if cfg.News.Brave.APIKey != "env-brave" || cfg.News.LLM.APIKey != "env-openai" {
		t.Fatalf("news keys = (%q, %q), want env fallback", cfg.News.Brave.APIKey, cfg.News.LLM.APIKey)
	}
}

func TestParseFileSecretWinsOverEnv(t *testing.T) {
	t.Setenv(EnvTelegramToken, "env-token")

	path := writeConfig(t, "config.json", `{"telegram":{"token":"file-token"}}`)
	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Telegram.Token != "file-token" {
		t.Fatalf("telegram.token = %q, want file value to win", cfg.Telegram.Token)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"simple", "10s", 10 * time.Second, false},
		{"spaces", " 1m ", time.Minute, false},
		{"negative", "-5s", 0, true},
		{"garbage", "soon", 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDurationField("x", tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDurationField(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if got, err := ParseDurationOrDefault("x", "", 5*time.Second); err != nil || got != 5*time.Second {
		t.Fatalf("ParseDurationOrDefault(empty) = (%v, %v), want (5s, nil)", got, err)
	}
	if got, err := ParseDurationOrDefault("x", "2s", 5*time.Second); err != nil || got != 2*time.Second {
		t.Fatalf("ParseDurationOrDefault(2s) = (%v, %v), want (2s, nil)", got, err)
	}
	if _, err := ParseDurationOrDefault("x", "bogus", 5*time.Second); err == nil {
		t.Fatal("ParseDurationOrDefault(bogus) = nil error, want parse error")
	}
}

func TestSummarizeConfigChangeSections(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	newCfg := &Config{}
	newCfg.Telegram.ChatID = 7
	newCfg.Logging.Level = "debug"
	newCfg.News.LLM.Model = "gpt-4o"

	changed, _, _ := SummarizeConfigChange(oldCfg, newCfg)
	for _, want := range []string{"logging", "news", "telegram"} {
		if !containsString(changed, want) {
			t.Fatalf("changed = %v, want to contain %q", changed, want)
		}
	}
	if containsString(changed, "email") || containsString(changed, "storage") {
		t.Fatalf("changed = %v, unchanged sections must not appear", changed)
	}
}

func TestSummarizeConfigChangeSecretPresence(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	newCfg := &Config{}
	newCfg.Telegram.Token = "123:abc"
	newCfg.Email.SMTP.Password = "hunter2"

	changed, _, _ := SummarizeConfigChange(oldCfg, newCfg)
	if !containsString(changed, "telegram") {
		t.Fatalf("changed = %v, token presence flip should mark telegram", changed)
	}
	if !containsString(changed, "email") {
		t.Fatalf("changed = %v, password presence flip should mark email", changed)
	}
}

func TestSummarizeConfigChangeStorageDefaults(t *testing.T) {
	t.Parallel()
	// Omitted storage equals the default sqlite store; spelling it out is not a change.
	oldCfg := &Config{}
	newCfg := &Config{Storage: &StorageConfig{Driver: "sqlite", Path: "./finwatch.db"}}
	if changed, _, _ := SummarizeConfigChange(oldCfg, newCfg); containsString(changed, "storage") {
		t.Fatalf("changed = %v, explicit default must not count as a storage change", changed)
	}

	newCfg = &Config{Storage: &StorageConfig{Driver: "none"}}
	if changed, _, _ := SummarizeConfigChange(oldCfg, newCfg); !containsString(changed, "storage") {
		t.Fatalf("changed = %v, switching to driver none must count", changed)
	}
}

func TestDiffAgents(t *testing.T) {
	t.Parallel()
	oldM := map[string]AgentConfigRaw{
		"price": {Enabled: true, Config: json.RawMessage(`{"a":1,"b":2}`)},
	}

	// Key order and whitespace must not matter.
	newM := map[string]AgentConfigRaw{
		"price": {Enabled: true, Config: json.RawMessage(`{ "b":2, "a":1 }`)},
	}
	if got := diffAgents(oldM, newM); len(got) != 0 {
		t.Fatalf("diffAgents = %v, want empty for canonically equal config", got)
	}

	newM["price"] = AgentConfigRaw{Enabled: true, Config: json.RawMessage(`{"a":1,"b":3}`)}
	if got := diffAgents(oldM, newM); len(got) != 1 || got[0] != "price" {
		t.Fatalf("diffAgents = %v, want [price] for value change", got)
	}

	newM["price"] = AgentConfigRaw{Enabled: true, Channels: []string{"email"}, Config: json.RawMessage(`{"a":1,"b":2}`)}
	if got := diffAgents(oldM, newM); len(got) != 1 || got[0] != "price" {
		t.Fatalf("diffAgents = %v, want [price] for channel allowlist change", got)
	}

	newM = map[string]AgentConfigRaw{
		"price": oldM["price"],
		"news":  {Enabled: true},
	}
	if got := diffAgents(oldM, newM); len(got) != 1 || got[0] != "news" {
		t.Fatalf("diffAgents = %v, want [news] for added agent", got)
	}
}
