package app

import (
	"finwatch/internal/observability/watchdog"
)

// mapWatchdogConfig maps the JSON config into the watchdog service config.
// Enabled stays a tri-state: nil means auto-detect from systemd.
func mapWatchdogConfig(cfg *Config) (watchdog.Config, error) {
	var out watchdog.Config
	if cfg == nil {
		return out, nil
	}
	out.Enabled = cfg.Watchdog.Enabled
	iv, err := parseDurationField("watchdog.interval", cfg.Watchdog.Interval)
	if err != nil {
		return out, err
	}
	out.Interval = iv
	return out, nil
}
