package app

import (
	"fmt"
	"strings"
	"time"

	"finwatch/internal/storage"
)

// mapStorageConfig maps the JSON config into the runtime storage config.
//
// An omitted storage section means the default sqlite store at ./finwatch.db,
// not "disabled": the agents are data collectors and losing history silently
// would defeat the point. Use driver "none" to run stateless on purpose.
func mapStorageConfig(cfg *Config) (storage.Config, bool, error) {
	driver := "sqlite"
	path := "./finwatch.db"
	busyRaw := ""
	if cfg != nil && cfg.Storage != nil {
		if d := strings.TrimSpace(cfg.Storage.Driver); d != "" {
			driver = strings.ToLower(d)
		}
		if p := strings.TrimSpace(cfg.Storage.Path); p != "" {
			path = p
		}
		busyRaw = cfg.Storage.BusyTimeout
	}

	switch driver {
	case "none":
		return storage.Config{}, false, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		busy, err := parseDurationOrDefault("storage.busy_timeout", busyRaw, 1*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", driver)
	}
}
