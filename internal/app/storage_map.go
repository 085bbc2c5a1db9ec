package app

import (
	"fmt"
	"strings"
	"time"

	"pawrelay/internal/config"
	"pawrelay/internal/storage"
)

// journalSettings holds the storage section after parsing.
type journalSettings struct {
	store     storage.Config
	retention time.Duration // 0 keeps everything
	schedule  string
}

func mapStorageConfig(cfg *config.Config) (journalSettings, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return journalSettings{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return journalSettings{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return journalSettings{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}

	out := journalSettings{schedule: strings.TrimSpace(sc.PruneSchedule)}
	if out.schedule == "" {
		out.schedule = config.DefaultPruneSchedule
	}
	var err error
	if out.retention, err = config.ParseDurationField("storage.retention", sc.Retention); err != nil {
		return journalSettings{}, false, err
	}

	switch driver {
	case "file":
		out.store = storage.Config{Driver: "file", Path: path}
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return journalSettings{}, false, err
		}
		out.store = storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}
	default:
		return journalSettings{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	return out, true, nil
}
