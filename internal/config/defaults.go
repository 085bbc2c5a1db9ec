package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	logx "pawrelay/pkg/logx"
)

const (
	DefaultStatusAddr    = "127.0.0.1:7317"
	DefaultPruneSchedule = "@hourly"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Watch:   WatchConfig{PollInterval: "1s"},
		Relay:   RelayConfig{Timeout: "0s"},
		Status:  StatusConfig{Enabled: true, Addr: DefaultStatusAddr},
	}
}

// Validate checks values that would otherwise fail later at startup or reload.
// Zero values are allowed where a default applies.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		if _, ok := logx.ParseLevel(lvl); !ok {
			errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
		}
	}

	if _, err := ParseDurationField("watch.poll_interval", cfg.Watch.PollInterval); err != nil {
		errs = append(errs, err)
	}
	if cfg.Watch.QueueLimit < 0 {
		errs = append(errs, errors.New("watch.queue_limit: must be >= 0"))
	}
	if cfg.Watch.MaxFileSize < 0 {
		errs = append(errs, errors.New("watch.max_file_size: must be >= 0"))
	}

	if s := strings.TrimSpace(cfg.Relay.BaseURL); s != "" {
		u, err := url.Parse(s)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("relay.base_url: %w", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, fmt.Errorf("relay.base_url: scheme must be http or https"))
		case u.Host == "":
			errs = append(errs, fmt.Errorf("relay.base_url: missing host"))
		}
	}
	if _, err := ParseDurationField("relay.timeout", cfg.Relay.Timeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Relay.RatePerSec < 0 {
		errs = append(errs, errors.New("relay.rate_per_sec: must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", cfg.Logging.Format))
	}

	if cfg.Dispatch.MaxConcurrent < 0 {
		errs = append(errs, errors.New("dispatch.max_concurrent: must be >= 0"))
	}
	if cfg.History.Capacity < 0 {
		errs = append(errs, errors.New("history.capacity: must be >= 0"))
	}

	if cfg.Status.Enabled {
		if addr := strings.TrimSpace(cfg.Status.Addr); addr != "" {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				errs = append(errs, fmt.Errorf("status.addr: %w", err))
			}
		}
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				errs = append(errs, errors.New("storage.path: required when a driver is set"))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("storage.retention", st.Retention); err != nil {
			errs = append(errs, err)
		}
		if spec := strings.TrimSpace(st.PruneSchedule); spec != "" {
			if _, err := cron.ParseStandard(spec); err != nil {
				errs = append(errs, fmt.Errorf("storage.prune_schedule: %w", err))
			}
		}
	}

	return errors.Join(errs...)
}
