package config

import (
	"sort"
	"strings"

	logx "pawrelay/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) structured attrs for logging, and (3) the changed keys that only take
// effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)
	var restart []string

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.Format != newCfg.Logging.Format ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Watch: the watcher is built once at startup.
	if oldCfg.Watch != newCfg.Watch {
		changed = append(changed, "watch")
		restart = append(restart, "watch")
		attrs = append(attrs,
			logx.String("watch.root", strings.TrimSpace(newCfg.Watch.Root)),
			logx.String("watch.poll_interval", strings.TrimSpace(newCfg.Watch.PollInterval)),
			logx.Int("watch.queue_limit", newCfg.Watch.QueueLimit),
		)
	}

	// Relay: only the rate limit is live.
	o, n := oldCfg.Relay, newCfg.Relay
	if o != n {
		changed = append(changed, "relay")
		if strings.TrimSpace(o.BaseURL) != strings.TrimSpace(n.BaseURL) {
			restart = append(restart, "relay.base_url")
		}
		if strings.TrimSpace(o.UserAgent) != strings.TrimSpace(n.UserAgent) {
			restart = append(restart, "relay.user_agent")
		}
		if strings.TrimSpace(o.Timeout) != strings.TrimSpace(n.Timeout) {
			restart = append(restart, "relay.timeout")
		}
		attrs = append(attrs, logx.Any("relay.rate_per_sec", n.RatePerSec))
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs, logx.Int("dispatch.max_concurrent", newCfg.Dispatch.MaxConcurrent))
	}

	if oldCfg.History != newCfg.History {
		changed = append(changed, "history")
		attrs = append(attrs, logx.Int("history.capacity", newCfg.History.Capacity))
	}

	if oldCfg.Status.Enabled != newCfg.Status.Enabled ||
		oldCfg.Status.Pprof != newCfg.Status.Pprof ||
		strings.TrimSpace(oldCfg.Status.Addr) != strings.TrimSpace(newCfg.Status.Addr) {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", newCfg.Status.Enabled),
			logx.String("status.addr", strings.TrimSpace(newCfg.Status.Addr)),
			logx.Bool("status.pprof", newCfg.Status.Pprof),
		)
	}

	// Storage (journal). Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.retention", strings.TrimSpace(nS.Retention)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, restart
}
