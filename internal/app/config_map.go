package app

import (
	"pawrelay/internal/cachewatch"
	"pawrelay/internal/config"
	"pawrelay/internal/relay"
	"pawrelay/internal/status"
	logx "pawrelay/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapWatchConfig(cfg *config.Config, log logx.Logger) (cachewatch.Config, error) {
	poll, err := config.ParseDurationOrDefault("watch.poll_interval", cfg.Watch.PollInterval, cachewatch.DefaultPollInterval)
	if err != nil {
		return cachewatch.Config{}, err
	}
	return cachewatch.Config{
		Root:         cachewatch.ResolveRoot(cfg.Watch.Root, log),
		PollInterval: poll,
	}, nil
}

func mapRelayConfig(cfg *config.Config) (relay.Config, error) {
	timeout, err := config.ParseDurationField("relay.timeout", cfg.Relay.Timeout)
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		BaseURL:    cfg.Relay.BaseURL,
		UserAgent:  cfg.Relay.UserAgent,
		Timeout:    timeout,
		RatePerSec: cfg.Relay.RatePerSec,
	}, nil
}

func mapStatusConfig(cfg *config.Config) status.Config {
	return status.Config{Enabled: cfg.Status.Enabled, Addr: cfg.Status.Addr, Pprof: cfg.Status.Pprof}
}
