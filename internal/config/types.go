package config

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Watch    WatchConfig    `json:"watch"`
	Relay    RelayConfig    `json:"relay"`
	Dispatch DispatchConfig `json:"dispatch"`
	History  HistoryConfig  `json:"history"`
	Status   StatusConfig   `json:"status"`
	Storage  *StorageConfig `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // console sink: "text" (default) or "json"
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// WatchConfig controls the cache directory watcher.
//
// Root empty means the client's default cache directory under the home directory.
// QueueLimit 0 leaves the path queue unbounded. MaxFileSize 0 scans whole files.
type WatchConfig struct {
	Root         string `json:"root,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"` // Go duration string, default "1s"
	QueueLimit   int    `json:"queue_limit,omitempty"`
	MaxFileSize  int64  `json:"max_file_size,omitempty"`
}

// RelayConfig controls the remote API client.
//
// Timeout "0s" or empty means no client timeout. RatePerSec 0 disables limiting.
type RelayConfig struct {
	BaseURL    string  `json:"base_url,omitempty"`
	UserAgent  string  `json:"user_agent,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type DispatchConfig struct {
	MaxConcurrent int `json:"max_concurrent,omitempty"` // default 3
}

type HistoryConfig struct {
	Capacity int `json:"capacity,omitempty"` // default 1000
}

// StatusConfig controls the HTTP status API.
//
// Prefer binding to localhost; the API has no authentication.
type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:7317"
	Pprof   bool   `json:"pprof,omitempty"`
}

// StorageConfig controls the optional relay journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./pawrelay.db", "retention": "168h" }
type StorageConfig struct {
	Driver        string `json:"driver"`
	Path          string `json:"path"`
	BusyTimeout   string `json:"busy_timeout,omitempty"`   // Go duration string (sqlite)
	Retention     string `json:"retention,omitempty"`      // Go duration string; empty keeps everything
	PruneSchedule string `json:"prune_schedule,omitempty"` // cron spec, default "@hourly"
}
