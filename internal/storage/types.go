package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file next to Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RelayRecord is one relay attempt.
type RelayRecord struct {
	At       time.Time `json:"at"`
	AvatarID string    `json:"avatar_id"`
	OK       bool      `json:"ok"`
	Status   int       `json:"status,omitempty"`
	Error    string    `json:"err,omitempty"`
	TookMS   int64     `json:"took_ms"`
}
