package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses an optional Go duration string for the config key
// named by key. Empty means 0; negative values are rejected.
func ParseDurationField(key, raw string) (time.Duration, error) {
	return parseDuration(key, raw, 0)
}

// ParseDurationOrDefault is ParseDurationField with def substituted for an
// empty or zero value.
func ParseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	return parseDuration(key, raw, def)
}

func parseDuration(key, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", key, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", key, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
