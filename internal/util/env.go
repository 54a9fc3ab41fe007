// Package util holds the environment lookups used to fill configuration blanks.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// FirstEnv returns the first non-blank value among keys, with surrounding space
// trimmed, and the key it came from.
func FirstEnv(keys ...string) (string, string) {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v, key
		}
	}
	return "", ""
}

// FillFromEnv sets *dst from the first non-blank key unless *dst is already set.
// It reports whether *dst was changed.
func FillFromEnv(dst *string, keys ...string) bool {
	if *dst != "" {
		return false
	}
	v, key := FirstEnv(keys...)
	if v == "" {
		return false
	}
	*dst = v
	slog.Debug("FillFromEnv: value taken from environment", "key", key)
	return true
}

// ParseBoolEnv reads key as a boolean: true/1/yes/on or false/0/no/off, any case.
// Unset or unrecognised values yield defaultValue.
func ParseBoolEnv(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	switch strings.ToLower(raw) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("ParseBoolEnv: invalid boolean value, using default", "key", key, "value", raw, "default", defaultValue)
	return defaultValue
}
