// Package ha serializes schema migrations across server replicas that share
// one database.
package ha

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// MigrationLockConfig controls the migration lock.
type MigrationLockConfig struct {
	// Enabled controls whether migrations run under a lock at all.
	Enabled bool

	// Name identifies the lock. Replicas of one deployment must agree on it.
	Name string

	// Holder identifies this instance in the table-based lock row.
	Holder string

	// MaxRetries bounds how often the table-based lock is attempted.
	MaxRetries int

	// RetryInterval is the pause between table-based lock attempts.
	RetryInterval time.Duration

	// StaleAge is the age after which a table-based lock row is considered
	// left behind by a crashed holder.
	StaleAge time.Duration
}

// DefaultMigrationLockConfig returns a MigrationLockConfig with sensible
// defaults.
func DefaultMigrationLockConfig() *MigrationLockConfig {
	return &MigrationLockConfig{
		Enabled:       true,
		Name:          "reqtrack-migration",
		Holder:        defaultHolder(),
		MaxRetries:    30,
		RetryInterval: 1 * time.Second,
		StaleAge:      5 * time.Minute,
	}
}

// MigrationLockConfigFromEnv reads the lock configuration from environment
// variables, falling back to defaults for any unset variable.
//
// Environment variables:
//   - REQTRACK_MIGRATION_LOCK_ENABLED: "true" or "false" (default: "true")
//   - REQTRACK_MIGRATION_LOCK_NAME: lock name (default: "reqtrack-migration")
//   - REQTRACK_MIGRATION_LOCK_RETRIES: attempts (default: 30)
//   - REQTRACK_MIGRATION_LOCK_STALE_SECONDS: seconds (default: 300)
//   - HOSTNAME: lock holder identity
func MigrationLockConfigFromEnv() *MigrationLockConfig {
	cfg := DefaultMigrationLockConfig()

	if v := os.Getenv("REQTRACK_MIGRATION_LOCK_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("REQTRACK_MIGRATION_LOCK_NAME"); v != "" {
		cfg.Name = v
	}
	if v := os.Getenv("REQTRACK_MIGRATION_LOCK_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("REQTRACK_MIGRATION_LOCK_STALE_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.StaleAge = time.Duration(secs) * time.Second
		}
	}

	return cfg
}

func defaultHolder() string {
	if v := os.Getenv("HOSTNAME"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown"
	}
	return hostname
}
