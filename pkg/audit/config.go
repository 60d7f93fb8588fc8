package audit

import (
	"os"
	"strconv"
	"time"
)

// AuditConfig controls which API calls are recorded and how long they are
// kept.
type AuditConfig struct {
	// Enabled turns the middleware and the retention worker on.
	Enabled bool

	// LogDenied records calls rejected with 401 or 403.
	LogDenied bool

	// RetentionDays is how long events are kept; 0 keeps them forever.
	RetentionDays int

	// CleanupInterval is the pause between retention passes.
	CleanupInterval time.Duration
}

// DefaultAuditConfig keeps a year of events, including denied calls.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:         true,
		LogDenied:       true,
		RetentionDays:   365,
		CleanupInterval: 24 * time.Hour,
	}
}

// Retention returns RetentionDays as a duration.
func (c *AuditConfig) Retention() time.Duration {
	if c == nil || c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// AuditConfigFromEnv overlays REQTRACK_AUDIT_ENABLED, REQTRACK_AUDIT_LOG_DENIED,
// REQTRACK_AUDIT_RETENTION_DAYS and REQTRACK_AUDIT_CLEANUP_INTERVAL on the
// defaults. Unparseable values are ignored.
func AuditConfigFromEnv() *AuditConfig {
	cfg := DefaultAuditConfig()

	if b, ok := envBool("REQTRACK_AUDIT_ENABLED"); ok {
		cfg.Enabled = b
	}
	if b, ok := envBool("REQTRACK_AUDIT_LOG_DENIED"); ok {
		cfg.LogDenied = b
	}
	if days, err := strconv.Atoi(os.Getenv("REQTRACK_AUDIT_RETENTION_DAYS")); err == nil && days >= 0 {
		cfg.RetentionDays = days
	}
	if d, err := time.ParseDuration(os.Getenv("REQTRACK_AUDIT_CLEANUP_INTERVAL")); err == nil && d > 0 {
		cfg.CleanupInterval = d
	}
	return cfg
}

func envBool(key string) (bool, bool) {
	b, err := strconv.ParseBool(os.Getenv(key))
	return b, err == nil
}
