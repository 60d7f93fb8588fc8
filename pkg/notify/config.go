package notify

import (
	"os"
	"strconv"
	"time"
)

// OutboxConfig controls the notification outbox and its delivery workers.
type OutboxConfig struct {
	Concurrency    int           // Delivery workers. Default 2.
	MaxAttempts    int           // Attempts before a message is dead. Default 5.
	PollInterval   time.Duration // How often workers poll for due messages. Default 2s.
	SendTimeout    time.Duration // Deadline for a single delivery. Default 30s.
	ClaimTimeout   time.Duration // Max time a message may stay "delivering". Default 5m.
	InitialBackoff time.Duration // Delay before the first retry. Default 5s.
	MaxBackoff     time.Duration // Upper bound of the retry delay. Default 10m.
	JitterFactor   float64       // Randomization of the retry delay, 0..1. Default 0.2.
	RetentionDays  int           // How long delivered and dead messages are kept. Default 7.
	Enabled        bool          // Route notifications through the outbox. Default true.
}

// DefaultOutboxConfig returns the default outbox configuration.
func DefaultOutboxConfig() *OutboxConfig {
	return &OutboxConfig{
		Concurrency:    2,
		MaxAttempts:    5,
		PollInterval:   2 * time.Second,
		SendTimeout:    30 * time.Second,
		ClaimTimeout:   5 * time.Minute,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     10 * time.Minute,
		JitterFactor:   0.2,
		RetentionDays:  7,
		Enabled:        true,
	}
}

// OutboxConfigFromEnv loads config from environment variables.
// REQTRACK_OUTBOX_CONCURRENCY, REQTRACK_OUTBOX_MAX_ATTEMPTS,
// REQTRACK_OUTBOX_POLL_INTERVAL, REQTRACK_OUTBOX_SEND_TIMEOUT,
// REQTRACK_OUTBOX_CLAIM_TIMEOUT, REQTRACK_OUTBOX_INITIAL_BACKOFF,
// REQTRACK_OUTBOX_MAX_BACKOFF, REQTRACK_OUTBOX_RETENTION_DAYS,
// REQTRACK_OUTBOX_ENABLED. Durations use time.ParseDuration syntax.
func OutboxConfigFromEnv() *OutboxConfig {
	cfg := DefaultOutboxConfig()

	if n, ok := envInt("REQTRACK_OUTBOX_CONCURRENCY"); ok && n > 0 {
		cfg.Concurrency = n
	}
	if n, ok := envInt("REQTRACK_OUTBOX_MAX_ATTEMPTS"); ok && n > 0 {
		cfg.MaxAttempts = n
	}
	if d, ok := envDuration("REQTRACK_OUTBOX_POLL_INTERVAL"); ok {
		cfg.PollInterval = d
	}
	if d, ok := envDuration("REQTRACK_OUTBOX_SEND_TIMEOUT"); ok {
		cfg.SendTimeout = d
	}
	if d, ok := envDuration("REQTRACK_OUTBOX_CLAIM_TIMEOUT"); ok {
		cfg.ClaimTimeout = d
	}
	if d, ok := envDuration("REQTRACK_OUTBOX_INITIAL_BACKOFF"); ok {
		cfg.InitialBackoff = d
	}
	if d, ok := envDuration("REQTRACK_OUTBOX_MAX_BACKOFF"); ok {
		cfg.MaxBackoff = d
	}
	if n, ok := envInt("REQTRACK_OUTBOX_RETENTION_DAYS"); ok && n >= 0 {
		cfg.RetentionDays = n
	}
	if v := os.Getenv("REQTRACK_OUTBOX_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return cfg
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
