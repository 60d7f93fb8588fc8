package audit

import (
	"context"
	"log/slog"
	"time"
)

// RetentionWorker deletes audit events older than the configured retention.
// It purges once on start so a restarted server catches up immediately.
type RetentionWorker struct {
	store  *Store
	cfg    *AuditConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewRetentionWorker creates a RetentionWorker. A nil cfg selects the
// defaults.
func NewRetentionWorker(store *Store, cfg *AuditConfig, logger *slog.Logger) *RetentionWorker {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionWorker{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// Run purges on start and then every CleanupInterval until ctx is done.
func (w *RetentionWorker) Run(ctx context.Context) {
	retention := w.cfg.Retention()
	if w.store == nil || retention <= 0 {
		w.logger.Info("audit retention disabled, events are kept forever")
		return
	}
	interval := w.cfg.CleanupInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	w.logger.Info("audit retention worker started",
		"retentionDays", w.cfg.RetentionDays,
		"interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		w.purge(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// purge deletes everything older than the retention window and reports how
// many events went.
func (w *RetentionWorker) purge(ctx context.Context) int64 {
	cutoff := w.now().UTC().Add(-w.cfg.Retention())
	n, err := w.store.DeleteOlderThan(ctx, cutoff)
	switch {
	case err != nil:
		w.logger.Error("audit retention pass failed", "cutoff", cutoff, "error", err)
		return 0
	case n > 0:
		w.logger.Info("purged audit events", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n
}
