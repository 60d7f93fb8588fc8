package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WorkerPool delivers outbox messages through a downstream Sender using a
// pool of goroutines.
type WorkerPool struct {
	store  *OutboxStore
	sender Sender
	cfg    *OutboxConfig
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(store *OutboxStore, sender Sender, cfg *OutboxConfig, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultOutboxConfig()
	}
	return &WorkerPool{
		store:  store,
		sender: sender,
		cfg:    cfg,
		logger: logger,
	}
}

// Run starts cfg.Concurrency delivery workers and a maintenance loop. It
// blocks until ctx is cancelled, then waits for all workers to finish.
func (wp *WorkerPool) Run(ctx context.Context) {
	if wp.store == nil || wp.sender == nil || !wp.cfg.Enabled {
		wp.logger.Info("notification outbox disabled")
		return
	}

	wp.logger.Info("notification outbox starting",
		"concurrency", wp.cfg.Concurrency,
		"maxAttempts", wp.cfg.MaxAttempts,
		"pollInterval", wp.cfg.PollInterval.String())

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		wp.maintenanceLoop(ctx)
	}()

	for i := 0; i < wp.cfg.Concurrency; i++ {
		wp.wg.Add(1)
		go func(workerID int) {
			defer wp.wg.Done()
			wp.workerLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	wp.logger.Info("notification outbox shutting down, waiting for workers to finish")
	wp.wg.Wait()
	wp.logger.Info("notification outbox stopped")
}

func (wp *WorkerPool) workerLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(wp.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain everything that is due before waiting for the next tick.
			for ctx.Err() == nil && wp.processOne(ctx, workerID) {
			}
		}
	}
}

// processOne claims and delivers a single message. It reports whether a
// message was claimed.
func (wp *WorkerPool) processOne(ctx context.Context, workerID int) bool {
	rec, err := wp.store.Claim(ctx)
	if err != nil {
		wp.logger.Error("failed to claim notification", "workerID", workerID, "error", err)
		return false
	}
	if rec == nil {
		return false
	}

	m := getMetrics()
	msg, err := rec.Message()
	if err != nil {
		// An undecodable payload will never succeed.
		wp.logger.Error("dropping notification", "id", rec.ID, "error", err)
		wp.markDead(ctx, rec, err.Error())
		return true
	}

	sendCtx := ctx
	if wp.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, wp.cfg.SendTimeout)
		defer cancel()
	}

	start := time.Now()
	err = wp.sender.Send(sendCtx, msg)
	elapsed := time.Since(start)

	if err != nil {
		m.dispatchTotal.WithLabelValues(rec.Event, "failure").Inc()
		m.dispatchLatency.WithLabelValues(rec.Event, "failure").Observe(elapsed.Seconds())
		dead, failErr := wp.store.Fail(ctx, rec.ID, err.Error())
		if failErr != nil {
			wp.logger.Error("failed to record notification failure", "id", rec.ID, "error", failErr)
			return true
		}
		if dead {
			m.deadTotal.WithLabelValues(rec.Event).Inc()
			wp.logger.Error("notification dead after max attempts",
				"id", rec.ID,
				"event", rec.Event,
				"requestId", rec.RequestID,
				"attempts", rec.AttemptCount,
				"error", err)
		} else {
			wp.logger.Warn("notification delivery failed, will retry",
				"id", rec.ID,
				"event", rec.Event,
				"attempt", rec.AttemptCount,
				"error", err)
		}
		return true
	}

	m.dispatchTotal.WithLabelValues(rec.Event, "success").Inc()
	m.dispatchLatency.WithLabelValues(rec.Event, "success").Observe(elapsed.Seconds())
	if err := wp.store.Complete(ctx, rec.ID); err != nil {
		wp.logger.Error("failed to mark notification delivered", "id", rec.ID, "error", err)
		return true
	}
	wp.logger.Debug("notification delivered",
		"workerID", workerID,
		"id", rec.ID,
		"event", rec.Event,
		"requestId", rec.RequestID,
		"duration", elapsed.String())
	return true
}

func (wp *WorkerPool) markDead(ctx context.Context, rec *OutboxMessage, reason string) {
	if err := wp.store.MarkDead(ctx, rec.ID, reason); err != nil {
		wp.logger.Error("failed to mark notification dead", "id", rec.ID, "error", err)
		return
	}
	getMetrics().deadTotal.WithLabelValues(rec.Event).Inc()
}

// maintenanceLoop recovers stuck deliveries, purges old messages and
// refreshes the state gauge.
func (wp *WorkerPool) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wp.maintain(ctx)
		}
	}
}

func (wp *WorkerPool) maintain(ctx context.Context) {
	if wp.cfg.ClaimTimeout > 0 {
		recovered, err := wp.store.CleanupStuck(ctx, wp.cfg.ClaimTimeout)
		if err != nil {
			wp.logger.Error("failed to recover stuck notifications", "error", err)
		} else if recovered > 0 {
			wp.logger.Info("recovered stuck notifications", "count", recovered)
		}
	}

	if wp.cfg.RetentionDays > 0 {
		cutoff := wp.store.now().UTC().AddDate(0, 0, -wp.cfg.RetentionDays)
		deleted, err := wp.store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			wp.logger.Error("failed to delete old notifications", "error", err)
		} else if deleted > 0 {
			wp.logger.Info("deleted old notifications", "count", deleted)
		}
	}

	counts, err := wp.store.CountByState(ctx)
	if err != nil {
		wp.logger.Error("failed to count notifications", "error", err)
		return
	}
	gauge := getMetrics().messages
	for _, state := range []OutboxState{OutboxStatePending, OutboxStateDelivering, OutboxStateDelivered, OutboxStateDead} {
		gauge.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
