package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxStore provides database operations for the notification outbox.
type OutboxStore struct {
	db  *gorm.DB
	cfg *OutboxConfig
	now func() time.Time
}

// NewOutboxStore creates a new OutboxStore. A nil cfg selects the defaults.
func NewOutboxStore(db *gorm.DB, cfg *OutboxConfig) *OutboxStore {
	if cfg == nil {
		cfg = DefaultOutboxConfig()
	}
	return &OutboxStore{db: db, cfg: cfg, now: time.Now}
}

// AutoMigrate creates or updates the notification_outbox table.
func (s *OutboxStore) AutoMigrate() error {
	return s.db.AutoMigrate(&OutboxMessage{})
}

// Enqueue stores msg for delivery as soon as a worker picks it up.
func (s *OutboxStore) Enqueue(ctx context.Context, msg Message) (*OutboxMessage, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode outbox payload: %w", err)
	}
	now := s.now().UTC()
	rec := &OutboxMessage{
		ID:          uuid.NewString(),
		Event:       msg.Event,
		RequestID:   msg.RequestID,
		Payload:     string(payload),
		State:       OutboxStatePending,
		AvailableAt: now,
		CreatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("enqueue notification: %w", err)
	}
	getMetrics().enqueueTotal.WithLabelValues(msg.Event).Inc()
	return rec, nil
}

// Claim atomically picks the oldest due message and marks it delivering.
// Row locks are skipped on dialects that support SKIP LOCKED so concurrent
// workers never claim the same row. Returns nil if nothing is due.
func (s *OutboxStore) Claim(ctx context.Context) (*OutboxMessage, error) {
	var claimed *OutboxMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now().UTC()
		q := tx.Where("state = ? AND available_at <= ?", OutboxStatePending, now).
			Order("available_at ASC").
			Limit(1)
		if s.skipLocked() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var rows []OutboxMessage
		if err := q.Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		msg := rows[0]
		res := tx.Model(&OutboxMessage{}).
			Where("id = ? AND state = ?", msg.ID, OutboxStatePending).
			Updates(map[string]any{
				"state":         OutboxStateDelivering,
				"locked_at":     now,
				"attempt_count": gorm.Expr("attempt_count + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Another worker won the row.
			return nil
		}
		msg.State = OutboxStateDelivering
		msg.LockedAt = &now
		msg.AttemptCount++
		claimed = &msg
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim notification: %w", err)
	}
	return claimed, nil
}

func (s *OutboxStore) skipLocked() bool {
	switch s.db.Dialector.Name() {
	case "postgres", "mysql":
		return true
	}
	return false
}

// Complete marks a message as delivered.
func (s *OutboxStore) Complete(ctx context.Context, id string) error {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).Model(&OutboxMessage{}).Where("id = ?", id).Updates(map[string]any{
		"state":        OutboxStateDelivered,
		"delivered_at": now,
		"locked_at":    nil,
		"last_error":   "",
	})
	if res.Error != nil {
		return fmt.Errorf("complete notification: %w", res.Error)
	}
	return nil
}

// Fail records a failed delivery. The message is rescheduled with an
// exponential delay while attempts remain, otherwise it becomes dead.
// The returned bool reports whether the message is dead.
func (s *OutboxStore) Fail(ctx context.Context, id string, errMsg string) (bool, error) {
	var msg OutboxMessage
	if err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		return false, fmt.Errorf("load notification for fail: %w", err)
	}

	now := s.now().UTC()
	updates := map[string]any{
		"last_error": errMsg,
		"locked_at":  nil,
	}
	dead := msg.AttemptCount >= s.cfg.MaxAttempts
	if dead {
		updates["state"] = OutboxStateDead
	} else {
		updates["state"] = OutboxStatePending
		updates["available_at"] = now.Add(s.RetryDelay(msg.AttemptCount))
	}

	if err := s.db.WithContext(ctx).Model(&OutboxMessage{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return false, fmt.Errorf("fail notification: %w", err)
	}
	return dead, nil
}

// MarkDead moves a message to the dead state without further attempts.
func (s *OutboxStore) MarkDead(ctx context.Context, id string, reason string) error {
	res := s.db.WithContext(ctx).Model(&OutboxMessage{}).Where("id = ?", id).Updates(map[string]any{
		"state":      OutboxStateDead,
		"last_error": reason,
		"locked_at":  nil,
	})
	if res.Error != nil {
		return fmt.Errorf("mark notification dead: %w", res.Error)
	}
	return nil
}

// RetryDelay returns the delay before the retry that follows the given
// number of attempts: InitialBackoff doubled per attempt, capped at
// MaxBackoff and randomized by JitterFactor.
func (s *OutboxStore) RetryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = s.cfg.JitterFactor
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}

// CleanupStuck returns messages that have been delivering for longer than
// claimTimeout to the pending state.
func (s *OutboxStore) CleanupStuck(ctx context.Context, claimTimeout time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-claimTimeout)
	res := s.db.WithContext(ctx).Model(&OutboxMessage{}).
		Where("state = ? AND locked_at < ?", OutboxStateDelivering, cutoff).
		Updates(map[string]any{
			"state":      OutboxStatePending,
			"locked_at":  nil,
			"last_error": "timed out (stuck delivery recovery)",
		})
	if res.Error != nil {
		return 0, fmt.Errorf("cleanup stuck notifications: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteOlderThan removes delivered and dead messages created before cutoff.
func (s *OutboxStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("state IN ? AND created_at < ?", []OutboxState{OutboxStateDelivered, OutboxStateDead}, cutoff).
		Delete(&OutboxMessage{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete old notifications: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Get retrieves a message by id. Returns nil if it does not exist.
func (s *OutboxStore) Get(ctx context.Context, id string) (*OutboxMessage, error) {
	var msg OutboxMessage
	if err := s.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return &msg, nil
}

// CountByState returns the number of messages per state.
func (s *OutboxStore) CountByState(ctx context.Context) (map[OutboxState]int64, error) {
	var rows []struct {
		State OutboxState
		Count int64
	}
	err := s.db.WithContext(ctx).Model(&OutboxMessage{}).
		Select("state, COUNT(*) AS count").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}
	out := make(map[OutboxState]int64, len(rows))
	for _, r := range rows {
		out[r.State] = r.Count
	}
	return out, nil
}

// OutboxSender implements Sender by enqueueing messages. Delivery happens
// later on a WorkerPool.
type OutboxSender struct {
	store *OutboxStore
}

// NewOutboxSender creates an OutboxSender backed by store.
func NewOutboxSender(store *OutboxStore) *OutboxSender {
	return &OutboxSender{store: store}
}

func (s *OutboxSender) Send(ctx context.Context, msg Message) error {
	_, err := s.store.Enqueue(ctx, msg)
	return err
}
