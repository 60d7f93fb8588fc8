package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetentionWorkerPurgesExpiredEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := newEvent("alice@example.com", "create", nil, 0)
	old.CreatedAt = baseTime.AddDate(0, 0, -40)
	recent := newEvent("alice@example.com", "transition", nil, 0)
	require.NoError(t, store.Append(ctx, old))
	require.NoError(t, store.Append(ctx, recent))

	w := NewRetentionWorker(store, &AuditConfig{Enabled: true, RetentionDays: 30}, nil)
	w.now = func() time.Time { return baseTime }

	assert.Equal(t, int64(1), w.purge(ctx))
	assert.Zero(t, w.purge(ctx))

	got, err := store.GetByID(ctx, recent.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestRetentionWorkerRunPurgesOnStart(t *testing.T) {
	store := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	old := newEvent("bob@example.com", "delete", nil, 0)
	old.CreatedAt = time.Now().AddDate(-2, 0, 0)
	require.NoError(t, store.Append(ctx, old))

	cfg := DefaultAuditConfig()
	cfg.CleanupInterval = time.Hour
	done := make(chan struct{})
	go func() {
		NewRetentionWorker(store, cfg, nil).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := store.GetByID(context.Background(), old.ID)
		return err == nil && got == nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestRetentionWorkerDisabled(t *testing.T) {
	for name, w := range map[string]*RetentionWorker{
		"no store":     NewRetentionWorker(nil, nil, nil),
		"keep forever": NewRetentionWorker(&Store{}, &AuditConfig{RetentionDays: 0}, nil),
	} {
		t.Run(name, func(t *testing.T) {
			done := make(chan struct{})
			go func() {
				w.Run(context.Background())
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("disabled worker should return immediately")
			}
		})
	}
}
