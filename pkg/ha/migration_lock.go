package ha

import (
	"context"
	"database/sql"
	"fmt"
	"hash/crc32"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker runs database migrations under a lock so that replicas
// starting together never run AutoMigrate concurrently.
type MigrationLocker interface {
	// WithLock executes fn while holding the migration lock.
	// It blocks until the lock is acquired, then releases it after fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker creates a MigrationLocker appropriate for the database
// dialect: advisory locks on PostgreSQL, GET_LOCK on MySQL and a lock table
// elsewhere. A nil cfg selects the defaults.
func NewMigrationLocker(db *gorm.DB, cfg *MigrationLockConfig) MigrationLocker {
	if cfg == nil {
		cfg = DefaultMigrationLockConfig()
	}
	if db == nil || !cfg.Enabled {
		return noopMigrationLock{}
	}
	switch db.Dialector.Name() {
	case "postgres":
		return &pgAdvisoryLock{
			db:     db,
			lockID: int64(crc32.ChecksumIEEE([]byte(cfg.Name))),
		}
	case "mysql":
		return &mysqlNamedLock{
			db:      db,
			name:    cfg.Name,
			timeout: time.Duration(cfg.MaxRetries) * cfg.RetryInterval,
		}
	}
	lock := &tableMigrationLock{db: db, cfg: cfg}
	// Create the lock table immediately so that concurrent callers never
	// hit "no such table" errors on their first WithLock call.
	_ = db.AutoMigrate(&migrationLockRecord{})
	return lock
}

type noopMigrationLock struct{}

func (noopMigrationLock) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

// pgAdvisoryLock holds a session advisory lock on one pinned connection.
type pgAdvisoryLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("SELECT pg_advisory_lock(?)", l.lockID).Error; err != nil {
			return fmt.Errorf("acquire migration advisory lock: %w", err)
		}
		defer func() {
			_ = conn.Exec("SELECT pg_advisory_unlock(?)", l.lockID).Error
		}()
		return fn()
	})
}

// mysqlNamedLock holds a GET_LOCK named lock on one pinned connection.
type mysqlNamedLock struct {
	db      *gorm.DB
	name    string
	timeout time.Duration
}

func (l *mysqlNamedLock) WithLock(ctx context.Context, fn func() error) error {
	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var got sql.NullInt64
		if err := conn.Raw("SELECT GET_LOCK(?, ?)", l.name, int(l.timeout.Seconds())).Row().Scan(&got); err != nil {
			return fmt.Errorf("acquire migration lock %s: %w", l.name, err)
		}
		if !got.Valid || got.Int64 != 1 {
			return fmt.Errorf("acquire migration lock %s: timed out after %s", l.name, l.timeout)
		}
		defer func() {
			_ = conn.Exec("SELECT RELEASE_LOCK(?)", l.name).Error
		}()
		return fn()
	})
}

// migrationLockRecord is the lock row of the table-based lock.
type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id;size:128"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "migration_lock" }

// tableMigrationLock uses INSERT-or-fail semantics on a lock row so only
// one holder exists at a time. Rows older than StaleAge are removed for
// crash recovery.
type tableMigrationLock struct {
	db  *gorm.DB
	cfg *MigrationLockConfig
}

func (l *tableMigrationLock) WithLock(ctx context.Context, fn func() error) error {
	lockRow := migrationLockRecord{
		ID:       l.cfg.Name,
		LockedBy: l.cfg.Holder,
	}
	retries := max(l.cfg.MaxRetries, 1)

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", l.cfg.Name, time.Now().Add(-l.cfg.StaleAge)).
			Delete(&migrationLockRecord{})

		lockRow.LockedAt = time.Now()
		result := l.db.WithContext(ctx).Create(&lockRow)
		if result.Error == nil {
			break
		}
		if i == retries-1 {
			return fmt.Errorf("acquire migration lock after %d attempts: %w", retries, result.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.cfg.RetryInterval):
		}
	}

	defer func() {
		l.db.Where("id = ?", l.cfg.Name).Delete(&migrationLockRecord{})
	}()

	return fn()
}
