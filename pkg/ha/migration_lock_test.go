package ha

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Shared cache so all goroutines of one test see the same database.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test DB: %v", err)
	}
	return db
}

func fastConfig() *MigrationLockConfig {
	cfg := DefaultMigrationLockConfig()
	cfg.RetryInterval = 5 * time.Millisecond
	cfg.MaxRetries = 200
	return cfg
}

func lockRows(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&migrationLockRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count lock rows: %v", err)
	}
	return count
}

func TestNewMigrationLocker_NilDB(t *testing.T) {
	locker := NewMigrationLocker(nil, nil)
	called := false
	err := locker.WithLock(context.Background(), func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("function was not called")
	}
}

func TestNewMigrationLocker_Disabled(t *testing.T) {
	cfg := DefaultMigrationLockConfig()
	cfg.Enabled = false
	if _, ok := NewMigrationLocker(setupTestDB(t), cfg).(noopMigrationLock); !ok {
		t.Error("expected a no-op locker when locking is disabled")
	}
}

func TestTableMigrationLock_WithLock(t *testing.T) {
	db := setupTestDB(t)
	locker := NewMigrationLocker(db, fastConfig())

	called := false
	err := locker.WithLock(context.Background(), func() error {
		called = true
		if n := lockRows(t, db); n != 1 {
			t.Errorf("expected one lock row while held, got %d", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("function was not called")
	}
	if n := lockRows(t, db); n != 0 {
		t.Errorf("expected lock table to be empty after WithLock, got %d rows", n)
	}
}

func TestTableMigrationLock_ErrorPropagation(t *testing.T) {
	db := setupTestDB(t)
	locker := NewMigrationLocker(db, fastConfig())

	migrationErr := errors.New("migration failed")
	err := locker.WithLock(context.Background(), func() error {
		return migrationErr
	})
	if !errors.Is(err, migrationErr) {
		t.Fatalf("error = %v, want %v", err, migrationErr)
	}
	if n := lockRows(t, db); n != 0 {
		t.Errorf("expected lock table to be empty after error, got %d rows", n)
	}
}

func TestTableMigrationLock_Serialization(t *testing.T) {
	db := setupTestDB(t)
	locker := NewMigrationLocker(db, fastConfig())

	var concurrent atomic.Int32
	var maxConcurrent atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock(context.Background(), func() error {
				cur := concurrent.Add(1)
				for {
					prev := maxConcurrent.Load()
					if cur <= prev || maxConcurrent.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				concurrent.Add(-1)
				return nil
			})
		}()
	}

	wg.Wait()

	if maxConcurrent.Load() > 1 {
		t.Errorf("expected max concurrency of 1, got %d", maxConcurrent.Load())
	}
}

func TestTableMigrationLock_StaleLockIsRecovered(t *testing.T) {
	db := setupTestDB(t)
	cfg := fastConfig()
	locker := NewMigrationLocker(db, cfg)

	stale := migrationLockRecord{ID: cfg.Name, LockedBy: "crashed-replica", LockedAt: time.Now().Add(-time.Hour)}
	if err := db.Create(&stale).Error; err != nil {
		t.Fatalf("seed stale lock: %v", err)
	}

	called := false
	if err := locker.WithLock(context.Background(), func() error { called = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("function was not called")
	}
}

func TestTableMigrationLock_GivesUpAfterRetries(t *testing.T) {
	db := setupTestDB(t)
	cfg := fastConfig()
	cfg.MaxRetries = 3
	locker := NewMigrationLocker(db, cfg)

	held := migrationLockRecord{ID: cfg.Name, LockedBy: "other-replica", LockedAt: time.Now()}
	if err := db.Create(&held).Error; err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	err := locker.WithLock(context.Background(), func() error {
		t.Error("should not have acquired the lock")
		return nil
	})
	if err == nil {
		t.Fatal("expected an error when the lock stays held")
	}
}

func TestTableMigrationLock_ContextCancellation(t *testing.T) {
	db := setupTestDB(t)
	locker := NewMigrationLocker(db, fastConfig())

	err := locker.WithLock(context.Background(), func() error {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err2 := locker.WithLock(ctx, func() error {
			t.Error("should not have acquired the lock")
			return nil
		})
		if !errors.Is(err2, context.Canceled) {
			t.Errorf("expected context cancellation error, got %v", err2)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("outer WithLock error: %v", err)
	}
}

func TestPgAdvisoryLock_LocksOnOneConnection(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer sqlDB.Close()
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}

	cfg := DefaultMigrationLockConfig()
	lockID := int64(crc32.ChecksumIEEE([]byte(cfg.Name)))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_lock($1)")).
		WithArgs(lockID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_unlock($1)")).
		WithArgs(lockID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	locker := NewMigrationLocker(db, cfg)
	if _, ok := locker.(*pgAdvisoryLock); !ok {
		t.Fatalf("expected advisory lock, got %T", locker)
	}
	called := false
	if err := locker.WithLock(context.Background(), func() error { called = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("function was not called")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMySQLNamedLock(t *testing.T) {
	newMock := func(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
		t.Helper()
		sqlDB, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock: %v", err)
		}
		t.Cleanup(func() { sqlDB.Close() })
		db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			t.Fatalf("open gorm: %v", err)
		}
		return db, mock
	}

	t.Run("acquired", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, ?)")).
			WithArgs("reqtrack-migration", 30).
			WillReturnRows(sqlmock.NewRows([]string{"lock"}).AddRow(1))
		mock.ExpectExec(regexp.QuoteMeta("SELECT RELEASE_LOCK(?)")).
			WithArgs("reqtrack-migration").
			WillReturnResult(sqlmock.NewResult(0, 0))

		called := false
		err := NewMigrationLocker(db, nil).WithLock(context.Background(), func() error { called = true; return nil })
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !called {
			t.Error("function was not called")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("timed out", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT GET_LOCK(?, ?)")).
			WillReturnRows(sqlmock.NewRows([]string{"lock"}).AddRow(0))

		err := NewMigrationLocker(db, nil).WithLock(context.Background(), func() error {
			t.Error("should not have acquired the lock")
			return nil
		})
		if err == nil {
			t.Fatal("expected a timeout error")
		}
	})
}

func TestMigrationLockConfigFromEnv(t *testing.T) {
	t.Setenv("REQTRACK_MIGRATION_LOCK_ENABLED", "false")
	t.Setenv("REQTRACK_MIGRATION_LOCK_NAME", "blue-green")
	t.Setenv("REQTRACK_MIGRATION_LOCK_RETRIES", "5")
	t.Setenv("REQTRACK_MIGRATION_LOCK_STALE_SECONDS", "nope")

	cfg := MigrationLockConfigFromEnv()
	if cfg.Enabled {
		t.Error("expected Enabled to be false")
	}
	if cfg.Name != "blue-green" {
		t.Errorf("Name = %q, want blue-green", cfg.Name)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.StaleAge != 5*time.Minute {
		t.Errorf("StaleAge = %v, want default 5m", cfg.StaleAge)
	}
	if cfg.Holder == "" {
		t.Error("expected a holder identity")
	}
}
