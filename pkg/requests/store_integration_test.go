//go:build integration

package requests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("reqtrack"),
		tcpostgres.WithUsername("reqtrack"),
		tcpostgres.WithPassword("reqtrack"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return db
}

func startMySQL(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()
	ctr, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("reqtrack"),
		tcmysql.WithUsername("reqtrack"),
		tcmysql.WithPassword("reqtrack"),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "parseTime=true", "loc=UTC")
	require.NoError(t, err)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return db
}

func TestStoresAgainstRealDatabases(t *testing.T) {
	for name, start := range map[string]func(*testing.T) *gorm.DB{
		"postgres": startPostgres,
		"mysql":    startMySQL,
	} {
		t.Run(name, func(t *testing.T) {
			db := start(t)
			store := NewRequestStore(db)
			require.NoError(t, store.AutoMigrate())
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			roles := NewRoleStore(db)
			require.NoError(t, roles.Assign(ctx, manny, RoleRequirementsManager))
			require.NoError(t, roles.Assign(ctx, manny, RoleRequirementsManager))

			wf, err := NewWorkflow(WorkflowDeps{
				Repository: store,
				Notes:      NewNoteStore(db),
				Directory:  roles,
				Logger:     discardLogger(),
				Clock:      time.Now,
			})
			require.NoError(t, err)

			draft := validDraft()
			draft.RequestDate = ptrTime(time.Now().AddDate(0, 0, -1))
			draft.OperationalNeedDate = ptrTime(time.Now().AddDate(0, 1, 0))
			res, err := wf.Submit(ctx, draft, alice)
			require.NoError(t, err)
			stale := res.Request.Clone()

			res, err = wf.AttemptTransition(ctx, res.Request, StatusApproved, bob, nil, "approved")
			require.NoError(t, err)
			_, err = wf.AttemptTransition(ctx, stale, StatusDisapproved, bob, nil, "too late")
			assert.True(t, errors.Is(err, ErrConcurrencyConflict))

			list, err := store.List(ctx, Filter{FilterQuery: "status IN ('APPROVED') AND requester = 'ALICE@example.com'"})
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, res.Request.ID, list[0].ID)

			notes, err := wf.History(ctx, res.Request.ID)
			require.NoError(t, err)
			assert.Len(t, notes, 2)
		})
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
