package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskrelay/internal/domain"
	"github.com/phrazzld/taskrelay/internal/store"
	"github.com/phrazzld/taskrelay/migrations"
)

// testDB connects to the database named by TASKRELAY_TEST_DATABASE_URL,
// applies migrations, and truncates task_results so each test starts clean.
// The test skips when the variable is unset.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("TASKRELAY_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TASKRELAY_TEST_DATABASE_URL not set; skipping database integration test")
	}

	ctx := context.Background()
	db, err := store.Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	goose.SetBaseFS(migrations.FS)
	goose.SetTableName("schema_migrations")
	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(db, "."))

	_, err = db.ExecContext(ctx, "TRUNCATE task_results")
	require.NoError(t, err)
	return db
}

func testResult(taskID uuid.UUID, status domain.TaskStatus, finished time.Time) *domain.Result {
	return &domain.Result{
		TaskID:     taskID,
		Status:     status,
		Output:     "output for " + taskID.String(),
		WorkerID:   "w1",
		Attempt:    1,
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: finished,
	}
}

func TestSaveAndGetResult(t *testing.T) {
	db := testDB(t)
	s := NewResultStore(db)
	ctx := context.Background()

	taskID := uuid.New()
	want := testResult(taskID, domain.TaskStatusSucceeded, time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, s.SaveResult(ctx, want))

	got, err := s.GetResult(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, want.TaskID, got.TaskID)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Output, got.Output)
	assert.Empty(t, got.Error)
	assert.Equal(t, want.WorkerID, got.WorkerID)
	assert.Equal(t, want.Attempt, got.Attempt)
	assert.True(t, want.FinishedAt.Equal(got.FinishedAt))
}

func TestGetResultReturnsLatestAttempt(t *testing.T) {
	db := testDB(t)
	s := NewResultStore(db)
	ctx := context.Background()

	taskID := uuid.New()
	base := time.Now().UTC().Truncate(time.Microsecond)

	first := testResult(taskID, domain.TaskStatusFailed, base)
	first.Error = "transient failure"
	first.Output = ""
	require.NoError(t, s.SaveResult(ctx, first))

	second := testResult(taskID, domain.TaskStatusSucceeded, base.Add(time.Minute))
	second.Attempt = 2
	require.NoError(t, s.SaveResult(ctx, second))

	got, err := s.GetResult(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSucceeded, got.Status)
	assert.Equal(t, 2, got.Attempt)
}

func TestGetResultNotFound(t *testing.T) {
	db := testDB(t)
	s := NewResultStore(db)

	got, err := s.GetResult(context.Background(), uuid.New())
	assert.Nil(t, got)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecentResults(t *testing.T) {
	db := testDB(t)
	s := NewResultStore(db)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = uuid.New()
		require.NoError(t, s.SaveResult(ctx, testResult(ids[i], domain.TaskStatusSucceeded, base.Add(time.Duration(i)*time.Minute))))
	}

	results, err := s.RecentResults(ctx, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, ids[2], results[0].TaskID, "newest first")
	assert.Equal(t, ids[1], results[1].TaskID)
}
