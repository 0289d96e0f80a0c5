package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aretw0/pergola/pkg/adapters/sqlite"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_Contract(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "pergola.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ports.RunCheckpointStoreContract(t, store)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &domain.Checkpoint{RunID: "m", Step: 0, Next: "a", State: domain.State{"n": 1}}))

	latest, err := store.LoadLatest(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, float64(1), latest.State["n"], "numbers round-trip through JSON")
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	first, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, &domain.Checkpoint{RunID: "fridge", Step: 0, Next: "close", Interrupted: true, State: domain.State{}}))
	require.NoError(t, first.Close())

	second, err := sqlite.Open(path)
	require.NoError(t, err)
	defer second.Close()

	latest, err := second.LoadLatest(ctx, "fridge")
	require.NoError(t, err)
	assert.True(t, latest.Interrupted)
	assert.Equal(t, "close", latest.Next)
}

func newMockStore(t *testing.T) (*sqlite.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS checkpoints").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := sqlite.New(db)
	require.NoError(t, err)
	return store, mock
}

func TestSQLiteStore_SaveSurfacesInsertFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT MAX\(step\) FROM checkpoints`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))
	mock.ExpectExec("INSERT INTO checkpoints").
		WithArgs("r1", 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := store.Save(context.Background(), &domain.Checkpoint{RunID: "r1", Step: 0, CreatedAt: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_SaveRejectsStaleStep(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT MAX\(step\) FROM checkpoints`).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(4))
	mock.ExpectRollback()

	err := store.Save(context.Background(), &domain.Checkpoint{RunID: "r1", Step: 4})
	assert.ErrorIs(t, err, domain.ErrCheckpointConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_LoadErrorIsNotNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT checkpoint_json FROM checkpoints").
		WithArgs("r1").
		WillReturnError(errors.New("database is locked"))

	_, err := store.LoadLatest(context.Background(), "r1")
	require.Error(t, err)
	assert.False(t, domain.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_NewRejectsNil(t *testing.T) {
	_, err := sqlite.New(nil)
	assert.Error(t, err)
}
