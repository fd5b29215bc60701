package persistence

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/okarv/stagehand/pkg/api"
)

func newSQLiteStore(t *testing.T) *SQLiteInstanceStore {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteInstanceStore(db)
	require.NoError(t, err)
	return store
}

func TestSQLiteStoreContract(t *testing.T) {
	exerciseInstanceStore(t, newSQLiteStore(t))
}

func TestSQLiteStoreNullColumns(t *testing.T) {
	store := newSQLiteStore(t)

	// No completion time, no stage results: both columns are NULL and
	// must come back as zero values, not decode errors.
	inst := sampleInstance("req-bare", api.StatusRunning)
	inst.StageResults = nil
	require.NoError(t, store.SaveInstance(inst))

	got, err := store.GetInstance("req-bare")
	require.NoError(t, err)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.StageResults)
	assert.True(t, got.StartedAt.Equal(inst.StartedAt))
}

func TestSQLiteStoreSchemaIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = NewSQLiteInstanceStore(db)
	require.NoError(t, err)
	_, err = NewSQLiteInstanceStore(db)
	require.NoError(t, err)
}
