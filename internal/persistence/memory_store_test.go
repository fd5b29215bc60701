package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okarv/stagehand/pkg/api"
)

func TestInMemoryStoreContract(t *testing.T) {
	exerciseInstanceStore(t, NewInMemoryStore())
}

func TestInMemoryStoreIsolatesCallers(t *testing.T) {
	store := NewInMemoryStore()

	inst := sampleInstance("req-1", api.StatusRunning)
	require.NoError(t, store.SaveInstance(inst))

	// Mutating the caller's copy after save must not leak into the store.
	inst.Status = api.StatusFailed
	inst.StageResults[5] = api.StageResult{Status: "COMPLETE"}

	got, err := store.GetInstance("req-1")
	require.NoError(t, err)
	assert.Equal(t, api.StatusRunning, got.Status)
	assert.Len(t, got.StageResults, 1)

	// And mutating a read result must not corrupt the stored copy.
	got.Title = "changed"
	again, err := store.GetInstance("req-1")
	require.NoError(t, err)
	assert.Equal(t, "Add dark mode", again.Title)
}
