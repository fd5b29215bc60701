package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okarv/stagehand/pkg/api"
)

func sampleInstance(id string, status api.Status) *api.WorkflowInstance {
	return &api.WorkflowInstance{
		ID:           id,
		Title:        "Add dark mode",
		Owner:        "alex",
		Workflow:     "feature-build",
		Status:       status,
		CurrentStage: 1,
		StartedAt:    time.Now().UTC().Truncate(time.Millisecond),
		StageResults: map[int]api.StageResult{
			0: {
				Status:    "COMPLETE",
				Summary:   "research finished",
				Timestamp: time.Now().UTC().Truncate(time.Millisecond),
			},
		},
	}
}

// exerciseInstanceStore runs the InstanceStore contract against any
// backend. Every store test calls it so the backends cannot drift apart.
func exerciseInstanceStore(t *testing.T, store InstanceStore) {
	t.Helper()

	_, err := store.GetInstance("missing")
	require.ErrorIs(t, err, ErrInstanceNotFound)

	running := sampleInstance("req-running", api.StatusRunning)
	blocked := sampleInstance("req-blocked", api.StatusBlocked)
	blocked.Workflow = "hotfix"
	done := sampleInstance("req-done", api.StatusCompleted)
	completedAt := done.StartedAt.Add(2 * time.Hour)
	done.CompletedAt = &completedAt
	done.CurrentStage = api.StageNone

	for _, inst := range []*api.WorkflowInstance{running, blocked, done} {
		require.NoError(t, store.SaveInstance(inst))
	}

	// Roundtrip preserves every field, including the stage results map
	// and the completion timestamp.
	got, err := store.GetInstance("req-done")
	require.NoError(t, err)
	assert.Equal(t, done.Title, got.Title)
	assert.Equal(t, done.Owner, got.Owner)
	assert.Equal(t, api.StatusCompleted, got.Status)
	assert.Equal(t, api.StageNone, got.CurrentStage)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completedAt))
	require.Len(t, got.StageResults, 1)
	assert.Equal(t, "research finished", got.StageResults[0].Summary)

	// SaveInstance is an upsert: the second save for the same id wins.
	running.Status = api.StatusBlocked
	running.CurrentStage = 3
	require.NoError(t, store.SaveInstance(running))
	got, err = store.GetInstance("req-running")
	require.NoError(t, err)
	assert.Equal(t, api.StatusBlocked, got.Status)
	assert.Equal(t, 3, got.CurrentStage)

	all, err := store.ListInstances(InstanceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byWorkflow, err := store.ListInstances(InstanceFilter{Workflow: "hotfix"})
	require.NoError(t, err)
	require.Len(t, byWorkflow, 1)
	assert.Equal(t, "req-blocked", byWorkflow[0].ID)

	byStatus, err := store.ListInstances(InstanceFilter{Status: api.StatusCompleted})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "req-done", byStatus[0].ID)

	// LoadInFlight returns RUNNING and BLOCKED only; the completed
	// instance must never come back at recovery.
	inFlight, err := store.LoadInFlight()
	require.NoError(t, err)
	ids := make(map[string]api.Status, len(inFlight))
	for _, inst := range inFlight {
		ids[inst.ID] = inst.Status
	}
	assert.Equal(t, map[string]api.Status{
		"req-running": api.StatusBlocked,
		"req-blocked": api.StatusBlocked,
	}, ids)
}
