// Package persistence stores workflow instance state durably. The engine
// treats the store as best-effort-but-attempted: every transition is
// saved, a failed save is logged by the caller, and in-memory state stays
// authoritative for the running process.
package persistence

import (
	"errors"

	"github.com/okarv/stagehand/pkg/api"
)

// ErrInstanceNotFound is returned when a workflow instance is not found.
var ErrInstanceNotFound = errors.New("instance not found")

// InstanceFilter is used to select instances from the store.
// Empty string / zero status mean "no filter" for that field.
type InstanceFilter struct {
	Workflow string
	Status   api.Status
}

// InstanceStore handles storage of workflow instances.
//
// SaveInstance is an upsert by id: safe to call concurrently for
// different ids and repeatedly for the same id, last write wins.
type InstanceStore interface {
	SaveInstance(inst *api.WorkflowInstance) error
	GetInstance(id string) (*api.WorkflowInstance, error)
	ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error)

	// LoadInFlight returns every instance whose status is RUNNING or
	// BLOCKED. It is used once, at startup, to rebuild the engine's
	// in-memory index before new work is accepted.
	LoadInFlight() ([]*api.WorkflowInstance, error)
}
