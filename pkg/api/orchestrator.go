package api

import "context"

// Orchestrator is the high-level engine API: administrative operations on
// workflow instances plus read-only query surfaces.
//
// Blocked and failed are terminal *states* of an instance, not errors:
// none of these methods return an error for an instance that merely ended
// up blocked or failed. Errors are reserved for caller mistakes (unknown
// id, bad stage index, resuming a non-blocked instance) and infrastructure
// failures.
type Orchestrator interface {
	// StartWorkflow creates and runs a new instance. It is idempotent on
	// id: starting an id that is already tracked is a no-op returning the
	// existing instance and dispatching nothing.
	StartWorkflow(ctx context.Context, id, title, owner string) (*WorkflowInstance, error)

	// ResumeWorkflowFromStage is the recovery/backfill entry point: it
	// creates an instance whose stage loop begins at stageIndex instead
	// of 0. Like StartWorkflow it is idempotent on id.
	ResumeWorkflowFromStage(ctx context.Context, id, title, owner string, stageIndex int) (*WorkflowInstance, error)

	// Resume unblocks a BLOCKED instance. An approving decision re-enters
	// the stage loop at the stage after the one that blocked; anything
	// else is rejected with a descriptive error (RestartFromStage is the
	// tool for re-running a stage).
	Resume(ctx context.Context, id, decision string) (*WorkflowInstance, error)

	// RestartFromStage discards all stage results at or after stageIndex
	// on a BLOCKED instance and re-enters the stage loop there. This is
	// the only operation allowed to move CurrentStage backwards.
	RestartFromStage(ctx context.Context, id string, stageIndex int, reason string) (*WorkflowInstance, error)

	// GetStatus returns a snapshot of the instance, or an error if the id
	// is unknown.
	GetStatus(id string) (*WorkflowInstance, error)

	// GetStats aggregates counts by status and the average duration of
	// completed instances.
	GetStats() Stats

	// ListInstances returns snapshots of instances matching the options.
	ListInstances(opts InstanceListOptions) []*WorkflowInstance

	// Events returns the retained tail of lifecycle events for an
	// instance, oldest first. The tail is bounded; it is a diagnostic
	// surface, not durable history.
	Events(instanceID string) []WorkflowEvent

	// Shutdown stops accepting new work and waits for in-flight stage
	// loops to park, or for ctx to expire. Instances left RUNNING are
	// recovered on the next start.
	Shutdown(ctx context.Context) error
}
