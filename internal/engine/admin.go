package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/okarv/stagehand/pkg/api"
)

// Resume unblocks a BLOCKED instance with an operator decision. The
// blocked stage's deliverable was already accepted, so an approval
// re-enters the loop at the following stage (or completes the workflow if
// the final stage blocked). A non-approving decision is an error:
// unblocking with a rejection is meaningless, and RestartFromStage is the
// tool for re-running.
func (o *Orchestrator) Resume(ctx context.Context, id, decision string) (*api.WorkflowInstance, error) {
	d := api.Deliverable{Decision: decision}
	if !d.Approved() {
		return nil, fmt.Errorf("decision %q does not approve; use RestartFromStage to re-run", decision)
	}

	o.mu.Lock()
	st, err := o.lookupIdleLocked(id)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}

	st.mu.Lock()
	if st.inst.Status != api.StatusBlocked {
		status := st.inst.Status
		st.mu.Unlock()
		o.mu.Unlock()
		return nil, fmt.Errorf("cannot resume instance %s in status %s", id, status)
	}
	next := st.inst.CurrentStage + 1
	st.inst.Status = api.StatusRunning
	st.inst.CurrentStage = next
	st.mu.Unlock()

	st.running = true
	o.wg.Add(1)
	o.mu.Unlock()

	o.persist(st)

	snap := st.snapshot()
	o.publishEvent(ctx, snap, api.EventWorkflowResumed, next, "", "resumed with decision "+decision)

	go o.runDetached(st, next, true)
	return snap, nil
}

// RestartFromStage discards all stage results at or after stageIndex on a
// BLOCKED instance and re-runs from there. This is the only operation
// allowed to move CurrentStage backwards.
func (o *Orchestrator) RestartFromStage(ctx context.Context, id string, stageIndex int, reason string) (*api.WorkflowInstance, error) {
	if stageIndex < 0 || stageIndex >= len(o.def.Stages) {
		return nil, fmt.Errorf("stage index %d out of range [0,%d)", stageIndex, len(o.def.Stages))
	}

	o.mu.Lock()
	st, err := o.lookupIdleLocked(id)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}

	st.mu.Lock()
	if st.inst.Status != api.StatusBlocked {
		status := st.inst.Status
		st.mu.Unlock()
		o.mu.Unlock()
		return nil, fmt.Errorf("cannot restart instance %s in status %s", id, status)
	}
	for idx := range st.inst.StageResults {
		if idx >= stageIndex {
			delete(st.inst.StageResults, idx)
		}
	}
	st.inst.Status = api.StatusRunning
	st.inst.CurrentStage = stageIndex
	st.mu.Unlock()

	st.running = true
	o.wg.Add(1)
	o.mu.Unlock()

	o.persist(st)

	snap := st.snapshot()
	o.publishEvent(ctx, snap, api.EventWorkflowRestarted, stageIndex, "", reason)

	go o.runDetached(st, stageIndex, true)
	return snap, nil
}

// lookupIdleLocked finds an instance with no live execution fiber. Caller
// holds o.mu.
func (o *Orchestrator) lookupIdleLocked(id string) (*instanceState, error) {
	if o.closed {
		return nil, ErrShutdown
	}
	st, ok := o.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance not found: %s", id)
	}
	if st.running {
		return nil, fmt.Errorf("instance %s has an active stage loop", id)
	}
	return st, nil
}

// GetStatus returns a snapshot of the instance, or an error if the id is
// unknown.
func (o *Orchestrator) GetStatus(id string) (*api.WorkflowInstance, error) {
	o.mu.Lock()
	st, ok := o.instances[id]
	o.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("instance not found: %s", id)
	}
	return st.snapshot(), nil
}

// GetStats aggregates the in-memory index: counts by status and the
// average duration of completed instances. Each instance is snapshotted
// under its own lock, so stats never observe a transition mid-mutation.
func (o *Orchestrator) GetStats() api.Stats {
	var stats api.Stats
	var totalDuration time.Duration

	for _, snap := range o.snapshots() {
		switch snap.Status {
		case api.StatusCompleted:
			stats.Completed++
			totalDuration += snap.Duration()
		case api.StatusRunning:
			stats.Active++
		case api.StatusBlocked:
			stats.Blocked++
		case api.StatusFailed:
			stats.Failed++
		case api.StatusPending:
			stats.Pending++
		}
	}

	if stats.Completed > 0 {
		stats.AvgDurationHours = totalDuration.Hours() / float64(stats.Completed)
	}
	return stats
}

// ListInstances returns snapshots of instances matching the options.
func (o *Orchestrator) ListInstances(opts api.InstanceListOptions) []*api.WorkflowInstance {
	var out []*api.WorkflowInstance
	for _, snap := range o.snapshots() {
		if opts.Workflow != "" && snap.Workflow != opts.Workflow {
			continue
		}
		if opts.Status != "" && snap.Status != opts.Status {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// Events returns the retained lifecycle event tail for an instance,
// oldest first.
func (o *Orchestrator) Events(instanceID string) []api.WorkflowEvent {
	return o.pub.events(instanceID)
}

func (o *Orchestrator) snapshots() []*api.WorkflowInstance {
	o.mu.Lock()
	states := make([]*instanceState, 0, len(o.instances))
	for _, st := range o.instances {
		states = append(states, st)
	}
	o.mu.Unlock()

	out := make([]*api.WorkflowInstance, 0, len(states))
	for _, st := range states {
		out = append(out, st.snapshot())
	}
	return out
}
