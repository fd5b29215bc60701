package api

import (
	"errors"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusBlocked   Status = "BLOCKED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether the status is final. A terminal instance is
// immutable; no administrative action may move it back to RUNNING.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InFlight reports whether an instance with this status must be recovered
// after a process restart.
func (s Status) InFlight() bool {
	return s == StatusRunning || s == StatusBlocked
}

// SuccessPolicy controls what happens when a stage's deliverable reports
// COMPLETE.
type SuccessPolicy string

const (
	// SuccessNext advances to the following stage (or completes the
	// workflow if this was the last one).
	SuccessNext SuccessPolicy = "next"

	// SuccessComplete finishes the workflow immediately, regardless of
	// position in the pipeline.
	SuccessComplete SuccessPolicy = "complete"

	// SuccessDecision inspects the deliverable's decision/verdict field:
	// an approval behaves like SuccessNext, anything else blocks the
	// instance. This is how approval-gate stages are expressed without a
	// separate stage type.
	SuccessDecision SuccessPolicy = "decision"
)

// FailurePolicy controls what happens once a stage has failed and its
// retry budget is exhausted.
type FailurePolicy string

const (
	// FailureBlock parks the instance in StatusBlocked so an operator can
	// resume or restart it.
	FailureBlock FailurePolicy = "block"

	// FailureNotify marks the instance terminally failed and announces it.
	FailureNotify FailurePolicy = "notify"

	// FailureRetry is accepted in stage definitions for symmetry with the
	// retry budget; after MaxRetries re-dispatches it degrades to
	// FailureBlock. There is no silent-ignore path.
	FailureRetry FailurePolicy = "retry"
)

// StageDefinition describes one step of a pipeline. Definitions are
// immutable after registration and shared by every instance of the same
// workflow.
type StageDefinition struct {
	// Name identifies the stage within its pipeline and doubles as the
	// stage kind in announcement subjects.
	Name string

	// AgentID names the external agent expected to handle this stage.
	AgentID string

	// Stream is the deliverable stream name. Together with AgentID and the
	// instance id it forms the subject the engine awaits results on.
	Stream string

	// Timeout is the SLA deadline for the stage's deliverable. A stage
	// whose deliverable does not arrive in time falls through to the
	// failure policy.
	Timeout time.Duration

	// MaxRetries is the number of extra dispatch attempts after the first
	// one. Zero means a single attempt.
	MaxRetries int

	OnSuccess SuccessPolicy
	OnFailure FailurePolicy

	// OnConditional applies when a decision-gate stage is rejected.
	// Empty defaults to FailureBlock.
	OnConditional FailurePolicy
}

// WorkflowDefinition is the ordered list of stages every instance of one
// workflow type walks through.
type WorkflowDefinition struct {
	// Domain is the leading token of every subject this pipeline touches.
	Domain string

	Name   string
	Stages []StageDefinition
}

// Validate checks the definition for the mistakes that would otherwise
// only surface mid-run: empty names, missing agents, non-positive
// timeouts, unknown policies.
func (d WorkflowDefinition) Validate() error {
	if d.Domain == "" {
		return errors.New("workflow domain is required")
	}
	if d.Name == "" {
		return errors.New("workflow name is required")
	}
	if len(d.Stages) == 0 {
		return errors.New("workflow must have at least one stage")
	}
	for i, st := range d.Stages {
		if st.Name == "" {
			return fmt.Errorf("stage %d: name is required", i)
		}
		if st.AgentID == "" {
			return fmt.Errorf("stage %q: agent id is required", st.Name)
		}
		if st.Stream == "" {
			return fmt.Errorf("stage %q: deliverable stream is required", st.Name)
		}
		if st.Timeout <= 0 {
			return fmt.Errorf("stage %q: timeout must be positive", st.Name)
		}
		if st.MaxRetries < 0 {
			return fmt.Errorf("stage %q: max retries must not be negative", st.Name)
		}
		switch st.OnSuccess {
		case SuccessNext, SuccessComplete, SuccessDecision:
		default:
			return fmt.Errorf("stage %q: unknown success policy %q", st.Name, st.OnSuccess)
		}
		switch st.OnFailure {
		case FailureBlock, FailureNotify, FailureRetry:
		default:
			return fmt.Errorf("stage %q: unknown failure policy %q", st.Name, st.OnFailure)
		}
		switch st.OnConditional {
		case "", FailureBlock, FailureNotify:
		default:
			return fmt.Errorf("stage %q: unknown conditional policy %q", st.Name, st.OnConditional)
		}
	}
	return nil
}

// StageNone is the CurrentStage sentinel for a completed instance: every
// stage has been accepted, none is current.
const StageNone = -1

// StageResult is the minimal per-stage record kept on an instance. Large
// payloads stay in the transport or store the agent wrote to; only the
// status line and a short summary are copied here.
type StageResult struct {
	Status    string    `json:"status"`
	Summary   string    `json:"summary,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkflowInstance is the unit of orchestration: one named run of a
// pipeline, driven by exactly one stage-loop goroutine at a time.
type WorkflowInstance struct {
	// ID is the external request identifier. It is globally unique and
	// doubles as the idempotency key for StartWorkflow.
	ID string `json:"id"`

	Title string `json:"title"`
	Owner string `json:"owner"`

	// Workflow names the definition this instance runs.
	Workflow string `json:"workflow"`

	Status Status `json:"status"`

	// CurrentStage is the 0-based index of the stage being executed.
	// It is StageNone once the instance has completed. A failed instance
	// keeps the index of the stage that failed.
	CurrentStage int `json:"currentStage"`

	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// StageResults maps stage index to the accepted result for that stage.
	StageResults map[int]StageResult `json:"stageResults,omitempty"`
}

// Clone returns a deep copy. The engine hands out clones so callers never
// observe a stage loop's in-place mutations.
func (w *WorkflowInstance) Clone() *WorkflowInstance {
	if w == nil {
		return nil
	}
	cp := *w
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		cp.CompletedAt = &t
	}
	if w.StageResults != nil {
		cp.StageResults = make(map[int]StageResult, len(w.StageResults))
		for k, v := range w.StageResults {
			cp.StageResults[k] = v
		}
	}
	return &cp
}

// Duration returns the wall-clock run time of a completed instance, or
// zero if the instance has not completed.
func (w *WorkflowInstance) Duration() time.Duration {
	if w.CompletedAt == nil {
		return 0
	}
	return w.CompletedAt.Sub(w.StartedAt)
}

// InstanceListOptions controls how instances are listed.
// Zero values mean "no filter" for that field.
type InstanceListOptions struct {
	// Workflow, if non-empty, limits results to instances of the given
	// pipeline.
	Workflow string

	// Status, if non-empty, limits results to instances with the given
	// status.
	Status Status
}

// Stats is a read-only aggregate over the engine's instance index.
type Stats struct {
	Completed int `json:"completed"`
	Active    int `json:"active"`
	Blocked   int `json:"blocked"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`

	// AvgDurationHours averages CompletedAt-StartedAt over completed
	// instances only.
	AvgDurationHours float64 `json:"avgDurationHours"`
}
