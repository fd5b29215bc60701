package api

import "time"

// EventType identifies a workflow lifecycle event.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowResumed   EventType = "workflow.resumed"
	EventWorkflowRestarted EventType = "workflow.restarted"
	EventWorkflowCompleted EventType = "workflow.completed"

	EventStageStarted   EventType = "stage.started"
	EventStageCompleted EventType = "stage.completed"
	EventStageBlocked   EventType = "stage.blocked"
	EventStageFailed    EventType = "stage.failed"
)

// Failure actions announced on stage.failed events.
const (
	ActionBlocked = "BLOCKED"
	ActionNotify  = "NOTIFY"
)

// WorkflowEvent is the append-only lifecycle record published for external
// observability and audit. Publication is best-effort: persisted instance
// state, not this stream, is the source of truth.
//
// Keep Detail low-volume; never dump deliverable payloads here.
type WorkflowEvent struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instanceId"`
	Workflow   string    `json:"workflow"`
	Type       EventType `json:"type"`
	At         time.Time `json:"at"`

	// Stage is the 0-based stage index for stage.* events, StageNone for
	// workflow-level events.
	Stage int `json:"stage"`

	// Action distinguishes BLOCKED from NOTIFY on stage.failed events.
	Action string `json:"action,omitempty"`

	// Detail is a short human-oriented note (summary line, restart
	// reason, error string).
	Detail string `json:"detail,omitempty"`
}

// StageRef points at a prior stage's deliverable without copying its
// content. Announcements carry one per completed stage so workers can
// fetch exactly what they need.
type StageRef struct {
	Stage   string `json:"stage"`
	AgentID string `json:"agentId"`
	Subject string `json:"subject"`
	Status  string `json:"status"`
}

// StageAnnouncement is the payload of a stage.started publication: enough
// context for an external dispatcher to pick the stage up, plus the
// subject the engine is awaiting the deliverable on.
type StageAnnouncement struct {
	InstanceID string `json:"instanceId"`
	Workflow   string `json:"workflow"`
	Title      string `json:"title"`
	Owner      string `json:"owner"`

	Stage      string `json:"stage"`
	StageIndex int    `json:"stageIndex"`
	AgentID    string `json:"agentId"`

	// Attempt is 1-based and increments on every retry dispatch.
	Attempt int `json:"attempt"`

	// ResultSubject is where the agent must publish its deliverable.
	ResultSubject string `json:"resultSubject"`

	// Deadline mirrors the stage timeout so agents can budget their work.
	Deadline time.Time `json:"deadline"`

	// Prior references earlier stages' deliverables by subject only.
	Prior []StageRef `json:"prior,omitempty"`
}
