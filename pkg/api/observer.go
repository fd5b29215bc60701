package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the orchestrator for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay stage loops.
type Observer interface {
	// OnWorkflowStart is called once when an instance is first started,
	// before the first stage is dispatched.
	OnWorkflowStart(ctx context.Context, inst *WorkflowInstance)

	// OnWorkflowBlocked is called when an instance parks in StatusBlocked,
	// whether from a BLOCKED deliverable, a rejected decision gate, or an
	// exhausted retry budget with a block policy.
	OnWorkflowBlocked(ctx context.Context, inst *WorkflowInstance)

	// OnWorkflowCompleted is called when an instance reaches
	// StatusCompleted.
	OnWorkflowCompleted(ctx context.Context, inst *WorkflowInstance)

	// OnWorkflowFailed is called when an instance transitions to the
	// terminal StatusFailed.
	OnWorkflowFailed(ctx context.Context, inst *WorkflowInstance, err error)

	// OnStageStart is called before each dispatch attempt of a stage.
	// stageIndex is the 0-based index into WorkflowDefinition.Stages;
	// attempt is 1-based.
	OnStageStart(ctx context.Context, inst *WorkflowInstance, stageName string, stageIndex, attempt int)

	// OnStageCompleted is called after the deliverable wait returns, for
	// both accepted results and failures (err != nil). The duration is the
	// time spent waiting on the agent.
	OnStageCompleted(ctx context.Context, inst *WorkflowInstance, stageName string, stageIndex int, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnWorkflowStart(ctx context.Context, inst *WorkflowInstance)             {}
func (NoopObserver) OnWorkflowBlocked(ctx context.Context, inst *WorkflowInstance)           {}
func (NoopObserver) OnWorkflowCompleted(ctx context.Context, inst *WorkflowInstance)         {}
func (NoopObserver) OnWorkflowFailed(ctx context.Context, inst *WorkflowInstance, err error) {}
func (NoopObserver) OnStageStart(ctx context.Context, inst *WorkflowInstance, stageName string, idx, attempt int) {
}
func (NoopObserver) OnStageCompleted(ctx context.Context, inst *WorkflowInstance, stageName string, idx int, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnWorkflowStart(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnWorkflowStart(ctx, inst)
	}
}

func (c *CompositeObserver) OnWorkflowBlocked(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnWorkflowBlocked(ctx, inst)
	}
}

func (c *CompositeObserver) OnWorkflowCompleted(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnWorkflowCompleted(ctx, inst)
	}
}

func (c *CompositeObserver) OnWorkflowFailed(ctx context.Context, inst *WorkflowInstance, err error) {
	for _, o := range c.observers {
		o.OnWorkflowFailed(ctx, inst, err)
	}
}

func (c *CompositeObserver) OnStageStart(ctx context.Context, inst *WorkflowInstance, stageName string, idx, attempt int) {
	for _, o := range c.observers {
		o.OnStageStart(ctx, inst, stageName, idx, attempt)
	}
}

func (c *CompositeObserver) OnStageCompleted(ctx context.Context, inst *WorkflowInstance, stageName string, idx int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStageCompleted(ctx, inst, stageName, idx, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs workflow / stage
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnWorkflowStart(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "workflow_start",
		slog.String("workflow", inst.Workflow),
		slog.String("instance_id", inst.ID),
		slog.String("owner", inst.Owner),
	)
}

func (o *LoggingObserver) OnWorkflowBlocked(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.WarnContext(ctx, "workflow_blocked",
		slog.String("workflow", inst.Workflow),
		slog.String("instance_id", inst.ID),
		slog.Int("stage_index", inst.CurrentStage),
	)
}

func (o *LoggingObserver) OnWorkflowCompleted(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "workflow_completed",
		slog.String("workflow", inst.Workflow),
		slog.String("instance_id", inst.ID),
		slog.Duration("duration", inst.Duration()),
	)
}

func (o *LoggingObserver) OnWorkflowFailed(ctx context.Context, inst *WorkflowInstance, err error) {
	o.Logger.ErrorContext(ctx, "workflow_failed",
		slog.String("workflow", inst.Workflow),
		slog.String("instance_id", inst.ID),
		slog.Int("stage_index", inst.CurrentStage),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStageStart(ctx context.Context, inst *WorkflowInstance, stageName string, idx, attempt int) {
	o.Logger.DebugContext(ctx, "stage_start",
		slog.String("workflow", inst.Workflow),
		slog.String("instance_id", inst.ID),
		slog.String("stage", stageName),
		slog.Int("stage_index", idx),
		slog.Int("attempt", attempt),
	)
}

func (o *LoggingObserver) OnStageCompleted(ctx context.Context, inst *WorkflowInstance, stageName string, idx int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "stage_completed",
		slog.String("workflow", inst.Workflow),
		slog.String("instance_id", inst.ID),
		slog.String("stage", stageName),
		slog.Int("stage_index", idx),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate stage wait times.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	workflowsStarted   atomic.Int64
	workflowsBlocked   atomic.Int64
	workflowsCompleted atomic.Int64
	workflowsFailed    atomic.Int64
	stagesCompleted    atomic.Int64
	totalStageWait     atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	WorkflowsStarted   int64
	WorkflowsBlocked   int64
	WorkflowsCompleted int64
	WorkflowsFailed    int64

	StagesCompleted int64
	AvgStageWait    time.Duration
}

func (m *BasicMetrics) OnWorkflowStart(ctx context.Context, inst *WorkflowInstance) {
	m.workflowsStarted.Add(1)
}

func (m *BasicMetrics) OnWorkflowBlocked(ctx context.Context, inst *WorkflowInstance) {
	m.workflowsBlocked.Add(1)
}

func (m *BasicMetrics) OnWorkflowCompleted(ctx context.Context, inst *WorkflowInstance) {
	m.workflowsCompleted.Add(1)
}

func (m *BasicMetrics) OnWorkflowFailed(ctx context.Context, inst *WorkflowInstance, err error) {
	m.workflowsFailed.Add(1)
}

func (m *BasicMetrics) OnStageCompleted(ctx context.Context, inst *WorkflowInstance, stageName string, idx int, err error, d time.Duration) {
	// Only count accepted deliverables for the average wait.
	if err == nil {
		m.stagesCompleted.Add(1)
		m.totalStageWait.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	stages := m.stagesCompleted.Load()
	totalNs := m.totalStageWait.Load()

	var avg time.Duration
	if stages > 0 {
		avg = time.Duration(totalNs / stages)
	}

	return BasicMetricsSnapshot{
		WorkflowsStarted:   m.workflowsStarted.Load(),
		WorkflowsBlocked:   m.workflowsBlocked.Load(),
		WorkflowsCompleted: m.workflowsCompleted.Load(),
		WorkflowsFailed:    m.workflowsFailed.Load(),
		StagesCompleted:    stages,
		AvgStageWait:       avg,
	}
}
