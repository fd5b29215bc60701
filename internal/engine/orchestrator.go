// Package engine implements the workflow orchestrator: one stage-loop
// goroutine per instance, driven by deliverables arriving over the
// pub/sub transport, with every transition persisted before the next
// side effect is attempted.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/okarv/stagehand/internal/persistence"
	"github.com/okarv/stagehand/internal/transport"
	"github.com/okarv/stagehand/internal/waiter"
	"github.com/okarv/stagehand/pkg/api"
)

// ErrShutdown is returned by administrative calls after Shutdown.
var ErrShutdown = errors.New("orchestrator is shut down")

// Config describes how to construct an Orchestrator.
type Config struct {
	Definition api.WorkflowDefinition
	Store      persistence.InstanceStore
	Transport  transport.Transport

	// EventLog, if set, additionally retains lifecycle events on an
	// append-only bounded stream. Nil disables the durable audit tail.
	EventLog transport.EventLog

	// Observer defaults to NoopObserver.
	Observer api.Observer

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// EventTailSize bounds the in-memory event tail kept for the Events
	// query (default 1024).
	EventTailSize int
}

// Orchestrator drives a fixed pipeline of long-running external stages.
// It implements api.Orchestrator.
type Orchestrator struct {
	def      api.WorkflowDefinition
	store    persistence.InstanceStore
	tr       transport.Transport
	waiter   *waiter.Waiter
	pub      *eventPublisher
	obs      api.Observer
	log      *slog.Logger
	subjects transport.Subjects

	// ctx is the root context of every stage loop; cancelled on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	instances map[string]*instanceState
	closed    bool
	wg        sync.WaitGroup
}

var _ api.Orchestrator = (*Orchestrator)(nil)

// instanceState pairs an instance with its fiber bookkeeping. The inst
// fields are guarded by mu; running is guarded by the orchestrator mutex
// and is true exactly while a stage-loop goroutine owns the instance.
type instanceState struct {
	mu      sync.Mutex
	inst    *api.WorkflowInstance
	running bool
}

func (st *instanceState) snapshot() *api.WorkflowInstance {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.inst.Clone()
}

// New constructs an Orchestrator, provisions the event stream, and runs
// recovery: every in-flight instance found in the store is re-inserted
// into the index, and RUNNING ones are re-attached to a fresh stage loop
// at their last recorded stage. Recovery completes before New returns, so
// a duplicate StartWorkflow for a recovered id cannot race it.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Definition.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}
	if cfg.Store == nil {
		return nil, errors.New("instance store is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}

	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	subjects := transport.Subjects{Domain: cfg.Definition.Domain}

	o := &Orchestrator{
		def:       cfg.Definition,
		store:     cfg.Store,
		tr:        cfg.Transport,
		waiter:    waiter.New(cfg.Transport),
		obs:       obs,
		log:       log,
		subjects:  subjects,
		ctx:       ctx,
		cancel:    cancel,
		instances: make(map[string]*instanceState),
	}
	o.pub = newEventPublisher(cfg.Transport, cfg.EventLog, subjects, log, cfg.EventTailSize)

	if cfg.EventLog != nil {
		if err := cfg.EventLog.Provision(ctx); err != nil {
			log.Warn("event stream provisioning failed; audit tail disabled for this run",
				slog.Any("error", err))
		}
	}

	o.recover()
	return o, nil
}

// StartWorkflow creates and runs a new instance. Starting an id that is
// already tracked in memory is a no-op returning the existing instance:
// the id is the idempotency key, so a retried external call cannot cause
// duplicate dispatch.
func (o *Orchestrator) StartWorkflow(ctx context.Context, id, title, owner string) (*api.WorkflowInstance, error) {
	return o.start(ctx, id, title, owner, 0, api.EventWorkflowStarted)
}

// ResumeWorkflowFromStage creates an instance whose stage loop begins at
// stageIndex. It is the recovery/backfill entry point and shares
// StartWorkflow's idempotency on id.
func (o *Orchestrator) ResumeWorkflowFromStage(ctx context.Context, id, title, owner string, stageIndex int) (*api.WorkflowInstance, error) {
	if stageIndex < 0 || stageIndex >= len(o.def.Stages) {
		return nil, fmt.Errorf("stage index %d out of range [0,%d)", stageIndex, len(o.def.Stages))
	}
	return o.start(ctx, id, title, owner, stageIndex, api.EventWorkflowResumed)
}

func (o *Orchestrator) start(ctx context.Context, id, title, owner string, startIdx int, evt api.EventType) (*api.WorkflowInstance, error) {
	if id == "" {
		return nil, errors.New("instance id is required")
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrShutdown
	}
	if existing, ok := o.instances[id]; ok {
		o.mu.Unlock()
		return existing.snapshot(), nil
	}

	st := &instanceState{
		inst: &api.WorkflowInstance{
			ID:           id,
			Title:        title,
			Owner:        owner,
			Workflow:     o.def.Name,
			Status:       api.StatusRunning,
			CurrentStage: startIdx,
			StartedAt:    time.Now().UTC(),
		},
		// Reserve the execution fiber before releasing the index lock so
		// nothing else can attach a loop to this id.
		running: true,
	}
	o.instances[id] = st
	o.wg.Add(1)
	o.mu.Unlock()

	// Persist before the first side effect; a crash between persist and
	// publish replays safely because the store is the source of truth.
	o.persist(st)

	snap := st.snapshot()
	o.obs.OnWorkflowStart(ctx, snap)
	o.publishEvent(ctx, snap, evt, api.StageNone, "", "")

	go o.runDetached(st, startIdx, true)
	return snap, nil
}

// runDetached is the body of an instance's execution fiber. The caller
// must have reserved st.running and incremented the wait group.
func (o *Orchestrator) runDetached(st *instanceState, start int, announceFirst bool) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		st.running = false
		o.mu.Unlock()
	}()
	o.runLoop(st, start, announceFirst)
}

type stageOutcome int

const (
	outcomeAdvance stageOutcome = iota
	outcomeFinish
	outcomeHalt     // blocked or terminally failed, already persisted and announced
	outcomeShutdown // engine stopping, state left for the next recovery
)

// runLoop walks stages strictly in sequence from start. announceFirst is
// false only on recovery re-attach, where the current stage was already
// announced before the crash and only the subscription must be rebuilt.
func (o *Orchestrator) runLoop(st *instanceState, start int, announceFirst bool) {
	announce := announceFirst
	for idx := start; ; idx++ {
		if idx >= len(o.def.Stages) {
			o.finish(st)
			return
		}
		switch o.runStage(st, idx, announce) {
		case outcomeAdvance:
			announce = true
		case outcomeFinish:
			o.finish(st)
			return
		default:
			return
		}
	}
}

// agentFailure is a deliverable whose status is neither COMPLETE nor
// BLOCKED; it is routed through the stage's failure policy like any other
// stage failure.
type agentFailure struct {
	status  string
	summary string
}

func (e *agentFailure) Error() string {
	if e.summary == "" {
		return "agent reported " + e.status
	}
	return fmt.Sprintf("agent reported %s: %s", e.status, e.summary)
}

func (o *Orchestrator) runStage(st *instanceState, idx int, announceFirst bool) stageOutcome {
	stage := o.def.Stages[idx]
	ctx := o.ctx

	st.mu.Lock()
	st.inst.Status = api.StatusRunning
	st.inst.CurrentStage = idx
	st.mu.Unlock()
	o.persist(st)

	snap := st.snapshot()
	resultSubject := o.subjects.Deliverable(stage.AgentID, stage.Stream, snap.ID)

	attempts := stage.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		o.obs.OnStageStart(ctx, snap, stage.Name, idx, attempt)

		// Subscribe before announcing: an agent that answers instantly
		// must not slip past the subscription.
		pending, err := o.waiter.Subscribe(ctx, resultSubject)
		if err != nil {
			o.obs.OnStageCompleted(ctx, snap, stage.Name, idx, err, 0)
			lastErr = err
			continue
		}

		if announceFirst || attempt > 1 {
			o.announceStage(ctx, snap, stage, idx, attempt, resultSubject)
		}

		waitStart := time.Now()
		d, err := pending.Wait(ctx, stage.Timeout)
		o.obs.OnStageCompleted(ctx, snap, stage.Name, idx, err, time.Since(waitStart))

		if err != nil {
			if o.stopping(err) {
				return outcomeShutdown
			}
			lastErr = err
			continue
		}

		switch d.Status {
		case api.DeliverableComplete:
			return o.acceptComplete(ctx, st, stage, idx, d)
		case api.DeliverableBlocked:
			o.recordResult(st, idx, api.StageResult{
				Status:    d.Status,
				Summary:   d.Summary,
				Timestamp: time.Now().UTC(),
			})
			o.block(ctx, st, idx, api.EventStageBlocked, "", d.Summary)
			return outcomeHalt
		default:
			lastErr = &agentFailure{status: d.Status, summary: d.Summary}
			continue
		}
	}

	return o.applyFailurePolicy(ctx, st, stage, idx, lastErr)
}

// acceptComplete records a COMPLETE deliverable and resolves the stage's
// success policy.
func (o *Orchestrator) acceptComplete(ctx context.Context, st *instanceState, stage api.StageDefinition, idx int, d *api.Deliverable) stageOutcome {
	o.recordResult(st, idx, api.StageResult{
		Status:    d.Status,
		Summary:   d.Summary,
		Timestamp: time.Now().UTC(),
	})

	if stage.OnSuccess == api.SuccessDecision && !d.Approved() {
		verdict := d.Decision
		if verdict == "" {
			verdict = d.Verdict
		}
		detail := fmt.Sprintf("decision gate rejected (verdict %q)", verdict)

		policy := stage.OnConditional
		if policy == "" {
			policy = api.FailureBlock
		}
		if policy == api.FailureNotify {
			o.terminalFail(ctx, st, idx, api.ActionNotify, errors.New(detail))
			return outcomeHalt
		}
		o.block(ctx, st, idx, api.EventStageBlocked, "", detail)
		return outcomeHalt
	}

	o.persist(st)
	o.publishEvent(ctx, st.snapshot(), api.EventStageCompleted, idx, "", d.Summary)

	if stage.OnSuccess == api.SuccessComplete {
		return outcomeFinish
	}
	return outcomeAdvance
}

// applyFailurePolicy handles a stage whose retry budget is exhausted.
// There is no silent-ignore path: every outcome is persisted and
// announced.
func (o *Orchestrator) applyFailurePolicy(ctx context.Context, st *instanceState, stage api.StageDefinition, idx int, cause error) stageOutcome {
	o.recordResult(st, idx, api.StageResult{
		Status:    "FAILED",
		Summary:   cause.Error(),
		Timestamp: time.Now().UTC(),
	})

	policy := stage.OnFailure
	if policy == api.FailureRetry {
		// The retry budget is spent; park the instance for an operator.
		policy = api.FailureBlock
	}

	if policy == api.FailureNotify {
		o.terminalFail(ctx, st, idx, api.ActionNotify, cause)
		return outcomeHalt
	}

	st.mu.Lock()
	st.inst.Status = api.StatusBlocked
	st.mu.Unlock()
	o.persist(st)

	snap := st.snapshot()
	o.publishEvent(ctx, snap, api.EventStageFailed, idx, api.ActionBlocked, cause.Error())
	o.obs.OnWorkflowBlocked(ctx, snap)
	return outcomeHalt
}

// block parks the instance in StatusBlocked and announces it.
func (o *Orchestrator) block(ctx context.Context, st *instanceState, idx int, evt api.EventType, action, detail string) {
	st.mu.Lock()
	st.inst.Status = api.StatusBlocked
	st.mu.Unlock()
	o.persist(st)

	snap := st.snapshot()
	o.publishEvent(ctx, snap, evt, idx, action, detail)
	o.obs.OnWorkflowBlocked(ctx, snap)
}

// terminalFail marks the instance terminally failed. CurrentStage keeps
// the index of the failing stage for diagnostics.
func (o *Orchestrator) terminalFail(ctx context.Context, st *instanceState, idx int, action string, cause error) {
	st.mu.Lock()
	st.inst.Status = api.StatusFailed
	st.mu.Unlock()
	o.persist(st)

	snap := st.snapshot()
	o.publishEvent(ctx, snap, api.EventStageFailed, idx, action, cause.Error())
	o.obs.OnWorkflowFailed(ctx, snap, cause)
}

func (o *Orchestrator) finish(st *instanceState) {
	now := time.Now().UTC()

	st.mu.Lock()
	st.inst.Status = api.StatusCompleted
	st.inst.CurrentStage = api.StageNone
	st.inst.CompletedAt = &now
	st.mu.Unlock()
	o.persist(st)

	snap := st.snapshot()
	o.publishEvent(o.ctx, snap, api.EventWorkflowCompleted, api.StageNone, "", "")
	o.obs.OnWorkflowCompleted(o.ctx, snap)
}

func (o *Orchestrator) recordResult(st *instanceState, idx int, res api.StageResult) {
	st.mu.Lock()
	if st.inst.StageResults == nil {
		st.inst.StageResults = make(map[int]api.StageResult)
	}
	st.inst.StageResults[idx] = res
	st.mu.Unlock()
}

// announceStage publishes the stage.started announcement and its
// lifecycle event. Both are best-effort: the worker is expected to be
// listening already or to poll, and a lost announcement is re-sent by the
// retry policy.
func (o *Orchestrator) announceStage(ctx context.Context, snap *api.WorkflowInstance, stage api.StageDefinition, idx, attempt int, resultSubject string) {
	ann := api.StageAnnouncement{
		InstanceID:    snap.ID,
		Workflow:      snap.Workflow,
		Title:         snap.Title,
		Owner:         snap.Owner,
		Stage:         stage.Name,
		StageIndex:    idx,
		AgentID:       stage.AgentID,
		Attempt:       attempt,
		ResultSubject: resultSubject,
		Deadline:      time.Now().UTC().Add(stage.Timeout),
		Prior:         o.priorRefs(snap, idx),
	}

	data, err := encodeJSON(ann)
	if err != nil {
		o.log.Warn("encode stage announcement failed",
			slog.String("instance_id", snap.ID),
			slog.Any("error", err))
		return
	}

	subject := o.subjects.StageStart(stage.Name, snap.ID)
	if err := o.tr.Publish(ctx, subject, data); err != nil {
		o.log.Warn("publish stage announcement failed",
			slog.String("instance_id", snap.ID),
			slog.String("subject", subject),
			slog.Any("error", err))
	}

	o.publishEvent(ctx, snap, api.EventStageStarted, idx, "", fmt.Sprintf("attempt %d", attempt))
}

// priorRefs builds the stage context: references to earlier deliverables
// by subject only, never their content. This bounds announcement size as
// pipelines lengthen.
func (o *Orchestrator) priorRefs(snap *api.WorkflowInstance, idx int) []api.StageRef {
	var refs []api.StageRef
	for i := 0; i < idx && i < len(o.def.Stages); i++ {
		res, ok := snap.StageResults[i]
		if !ok {
			continue
		}
		prior := o.def.Stages[i]
		refs = append(refs, api.StageRef{
			Stage:   prior.Name,
			AgentID: prior.AgentID,
			Subject: o.subjects.Deliverable(prior.AgentID, prior.Stream, snap.ID),
			Status:  res.Status,
		})
	}
	return refs
}

// persist saves a snapshot of the instance. Store unavailability is
// logged, never fatal: the in-memory state stays authoritative for the
// running process.
func (o *Orchestrator) persist(st *instanceState) {
	snap := st.snapshot()
	if err := o.store.SaveInstance(snap); err != nil {
		o.log.Warn("persist workflow instance failed",
			slog.String("instance_id", snap.ID),
			slog.String("status", string(snap.Status)),
			slog.Any("error", err))
	}
}

// stopping reports whether err is the orchestrator's own shutdown
// cancellation rather than a stage failure.
func (o *Orchestrator) stopping(err error) bool {
	if !errors.Is(err, context.Canceled) {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Shutdown stops accepting new work, cancels in-flight waits, and blocks
// until every stage loop has parked or ctx expires. Instances caught
// mid-stage stay RUNNING in the store and are recovered on next start.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
