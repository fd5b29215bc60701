// Package stagehand is a durable orchestrator for pipelines of
// long-running external agents that communicate only over an
// asynchronous pub/sub transport.
//
// A pipeline is a fixed, ordered list of stages. For each stage the
// orchestrator announces that the stage has started (so an external
// worker can pick it up), blocks until that worker publishes a
// deliverable on a known subject or the stage's deadline elapses,
// interprets the result against the stage's policy, and persists every
// state transition so a process crash never loses or duplicates work.
//
// # Core Concepts
//
//  1. Orchestrator
//  2. PipelineBuilder
//  3. Deliverable
//  4. Observer
//
// # Orchestrator
//
// The Orchestrator owns the in-memory index of workflow instances and
// runs one stage-loop goroutine per instance, so instances never block
// each other. It exposes the administrative surface: StartWorkflow,
// Resume, RestartFromStage, status and stats queries.
//
// State can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//
// The agent-facing transport is Redis Pub/Sub for the durable backends
// and a channel-based fabric for the in-memory one. Lifecycle events are
// additionally retained on a bounded Redis Stream for audit.
//
// On startup the orchestrator reloads every instance left RUNNING or
// BLOCKED, re-inserts it into its index, and re-attaches RUNNING ones to
// a fresh stage loop at their last recorded stage, re-subscribing for
// the current deliverable without re-dispatching completed stages.
//
// # PipelineBuilder
//
// PipelineBuilder provides the declarative API used to define pipelines:
//
//	def := stagehand.NewPipeline("factory", "feature-build").
//	    Stage("research", "research-agent", 30*time.Minute).
//	    DecisionStage("critique", "critique-agent", 15*time.Minute).
//	    Stage("qa", "qa-agent", 30*time.Minute).
//	    MustBuild()
//
// Definitions can also be loaded from YAML with LoadPipeline, and
// DefaultPipeline returns the stock six-stage delivery pipeline.
//
// # Deliverable
//
// A Deliverable is the result message an agent publishes when it
// finishes a stage: a required status (COMPLETE, BLOCKED, or anything
// else, which counts as a domain failure), a short summary, and an
// optional decision verdict for approval-gate stages. Payloads are
// decoded strictly; unknown fields are rejected at the boundary.
//
// Agents integrate through the pkg/agentkit helper, which decodes stage
// announcements and publishes deliverables to the right subject.
//
// # Observer
//
// Observers receive workflow and stage lifecycle callbacks for logging
// and metrics. LoggingObserver writes structured slog records and
// BasicMetrics keeps atomic counters; both can be combined with
// NewCompositeObserver. Independent of observers, every transition is
// published as a WorkflowEvent for external audit.
package stagehand
