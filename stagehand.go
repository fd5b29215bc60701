package stagehand

import (
	"database/sql"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/okarv/stagehand/internal/engine"
	"github.com/okarv/stagehand/internal/persistence"
	"github.com/okarv/stagehand/internal/transport"
	"github.com/okarv/stagehand/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Orchestrator         = api.Orchestrator
	WorkflowDefinition   = api.WorkflowDefinition
	StageDefinition      = api.StageDefinition
	WorkflowInstance     = api.WorkflowInstance
	StageResult          = api.StageResult
	Deliverable          = api.Deliverable
	WorkflowEvent        = api.WorkflowEvent
	StageAnnouncement    = api.StageAnnouncement
	StageRef             = api.StageRef
	InstanceListOptions  = api.InstanceListOptions
	Stats                = api.Stats
	Status               = api.Status
	SuccessPolicy        = api.SuccessPolicy
	FailurePolicy        = api.FailurePolicy
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export status values for convenience.

const (
	StatusPending   = api.StatusPending
	StatusRunning   = api.StatusRunning
	StatusBlocked   = api.StatusBlocked
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
)

// Re-export stage policies.

const (
	SuccessNext     = api.SuccessNext
	SuccessComplete = api.SuccessComplete
	SuccessDecision = api.SuccessDecision

	FailureBlock  = api.FailureBlock
	FailureNotify = api.FailureNotify
	FailureRetry  = api.FailureRetry
)

// Option customizes an orchestrator built by the constructors below.
type Option func(*engine.Config)

// WithObserver attaches an Observer for logging and metrics callbacks.
func WithObserver(obs Observer) Option {
	return func(cfg *engine.Config) { cfg.Observer = obs }
}

// WithLogger sets the slog.Logger the engine reports persist/publish
// failures on. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *engine.Config) { cfg.Logger = logger }
}

// WithEventTailSize bounds the in-memory lifecycle event tail kept for
// the Events query.
func WithEventTailSize(n int) Option {
	return func(cfg *engine.Config) { cfg.EventTailSize = n }
}

// Orchestrator constructors
// These wrap the internal packages so external callers never import them.

// NewInMemoryOrchestrator runs entirely in process: map-backed instance
// store and channel-based transport. Nothing survives a restart; best for
// tests and local development.
func NewInMemoryOrchestrator(def WorkflowDefinition, opts ...Option) (Orchestrator, error) {
	return build(engine.Config{
		Definition: def,
		Store:      persistence.NewInMemoryStore(),
		Transport:  transport.NewMemoryTransport(),
		EventLog:   transport.NewMemoryEventLog(0),
	}, opts)
}

// NewSQLiteOrchestrator persists instances in SQLite and communicates
// with agents over Redis Pub/Sub. The *sql.DB must use a SQLite driver
// (for example "modernc.org/sqlite").
func NewSQLiteOrchestrator(def WorkflowDefinition, db *sql.DB, rdb *redis.Client, opts ...Option) (Orchestrator, error) {
	store, err := persistence.NewSQLiteInstanceStore(db)
	if err != nil {
		return nil, err
	}
	return build(withRedisFabric(def, store, rdb), opts)
}

// NewPostgresOrchestrator persists instances in PostgreSQL and
// communicates with agents over Redis Pub/Sub. The *sql.DB must use a
// PostgreSQL driver (for example "github.com/jackc/pgx/v5/stdlib").
func NewPostgresOrchestrator(def WorkflowDefinition, db *sql.DB, rdb *redis.Client, opts ...Option) (Orchestrator, error) {
	store, err := persistence.NewPostgresInstanceStore(db)
	if err != nil {
		return nil, err
	}
	return build(withRedisFabric(def, store, rdb), opts)
}

// NewRedisOrchestrator uses Redis for everything: instance persistence,
// Pub/Sub transport, and the Streams-backed event log.
func NewRedisOrchestrator(def WorkflowDefinition, rdb *redis.Client, opts ...Option) (Orchestrator, error) {
	store := persistence.NewRedisInstanceStore(rdb, def.Domain+":")
	return build(withRedisFabric(def, store, rdb), opts)
}

func withRedisFabric(def WorkflowDefinition, store persistence.InstanceStore, rdb *redis.Client) engine.Config {
	subjects := transport.Subjects{Domain: def.Domain}
	return engine.Config{
		Definition: def,
		Store:      store,
		Transport:  transport.NewRedisTransport(rdb),
		EventLog:   transport.NewRedisEventLog(rdb, subjects.EventStream(), 0),
	}
}

func build(cfg engine.Config, opts []Option) (Orchestrator, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	return engine.New(cfg)
}
