package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okarv/stagehand/pkg/api"
)

// PostgresInstanceStore is an InstanceStore backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresInstanceStore struct {
	db *sql.DB
}

var _ InstanceStore = (*PostgresInstanceStore)(nil)

// NewPostgresInstanceStore initializes the required schema in the given
// database and returns a new PostgresInstanceStore.
func NewPostgresInstanceStore(db *sql.DB) (*PostgresInstanceStore, error) {
	s := &PostgresInstanceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresInstanceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_instances (
			id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			title TEXT NOT NULL,
			owner TEXT NOT NULL,
			status TEXT NOT NULL,
			current_stage INTEGER NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			stage_results BYTEA
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_instances_status
			ON workflow_instances (status);
	`)
	return err
}

func (s *PostgresInstanceStore) SaveInstance(inst *api.WorkflowInstance) error {
	results, err := encodeStageResults(inst.StageResults)
	if err != nil {
		return err
	}

	var completedAt *time.Time
	if inst.CompletedAt != nil {
		t := inst.CompletedAt.UTC()
		completedAt = &t
	}

	_, err = s.db.Exec(`
		INSERT INTO workflow_instances
			(id, workflow, title, owner, status, current_stage, started_at, completed_at, stage_results)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			workflow = EXCLUDED.workflow,
			title = EXCLUDED.title,
			owner = EXCLUDED.owner,
			status = EXCLUDED.status,
			current_stage = EXCLUDED.current_stage,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			stage_results = EXCLUDED.stage_results`,
		inst.ID,
		inst.Workflow,
		inst.Title,
		inst.Owner,
		string(inst.Status),
		inst.CurrentStage,
		inst.StartedAt.UTC(),
		completedAt,
		results,
	)
	return err
}

func (s *PostgresInstanceStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRow(`
		SELECT id, workflow, title, owner, status, current_stage, started_at, completed_at, stage_results
		FROM workflow_instances
		WHERE id = $1`,
		id,
	)

	inst, err := scanPostgresInstance(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return inst, nil
}

func (s *PostgresInstanceStore) ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `
		SELECT id, workflow, title, owner, status, current_stage, started_at, completed_at, stage_results
		FROM workflow_instances`
	var args []any
	var clauses []string

	if filter.Workflow != "" {
		args = append(args, filter.Workflow)
		clauses = append(clauses, fmt.Sprintf("workflow = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}

	return s.queryInstances(query, args...)
}

func (s *PostgresInstanceStore) LoadInFlight() ([]*api.WorkflowInstance, error) {
	return s.queryInstances(`
		SELECT id, workflow, title, owner, status, current_stage, started_at, completed_at, stage_results
		FROM workflow_instances
		WHERE status IN ($1, $2)`,
		string(api.StatusRunning),
		string(api.StatusBlocked),
	)
}

func (s *PostgresInstanceStore) queryInstances(query string, args ...any) ([]*api.WorkflowInstance, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.WorkflowInstance
	for rows.Next() {
		inst, err := scanPostgresInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return instances, nil
}

func scanPostgresInstance(scan func(dest ...any) error) (*api.WorkflowInstance, error) {
	var inst api.WorkflowInstance
	var statusStr string
	var startedAt time.Time
	var completedAt sql.NullTime
	var results []byte

	if err := scan(
		&inst.ID, &inst.Workflow, &inst.Title, &inst.Owner,
		&statusStr, &inst.CurrentStage, &startedAt, &completedAt, &results,
	); err != nil {
		return nil, err
	}

	inst.Status = api.Status(statusStr)
	inst.StartedAt = startedAt
	if completedAt.Valid {
		t := completedAt.Time
		inst.CompletedAt = &t
	}

	var err error
	inst.StageResults, err = decodeStageResults(results)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}
