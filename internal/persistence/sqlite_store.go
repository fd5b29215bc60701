package persistence

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/okarv/stagehand/pkg/api"
)

// SQLiteInstanceStore is an InstanceStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteInstanceStore struct {
	db *sql.DB
}

var _ InstanceStore = (*SQLiteInstanceStore)(nil)

// NewSQLiteInstanceStore initializes the required schema in the given
// database and returns a new SQLiteInstanceStore.
func NewSQLiteInstanceStore(db *sql.DB) (*SQLiteInstanceStore, error) {
	s := &SQLiteInstanceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteInstanceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_instances (
			id TEXT PRIMARY KEY,
			workflow TEXT NOT NULL,
			title TEXT NOT NULL,
			owner TEXT NOT NULL,
			status TEXT NOT NULL,
			current_stage INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			stage_results BLOB
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_instances_status
			ON workflow_instances (status);`,
	)
	return err
}

func (s *SQLiteInstanceStore) SaveInstance(inst *api.WorkflowInstance) error {
	results, err := encodeStageResults(inst.StageResults)
	if err != nil {
		return err
	}

	var completedAt any
	if inst.CompletedAt != nil {
		completedAt = inst.CompletedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.Exec(`
		INSERT INTO workflow_instances
			(id, workflow, title, owner, status, current_stage, started_at, completed_at, stage_results)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow = excluded.workflow,
			title = excluded.title,
			owner = excluded.owner,
			status = excluded.status,
			current_stage = excluded.current_stage,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			stage_results = excluded.stage_results`,
		inst.ID,
		inst.Workflow,
		inst.Title,
		inst.Owner,
		string(inst.Status),
		inst.CurrentStage,
		inst.StartedAt.UTC().Format(time.RFC3339Nano),
		completedAt,
		results,
	)
	return err
}

func (s *SQLiteInstanceStore) GetInstance(id string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRow(`
		SELECT id, workflow, title, owner, status, current_stage, started_at, completed_at, stage_results
		FROM workflow_instances
		WHERE id = ?`,
		id,
	)

	inst, err := scanInstance(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return inst, nil
}

func (s *SQLiteInstanceStore) ListInstances(filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `
		SELECT id, workflow, title, owner, status, current_stage, started_at, completed_at, stage_results
		FROM workflow_instances`
	var args []any
	var clauses []string

	if filter.Workflow != "" {
		clauses = append(clauses, "workflow = ?")
		args = append(args, filter.Workflow)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}

	return s.queryInstances(query, args...)
}

func (s *SQLiteInstanceStore) LoadInFlight() ([]*api.WorkflowInstance, error) {
	return s.queryInstances(`
		SELECT id, workflow, title, owner, status, current_stage, started_at, completed_at, stage_results
		FROM workflow_instances
		WHERE status IN (?, ?)`,
		string(api.StatusRunning),
		string(api.StatusBlocked),
	)
}

func (s *SQLiteInstanceStore) queryInstances(query string, args ...any) ([]*api.WorkflowInstance, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows.Scan)
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

// scanInstance decodes one row from either QueryRow or Rows; both expose
// the same Scan signature.
func scanInstance(scan func(dest ...any) error) (*api.WorkflowInstance, error) {
	var inst api.WorkflowInstance
	var statusStr, startedAt string
	var completedAt sql.NullString
	var results []byte

	if err := scan(
		&inst.ID, &inst.Workflow, &inst.Title, &inst.Owner,
		&statusStr, &inst.CurrentStage, &startedAt, &completedAt, &results,
	); err != nil {
		return nil, err
	}

	inst.Status = api.Status(statusStr)

	started, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, err
	}
	inst.StartedAt = started

	if completedAt.Valid && completedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, err
		}
		inst.CompletedAt = &t
	}

	inst.StageResults, err = decodeStageResults(results)
	if err != nil {
		return nil, err
	}
	return &inst, nil
}
