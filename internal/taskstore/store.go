package taskstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when no run with the requested id is stored
var ErrRunNotFound = errors.New("run not found")

// ErrLedgerEntryNotFound is returned when a task has no ledger entry
var ErrLedgerEntryNotFound = errors.New("ledger entry not found")

// Store provides SQLite-backed persistence of run state, batches and the ledger
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// A single connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists the full run state in one transaction. Batch records are
// written once and never updated.
func (s *Store) Save(state *domain.RunState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding run state: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (id, project, repo_path, main_branch, status, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			state = excluded.state,
			updated_at = excluded.updated_at
	`,
		state.RunID,
		state.Project,
		state.RepoPath,
		state.MainBranch,
		string(state.Status),
		string(stateJSON),
		state.CreatedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", state.RunID, err)
	}

	if _, err := tx.Exec(`DELETE FROM run_tasks WHERE run_id = ?`, state.RunID); err != nil {
		return err
	}
	for id, ts := range state.Tasks {
		_, err := tx.Exec(`INSERT INTO run_tasks (run_id, task_id, status, attempts, last_error) VALUES (?, ?, ?, ?, ?)`,
			state.RunID, id.String(), string(ts.Status), ts.Attempts, ts.LastError)
		if err != nil {
			return fmt.Errorf("saving task %s: %w", id, err)
		}
	}

	for _, b := range state.Batches {
		if err := insertBatch(tx, state.RunID, b); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertBatch(tx *sql.Tx, runID string, b domain.BatchRecord) error {
	tasksJSON, err := json.Marshal(b.Tasks)
	if err != nil {
		return err
	}
	var canary sql.NullString
	if b.Canary != nil {
		data, err := json.Marshal(b.Canary)
		if err != nil {
			return err
		}
		canary = sql.NullString{String: string(data), Valid: true}
	}
	var doctorPassed sql.NullBool
	if b.IntegrationDoctorPassed != nil {
		doctorPassed = sql.NullBool{Bool: *b.IntegrationDoctorPassed, Valid: true}
	}
	_, err = tx.Exec(`
		INSERT INTO batches (run_id, batch_id, status, tasks, merge_commit, integration_doctor_passed, canary, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, batch_id) DO NOTHING
	`,
		runID,
		b.BatchID,
		string(b.Status),
		string(tasksJSON),
		b.MergeCommit,
		doctorPassed,
		canary,
		b.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("saving batch %d: %w", b.BatchID, err)
	}
	return nil
}

// Load reads the run state for runID
func (s *Store) Load(runID string) (*domain.RunState, error) {
	var stateJSON string
	err := s.db.QueryRow(`SELECT state FROM runs WHERE id = ?`, runID).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	var state domain.RunState
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", runID, err)
	}
	if state.Tasks == nil {
		state.Tasks = make(map[domain.TaskID]*domain.TaskState)
	}
	return &state, nil
}

// RunSummary is a lightweight row for run listings
type RunSummary struct {
	ID        string
	Project   string
	Status    domain.RunStatus
	UpdatedAt time.Time
}

// ListRuns returns stored runs, most recently updated first. An empty project matches all.
func (s *Store) ListRuns(project string) ([]RunSummary, error) {
	query := `SELECT id, project, status, updated_at FROM runs WHERE 1=1`
	var args []interface{}
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var status string
		if err := rows.Scan(&r.ID, &r.Project, &status, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Status = domain.RunStatus(status)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// TaskIDsByStatus returns the ids of a run's tasks in the given status
func (s *Store) TaskIDsByStatus(runID string, status domain.TaskStatus) ([]domain.TaskID, error) {
	rows, err := s.db.Query(`SELECT task_id FROM run_tasks WHERE run_id = ? AND status = ? ORDER BY task_id`,
		runID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []domain.TaskID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, domain.TaskID(id))
	}
	return ids, rows.Err()
}

// ListBatches returns the batch records of a run ordered by batch id
func (s *Store) ListBatches(runID string) ([]domain.BatchRecord, error) {
	rows, err := s.db.Query(`
		SELECT batch_id, status, tasks, merge_commit, integration_doctor_passed, canary, completed_at
		FROM batches WHERE run_id = ? ORDER BY batch_id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []domain.BatchRecord
	for rows.Next() {
		var b domain.BatchRecord
		var status, tasksJSON string
		var mergeCommit, canary sql.NullString
		var doctorPassed sql.NullBool
		var completedAt sql.NullTime
		if err := rows.Scan(&b.BatchID, &status, &tasksJSON, &mergeCommit, &doctorPassed, &canary, &completedAt); err != nil {
			return nil, err
		}
		b.Status = domain.BatchStatus(status)
		b.MergeCommit = mergeCommit.String
		if doctorPassed.Valid {
			passed := doctorPassed.Bool
			b.IntegrationDoctorPassed = &passed
		}
		if completedAt.Valid {
			b.CompletedAt = completedAt.Time
		}
		if err := json.Unmarshal([]byte(tasksJSON), &b.Tasks); err != nil {
			return nil, err
		}
		if canary.Valid && canary.String != "" {
			var summary domain.CanarySummary
			if err := json.Unmarshal([]byte(canary.String), &summary); err != nil {
				return nil, err
			}
			b.Canary = &summary
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// UpsertLedgerEntry inserts or replaces the ledger entry of (project, task)
func (s *Store) UpsertLedgerEntry(e domain.LedgerEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO ledger (project, task_id, status, fingerprint, merge_commit, integration_doctor_passed, completed_at, run_id, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project, task_id) DO UPDATE SET
			status = excluded.status,
			fingerprint = excluded.fingerprint,
			merge_commit = excluded.merge_commit,
			integration_doctor_passed = excluded.integration_doctor_passed,
			completed_at = excluded.completed_at,
			run_id = excluded.run_id,
			source = excluded.source
	`,
		e.Project,
		e.TaskID.String(),
		string(e.Status),
		e.Fingerprint,
		e.MergeCommit,
		e.IntegrationDoctorPassed,
		e.CompletedAt,
		e.RunID,
		e.Source,
	)
	return err
}

const ledgerColumns = `project, task_id, status, fingerprint, merge_commit, integration_doctor_passed, completed_at, run_id, source`

// GetLedgerEntry returns the ledger entry of a task
func (s *Store) GetLedgerEntry(project string, taskID domain.TaskID) (*domain.LedgerEntry, error) {
	row := s.db.QueryRow(`SELECT `+ledgerColumns+` FROM ledger WHERE project = ? AND task_id = ?`,
		project, taskID.String())
	e, err := scanLedger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrLedgerEntryNotFound, project, taskID)
	}
	return e, err
}

// ListLedger returns all ledger entries of a project ordered by task id
func (s *Store) ListLedger(project string) ([]domain.LedgerEntry, error) {
	rows, err := s.db.Query(`SELECT `+ledgerColumns+` FROM ledger WHERE project = ? ORDER BY task_id`, project)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLedger(row scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var taskID, status string
	err := row.Scan(&e.Project, &taskID, &status, &e.Fingerprint, &e.MergeCommit,
		&e.IntegrationDoctorPassed, &e.CompletedAt, &e.RunID, &e.Source)
	if err != nil {
		return nil, err
	}
	e.TaskID = domain.TaskID(taskID)
	e.Status = domain.TaskStatus(status)
	return &e, nil
}
