package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/DrSui/code-engine/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the data store
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL + busy timeout + immediate tx lock keep concurrent API and worker
	// traffic from tripping over SQLITE_BUSY.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to serialize writes
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database schema
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS triggers (
		id TEXT PRIMARY KEY,
		flow_id TEXT NOT NULL,
		type TEXT NOT NULL,
		interval_seconds INTEGER DEFAULT 0,
		nodes TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seq INTEGER, -- assigned from the run_seq counter on insert
		trigger_id TEXT NOT NULL,
		flow_id TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		nodes TEXT NOT NULL,
		payload TEXT,
		status TEXT NOT NULL,
		queue TEXT DEFAULT 'default',
		priority TEXT DEFAULT 'medium',
		worker_id TEXT,
		created_at DATETIME NOT NULL,
		not_before DATETIME,
		started_at DATETIME,
		completed_at DATETIME,
		last_activity DATETIME,
		timeout_seconds INTEGER DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		node_results TEXT,
		logs TEXT
	);

	CREATE TABLE IF NOT EXISTS run_seq (
		next INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT,
		cpu_threads INTEGER NOT NULL DEFAULT 0,
		cpu_model TEXT,
		ram_total_bytes INTEGER NOT NULL DEFAULT 0,
		interpreter TEXT,
		labels TEXT,
		status TEXT NOT NULL,
		last_heartbeat DATETIME NOT NULL,
		registered_at DATETIME NOT NULL,
		current_run_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_queue_priority ON runs(queue, priority, created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_seq ON runs(seq);
	CREATE INDEX IF NOT EXISTS idx_triggers_flow ON triggers(flow_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM run_seq`).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		if _, err := s.db.Exec(`INSERT INTO run_seq (next) VALUES (1)`); err != nil {
			return err
		}
	}
	return nil
}

// Trigger operations

// CreateTrigger stores a trigger definition
func (s *SQLiteStore) CreateTrigger(trigger *models.Trigger) error {
	nodes, err := json.Marshal(trigger.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO triggers (id, flow_id, type, interval_seconds, nodes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, trigger.ID, trigger.FlowID, trigger.Type, trigger.IntervalSeconds, string(nodes), trigger.CreatedAt)
	return err
}

// GetTrigger retrieves a trigger by ID
func (s *SQLiteStore) GetTrigger(id string) (*models.Trigger, error) {
	var t models.Trigger
	var nodesJSON string

	err := s.db.QueryRow(`
		SELECT id, flow_id, type, interval_seconds, nodes, created_at
		FROM triggers WHERE id = ?
	`, id).Scan(&t.ID, &t.FlowID, &t.Type, &t.IntervalSeconds, &nodesJSON, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTriggerNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(nodesJSON), &t.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}
	return &t, nil
}

// ListTriggers returns all registered triggers
func (s *SQLiteStore) ListTriggers() []*models.Trigger {
	rows, err := s.db.Query(`
		SELECT id, flow_id, type, interval_seconds, nodes, created_at
		FROM triggers ORDER BY created_at
	`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var triggers []*models.Trigger
	for rows.Next() {
		var t models.Trigger
		var nodesJSON string
		if err := rows.Scan(&t.ID, &t.FlowID, &t.Type, &t.IntervalSeconds, &nodesJSON, &t.CreatedAt); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(nodesJSON), &t.Nodes); err != nil {
			continue
		}
		triggers = append(triggers, &t)
	}
	return triggers
}

// DeleteTrigger removes a trigger
func (s *SQLiteStore) DeleteTrigger(id string) error {
	res, err := s.db.Exec(`DELETE FROM triggers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTriggerNotFound
	}
	return nil
}

// Run operations

func marshalRunFields(run *models.Run) (nodes, payload, results string, err error) {
	nodesB, err := json.Marshal(run.Nodes)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal nodes: %w", err)
	}
	payloadB, err := json.Marshal(run.Payload)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	resultsB, err := json.Marshal(run.NodeResults)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal node results: %w", err)
	}
	return string(nodesB), string(payloadB), string(resultsB), nil
}

// CreateRun inserts a run and assigns its sequence number
func (s *SQLiteStore) CreateRun(run *models.Run) error {
	nodes, payload, results, err := marshalRunFields(run)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRow(`SELECT next FROM run_seq`).Scan(&seq); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE run_seq SET next = next + 1`); err != nil {
		return err
	}
	run.SequenceNumber = seq

	_, err = tx.Exec(`
		INSERT INTO runs (id, seq, trigger_id, flow_id, trigger_type, nodes, payload, status,
			queue, priority, worker_id, created_at, not_before, started_at, completed_at,
			last_activity, timeout_seconds, retry_count, error, node_results, logs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.SequenceNumber, run.TriggerID, run.FlowID, run.TriggerType, nodes, payload,
		run.Status, run.Queue, run.Priority, run.WorkerID, run.CreatedAt, run.NotBefore,
		run.StartedAt, run.CompletedAt, run.LastActivity, run.TimeoutSeconds, run.RetryCount,
		run.Error, results, run.Logs)
	if err != nil {
		return err
	}

	return tx.Commit()
}

const runColumns = `id, seq, trigger_id, flow_id, trigger_type, nodes, payload, status,
	queue, priority, worker_id, created_at, not_before, started_at, completed_at,
	last_activity, timeout_seconds, retry_count, error, node_results, logs`

func scanRun(row interface{ Scan(...interface{}) error }) (*models.Run, error) {
	var run models.Run
	var nodesJSON, payloadJSON, resultsJSON string
	var workerID, errMsg, logs sql.NullString
	var notBefore, startedAt, completedAt, lastActivity sql.NullTime

	err := row.Scan(&run.ID, &run.SequenceNumber, &run.TriggerID, &run.FlowID, &run.TriggerType,
		&nodesJSON, &payloadJSON, &run.Status, &run.Queue, &run.Priority, &workerID,
		&run.CreatedAt, &notBefore, &startedAt, &completedAt, &lastActivity,
		&run.TimeoutSeconds, &run.RetryCount, &errMsg, &resultsJSON, &logs)
	if err != nil {
		return nil, err
	}

	run.WorkerID = workerID.String
	run.Error = errMsg.String
	run.Logs = logs.String
	if notBefore.Valid {
		run.NotBefore = &notBefore.Time
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if lastActivity.Valid {
		run.LastActivity = &lastActivity.Time
	}

	if err := json.Unmarshal([]byte(nodesJSON), &run.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}
	if payloadJSON != "" && payloadJSON != "null" {
		if err := json.Unmarshal([]byte(payloadJSON), &run.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	if resultsJSON != "" && resultsJSON != "null" {
		if err := json.Unmarshal([]byte(resultsJSON), &run.NodeResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node results: %w", err)
		}
	}
	return &run, nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(id string) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	return run, err
}

// GetRunBySequenceNumber retrieves a run by its sequence number
func (s *SQLiteStore) GetRunBySequenceNumber(seqNum int) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE seq = ?`, seqNum))
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	return run, err
}

func (s *SQLiteStore) queryRuns(query string, args ...interface{}) []*models.Run {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			continue
		}
		runs = append(runs, run)
	}
	return runs
}

// GetAllRuns returns all runs, newest first
func (s *SQLiteStore) GetAllRuns() []*models.Run {
	return s.queryRuns(`SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC`)
}

// GetNextRun atomically claims the next eligible pending run for a worker
func (s *SQLiteStore) GetNextRun(workerID string) (*models.Run, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	row := tx.QueryRow(`
		SELECT `+runColumns+` FROM runs
		WHERE status = 'pending' AND (not_before IS NULL OR not_before <= ?)
		ORDER BY
			(CASE queue WHEN 'live' THEN 10 WHEN 'batch' THEN 1 ELSE 5 END) * 10 +
			(CASE priority WHEN 'high' THEN 3 WHEN 'low' THEN 1 ELSE 2 END) DESC,
			created_at ASC
		LIMIT 1
	`, now)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.Exec(`
		UPDATE runs SET status = 'running', worker_id = ?, started_at = ?, last_activity = ?
		WHERE id = ? AND status = 'pending'
	`, workerID, now, now, run.ID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrRunNotFound
	}

	if _, err := tx.Exec(`
		UPDATE workers SET status = 'busy', current_run_id = ? WHERE id = ?
	`, run.ID, workerID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	run.Status = models.RunStatusRunning
	run.WorkerID = workerID
	run.StartedAt = &now
	run.LastActivity = &now
	return run, nil
}

// UpdateRun replaces the stored mutable fields of a run
func (s *SQLiteStore) UpdateRun(run *models.Run) error {
	nodes, payload, results, err := marshalRunFields(run)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE runs SET nodes = ?, payload = ?, status = ?, queue = ?, priority = ?,
			worker_id = ?, not_before = ?, started_at = ?, completed_at = ?, last_activity = ?,
			timeout_seconds = ?, retry_count = ?, error = ?, node_results = ?, logs = ?
		WHERE id = ?
	`, nodes, payload, run.Status, run.Queue, run.Priority, run.WorkerID, run.NotBefore,
		run.StartedAt, run.CompletedAt, run.LastActivity, run.TimeoutSeconds, run.RetryCount,
		run.Error, results, run.Logs, run.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// UpdateRunStatus updates the status of a run and releases its worker on
// terminal states
func (s *SQLiteStore) UpdateRunStatus(id string, status models.RunStatus, errorMsg string) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}

	run.Status = status
	if errorMsg != "" {
		run.Error = errorMsg
	}
	if status == models.RunStatusCompleted || status == models.RunStatusFailed || status == models.RunStatusCanceled {
		now := time.Now()
		run.CompletedAt = &now
		if run.WorkerID != "" {
			s.db.Exec(`
				UPDATE workers SET status = 'available', current_run_id = ''
				WHERE id = ? AND current_run_id = ?
			`, run.WorkerID, run.ID)
		}
	}
	return s.UpdateRun(run)
}

// UpdateRunResults stores per-node results and logs for a run
func (s *SQLiteStore) UpdateRunResults(id string, results []models.NodeResult, logs string) error {
	resultsB, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal node results: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE runs SET node_results = ?, logs = CASE WHEN ? != '' THEN ? ELSE logs END
		WHERE id = ?
	`, string(resultsB), logs, logs, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// UpdateRunActivity refreshes the last-activity timestamp of a run
func (s *SQLiteStore) UpdateRunActivity(id string) error {
	res, err := s.db.Exec(`UPDATE runs SET last_activity = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// CancelRun cancels a pending or running run
func (s *SQLiteStore) CancelRun(id string) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}
	if run.Status != models.RunStatusPending && run.Status != models.RunStatusRunning {
		return errCannotCancel(run.Status)
	}
	return s.UpdateRunStatus(id, models.RunStatusCanceled, "")
}

// RetryRun re-queues a run, incrementing its retry count
func (s *SQLiteStore) RetryRun(id string, errorMsg string) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}
	if run.WorkerID != "" {
		s.db.Exec(`
			UPDATE workers SET status = 'available', current_run_id = ''
			WHERE id = ? AND current_run_id = ?
		`, run.WorkerID, run.ID)
	}
	run.Status = models.RunStatusPending
	run.RetryCount++
	run.WorkerID = ""
	run.StartedAt = nil
	run.CompletedAt = nil
	if errorMsg != "" {
		run.Error = errorMsg
	}
	return s.UpdateRun(run)
}

// DeleteRun removes a run
func (s *SQLiteStore) DeleteRun(id string) error {
	res, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRunsInStatus returns all runs in the given status
func (s *SQLiteStore) GetRunsInStatus(status models.RunStatus) ([]*models.Run, error) {
	return s.queryRuns(`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY created_at`, status), nil
}

// GetOrphanedRuns returns running runs whose worker stopped reporting activity
func (s *SQLiteStore) GetOrphanedRuns(workerTimeout time.Duration) ([]*models.Run, error) {
	cutoff := time.Now().Add(-workerTimeout)
	return s.queryRuns(`
		SELECT `+runColumns+` FROM runs
		WHERE status = 'running' AND COALESCE(last_activity, started_at) < ?
	`, cutoff), nil
}

// GetTimedOutRuns returns running runs past their own deadline
func (s *SQLiteStore) GetTimedOutRuns() ([]*models.Run, error) {
	return s.queryRuns(`
		SELECT ` + runColumns + ` FROM runs
		WHERE status = 'running' AND timeout_seconds > 0 AND started_at IS NOT NULL
			AND datetime(started_at, '+' || timeout_seconds || ' seconds') < datetime('now')
	`), nil
}

// Worker operations

// RegisterWorker adds or updates a worker
func (s *SQLiteStore) RegisterWorker(worker *models.Worker) error {
	labels, err := json.Marshal(worker.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO workers (id, name, address, cpu_threads, cpu_model,
			ram_total_bytes, interpreter, labels, status, last_heartbeat, registered_at, current_run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, worker.ID, worker.Name, worker.Address, worker.CPUThreads, worker.CPUModel,
		worker.RAMTotalBytes, worker.Interpreter, string(labels), worker.Status,
		worker.LastHeartbeat, worker.RegisteredAt, worker.CurrentRunID)
	return err
}

const workerColumns = `id, name, address, cpu_threads, cpu_model, ram_total_bytes,
	interpreter, labels, status, last_heartbeat, registered_at, current_run_id`

func scanWorker(row interface{ Scan(...interface{}) error }) (*models.Worker, error) {
	var w models.Worker
	var address, cpuModel, interpreter, currentRunID sql.NullString
	var labelsJSON sql.NullString

	err := row.Scan(&w.ID, &w.Name, &address, &w.CPUThreads, &cpuModel, &w.RAMTotalBytes,
		&interpreter, &labelsJSON, &w.Status, &w.LastHeartbeat, &w.RegisteredAt, &currentRunID)
	if err != nil {
		return nil, err
	}

	w.Address = address.String
	w.CPUModel = cpuModel.String
	w.Interpreter = interpreter.String
	w.CurrentRunID = currentRunID.String
	if labelsJSON.Valid && labelsJSON.String != "" && labelsJSON.String != "null" {
		if err := json.Unmarshal([]byte(labelsJSON.String), &w.Labels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal labels: %w", err)
		}
	}
	return &w, nil
}

// GetWorker retrieves a worker by ID
func (s *SQLiteStore) GetWorker(id string) (*models.Worker, error) {
	w, err := scanWorker(s.db.QueryRow(`SELECT `+workerColumns+` FROM workers WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrWorkerNotFound
	}
	return w, err
}

// GetWorkerByName retrieves a worker by its registered name
func (s *SQLiteStore) GetWorkerByName(name string) (*models.Worker, error) {
	w, err := scanWorker(s.db.QueryRow(`SELECT `+workerColumns+` FROM workers WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, ErrWorkerNotFound
	}
	return w, err
}

// GetAllWorkers returns all registered workers
func (s *SQLiteStore) GetAllWorkers() []*models.Worker {
	rows, err := s.db.Query(`SELECT ` + workerColumns + ` FROM workers ORDER BY registered_at`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var workers []*models.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			continue
		}
		workers = append(workers, w)
	}
	return workers
}

// UpdateWorkerStatus updates the status of a worker
func (s *SQLiteStore) UpdateWorkerStatus(id, status string) error {
	res, err := s.db.Exec(`
		UPDATE workers SET status = ?, last_heartbeat = ? WHERE id = ?
	`, status, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrWorkerNotFound
	}
	return nil
}

// UpdateWorkerHeartbeat updates the last heartbeat time for a worker
func (s *SQLiteStore) UpdateWorkerHeartbeat(id string) error {
	res, err := s.db.Exec(`UPDATE workers SET last_heartbeat = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrWorkerNotFound
	}
	return nil
}

// DeleteWorker removes a worker
func (s *SQLiteStore) DeleteWorker(id string) error {
	res, err := s.db.Exec(`DELETE FROM workers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrWorkerNotFound
	}
	return nil
}

// Lifecycle

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database is reachable
func (s *SQLiteStore) HealthCheck() error {
	return s.db.Ping()
}

// GetRunMetrics aggregates run statistics with a handful of queries instead
// of loading every row
func (s *SQLiteStore) GetRunMetrics() (*RunMetrics, error) {
	m := &RunMetrics{
		RunsByStatus:    make(map[models.RunStatus]int),
		QueueByPriority: make(map[string]int),
	}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status models.RunStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		m.RunsByStatus[status] = count
		m.TotalRuns += count
	}

	prows, err := s.db.Query(`SELECT priority, COUNT(*) FROM runs WHERE status = 'pending' GROUP BY priority`)
	if err != nil {
		return nil, err
	}
	defer prows.Close()
	for prows.Next() {
		var priority string
		var count int
		if err := prows.Scan(&priority, &count); err != nil {
			return nil, err
		}
		m.QueueByPriority[priority] = count
	}

	m.QueueLength = m.RunsByStatus[models.RunStatusPending]
	m.ActiveRuns = m.RunsByStatus[models.RunStatusRunning]

	var retries sql.NullInt64
	if err := s.db.QueryRow(`SELECT SUM(retry_count) FROM runs`).Scan(&retries); err == nil && retries.Valid {
		m.TotalRetries = int(retries.Int64)
	}

	var avg sql.NullFloat64
	err = s.db.QueryRow(`
		SELECT AVG(strftime('%s', completed_at) - strftime('%s', started_at))
		FROM runs WHERE status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL
	`).Scan(&avg)
	if err == nil && avg.Valid {
		m.AvgDuration = avg.Float64
	}

	return m, nil
}
