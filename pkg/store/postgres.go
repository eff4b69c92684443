package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/DrSui/code-engine/pkg/models"
)

// PostgresStore is a PostgreSQL-based implementation of the data store
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(config Config) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 25
	}
	maxIdle := config.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 5
	}
	lifetime := config.ConnMaxLifetime
	if lifetime == 0 {
		lifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates the database schema
func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS triggers (
		id TEXT PRIMARY KEY,
		flow_id TEXT NOT NULL,
		type TEXT NOT NULL,
		interval_seconds INTEGER DEFAULT 0,
		nodes JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seq SERIAL,
		trigger_id TEXT NOT NULL,
		flow_id TEXT NOT NULL,
		trigger_type TEXT NOT NULL,
		nodes JSONB NOT NULL,
		payload JSONB,
		status TEXT NOT NULL,
		queue TEXT DEFAULT 'default',
		priority TEXT DEFAULT 'medium',
		worker_id TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		not_before TIMESTAMPTZ,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		last_activity TIMESTAMPTZ,
		timeout_seconds INTEGER DEFAULT 0,
		retry_count INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		node_results JSONB,
		logs TEXT
	);

	CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT,
		cpu_threads INTEGER NOT NULL DEFAULT 0,
		cpu_model TEXT,
		ram_total_bytes BIGINT NOT NULL DEFAULT 0,
		interpreter TEXT,
		labels JSONB,
		status TEXT NOT NULL,
		last_heartbeat TIMESTAMPTZ NOT NULL,
		registered_at TIMESTAMPTZ NOT NULL,
		current_run_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_queue_priority ON runs(queue, priority, created_at);
	CREATE INDEX IF NOT EXISTS idx_triggers_flow ON triggers(flow_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Trigger operations

// CreateTrigger stores a trigger definition
func (s *PostgresStore) CreateTrigger(trigger *models.Trigger) error {
	nodes, err := json.Marshal(trigger.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO triggers (id, flow_id, type, interval_seconds, nodes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			flow_id = EXCLUDED.flow_id, type = EXCLUDED.type,
			interval_seconds = EXCLUDED.interval_seconds, nodes = EXCLUDED.nodes
	`, trigger.ID, trigger.FlowID, trigger.Type, trigger.IntervalSeconds, string(nodes), trigger.CreatedAt)
	return err
}

// GetTrigger retrieves a trigger by ID
func (s *PostgresStore) GetTrigger(id string) (*models.Trigger, error) {
	var t models.Trigger
	var nodesJSON string

	err := s.db.QueryRow(`
		SELECT id, flow_id, type, interval_seconds, nodes, created_at
		FROM triggers WHERE id = $1
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
func (s *PostgresStore) ListTriggers() []*models.Trigger {
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
func (s *PostgresStore) DeleteTrigger(id string) error {
	res, err := s.db.Exec(`DELETE FROM triggers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTriggerNotFound
	}
	return nil
}

// Run operations

// CreateRun inserts a run; the sequence number comes from the SERIAL column
func (s *PostgresStore) CreateRun(run *models.Run) error {
	nodes, payload, results, err := marshalRunFields(run)
	if err != nil {
		return err
	}

	err = s.db.QueryRow(`
		INSERT INTO runs (id, trigger_id, flow_id, trigger_type, nodes, payload, status,
			queue, priority, worker_id, created_at, not_before, started_at, completed_at,
			last_activity, timeout_seconds, retry_count, error, node_results, logs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING seq
	`, run.ID, run.TriggerID, run.FlowID, run.TriggerType, nodes, payload, run.Status,
		run.Queue, run.Priority, nullIfEmpty(run.WorkerID), run.CreatedAt, run.NotBefore,
		run.StartedAt, run.CompletedAt, run.LastActivity, run.TimeoutSeconds, run.RetryCount,
		run.Error, results, run.Logs).Scan(&run.SequenceNumber)
	return err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// GetRun retrieves a run by ID
func (s *PostgresStore) GetRun(id string) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	return run, err
}

// GetRunBySequenceNumber retrieves a run by its sequence number
func (s *PostgresStore) GetRunBySequenceNumber(seqNum int) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE seq = $1`, seqNum))
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	return run, err
}

func (s *PostgresStore) queryRuns(query string, args ...interface{}) []*models.Run {
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
func (s *PostgresStore) GetAllRuns() []*models.Run {
	return s.queryRuns(`SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC`)
}

// GetNextRun atomically claims the next eligible pending run for a worker.
// FOR UPDATE SKIP LOCKED lets multiple workers poll concurrently without
// claiming the same run.
func (s *PostgresStore) GetNextRun(workerID string) (*models.Run, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	row := tx.QueryRow(`
		SELECT `+runColumns+` FROM runs
		WHERE status = 'pending' AND (not_before IS NULL OR not_before <= $1)
		ORDER BY
			(CASE queue WHEN 'live' THEN 10 WHEN 'batch' THEN 1 ELSE 5 END) * 10 +
			(CASE priority WHEN 'high' THEN 3 WHEN 'low' THEN 1 ELSE 2 END) DESC,
			created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, now)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`
		UPDATE runs SET status = 'running', worker_id = $1, started_at = $2, last_activity = $2
		WHERE id = $3
	`, workerID, now, run.ID); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`
		UPDATE workers SET status = 'busy', current_run_id = $1 WHERE id = $2
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
func (s *PostgresStore) UpdateRun(run *models.Run) error {
	nodes, payload, results, err := marshalRunFields(run)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE runs SET nodes = $1, payload = $2, status = $3, queue = $4, priority = $5,
			worker_id = $6, not_before = $7, started_at = $8, completed_at = $9,
			last_activity = $10, timeout_seconds = $11, retry_count = $12, error = $13,
			node_results = $14, logs = $15
		WHERE id = $16
	`, nodes, payload, run.Status, run.Queue, run.Priority, nullIfEmpty(run.WorkerID),
		run.NotBefore, run.StartedAt, run.CompletedAt, run.LastActivity, run.TimeoutSeconds,
		run.RetryCount, run.Error, results, run.Logs, run.ID)
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
func (s *PostgresStore) UpdateRunStatus(id string, status models.RunStatus, errorMsg string) error {
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
				WHERE id = $1 AND current_run_id = $2
			`, run.WorkerID, run.ID)
		}
	}
	return s.UpdateRun(run)
}

// UpdateRunResults stores per-node results and logs for a run
func (s *PostgresStore) UpdateRunResults(id string, results []models.NodeResult, logs string) error {
	resultsB, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to marshal node results: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE runs SET node_results = $1, logs = CASE WHEN $2 != '' THEN $2 ELSE logs END
		WHERE id = $3
	`, string(resultsB), logs, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// UpdateRunActivity refreshes the last-activity timestamp of a run
func (s *PostgresStore) UpdateRunActivity(id string) error {
	res, err := s.db.Exec(`UPDATE runs SET last_activity = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// CancelRun cancels a pending or running run
func (s *PostgresStore) CancelRun(id string) error {
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
func (s *PostgresStore) RetryRun(id string, errorMsg string) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}
	if run.WorkerID != "" {
		s.db.Exec(`
			UPDATE workers SET status = 'available', current_run_id = ''
			WHERE id = $1 AND current_run_id = $2
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
func (s *PostgresStore) DeleteRun(id string) error {
	res, err := s.db.Exec(`DELETE FROM runs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRunsInStatus returns all runs in the given status
func (s *PostgresStore) GetRunsInStatus(status models.RunStatus) ([]*models.Run, error) {
	return s.queryRuns(`SELECT `+runColumns+` FROM runs WHERE status = $1 ORDER BY created_at`, status), nil
}

// GetOrphanedRuns returns running runs whose worker stopped reporting activity
func (s *PostgresStore) GetOrphanedRuns(workerTimeout time.Duration) ([]*models.Run, error) {
	cutoff := time.Now().Add(-workerTimeout)
	return s.queryRuns(`
		SELECT `+runColumns+` FROM runs
		WHERE status = 'running' AND COALESCE(last_activity, started_at) < $1
	`, cutoff), nil
}

// GetTimedOutRuns returns running runs past their own deadline
func (s *PostgresStore) GetTimedOutRuns() ([]*models.Run, error) {
	return s.queryRuns(`
		SELECT ` + runColumns + ` FROM runs
		WHERE status = 'running' AND timeout_seconds > 0 AND started_at IS NOT NULL
			AND started_at + (timeout_seconds || ' seconds')::interval < NOW()
	`), nil
}

// Worker operations

// RegisterWorker adds or updates a worker
func (s *PostgresStore) RegisterWorker(worker *models.Worker) error {
	labels, err := json.Marshal(worker.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO workers (id, name, address, cpu_threads, cpu_model, ram_total_bytes,
			interpreter, labels, status, last_heartbeat, registered_at, current_run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, address = EXCLUDED.address,
			cpu_threads = EXCLUDED.cpu_threads, cpu_model = EXCLUDED.cpu_model,
			ram_total_bytes = EXCLUDED.ram_total_bytes, interpreter = EXCLUDED.interpreter,
			labels = EXCLUDED.labels, status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat, current_run_id = EXCLUDED.current_run_id
	`, worker.ID, worker.Name, worker.Address, worker.CPUThreads, worker.CPUModel,
		worker.RAMTotalBytes, worker.Interpreter, string(labels), worker.Status,
		worker.LastHeartbeat, worker.RegisteredAt, worker.CurrentRunID)
	return err
}

// GetWorker retrieves a worker by ID
func (s *PostgresStore) GetWorker(id string) (*models.Worker, error) {
	w, err := scanWorker(s.db.QueryRow(`SELECT `+workerColumns+` FROM workers WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrWorkerNotFound
	}
	return w, err
}

// GetWorkerByName retrieves a worker by its registered name
func (s *PostgresStore) GetWorkerByName(name string) (*models.Worker, error) {
	w, err := scanWorker(s.db.QueryRow(`SELECT `+workerColumns+` FROM workers WHERE name = $1`, name))
	if err == sql.ErrNoRows {
		return nil, ErrWorkerNotFound
	}
	return w, err
}

// GetAllWorkers returns all registered workers
func (s *PostgresStore) GetAllWorkers() []*models.Worker {
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
func (s *PostgresStore) UpdateWorkerStatus(id, status string) error {
	res, err := s.db.Exec(`
		UPDATE workers SET status = $1, last_heartbeat = $2 WHERE id = $3
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
func (s *PostgresStore) UpdateWorkerHeartbeat(id string) error {
	res, err := s.db.Exec(`UPDATE workers SET last_heartbeat = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrWorkerNotFound
	}
	return nil
}

// DeleteWorker removes a worker
func (s *PostgresStore) DeleteWorker(id string) error {
	res, err := s.db.Exec(`DELETE FROM workers WHERE id = $1`, id)
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database is reachable
func (s *PostgresStore) HealthCheck() error {
	return s.db.Ping()
}

// GetRunMetrics aggregates run statistics
func (s *PostgresStore) GetRunMetrics() (*RunMetrics, error) {
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
		SELECT AVG(EXTRACT(EPOCH FROM (completed_at - started_at)))
		FROM runs WHERE status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL
	`).Scan(&avg)
	if err == nil && avg.Valid {
		m.AvgDuration = avg.Float64
	}

	return m, nil
}
