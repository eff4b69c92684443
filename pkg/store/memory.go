package store

import (
	"sort"
	"sync"
	"time"

	"github.com/DrSui/code-engine/pkg/models"
)

// MemoryStore is an in-memory implementation of the data store
type MemoryStore struct {
	triggers   map[string]*models.Trigger
	workers    map[string]*models.Worker
	runs       map[string]*models.Run
	nextSeq    int
	triggersMu sync.RWMutex
	workersMu  sync.RWMutex
	runsMu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		triggers: make(map[string]*models.Trigger),
		workers:  make(map[string]*models.Worker),
		runs:     make(map[string]*models.Run),
		nextSeq:  1,
	}
}

// Trigger operations

// CreateTrigger stores a trigger definition
func (s *MemoryStore) CreateTrigger(trigger *models.Trigger) error {
	s.triggersMu.Lock()
	defer s.triggersMu.Unlock()

	s.triggers[trigger.ID] = trigger
	return nil
}

// GetTrigger retrieves a trigger by ID (the webhook token)
func (s *MemoryStore) GetTrigger(id string) (*models.Trigger, error) {
	s.triggersMu.RLock()
	defer s.triggersMu.RUnlock()

	trigger, ok := s.triggers[id]
	if !ok {
		return nil, ErrTriggerNotFound
	}
	return trigger, nil
}

// ListTriggers returns all registered triggers
func (s *MemoryStore) ListTriggers() []*models.Trigger {
	s.triggersMu.RLock()
	defer s.triggersMu.RUnlock()

	triggers := make([]*models.Trigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		triggers = append(triggers, t)
	}
	sort.Slice(triggers, func(i, j int) bool {
		return triggers[i].CreatedAt.Before(triggers[j].CreatedAt)
	})
	return triggers
}

// DeleteTrigger removes a trigger
func (s *MemoryStore) DeleteTrigger(id string) error {
	s.triggersMu.Lock()
	defer s.triggersMu.Unlock()

	if _, ok := s.triggers[id]; !ok {
		return ErrTriggerNotFound
	}
	delete(s.triggers, id)
	return nil
}

// Run operations

// CreateRun adds a new run and assigns its sequence number
func (s *MemoryStore) CreateRun(run *models.Run) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	run.SequenceNumber = s.nextSeq
	s.nextSeq++
	s.runs[run.ID] = run
	return nil
}

// GetRun retrieves a run by ID
func (s *MemoryStore) GetRun(id string) (*models.Run, error) {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// GetRunBySequenceNumber retrieves a run by its sequence number
func (s *MemoryStore) GetRunBySequenceNumber(seqNum int) (*models.Run, error) {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()

	for _, run := range s.runs {
		if run.SequenceNumber == seqNum {
			return run, nil
		}
	}
	return nil, ErrRunNotFound
}

// GetAllRuns returns all runs
func (s *MemoryStore) GetAllRuns() []*models.Run {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()

	runs := make([]*models.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	return runs
}

// queueWeight mirrors the scheduler ordering so claims come out in the same
// order whether they go through GetNextRun or the priority manager.
func queueWeight(queue string) int {
	switch queue {
	case "live":
		return 10
	case "batch":
		return 1
	default:
		return 5
	}
}

func priorityWeight(priority string) int {
	switch priority {
	case "high":
		return 3
	case "low":
		return 1
	default:
		return 2
	}
}

func claimScore(run *models.Run) int {
	return queueWeight(run.Queue)*10 + priorityWeight(run.Priority)
}

// GetNextRun atomically claims the next eligible pending run for a worker.
// Runs with a NotBefore in the future are skipped (interval countdown).
func (s *MemoryStore) GetNextRun(workerID string) (*models.Run, error) {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	now := time.Now()
	var candidates []*models.Run
	for _, run := range s.runs {
		if run.Status != models.RunStatusPending {
			continue
		}
		if run.NotBefore != nil && run.NotBefore.After(now) {
			continue
		}
		candidates = append(candidates, run)
	}
	if len(candidates) == 0 {
		return nil, ErrRunNotFound
	}

	sort.Slice(candidates, func(i, j int) bool {
		si, sj := claimScore(candidates[i]), claimScore(candidates[j])
		if si != sj {
			return si > sj
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	run := candidates[0]
	run.Status = models.RunStatusRunning
	run.WorkerID = workerID
	run.StartedAt = &now
	run.LastActivity = &now

	s.workersMu.Lock()
	if worker, ok := s.workers[workerID]; ok {
		worker.Status = models.WorkerStatusBusy
		worker.CurrentRunID = run.ID
	}
	s.workersMu.Unlock()

	return run, nil
}

// UpdateRun replaces a stored run
func (s *MemoryStore) UpdateRun(run *models.Run) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRunStatus updates the status of a run
func (s *MemoryStore) UpdateRunStatus(id string, status models.RunStatus, errorMsg string) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}

	run.Status = status
	if errorMsg != "" {
		run.Error = errorMsg
	}

	if status == models.RunStatusCompleted || status == models.RunStatusFailed || status == models.RunStatusCanceled {
		now := time.Now()
		run.CompletedAt = &now
		s.releaseWorker(run.WorkerID, run.ID)
	}

	return nil
}

// releaseWorker marks a worker available again after its run finished.
// Caller must not hold workersMu.
func (s *MemoryStore) releaseWorker(workerID, runID string) {
	if workerID == "" {
		return
	}
	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	if worker, ok := s.workers[workerID]; ok && worker.CurrentRunID == runID {
		worker.Status = models.WorkerStatusAvailable
		worker.CurrentRunID = ""
	}
}

// UpdateRunResults stores per-node results and logs for a run
func (s *MemoryStore) UpdateRunResults(id string, results []models.NodeResult, logs string) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.NodeResults = results
	if logs != "" {
		run.Logs = logs
	}
	return nil
}

// UpdateRunActivity refreshes the last-activity timestamp of a run
func (s *MemoryStore) UpdateRunActivity(id string) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	now := time.Now()
	run.LastActivity = &now
	return nil
}

// CancelRun cancels a pending or running run
func (s *MemoryStore) CancelRun(id string) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	if run.Status != models.RunStatusPending && run.Status != models.RunStatusRunning {
		return errCannotCancel(run.Status)
	}
	now := time.Now()
	run.Status = models.RunStatusCanceled
	run.CompletedAt = &now
	s.releaseWorker(run.WorkerID, run.ID)
	return nil
}

// RetryRun re-queues a run, incrementing its retry count
func (s *MemoryStore) RetryRun(id string, errorMsg string) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	s.releaseWorker(run.WorkerID, run.ID)
	run.Status = models.RunStatusPending
	run.RetryCount++
	run.WorkerID = ""
	run.StartedAt = nil
	run.CompletedAt = nil
	if errorMsg != "" {
		run.Error = errorMsg
	}
	return nil
}

// DeleteRun removes a run
func (s *MemoryStore) DeleteRun(id string) error {
	s.runsMu.Lock()
	defer s.runsMu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return ErrRunNotFound
	}
	delete(s.runs, id)
	return nil
}

// GetRunsInStatus returns all runs in the given status
func (s *MemoryStore) GetRunsInStatus(status models.RunStatus) ([]*models.Run, error) {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()

	var runs []*models.Run
	for _, run := range s.runs {
		if run.Status == status {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

// GetOrphanedRuns returns running runs whose worker stopped reporting activity
func (s *MemoryStore) GetOrphanedRuns(workerTimeout time.Duration) ([]*models.Run, error) {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()

	cutoff := time.Now().Add(-workerTimeout)
	var orphaned []*models.Run
	for _, run := range s.runs {
		if run.Status != models.RunStatusRunning {
			continue
		}
		last := run.StartedAt
		if run.LastActivity != nil {
			last = run.LastActivity
		}
		if last != nil && last.Before(cutoff) {
			orphaned = append(orphaned, run)
		}
	}
	return orphaned, nil
}

// GetTimedOutRuns returns running runs past their own deadline
func (s *MemoryStore) GetTimedOutRuns() ([]*models.Run, error) {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()

	now := time.Now()
	var timedOut []*models.Run
	for _, run := range s.runs {
		if run.Status != models.RunStatusRunning || run.TimeoutSeconds <= 0 || run.StartedAt == nil {
			continue
		}
		deadline := run.StartedAt.Add(time.Duration(run.TimeoutSeconds) * time.Second)
		if now.After(deadline) {
			timedOut = append(timedOut, run)
		}
	}
	return timedOut, nil
}

// Worker operations

// RegisterWorker adds or updates a worker
func (s *MemoryStore) RegisterWorker(worker *models.Worker) error {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()

	s.workers[worker.ID] = worker
	return nil
}

// GetWorker retrieves a worker by ID
func (s *MemoryStore) GetWorker(id string) (*models.Worker, error) {
	s.workersMu.RLock()
	defer s.workersMu.RUnlock()

	worker, ok := s.workers[id]
	if !ok {
		return nil, ErrWorkerNotFound
	}
	return worker, nil
}

// GetWorkerByName retrieves a worker by its registered name
func (s *MemoryStore) GetWorkerByName(name string) (*models.Worker, error) {
	s.workersMu.RLock()
	defer s.workersMu.RUnlock()

	for _, worker := range s.workers {
		if worker.Name == name {
			return worker, nil
		}
	}
	return nil, ErrWorkerNotFound
}

// GetAllWorkers returns all registered workers
func (s *MemoryStore) GetAllWorkers() []*models.Worker {
	s.workersMu.RLock()
	defer s.workersMu.RUnlock()

	workers := make([]*models.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	return workers
}

// UpdateWorkerStatus updates the status of a worker
func (s *MemoryStore) UpdateWorkerStatus(id, status string) error {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()

	worker, ok := s.workers[id]
	if !ok {
		return ErrWorkerNotFound
	}
	worker.Status = status
	worker.LastHeartbeat = time.Now()
	return nil
}

// UpdateWorkerHeartbeat updates the last heartbeat time for a worker
func (s *MemoryStore) UpdateWorkerHeartbeat(id string) error {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()

	worker, ok := s.workers[id]
	if !ok {
		return ErrWorkerNotFound
	}
	worker.LastHeartbeat = time.Now()
	return nil
}

// DeleteWorker removes a worker
func (s *MemoryStore) DeleteWorker(id string) error {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()

	if _, ok := s.workers[id]; !ok {
		return ErrWorkerNotFound
	}
	delete(s.workers, id)
	return nil
}

// Lifecycle

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error { return nil }

// HealthCheck is a no-op for the memory store
func (s *MemoryStore) HealthCheck() error { return nil }

// GetRunMetrics aggregates run statistics
func (s *MemoryStore) GetRunMetrics() (*RunMetrics, error) {
	s.runsMu.RLock()
	defer s.runsMu.RUnlock()

	m := &RunMetrics{
		RunsByStatus:    make(map[models.RunStatus]int),
		QueueByPriority: make(map[string]int),
	}
	var totalDuration float64
	var completed int
	for _, run := range s.runs {
		m.TotalRuns++
		m.RunsByStatus[run.Status]++
		m.TotalRetries += run.RetryCount
		switch run.Status {
		case models.RunStatusPending:
			m.QueueLength++
			m.QueueByPriority[run.Priority]++
		case models.RunStatusRunning:
			m.ActiveRuns++
		case models.RunStatusCompleted:
			if run.StartedAt != nil && run.CompletedAt != nil {
				totalDuration += run.CompletedAt.Sub(*run.StartedAt).Seconds()
				completed++
			}
		}
	}
	if completed > 0 {
		m.AvgDuration = totalDuration / float64(completed)
	}
	return m, nil
}
