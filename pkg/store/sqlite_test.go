package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/DrSui/code-engine/pkg/models"
)

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "engine_test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreTriggerRoundTrip(t *testing.T) {
	s := newSQLiteTestStore(t)

	trigger := &models.Trigger{
		ID:              uuid.New().String(),
		FlowID:          "flow-1",
		Type:            models.TriggerTypeInterval,
		IntervalSeconds: 30,
		Nodes: []models.PipelineNode{
			{ID: "n1", Logic: "uppercase", Params: map[string]interface{}{"field": "name"}},
			{ID: "n2", Logic: "reverse"},
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.CreateTrigger(trigger); err != nil {
		t.Fatalf("CreateTrigger failed: %v", err)
	}

	got, err := s.GetTrigger(trigger.ID)
	if err != nil {
		t.Fatalf("GetTrigger failed: %v", err)
	}
	if got.IntervalSeconds != 30 {
		t.Errorf("expected interval 30, got %d", got.IntervalSeconds)
	}
	if len(got.Nodes) != 2 || got.Nodes[0].Logic != "uppercase" {
		t.Errorf("nodes not preserved: %+v", got.Nodes)
	}

	if _, err := s.GetTrigger("nonexistent"); err != ErrTriggerNotFound {
		t.Errorf("expected ErrTriggerNotFound, got %v", err)
	}
}

func TestSQLiteStoreSequenceNumbers(t *testing.T) {
	s := newSQLiteTestStore(t)

	for i := 1; i <= 3; i++ {
		run := newTestRun("default", "medium")
		if err := s.CreateRun(run); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
		if run.SequenceNumber != i {
			t.Errorf("expected sequence number %d, got %d", i, run.SequenceNumber)
		}
	}

	run, err := s.GetRunBySequenceNumber(3)
	if err != nil {
		t.Fatalf("GetRunBySequenceNumber failed: %v", err)
	}
	if run.SequenceNumber != 3 {
		t.Errorf("expected sequence number 3, got %d", run.SequenceNumber)
	}
}

func TestSQLiteStoreRunRoundTrip(t *testing.T) {
	s := newSQLiteTestStore(t)

	run := newTestRun("live", "high")
	run.Payload = map[string]interface{}{"user": "alice"}
	run.TimeoutSeconds = 120

	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := s.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Queue != "live" || got.Priority != "high" {
		t.Errorf("queue/priority not preserved: %s/%s", got.Queue, got.Priority)
	}
	if got.Payload["user"] != "alice" {
		t.Errorf("payload not preserved: %+v", got.Payload)
	}
	if got.TimeoutSeconds != 120 {
		t.Errorf("expected timeout 120, got %d", got.TimeoutSeconds)
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Error("timestamps should be nil before claim")
	}
}

func TestSQLiteStoreClaimAndComplete(t *testing.T) {
	s := newSQLiteTestStore(t)

	registerTestWorker(t, s, "w1")
	run := newTestRun("default", "medium")
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	claimed, err := s.GetNextRun("w1")
	if err != nil {
		t.Fatalf("GetNextRun failed: %v", err)
	}
	if claimed.ID != run.ID {
		t.Errorf("expected run %s, got %s", run.ID, claimed.ID)
	}
	if claimed.Status != models.RunStatusRunning {
		t.Errorf("expected running, got %s", claimed.Status)
	}

	// a second poll finds nothing
	if _, err := s.GetNextRun("w2"); err != ErrRunNotFound {
		t.Errorf("expected ErrRunNotFound on second claim, got %v", err)
	}

	results := []models.NodeResult{
		{NodeID: "n1", Logic: "uppercase", OK: true, Result: []byte(`"HELLO"`)},
	}
	if err := s.UpdateRunResults(run.ID, results, "node n1 ok"); err != nil {
		t.Fatalf("UpdateRunResults failed: %v", err)
	}
	if err := s.UpdateRunStatus(run.ID, models.RunStatusCompleted, ""); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}

	got, _ := s.GetRun(run.ID)
	if got.Status != models.RunStatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
	if len(got.NodeResults) != 1 || !got.NodeResults[0].OK {
		t.Errorf("node results not preserved: %+v", got.NodeResults)
	}

	worker, _ := s.GetWorker("w1")
	if worker.Status != models.WorkerStatusAvailable {
		t.Errorf("expected worker released, got %s", worker.Status)
	}
}

func TestSQLiteStoreNotBefore(t *testing.T) {
	s := newSQLiteTestStore(t)

	registerTestWorker(t, s, "w1")
	future := time.Now().Add(time.Hour)
	run := newTestRun("default", "medium")
	run.NotBefore = &future
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	if _, err := s.GetNextRun("w1"); err != ErrRunNotFound {
		t.Errorf("deferred run should not be claimable, got %v", err)
	}
}

func TestSQLiteStoreRetryRun(t *testing.T) {
	s := newSQLiteTestStore(t)

	registerTestWorker(t, s, "w1")
	run := newTestRun("default", "medium")
	if err := s.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if _, err := s.GetNextRun("w1"); err != nil {
		t.Fatalf("GetNextRun failed: %v", err)
	}

	if err := s.RetryRun(run.ID, "worker went away"); err != nil {
		t.Fatalf("RetryRun failed: %v", err)
	}

	got, _ := s.GetRun(run.ID)
	if got.Status != models.RunStatusPending {
		t.Errorf("expected pending after retry, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", got.RetryCount)
	}
	if got.StartedAt != nil {
		t.Error("expected started_at cleared after retry")
	}

	worker, _ := s.GetWorker("w1")
	if worker.Status != models.WorkerStatusAvailable {
		t.Errorf("expected worker released after retry, got %s", worker.Status)
	}
}

func TestSQLiteStoreWorkerRoundTrip(t *testing.T) {
	s := newSQLiteTestStore(t)

	worker := &models.Worker{
		ID:            uuid.New().String(),
		Name:          "worker-sql",
		Address:       "10.0.0.5",
		CPUThreads:    16,
		CPUModel:      "AMD EPYC 7313",
		RAMTotalBytes: 64 << 30,
		Interpreter:   "python3.11",
		Labels:        map[string]string{"zone": "eu-west"},
		Status:        models.WorkerStatusAvailable,
		LastHeartbeat: time.Now().UTC(),
		RegisteredAt:  time.Now().UTC(),
	}
	if err := s.RegisterWorker(worker); err != nil {
		t.Fatalf("RegisterWorker failed: %v", err)
	}

	got, err := s.GetWorkerByName("worker-sql")
	if err != nil {
		t.Fatalf("GetWorkerByName failed: %v", err)
	}
	if got.CPUThreads != 16 || got.RAMTotalBytes != 64<<30 {
		t.Errorf("hardware info not preserved: %+v", got)
	}
	if got.Labels["zone"] != "eu-west" {
		t.Errorf("labels not preserved: %+v", got.Labels)
	}

	if err := s.UpdateWorkerHeartbeat(worker.ID); err != nil {
		t.Fatalf("UpdateWorkerHeartbeat failed: %v", err)
	}
	if err := s.DeleteWorker(worker.ID); err != nil {
		t.Fatalf("DeleteWorker failed: %v", err)
	}
	if _, err := s.GetWorker(worker.ID); err != ErrWorkerNotFound {
		t.Errorf("expected ErrWorkerNotFound, got %v", err)
	}
}

func TestSQLiteStoreMetrics(t *testing.T) {
	s := newSQLiteTestStore(t)

	for i := 0; i < 2; i++ {
		if err := s.CreateRun(newTestRun("default", "medium")); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}
	failed := newTestRun("default", "medium")
	if err := s.CreateRun(failed); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if err := s.UpdateRunStatus(failed.ID, models.RunStatusFailed, "boom"); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}

	m, err := s.GetRunMetrics()
	if err != nil {
		t.Fatalf("GetRunMetrics failed: %v", err)
	}
	if m.TotalRuns != 3 {
		t.Errorf("expected 3 total runs, got %d", m.TotalRuns)
	}
	if m.QueueLength != 2 {
		t.Errorf("expected queue length 2, got %d", m.QueueLength)
	}
	if m.RunsByStatus[models.RunStatusFailed] != 1 {
		t.Errorf("expected 1 failed run, got %d", m.RunsByStatus[models.RunStatusFailed])
	}
}

func TestNewStoreFactory(t *testing.T) {
	s, err := NewStore(Config{Type: "memory"})
	if err != nil {
		t.Fatalf("NewStore(memory) failed: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", s)
	}
	s.Close()

	dbPath := filepath.Join(t.TempDir(), "factory.db")
	s, err = NewStore(Config{Type: "sqlite", Path: dbPath})
	if err != nil {
		t.Fatalf("NewStore(sqlite) failed: %v", err)
	}
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("expected *SQLiteStore, got %T", s)
	}
	s.Close()

	if _, err := NewStore(Config{Type: "oracle"}); err != ErrUnsupportedDatabase {
		t.Errorf("expected ErrUnsupportedDatabase, got %v", err)
	}
}
