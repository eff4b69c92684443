package scheduler

import (
	"fmt"
	"log"
	"time"

	"github.com/DrSui/code-engine/pkg/models"
	"github.com/DrSui/code-engine/pkg/store"
)

// RecoveryManager re-queues runs stranded by dead workers and enforces
// run-level deadlines
type RecoveryManager struct {
	store                  store.Store
	maxRetries             int
	workerFailureThreshold time.Duration
}

// NewRecoveryManager creates a new RecoveryManager
func NewRecoveryManager(st store.Store, maxRetries int, workerFailureThreshold time.Duration) *RecoveryManager {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if workerFailureThreshold <= 0 {
		// Default: 90s = 3 missed heartbeats @ 30s interval
		workerFailureThreshold = 90 * time.Second
	}
	return &RecoveryManager{
		store:                  st,
		maxRetries:             maxRetries,
		workerFailureThreshold: workerFailureThreshold,
	}
}

// DetectDeadWorkers marks workers with stale heartbeats offline
func (rm *RecoveryManager) DetectDeadWorkers() []string {
	workers := rm.store.GetAllWorkers()
	deadWorkers := []string{}
	now := time.Now()

	for _, worker := range workers {
		if worker.Status == models.WorkerStatusOffline {
			continue // Already marked offline
		}

		sinceHeartbeat := now.Sub(worker.LastHeartbeat)
		if sinceHeartbeat > rm.workerFailureThreshold {
			log.Printf("Recovery: Worker %s (%s) failed - no heartbeat for %v (threshold: %v)",
				worker.ID, worker.Name, sinceHeartbeat, rm.workerFailureThreshold)
			deadWorkers = append(deadWorkers, worker.ID)

			if err := rm.store.UpdateWorkerStatus(worker.ID, models.WorkerStatusOffline); err != nil {
				log.Printf("Recovery: Failed to mark worker %s offline: %v", worker.ID, err)
			}
		}
	}

	return deadWorkers
}

// RequeueOrphanedRuns re-queues running runs whose worker stopped reporting.
// Runs past the retry budget are failed instead.
func (rm *RecoveryManager) RequeueOrphanedRuns() int {
	orphaned, err := rm.store.GetOrphanedRuns(rm.workerFailureThreshold)
	if err != nil {
		log.Printf("Recovery: Failed to list orphaned runs: %v", err)
		return 0
	}

	requeued := 0
	for _, run := range orphaned {
		if run.RetryCount >= rm.maxRetries {
			log.Printf("Recovery: Run %s (seq#%d) orphaned and out of retries (%d/%d), failing",
				run.ID, run.SequenceNumber, run.RetryCount, rm.maxRetries)
			if err := rm.store.UpdateRunStatus(run.ID, models.RunStatusFailed,
				fmt.Sprintf("worker %s stopped reporting and retries are exhausted", run.WorkerID)); err != nil {
				log.Printf("Recovery: Failed to fail run %s: %v", run.ID, err)
			}
			continue
		}

		log.Printf("Recovery: Re-queuing orphaned run %s (seq#%d) from worker %s - attempt %d/%d",
			run.ID, run.SequenceNumber, run.WorkerID, run.RetryCount+1, rm.maxRetries)
		if err := rm.store.RetryRun(run.ID, fmt.Sprintf("worker %s stopped reporting", run.WorkerID)); err != nil {
			log.Printf("Recovery: Failed to re-queue run %s: %v", run.ID, err)
			continue
		}
		requeued++
	}

	if requeued > 0 {
		log.Printf("Recovery: Re-queued %d orphaned runs", requeued)
	}
	return requeued
}

// FailTimedOutRuns fails running runs that exceeded their own deadline
func (rm *RecoveryManager) FailTimedOutRuns() int {
	timedOut, err := rm.store.GetTimedOutRuns()
	if err != nil {
		log.Printf("Recovery: Failed to list timed-out runs: %v", err)
		return 0
	}

	failed := 0
	for _, run := range timedOut {
		log.Printf("Recovery: Run %s (seq#%d) exceeded its %ds deadline, failing",
			run.ID, run.SequenceNumber, run.TimeoutSeconds)
		err := rm.store.UpdateRunStatus(run.ID, models.RunStatusFailed,
			fmt.Sprintf("run exceeded its %d second deadline", run.TimeoutSeconds))
		if err != nil {
			log.Printf("Recovery: Failed to fail run %s: %v", run.ID, err)
			continue
		}
		failed++
	}

	if failed > 0 {
		log.Printf("Recovery: Failed %d timed-out runs", failed)
	}
	return failed
}

// RunRecoveryCheck performs a complete recovery check cycle
func (rm *RecoveryManager) RunRecoveryCheck() {
	rm.DetectDeadWorkers()
	rm.RequeueOrphanedRuns()
	rm.FailTimedOutRuns()
}
