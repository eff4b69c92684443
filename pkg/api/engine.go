package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/DrSui/code-engine/pkg/models"
	"github.com/DrSui/code-engine/pkg/scheduler"
	"github.com/DrSui/code-engine/pkg/store"
)

// MetricsRecorder is an interface for recording metrics
type MetricsRecorder interface {
	RecordScheduleAttempt(result string)
}

// EngineHandler handles engine API requests
type EngineHandler struct {
	store           store.Store
	maxRetries      int
	metricsRecorder MetricsRecorder
}

// NewEngineHandler creates a new engine handler
func NewEngineHandler(s store.Store) *EngineHandler {
	return &EngineHandler{
		store:      s,
		maxRetries: 0, // No retries by default
	}
}

// NewEngineHandlerWithRetry creates a new engine handler with retry support
func NewEngineHandlerWithRetry(s store.Store, maxRetries int) *EngineHandler {
	return &EngineHandler{
		store:      s,
		maxRetries: maxRetries,
	}
}

// SetMetricsRecorder sets the metrics recorder for the handler
func (h *EngineHandler) SetMetricsRecorder(recorder MetricsRecorder) {
	h.metricsRecorder = recorder
}

// getRunByIDOrSequence retrieves a run by ID (UUID) or sequence number
func (h *EngineHandler) getRunByIDOrSequence(idOrSeq string) (*models.Run, error) {
	var seqNum int
	if _, parseErr := fmt.Sscanf(idOrSeq, "%d", &seqNum); parseErr == nil && seqNum > 0 {
		return h.store.GetRunBySequenceNumber(seqNum)
	}
	return h.store.GetRun(idOrSeq)
}

// RegisterRoutes registers all API routes
func (h *EngineHandler) RegisterRoutes(r *mux.Router) {
	// Trigger routes
	r.HandleFunc("/triggers", h.RegisterTrigger).Methods("POST")
	r.HandleFunc("/triggers", h.ListTriggers).Methods("GET")
	r.HandleFunc("/triggers/{id}", h.GetTrigger).Methods("GET")
	r.HandleFunc("/triggers/{id}", h.DeleteTrigger).Methods("DELETE")

	// Webhook receiver
	r.HandleFunc("/webhook/{flow_id}/{token}", h.ReceiveWebhook).Methods("POST")

	// Run routes (register specific routes before parameterized routes)
	r.HandleFunc("/runs/next", h.GetNextRun).Methods("GET")
	r.HandleFunc("/runs", h.ListRuns).Methods("GET")
	r.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")
	r.HandleFunc("/runs/{id}/cancel", h.CancelRun).Methods("POST")
	r.HandleFunc("/runs/{id}/retry", h.RetryRun).Methods("POST")
	r.HandleFunc("/runs/{id}/logs", h.GetRunLogs).Methods("GET")

	// Worker routes
	r.HandleFunc("/workers/register", h.RegisterWorker).Methods("POST")
	r.HandleFunc("/workers", h.ListWorkers).Methods("GET")
	r.HandleFunc("/workers/{id}", h.GetWorkerDetails).Methods("GET")
	r.HandleFunc("/workers/{id}", h.RemoveWorker).Methods("DELETE")
	r.HandleFunc("/workers/{id}/heartbeat", h.WorkerHeartbeat).Methods("POST")

	// Other routes
	r.HandleFunc("/results", h.ReceiveResults).Methods("POST")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

// RegisterTrigger registers a webhook or interval trigger for a flow
func (h *EngineHandler) RegisterTrigger(w http.ResponseWriter, r *http.Request) {
	var reg models.TriggerRegistration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if reg.FlowID == "" {
		http.Error(w, "flow_id is required", http.StatusBadRequest)
		return
	}
	if len(reg.Nodes) == 0 {
		http.Error(w, "nodes is required", http.StatusBadRequest)
		return
	}

	trigger := &models.Trigger{
		ID:        uuid.New().String(),
		FlowID:    reg.FlowID,
		Type:      reg.Trigger.Type,
		Nodes:     reg.Nodes,
		CreatedAt: time.Now(),
	}

	switch reg.Trigger.Type {
	case models.TriggerTypeWebhook:
		if err := h.store.CreateTrigger(trigger); err != nil {
			log.Printf("Error creating trigger: %v", err)
			http.Error(w, "Failed to create trigger", http.StatusInternalServerError)
			return
		}

		log.Printf("Webhook trigger registered: %s (flow %s, %d nodes)", trigger.ID, trigger.FlowID, len(trigger.Nodes))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"trigger_id":  trigger.ID,
			"webhook_url": fmt.Sprintf("/webhook/%s/%s", trigger.FlowID, trigger.ID),
			"flow_id":     trigger.FlowID,
		})

	case models.TriggerTypeInterval:
		if reg.Trigger.Schedule == nil || reg.Trigger.Schedule.IntervalSeconds <= 0 {
			http.Error(w, "schedule.interval_seconds must be a positive integer", http.StatusBadRequest)
			return
		}
		trigger.IntervalSeconds = reg.Trigger.Schedule.IntervalSeconds

		if err := h.store.CreateTrigger(trigger); err != nil {
			log.Printf("Error creating trigger: %v", err)
			http.Error(w, "Failed to create trigger", http.StatusInternalServerError)
			return
		}

		// First run fires one interval from now
		if _, err := h.enqueueRun(trigger, nil); err != nil {
			log.Printf("Error enqueuing first interval run: %v", err)
			http.Error(w, "Failed to schedule first run", http.StatusInternalServerError)
			return
		}

		log.Printf("Interval trigger registered: %s (flow %s, every %ds)", trigger.ID, trigger.FlowID, trigger.IntervalSeconds)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"trigger_id":       trigger.ID,
			"mode":             "interval",
			"interval_seconds": trigger.IntervalSeconds,
		})

	default:
		http.Error(w, fmt.Sprintf("Unsupported trigger type '%s'. Valid values: webhook, interval", reg.Trigger.Type), http.StatusBadRequest)
	}
}

// enqueueRun creates a pending run from a trigger snapshot. Interval triggers
// get a NotBefore one interval in the future, webhook triggers run immediately.
func (h *EngineHandler) enqueueRun(trigger *models.Trigger, payload map[string]interface{}) (*models.Run, error) {
	run := &models.Run{
		ID:          uuid.New().String(),
		TriggerID:   trigger.ID,
		FlowID:      trigger.FlowID,
		TriggerType: trigger.Type,
		Nodes:       trigger.Nodes,
		Payload:     payload,
		Status:      models.RunStatusPending,
		Queue:       "default",
		Priority:    "medium",
		CreatedAt:   time.Now(),
	}
	if trigger.Type == models.TriggerTypeInterval {
		notBefore := time.Now().Add(time.Duration(trigger.IntervalSeconds) * time.Second)
		run.NotBefore = &notBefore
	}
	if err := h.store.CreateRun(run); err != nil {
		return nil, err
	}
	return run, nil
}

// ListTriggers returns all registered triggers
func (h *EngineHandler) ListTriggers(w http.ResponseWriter, r *http.Request) {
	triggers := h.store.ListTriggers()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"triggers": triggers,
		"count":    len(triggers),
	})
}

// GetTrigger retrieves a specific trigger
func (h *EngineHandler) GetTrigger(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	trigger, err := h.store.GetTrigger(vars["id"])
	if err != nil {
		if err == store.ErrTriggerNotFound {
			http.Error(w, "Trigger not found", http.StatusNotFound)
			return
		}
		log.Printf("Error getting trigger: %v", err)
		http.Error(w, "Failed to get trigger", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trigger)
}

// DeleteTrigger removes a trigger registration
func (h *EngineHandler) DeleteTrigger(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	triggerID := vars["id"]

	if err := h.store.DeleteTrigger(triggerID); err != nil {
		if err == store.ErrTriggerNotFound {
			http.Error(w, "Trigger not found", http.StatusNotFound)
			return
		}
		log.Printf("Error deleting trigger: %v", err)
		http.Error(w, "Failed to delete trigger", http.StatusInternalServerError)
		return
	}

	log.Printf("Trigger %s deleted", triggerID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":     "deleted",
		"trigger_id": triggerID,
	})
}

// webhookForbiddenKeys are pipeline definition keys that may only be supplied
// at registration time, never through the public webhook URL.
var webhookForbiddenKeys = []string{"nodes", "trigger", "flow_id"}

// ReceiveWebhook fires a registered webhook trigger with a caller payload
func (h *EngineHandler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	flowID := vars["flow_id"]
	token := vars["token"]

	trigger, err := h.store.GetTrigger(token)
	if err != nil {
		if err == store.ErrTriggerNotFound {
			http.Error(w, "Unknown webhook token", http.StatusNotFound)
			return
		}
		log.Printf("Error looking up webhook token: %v", err)
		http.Error(w, "Failed to look up webhook", http.StatusInternalServerError)
		return
	}

	if trigger.FlowID != flowID {
		http.Error(w, "Webhook token does not belong to this flow", http.StatusBadRequest)
		return
	}
	if trigger.Type != models.TriggerTypeWebhook {
		http.Error(w, "Trigger is not a webhook trigger", http.StatusBadRequest)
		return
	}

	// Absent or non-object bodies are treated as an empty payload
	payload := map[string]interface{}{}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&payload)
	}
	for _, key := range webhookForbiddenKeys {
		if _, ok := payload[key]; ok {
			http.Error(w, fmt.Sprintf("Payload may not contain '%s'; pipeline definition is fixed at registration", key), http.StatusBadRequest)
			return
		}
	}

	run, err := h.enqueueRun(trigger, payload)
	if err != nil {
		log.Printf("Error enqueuing webhook run: %v", err)
		http.Error(w, "Failed to enqueue run", http.StatusInternalServerError)
		return
	}

	log.Printf("Webhook fired: trigger %s (flow %s) -> run %s", trigger.ID, flowID, run.ID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(models.WebhookAck{
		Status:    "accepted",
		TriggerID: trigger.ID,
		FlowID:    flowID,
		RunID:     run.ID,
	})
}

// ListRuns returns all runs
func (h *EngineHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	var runs []*models.Run

	if status := r.URL.Query().Get("status"); status != "" {
		filtered, err := h.store.GetRunsInStatus(models.RunStatus(status))
		if err != nil {
			log.Printf("Error listing runs by status: %v", err)
			http.Error(w, "Failed to list runs", http.StatusInternalServerError)
			return
		}
		runs = filtered
		// Pending runs list in claim order
		if models.RunStatus(status) == models.RunStatusPending {
			runs = scheduler.SortRunsByPriority(runs)
		}
	} else {
		runs = h.store.GetAllRuns()
	}

	// Populate WorkerName for each run
	for _, run := range runs {
		if run.WorkerID != "" {
			if worker, err := h.store.GetWorker(run.WorkerID); err == nil {
				run.WorkerName = worker.Name
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun retrieves a specific run by ID or sequence number
func (h *EngineHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	run, err := h.getRunByIDOrSequence(vars["id"])
	if err != nil {
		if err == store.ErrRunNotFound {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		log.Printf("Error getting run: %v", err)
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return
	}

	if run.WorkerID != "" {
		if worker, err := h.store.GetWorker(run.WorkerID); err == nil {
			run.WorkerName = worker.Name
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

// GetNextRun claims the next pending run for a worker
func (h *EngineHandler) GetNextRun(w http.ResponseWriter, r *http.Request) {
	workerID := r.URL.Query().Get("worker_id")
	if workerID == "" {
		http.Error(w, "worker_id parameter is required", http.StatusBadRequest)
		return
	}

	run, err := h.store.GetNextRun(workerID)
	if err != nil {
		if err == store.ErrRunNotFound {
			if h.metricsRecorder != nil {
				h.metricsRecorder.RecordScheduleAttempt("no_runs")
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"run": nil,
			})
			return
		}
		if h.metricsRecorder != nil {
			h.metricsRecorder.RecordScheduleAttempt("error")
		}
		log.Printf("Error getting next run: %v", err)
		http.Error(w, "Failed to get next run", http.StatusInternalServerError)
		return
	}

	if h.metricsRecorder != nil {
		h.metricsRecorder.RecordScheduleAttempt("success")
	}

	log.Printf("Run %s assigned to worker %s", run.ID, workerID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run": run,
	})
}

// ReceiveResults receives run results from a worker
func (h *EngineHandler) ReceiveResults(w http.ResponseWriter, r *http.Request) {
	var result models.RunResult
	if err := json.NewDecoder(r.Body).Decode(&result); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Handle retry logic for failed runs
	if result.Status == models.RunStatusFailed && h.maxRetries > 0 {
		run, err := h.store.GetRun(result.RunID)
		if err != nil {
			log.Printf("Error getting run for retry check: %v", err)
		} else if run.RetryCount < h.maxRetries {
			if err := h.store.RetryRun(result.RunID, result.Error); err != nil {
				log.Printf("Error re-queuing run for retry: %v", err)
			} else {
				retryCount := run.RetryCount + 1
				if updated, err := h.store.GetRun(result.RunID); err == nil {
					retryCount = updated.RetryCount
				}

				log.Printf("Run %s failed on worker %s (attempt %d/%d) - re-queued for retry",
					result.RunID, result.WorkerID, retryCount, h.maxRetries)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusOK)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"status":      "retrying",
					"retry":       retryCount,
					"max_retries": h.maxRetries,
				})
				return
			}
		} else {
			log.Printf("Run %s failed after %d attempts - max retries reached",
				result.RunID, run.RetryCount)
		}
	}

	if len(result.NodeResults) > 0 || result.Logs != "" {
		if err := h.store.UpdateRunResults(result.RunID, result.NodeResults, result.Logs); err != nil {
			log.Printf("Warning: failed to store node results for run %s: %v", result.RunID, err)
		}
	}

	if err := h.store.UpdateRunStatus(result.RunID, result.Status, result.Error); err != nil {
		log.Printf("Error updating run status: %v", err)
		http.Error(w, "Failed to update run status", http.StatusInternalServerError)
		return
	}

	// Terminal interval runs re-schedule themselves. Failure does not stop
	// the chain: a run that exhausted its retries still books the next tick,
	// the same way a failing node never aborts the rest of its pipeline.
	if result.Status == models.RunStatusCompleted || result.Status == models.RunStatusFailed {
		if run, err := h.store.GetRun(result.RunID); err == nil && run.TriggerType == models.TriggerTypeInterval {
			if trigger, err := h.store.GetTrigger(run.TriggerID); err == nil {
				if next, err := h.enqueueRun(trigger, run.Payload); err != nil {
					log.Printf("Error re-scheduling interval trigger %s: %v", trigger.ID, err)
				} else {
					log.Printf("Interval trigger %s re-scheduled as run %s", trigger.ID, next.ID)
				}
			}
		}
	}

	log.Printf("Results received for run %s (status: %s)", result.RunID, result.Status)
	if result.Error != "" {
		log.Printf("  Error: %s", result.Error)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "success",
	})
}

// CancelRun cancels a pending or running run
func (h *EngineHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	run, err := h.getRunByIDOrSequence(vars["id"])
	if err != nil {
		if err == store.ErrRunNotFound {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		log.Printf("Error retrieving run: %v", err)
		http.Error(w, fmt.Sprintf("Failed to retrieve run: %v", err), http.StatusInternalServerError)
		return
	}
	runID := run.ID

	if err := h.store.CancelRun(runID); err != nil {
		if err == store.ErrRunNotFound {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		log.Printf("Error canceling run: %v", err)
		http.Error(w, fmt.Sprintf("Failed to cancel run: %v", err), http.StatusBadRequest)
		return
	}

	log.Printf("Run %s canceled", runID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "canceled",
		"run_id": runID,
	})
}

// RetryRun retries a failed or canceled run
func (h *EngineHandler) RetryRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	run, err := h.getRunByIDOrSequence(vars["id"])
	if err != nil {
		if err == store.ErrRunNotFound {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		log.Printf("Error retrieving run: %v", err)
		http.Error(w, fmt.Sprintf("Failed to retrieve run: %v", err), http.StatusInternalServerError)
		return
	}

	if run.Status != models.RunStatusFailed && run.Status != models.RunStatusCanceled {
		http.Error(w, "Only failed or canceled runs can be retried", http.StatusBadRequest)
		return
	}

	if err := h.store.RetryRun(run.ID, ""); err != nil {
		log.Printf("Error retrying run: %v", err)
		http.Error(w, fmt.Sprintf("Failed to retry run: %v", err), http.StatusInternalServerError)
		return
	}

	updated, err := h.store.GetRun(run.ID)
	retryCount := run.RetryCount + 1
	if err == nil {
		retryCount = updated.RetryCount
	}

	log.Printf("Run %s queued for retry (attempt %d)", run.ID, retryCount)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "queued",
		"run_id":      run.ID,
		"retry_count": retryCount,
	})
}

// GetRunLogs retrieves logs for a specific run
func (h *EngineHandler) GetRunLogs(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	run, err := h.getRunByIDOrSequence(vars["id"])
	if err != nil {
		if err == store.ErrRunNotFound {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		log.Printf("Error retrieving run: %v", err)
		http.Error(w, fmt.Sprintf("Failed to retrieve run: %v", err), http.StatusInternalServerError)
		return
	}

	logs := run.Logs
	if logs == "" && run.Error != "" {
		logs = fmt.Sprintf("Error: %s", run.Error)
	}
	if logs == "" {
		logs = "No logs available for this run"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"run_id": run.ID,
		"logs":   logs,
	})
}

// RegisterWorker handles worker registration
func (h *EngineHandler) RegisterWorker(w http.ResponseWriter, r *http.Request) {
	var reg models.WorkerRegistration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if reg.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	// A worker with this name already exists - handle re-registration.
	// Covers restarted workers and registrations that failed client-side
	// but succeeded server-side.
	existing, err := h.store.GetWorkerByName(reg.Name)
	if err == nil && existing != nil {
		log.Printf("Worker named %s already exists (ID: %s), handling re-registration...", reg.Name, existing.ID)

		existing.Address = reg.Address
		existing.CPUThreads = reg.CPUThreads
		existing.CPUModel = reg.CPUModel
		existing.RAMTotalBytes = reg.RAMTotalBytes
		existing.Interpreter = reg.Interpreter
		existing.Labels = reg.Labels
		existing.Status = models.WorkerStatusAvailable
		existing.LastHeartbeat = time.Now()
		existing.CurrentRunID = "" // Clear any stale run assignment

		if err := h.store.RegisterWorker(existing); err != nil {
			log.Printf("Error re-registering worker: %v", err)
			http.Error(w, "Failed to register worker", http.StatusInternalServerError)
			return
		}

		log.Printf("Worker re-registered: %s [%s] (%d threads, %s)", existing.Name, existing.ID, existing.CPUThreads, existing.CPUModel)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK) // 200 OK for re-registration (not 201 Created)
		json.NewEncoder(w).Encode(existing)
		return
	}

	worker := &models.Worker{
		ID:            uuid.New().String(),
		Name:          reg.Name,
		Address:       reg.Address,
		CPUThreads:    reg.CPUThreads,
		CPUModel:      reg.CPUModel,
		RAMTotalBytes: reg.RAMTotalBytes,
		Interpreter:   reg.Interpreter,
		Labels:        reg.Labels,
		Status:        models.WorkerStatusAvailable,
		LastHeartbeat: time.Now(),
		RegisteredAt:  time.Now(),
	}

	if err := h.store.RegisterWorker(worker); err != nil {
		log.Printf("Error registering worker: %v", err)
		http.Error(w, "Failed to register worker", http.StatusInternalServerError)
		return
	}

	log.Printf("Worker registered: %s [%s] (%d threads, %s)", worker.Name, worker.ID, worker.CPUThreads, worker.CPUModel)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(worker)
}

// ListWorkers returns all registered workers
func (h *EngineHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers := h.store.GetAllWorkers()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"workers": workers,
		"count":   len(workers),
	})
}

// GetWorkerDetails retrieves detailed information about a specific worker
func (h *EngineHandler) GetWorkerDetails(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	worker, err := h.store.GetWorker(vars["id"])
	if err != nil {
		if err == store.ErrWorkerNotFound {
			http.Error(w, "Worker not found", http.StatusNotFound)
			return
		}
		log.Printf("Error getting worker: %v", err)
		http.Error(w, "Failed to get worker", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(worker)
}

// WorkerHeartbeat updates worker heartbeat
func (h *EngineHandler) WorkerHeartbeat(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	workerID := vars["id"]

	if err := h.store.UpdateWorkerHeartbeat(workerID); err != nil {
		if err == store.ErrWorkerNotFound {
			http.Error(w, "Worker not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to update heartbeat", http.StatusInternalServerError)
		return
	}

	// Update run activity if the worker has a current run
	worker, err := h.store.GetWorker(workerID)
	if err == nil && worker.CurrentRunID != "" {
		if err := h.store.UpdateRunActivity(worker.CurrentRunID); err != nil {
			// Log error but don't fail the heartbeat
			log.Printf("Warning: Failed to update run activity for run %s: %v", worker.CurrentRunID, err)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// RemoveWorker removes a worker from the pool
func (h *EngineHandler) RemoveWorker(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	workerID := vars["id"]

	worker, err := h.store.GetWorker(workerID)
	if err != nil {
		if err == store.ErrWorkerNotFound {
			http.Error(w, "Worker not found", http.StatusNotFound)
			return
		}
		log.Printf("Error retrieving worker: %v", err)
		http.Error(w, fmt.Sprintf("Failed to retrieve worker: %v", err), http.StatusInternalServerError)
		return
	}

	if worker.Status == models.WorkerStatusBusy {
		http.Error(w, "Cannot remove worker while it is processing a run", http.StatusBadRequest)
		return
	}

	if err := h.store.DeleteWorker(workerID); err != nil {
		log.Printf("Error removing worker: %v", err)
		http.Error(w, fmt.Sprintf("Failed to remove worker: %v", err), http.StatusInternalServerError)
		return
	}

	log.Printf("Worker %s (%s) removed from pool", workerID, worker.Name)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "removed",
		"worker_id": workerID,
	})
}

// Health returns the health status of the engine
func (h *EngineHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if err := h.store.HealthCheck(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status": status,
	})
}
