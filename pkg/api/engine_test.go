package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/DrSui/code-engine/pkg/api"
	"github.com/DrSui/code-engine/pkg/models"
	"github.com/DrSui/code-engine/pkg/store"
)

func newTestRouter(s store.Store, maxRetries int) *mux.Router {
	handler := api.NewEngineHandlerWithRetry(s, maxRetries)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

func doJSON(t *testing.T, router *mux.Router, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var parsed map[string]interface{}
	if w.Body.Len() > 0 {
		json.Unmarshal(w.Body.Bytes(), &parsed)
	}
	return w, parsed
}

func registerWebhookTrigger(t *testing.T, router *mux.Router, flowID string) (triggerID, webhookURL string) {
	t.Helper()
	w, resp := doJSON(t, router, "POST", "/triggers", `{
		"flow_id": "`+flowID+`",
		"trigger": {"type": "webhook"},
		"nodes": [{"id": "n1", "logic": "uppercase"}]
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Response: %s", w.Code, w.Body.String())
	}
	triggerID, _ = resp["trigger_id"].(string)
	webhookURL, _ = resp["webhook_url"].(string)
	if triggerID == "" || webhookURL == "" {
		t.Fatalf("Incomplete registration response: %v", resp)
	}
	return triggerID, webhookURL
}

func TestRegisterWebhookTrigger(t *testing.T) {
	router := newTestRouter(store.NewMemoryStore(), 0)

	triggerID, webhookURL := registerWebhookTrigger(t, router, "flow-1")

	expected := "/webhook/flow-1/" + triggerID
	if webhookURL != expected {
		t.Errorf("Expected webhook URL %s, got %s", expected, webhookURL)
	}
}

func TestRegisterIntervalTrigger(t *testing.T) {
	testStore := store.NewMemoryStore()
	router := newTestRouter(testStore, 0)

	w, resp := doJSON(t, router, "POST", "/triggers", `{
		"flow_id": "flow-1",
		"trigger": {"type": "interval", "schedule": {"mode": "interval", "interval_seconds": 60}},
		"nodes": [{"id": "n1", "logic": "uppercase"}]
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Response: %s", w.Code, w.Body.String())
	}
	if resp["mode"] != "interval" {
		t.Errorf("Expected mode interval, got %v", resp["mode"])
	}

	// First run is enqueued immediately with a future NotBefore
	runs := testStore.GetAllRuns()
	if len(runs) != 1 {
		t.Fatalf("Expected one pending run, got %d", len(runs))
	}
	if runs[0].NotBefore == nil || !runs[0].NotBefore.After(time.Now()) {
		t.Error("Expected first interval run to have a future not_before")
	}
}

func TestRegisterIntervalTriggerRequiresPositiveInterval(t *testing.T) {
	router := newTestRouter(store.NewMemoryStore(), 0)

	for _, body := range []string{
		`{"flow_id": "f", "trigger": {"type": "interval"}, "nodes": [{"id": "n1", "logic": "x"}]}`,
		`{"flow_id": "f", "trigger": {"type": "interval", "schedule": {"interval_seconds": 0}}, "nodes": [{"id": "n1", "logic": "x"}]}`,
		`{"flow_id": "f", "trigger": {"type": "interval", "schedule": {"interval_seconds": -5}}, "nodes": [{"id": "n1", "logic": "x"}]}`,
	} {
		w, _ := doJSON(t, router, "POST", "/triggers", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for %s, got %d", body, w.Code)
		}
	}
}

func TestRegisterTriggerUnknownType(t *testing.T) {
	router := newTestRouter(store.NewMemoryStore(), 0)

	w, _ := doJSON(t, router, "POST", "/triggers", `{
		"flow_id": "flow-1",
		"trigger": {"type": "cron"},
		"nodes": [{"id": "n1", "logic": "uppercase"}]
	}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown trigger type, got %d", w.Code)
	}
}

func TestWebhookFiresRun(t *testing.T) {
	testStore := store.NewMemoryStore()
	router := newTestRouter(testStore, 0)

	triggerID, webhookURL := registerWebhookTrigger(t, router, "flow-1")

	w, resp := doJSON(t, router, "POST", webhookURL, `{"user": "alice"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d. Response: %s", w.Code, w.Body.String())
	}
	if resp["status"] != "accepted" {
		t.Errorf("Expected accepted status, got %v", resp["status"])
	}
	if resp["trigger_id"] != triggerID {
		t.Errorf("Expected trigger_id %s, got %v", triggerID, resp["trigger_id"])
	}

	runs := testStore.GetAllRuns()
	if len(runs) != 1 {
		t.Fatalf("Expected one run, got %d", len(runs))
	}
	if runs[0].Payload["user"] != "alice" {
		t.Errorf("Expected payload preserved, got %+v", runs[0].Payload)
	}
	if runs[0].NotBefore != nil {
		t.Error("Webhook runs should be claimable immediately")
	}
}

func TestWebhookEmptyBodyDefaultsToEmptyPayload(t *testing.T) {
	testStore := store.NewMemoryStore()
	router := newTestRouter(testStore, 0)

	_, webhookURL := registerWebhookTrigger(t, router, "flow-1")

	w, _ := doJSON(t, router, "POST", webhookURL, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202 for empty body, got %d. Response: %s", w.Code, w.Body.String())
	}

	runs := testStore.GetAllRuns()
	if len(runs) != 1 {
		t.Fatalf("Expected one run, got %d", len(runs))
	}
	if len(runs[0].Payload) != 0 {
		t.Errorf("Expected empty payload, got %+v", runs[0].Payload)
	}
}

func TestWebhookRejectsPipelineKeys(t *testing.T) {
	router := newTestRouter(store.NewMemoryStore(), 0)

	_, webhookURL := registerWebhookTrigger(t, router, "flow-1")

	for _, body := range []string{
		`{"nodes": [{"id": "evil", "logic": "rm"}]}`,
		`{"trigger": {"type": "webhook"}}`,
		`{"flow_id": "other-flow"}`,
	} {
		w, _ := doJSON(t, router, "POST", webhookURL, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for %s, got %d", body, w.Code)
		}
	}
}

func TestWebhookUnknownTokenAndFlowMismatch(t *testing.T) {
	router := newTestRouter(store.NewMemoryStore(), 0)

	_, webhookURL := registerWebhookTrigger(t, router, "flow-1")

	w, _ := doJSON(t, router, "POST", "/webhook/flow-1/"+uuid.New().String(), `{}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown token, got %d", w.Code)
	}

	// Valid token, wrong flow
	token := webhookURL[strings.LastIndex(webhookURL, "/")+1:]
	w, _ = doJSON(t, router, "POST", "/webhook/other-flow/"+token, `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for flow mismatch, got %d", w.Code)
	}
}

// TestRouteOrdering verifies that /runs/next is registered before /runs/{id}
func TestRouteOrdering(t *testing.T) {
	testStore := store.NewMemoryStore()
	router := newTestRouter(testStore, 0)

	testWorker := &models.Worker{
		ID:            "test-worker-123",
		Name:          "test-worker",
		Status:        models.WorkerStatusAvailable,
		LastHeartbeat: time.Now(),
		RegisteredAt:  time.Now(),
	}
	if err := testStore.RegisterWorker(testWorker); err != nil {
		t.Fatalf("Failed to register test worker: %v", err)
	}

	_, webhookURL := registerWebhookTrigger(t, router, "flow-1")
	if w, _ := doJSON(t, router, "POST", webhookURL, `{}`); w.Code != http.StatusAccepted {
		t.Fatalf("Failed to fire webhook: %d", w.Code)
	}

	t.Run("RunsNextEndpoint", func(t *testing.T) {
		w, resp := doJSON(t, router, "GET", "/runs/next?worker_id=test-worker-123", "")
		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d. Response: %s", w.Code, w.Body.String())
		}
		if resp["run"] == nil {
			t.Error("Expected run in response, got nil")
		}
	})

	t.Run("NextNotMatchedByID", func(t *testing.T) {
		// If routes are in the wrong order, /runs/next is handled by GetRun
		// which 404s because no run has ID "next"
		w, _ := doJSON(t, router, "GET", "/runs/next?worker_id=test-worker-123", "")
		if w.Code == http.StatusNotFound {
			t.Error("/runs/next matched the parameterized /runs/{id} route")
		}
	})
}

func TestGetRunBySequenceNumber(t *testing.T) {
	testStore := store.NewMemoryStore()
	router := newTestRouter(testStore, 0)

	_, webhookURL := registerWebhookTrigger(t, router, "flow-1")
	if w, _ := doJSON(t, router, "POST", webhookURL, `{}`); w.Code != http.StatusAccepted {
		t.Fatalf("Failed to fire webhook: %d", w.Code)
	}

	w, _ := doJSON(t, router, "GET", "/runs/1", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 for sequence lookup, got %d. Response: %s", w.Code, w.Body.String())
	}

	var run models.Run
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("Failed to parse run response: %v", err)
	}
	if run.SequenceNumber != 1 {
		t.Errorf("Expected sequence number 1, got %d", run.SequenceNumber)
	}
}

func TestReceiveResultsRetriesFailedRuns(t *testing.T) {
	testStore := store.NewMemoryStore()
	router := newTestRouter(testStore, 2)

	testStore.RegisterWorker(&models.Worker{
		ID: "w1", Name: "w1", Status: models.WorkerStatusAvailable,
		LastHeartbeat: time.Now(), RegisteredAt: time.Now(),
	})

	_, webhookURL := registerWebhookTrigger(t, router, "flow-1")
	doJSON(t, router, "POST", webhookURL, `{}`)

	run, err := testStore.GetNextRun("w1")
	if err != nil {
		t.Fatalf("Failed to claim run: %v", err)
	}

	w, resp := doJSON(t, router, "POST", "/results", `{
		"run_id": "`+run.ID+`",
		"worker_id": "w1",
		"status": "failed",
		"error": "script exploded"
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Response: %s", w.Code, w.Body.String())
	}
	if resp["status"] != "retrying" {
		t.Errorf("Expected retrying status, got %v", resp["status"])
	}

	got, _ := testStore.GetRun(run.ID)
	if got.Status != models.RunStatusPending {
		t.Errorf("Expected run re-queued, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Errorf("Expected retry count 1, got %d", got.RetryCount)
	}
}

func TestReceiveResultsIntervalReschedule(t *testing.T) {
	testStore := store.NewMemoryStore()
	router := newTestRouter(testStore, 0)

	w, _ := doJSON(t, router, "POST", "/triggers", `{
		"flow_id": "flow-1",
		"trigger": {"type": "interval", "schedule": {"interval_seconds": 30}},
		"nodes": [{"id": "n1", "logic": "uppercase"}]
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Failed to register interval trigger: %d", w.Code)
	}

	first := testStore.GetAllRuns()[0]
	// Make the first run claimable and complete it
	past := time.Now().Add(-time.Second)
	first.NotBefore = &past
	testStore.UpdateRun(first)
	testStore.RegisterWorker(&models.Worker{
		ID: "w1", Name: "w1", Status: models.WorkerStatusAvailable,
		LastHeartbeat: time.Now(), RegisteredAt: time.Now(),
	})
	claimed, err := testStore.GetNextRun("w1")
	if err != nil {
		t.Fatalf("Failed to claim run: %v", err)
	}

	w, _ = doJSON(t, router, "POST", "/results", `{
		"run_id": "`+claimed.ID+`",
		"worker_id": "w1",
		"status": "completed"
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Response: %s", w.Code, w.Body.String())
	}

	runs := testStore.GetAllRuns()
	if len(runs) != 2 {
		t.Fatalf("Expected a re-scheduled run, got %d runs", len(runs))
	}
	var next *models.Run
	for _, r := range runs {
		if r.ID != claimed.ID {
			next = r
		}
	}
	if next == nil || next.Status != models.RunStatusPending {
		t.Fatal("Expected a new pending run after interval completion")
	}
	if next.NotBefore == nil || !next.NotBefore.After(time.Now()) {
		t.Error("Expected new run to carry a future not_before")
	}
}

func TestReceiveResultsIntervalRescheduleAfterFailure(t *testing.T) {
	testStore := store.NewMemoryStore()
	router := newTestRouter(testStore, 0)

	w, _ := doJSON(t, router, "POST", "/triggers", `{
		"flow_id": "flow-1",
		"trigger": {"type": "interval", "schedule": {"interval_seconds": 30}},
		"nodes": [{"id": "n1", "logic": "uppercase"}]
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Failed to register interval trigger: %d", w.Code)
	}

	first := testStore.GetAllRuns()[0]
	past := time.Now().Add(-time.Second)
	first.NotBefore = &past
	testStore.UpdateRun(first)
	testStore.RegisterWorker(&models.Worker{
		ID: "w1", Name: "w1", Status: models.WorkerStatusAvailable,
		LastHeartbeat: time.Now(), RegisteredAt: time.Now(),
	})
	claimed, err := testStore.GetNextRun("w1")
	if err != nil {
		t.Fatalf("Failed to claim run: %v", err)
	}

	// Terminal failure (no retries configured) still books the next tick
	w, _ = doJSON(t, router, "POST", "/results", `{
		"run_id": "`+claimed.ID+`",
		"worker_id": "w1",
		"status": "failed",
		"error": "node blew up"
	}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Response: %s", w.Code, w.Body.String())
	}

	got, _ := testStore.GetRun(claimed.ID)
	if got.Status != models.RunStatusFailed {
		t.Errorf("Expected failed run, got %s", got.Status)
	}

	runs := testStore.GetAllRuns()
	if len(runs) != 2 {
		t.Fatalf("Expected the interval chain to continue after failure, got %d runs", len(runs))
	}
	var next *models.Run
	for _, r := range runs {
		if r.ID != claimed.ID {
			next = r
		}
	}
	if next == nil || next.Status != models.RunStatusPending {
		t.Fatal("Expected a new pending run after interval failure")
	}
	if next.NotBefore == nil || !next.NotBefore.After(time.Now()) {
		t.Error("Expected new run to carry a future not_before")
	}
}

func TestListRunsStatusFilter(t *testing.T) {
	testStore := store.NewMemoryStore()
	router := newTestRouter(testStore, 0)

	base := time.Now()
	for _, r := range []*models.Run{
		{ID: "r-low", FlowID: "f", Status: models.RunStatusPending, Queue: "default", Priority: "low", CreatedAt: base},
		{ID: "r-live", FlowID: "f", Status: models.RunStatusPending, Queue: "live", Priority: "low", CreatedAt: base.Add(time.Second)},
		{ID: "r-high", FlowID: "f", Status: models.RunStatusPending, Queue: "default", Priority: "high", CreatedAt: base.Add(2 * time.Second)},
		{ID: "r-done", FlowID: "f", Status: models.RunStatusCompleted, Queue: "default", Priority: "high", CreatedAt: base},
	} {
		if err := testStore.CreateRun(r); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	w, resp := doJSON(t, router, "GET", "/runs?status=pending", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if resp["count"] != float64(3) {
		t.Fatalf("Expected 3 pending runs, got %v", resp["count"])
	}

	// Pending runs come back in claim order: live queue first, then by priority
	runs, _ := resp["runs"].([]interface{})
	var order []string
	for _, item := range runs {
		run, _ := item.(map[string]interface{})
		order = append(order, run["id"].(string))
	}
	want := []string{"r-live", "r-high", "r-low"}
	for i, id := range want {
		if i >= len(order) || order[i] != id {
			t.Fatalf("Expected claim order %v, got %v", want, order)
		}
	}

	w, resp = doJSON(t, router, "GET", "/runs?status=completed", "")
	if w.Code != http.StatusOK || resp["count"] != float64(1) {
		t.Errorf("Expected 1 completed run, got %v (status %d)", resp["count"], w.Code)
	}

	w, resp = doJSON(t, router, "GET", "/runs", "")
	if w.Code != http.StatusOK || resp["count"] != float64(4) {
		t.Errorf("Expected 4 runs without filter, got %v (status %d)", resp["count"], w.Code)
	}
}

func TestWorkerRegistrationAndReRegistration(t *testing.T) {
	router := newTestRouter(store.NewMemoryStore(), 0)

	body := `{"name": "worker-a", "cpu_threads": 8, "cpu_model": "test", "ram_total_bytes": 1024}`

	w, _ := doJSON(t, router, "POST", "/workers/register", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 for first registration, got %d", w.Code)
	}
	var first models.Worker
	json.Unmarshal(w.Body.Bytes(), &first)

	w, _ = doJSON(t, router, "POST", "/workers/register", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 for re-registration, got %d", w.Code)
	}
	var second models.Worker
	json.Unmarshal(w.Body.Bytes(), &second)

	if first.ID != second.ID {
		t.Errorf("Re-registration should keep worker ID, got %s then %s", first.ID, second.ID)
	}
}

func TestWorkerHeartbeatRefreshesRunActivity(t *testing.T) {
	testStore := store.NewMemoryStore()
	router := newTestRouter(testStore, 0)

	testStore.RegisterWorker(&models.Worker{
		ID: "w1", Name: "w1", Status: models.WorkerStatusAvailable,
		LastHeartbeat: time.Now(), RegisteredAt: time.Now(),
	})
	_, webhookURL := registerWebhookTrigger(t, router, "flow-1")
	doJSON(t, router, "POST", webhookURL, `{}`)
	claimed, err := testStore.GetNextRun("w1")
	if err != nil {
		t.Fatalf("Failed to claim run: %v", err)
	}

	stale := time.Now().Add(-time.Hour)
	claimed.LastActivity = &stale
	testStore.UpdateRun(claimed)

	w, _ := doJSON(t, router, "POST", "/workers/w1/heartbeat", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	got, _ := testStore.GetRun(claimed.ID)
	if got.LastActivity == nil || !got.LastActivity.After(stale) {
		t.Error("Expected heartbeat to refresh run activity")
	}
}

func TestCancelAndRetryRunEndpoints(t *testing.T) {
	testStore := store.NewMemoryStore()
	router := newTestRouter(testStore, 0)

	_, webhookURL := registerWebhookTrigger(t, router, "flow-1")
	doJSON(t, router, "POST", webhookURL, `{}`)
	run := testStore.GetAllRuns()[0]

	w, _ := doJSON(t, router, "POST", "/runs/"+run.ID+"/cancel", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 canceling, got %d", w.Code)
	}

	// Retry only applies to failed or canceled runs, and this one is canceled
	w, resp := doJSON(t, router, "POST", "/runs/"+run.ID+"/retry", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 retrying, got %d. Response: %s", w.Code, w.Body.String())
	}
	if resp["status"] != "queued" {
		t.Errorf("Expected queued status, got %v", resp["status"])
	}

	got, _ := testStore.GetRun(run.ID)
	if got.Status != models.RunStatusPending {
		t.Errorf("Expected pending after retry, got %s", got.Status)
	}

	// Pending runs cannot be retried again
	w, _ = doJSON(t, router, "POST", "/runs/"+run.ID+"/retry", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 retrying a pending run, got %d", w.Code)
	}
}

func TestGetRunLogsFallsBackToError(t *testing.T) {
	testStore := store.NewMemoryStore()
	router := newTestRouter(testStore, 0)

	_, webhookURL := registerWebhookTrigger(t, router, "flow-1")
	doJSON(t, router, "POST", webhookURL, `{}`)
	run := testStore.GetAllRuns()[0]
	testStore.UpdateRunStatus(run.ID, models.RunStatusFailed, "interpreter not found")

	w, resp := doJSON(t, router, "GET", "/runs/"+run.ID+"/logs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	logs, _ := resp["logs"].(string)
	if !strings.Contains(logs, "interpreter not found") {
		t.Errorf("Expected error fallback in logs, got %q", logs)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(store.NewMemoryStore(), 0)

	w, resp := doJSON(t, router, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", resp["status"])
	}
}
