package worker

import (
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/DrSui/code-engine/pkg/api"
	"github.com/DrSui/code-engine/pkg/client"
	"github.com/DrSui/code-engine/pkg/store"
)

func TestDetectHardwareFillsIdentity(t *testing.T) {
	reg := DetectHardware()

	if reg.Name == "" {
		t.Error("Expected hostname in Name, got empty string")
	}
	if reg.CPUThreads <= 0 {
		t.Errorf("Expected positive CPU thread count, got %d", reg.CPUThreads)
	}
	if reg.Labels["os"] == "" || reg.Labels["arch"] == "" {
		t.Errorf("Expected os/arch labels, got %v", reg.Labels)
	}
}

func TestDetectHardwareRegistersWithEngine(t *testing.T) {
	testStore := store.NewMemoryStore()
	handler := api.NewEngineHandler(testStore)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	server := httptest.NewServer(router)
	defer server.Close()

	reg := DetectHardware()
	c := client.NewClient(server.URL)

	worker, err := c.Register(reg)
	if err != nil {
		t.Fatalf("Registration with detected hardware failed: %v", err)
	}
	if worker.Name != reg.Name {
		t.Errorf("Expected registered name %q, got %q", reg.Name, worker.Name)
	}

	stored, err := testStore.GetWorkerByName(reg.Name)
	if err != nil {
		t.Fatalf("GetWorkerByName failed: %v", err)
	}
	if stored.ID != worker.ID {
		t.Errorf("Expected stored worker %s, got %s", worker.ID, stored.ID)
	}
}
