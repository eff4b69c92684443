package api_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/DrSui/code-engine/pkg/api"
	"github.com/DrSui/code-engine/pkg/models"
	"github.com/DrSui/code-engine/pkg/store"
)

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "triggers.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write seed file: %v", err)
	}
	return path
}

func TestSeedTriggers(t *testing.T) {
	testStore := store.NewMemoryStore()
	path := writeSeedFile(t, `
triggers:
  - flow_id: flow-a
    type: webhook
    nodes:
      - id: n1
        logic: uppercase
        params:
          field: name
  - flow_id: flow-b
    type: interval
    interval_seconds: 60
    nodes:
      - id: n1
        logic: report
`)

	if err := api.SeedTriggers(testStore, path); err != nil {
		t.Fatalf("SeedTriggers failed: %v", err)
	}

	triggers := testStore.ListTriggers()
	if len(triggers) != 2 {
		t.Fatalf("Expected 2 triggers, got %d", len(triggers))
	}

	// Interval trigger gets its first pending run
	runs := testStore.GetAllRuns()
	if len(runs) != 1 {
		t.Fatalf("Expected 1 scheduled run, got %d", len(runs))
	}
	if runs[0].TriggerType != models.TriggerTypeInterval {
		t.Errorf("Expected interval run, got %s", runs[0].TriggerType)
	}

	// Seeding again must not duplicate triggers
	if err := api.SeedTriggers(testStore, path); err != nil {
		t.Fatalf("SeedTriggers re-run failed: %v", err)
	}
	if len(testStore.ListTriggers()) != 2 {
		t.Errorf("Expected seeding to be idempotent, got %d triggers", len(testStore.ListTriggers()))
	}
}

func TestSeedTriggersRejectsBadInterval(t *testing.T) {
	testStore := store.NewMemoryStore()
	path := writeSeedFile(t, `
triggers:
  - flow_id: flow-a
    type: interval
    interval_seconds: 0
    nodes:
      - id: n1
        logic: report
`)

	if err := api.SeedTriggers(testStore, path); err == nil {
		t.Error("Expected error for non-positive interval")
	}
}
