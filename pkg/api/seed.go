package api

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/DrSui/code-engine/pkg/models"
	"github.com/DrSui/code-engine/pkg/store"
)

// seedFile is the on-disk layout of a triggers seed file. It mirrors the
// registration request so the same pipelines can be registered at startup
// instead of through the API.
type seedFile struct {
	Triggers []seedTrigger `yaml:"triggers"`
}

type seedTrigger struct {
	FlowID          string     `yaml:"flow_id"`
	Type            string     `yaml:"type"`
	IntervalSeconds int        `yaml:"interval_seconds"`
	Nodes           []seedNode `yaml:"nodes"`
}

type seedNode struct {
	ID     string                 `yaml:"id"`
	Logic  string                 `yaml:"logic"`
	Params map[string]interface{} `yaml:"params"`
}

// SeedTriggers registers the pipelines declared in a YAML file. Existing
// registrations for the same flow are left alone so repeated restarts do not
// pile up duplicate triggers.
func SeedTriggers(s store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read triggers file: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse triggers file: %w", err)
	}

	existing := make(map[string]bool)
	for _, t := range s.ListTriggers() {
		existing[t.FlowID] = true
	}

	seeded := 0
	for _, entry := range file.Triggers {
		if entry.FlowID == "" || len(entry.Nodes) == 0 {
			log.Printf("Skipping seed trigger with missing flow_id or nodes")
			continue
		}
		if existing[entry.FlowID] {
			log.Printf("Flow %s already has a trigger, skipping seed entry", entry.FlowID)
			continue
		}

		triggerType := models.TriggerType(entry.Type)
		switch triggerType {
		case models.TriggerTypeWebhook:
		case models.TriggerTypeInterval:
			if entry.IntervalSeconds <= 0 {
				return fmt.Errorf("seed trigger for flow %s: interval_seconds must be positive", entry.FlowID)
			}
		default:
			return fmt.Errorf("seed trigger for flow %s: unsupported type %q", entry.FlowID, entry.Type)
		}

		nodes := make([]models.PipelineNode, 0, len(entry.Nodes))
		for _, n := range entry.Nodes {
			nodes = append(nodes, models.PipelineNode{ID: n.ID, Logic: n.Logic, Params: n.Params})
		}

		trigger := &models.Trigger{
			ID:              uuid.New().String(),
			FlowID:          entry.FlowID,
			Type:            triggerType,
			IntervalSeconds: entry.IntervalSeconds,
			Nodes:           nodes,
			CreatedAt:       time.Now(),
		}
		if err := s.CreateTrigger(trigger); err != nil {
			return fmt.Errorf("failed to seed trigger for flow %s: %w", entry.FlowID, err)
		}

		if triggerType == models.TriggerTypeWebhook {
			log.Printf("Seeded webhook trigger for flow %s: /webhook/%s/%s", entry.FlowID, entry.FlowID, trigger.ID)
		} else {
			first := &models.Run{
				ID:          uuid.New().String(),
				TriggerID:   trigger.ID,
				FlowID:      trigger.FlowID,
				TriggerType: trigger.Type,
				Nodes:       trigger.Nodes,
				Status:      models.RunStatusPending,
				Queue:       "default",
				Priority:    "medium",
				CreatedAt:   time.Now(),
			}
			notBefore := time.Now().Add(time.Duration(trigger.IntervalSeconds) * time.Second)
			first.NotBefore = &notBefore
			if err := s.CreateRun(first); err != nil {
				return fmt.Errorf("failed to schedule first run for flow %s: %w", entry.FlowID, err)
			}
			log.Printf("Seeded interval trigger for flow %s (every %ds)", entry.FlowID, entry.IntervalSeconds)
		}
		seeded++
	}

	log.Printf("Trigger seeding complete: %d registered, %d skipped", seeded, len(file.Triggers)-seeded)
	return nil
}
