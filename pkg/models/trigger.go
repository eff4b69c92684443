package models

import (
	"time"
)

// TriggerType represents how a pipeline is started
type TriggerType string

const (
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeInterval TriggerType = "interval"
)

// PipelineNode is one step of a pipeline. Logic names a script in the
// scripts directory (resolved through the mapping file on the worker).
type PipelineNode struct {
	ID     string                 `json:"id"`
	Logic  string                 `json:"logic"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Trigger binds a flow to a pipeline definition. For webhook triggers the
// trigger ID doubles as the webhook token; for interval triggers
// IntervalSeconds drives re-scheduling after each run.
type Trigger struct {
	ID              string         `json:"id"`
	FlowID          string         `json:"flow_id"`
	Type            TriggerType    `json:"type"`
	IntervalSeconds int            `json:"interval_seconds,omitempty"`
	Nodes           []PipelineNode `json:"nodes"`
	CreatedAt       time.Time      `json:"created_at"`
}

// TriggerSchedule describes a time trigger's schedule
type TriggerSchedule struct {
	Mode            string `json:"mode"` // "interval"
	IntervalSeconds int    `json:"interval_seconds,omitempty"`
}

// TriggerSpec is the trigger portion of a registration request
type TriggerSpec struct {
	Type     TriggerType      `json:"type"`
	Schedule *TriggerSchedule `json:"schedule,omitempty"`
}

// TriggerRegistration represents a request to register a trigger + nodes
type TriggerRegistration struct {
	FlowID  string         `json:"flow_id"`
	Trigger TriggerSpec    `json:"trigger"`
	Nodes   []PipelineNode `json:"nodes"`
}

// WebhookAck is returned when a webhook invocation is accepted
type WebhookAck struct {
	Status    string `json:"status"`
	TriggerID string `json:"trigger_id"`
	FlowID    string `json:"flow_id"`
	RunID     string `json:"run_id,omitempty"`
}
