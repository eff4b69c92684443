package models

import (
	"encoding/json"
	"time"
)

// RunStatus represents the status of a pipeline run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Run is a single execution of a pipeline, created when a trigger fires and
// claimed by exactly one worker.
type Run struct {
	ID             string                 `json:"id"`
	SequenceNumber int                    `json:"sequence_number,omitempty"`
	TriggerID      string                 `json:"trigger_id"`
	FlowID         string                 `json:"flow_id"`
	TriggerType    TriggerType            `json:"trigger_type"`
	Nodes          []PipelineNode         `json:"nodes"` // snapshot taken at enqueue time
	Payload        map[string]interface{} `json:"payload,omitempty"`
	Status         RunStatus              `json:"status"`
	Queue          string                 `json:"queue,omitempty"`    // "live", "default", "batch"
	Priority       string                 `json:"priority,omitempty"` // "high", "medium", "low"
	WorkerID       string                 `json:"worker_id,omitempty"`
	WorkerName     string                 `json:"worker_name,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	NotBefore      *time.Time             `json:"not_before,omitempty"` // interval countdown
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	LastActivity   *time.Time             `json:"last_activity,omitempty"`
	TimeoutSeconds int                    `json:"timeout_seconds,omitempty"` // whole-run deadline, 0 = none
	RetryCount     int                    `json:"retry_count"`
	Error          string                 `json:"error,omitempty"`
	NodeResults    []NodeResult           `json:"node_results,omitempty"`
	Logs           string                 `json:"logs,omitempty"`
}

// NodeResult is the outcome of one pipeline node
type NodeResult struct {
	NodeID   string          `json:"node_id"`
	Logic    string          `json:"logic"`
	OK       bool            `json:"ok"`
	Result   json.RawMessage `json:"result,omitempty"` // stdout parsed as JSON when possible
	Error    string          `json:"error,omitempty"`
	Stdout   string          `json:"stdout,omitempty"`
	Stderr   string          `json:"stderr,omitempty"`
	Duration float64         `json:"duration_seconds,omitempty"`
}

// RunResult is posted by a worker when a run finishes
type RunResult struct {
	RunID       string       `json:"run_id"`
	WorkerID    string       `json:"worker_id"`
	Status      RunStatus    `json:"status"`
	NodeResults []NodeResult `json:"node_results,omitempty"`
	Error       string       `json:"error,omitempty"`
	Logs        string       `json:"logs,omitempty"`
	CompletedAt time.Time    `json:"completed_at"`
}
