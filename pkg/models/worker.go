package models

import (
	"time"
)

// Worker status values
const (
	WorkerStatusAvailable = "available"
	WorkerStatusBusy      = "busy"
	WorkerStatusOffline   = "offline"
)

// Worker represents a pipeline worker registered with the engine
type Worker struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"` // hostname
	Address       string            `json:"address,omitempty"`
	CPUThreads    int               `json:"cpu_threads"`
	CPUModel      string            `json:"cpu_model"`
	RAMTotalBytes uint64            `json:"ram_total_bytes"`
	Interpreter   string            `json:"interpreter,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	Status        string            `json:"status"` // "available", "busy", "offline"
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	RegisteredAt  time.Time         `json:"registered_at"`
	CurrentRunID  string            `json:"current_run_id,omitempty"`
}

// WorkerRegistration represents a worker registration request
type WorkerRegistration struct {
	Name          string            `json:"name"`
	Address       string            `json:"address,omitempty"`
	CPUThreads    int               `json:"cpu_threads"`
	CPUModel      string            `json:"cpu_model"`
	RAMTotalBytes uint64            `json:"ram_total_bytes"`
	Interpreter   string            `json:"interpreter,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
}
