package store

import (
	"errors"
	"time"

	"github.com/DrSui/code-engine/pkg/models"
)

var (
	ErrTriggerNotFound     = errors.New("trigger not found")
	ErrRunNotFound         = errors.New("run not found")
	ErrWorkerNotFound      = errors.New("worker not found")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// Store defines the interface for data persistence.
// Memory, SQLite and PostgreSQL all implement this interface.
type Store interface {
	// Trigger operations (webhook registry + interval definitions)
	CreateTrigger(trigger *models.Trigger) error
	GetTrigger(id string) (*models.Trigger, error)
	ListTriggers() []*models.Trigger
	DeleteTrigger(id string) error

	// Run operations
	CreateRun(run *models.Run) error
	GetRun(id string) (*models.Run, error)
	GetRunBySequenceNumber(seqNum int) (*models.Run, error)
	GetAllRuns() []*models.Run
	GetNextRun(workerID string) (*models.Run, error)
	UpdateRun(run *models.Run) error
	UpdateRunStatus(id string, status models.RunStatus, errorMsg string) error
	UpdateRunResults(id string, results []models.NodeResult, logs string) error
	UpdateRunActivity(id string) error
	CancelRun(id string) error
	RetryRun(id string, errorMsg string) error
	DeleteRun(id string) error
	GetRunsInStatus(status models.RunStatus) ([]*models.Run, error)
	GetOrphanedRuns(workerTimeout time.Duration) ([]*models.Run, error)
	GetTimedOutRuns() ([]*models.Run, error)

	// Worker operations
	RegisterWorker(worker *models.Worker) error
	GetWorker(id string) (*models.Worker, error)
	GetWorkerByName(name string) (*models.Worker, error)
	GetAllWorkers() []*models.Worker
	UpdateWorkerStatus(id, status string) error
	UpdateWorkerHeartbeat(id string) error
	DeleteWorker(id string) error

	// Lifecycle
	Close() error
	HealthCheck() error

	// Metrics operations
	GetRunMetrics() (*RunMetrics, error)
}

// RunMetrics contains aggregated run statistics for the metrics endpoint
type RunMetrics struct {
	RunsByStatus    map[models.RunStatus]int
	QueueByPriority map[string]int
	ActiveRuns      int
	QueueLength     int
	AvgDuration     float64
	TotalRuns       int
	TotalRetries    int
}

// Config holds database configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // connection string

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// SQLite specific
	Path string
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgresStore(config)
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "engine.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, ErrUnsupportedDatabase
	}
}
