package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/DrSui/code-engine/pkg/client"
	"github.com/DrSui/code-engine/pkg/models"
	"github.com/DrSui/code-engine/pkg/retry"
)

// MetricsRecorder receives execution events from the agent
type MetricsRecorder interface {
	RunStarted()
	RunFinished(succeeded bool)
	NodeExecuted()
	HeartbeatSent()
}

// Agent polls the engine for runs and executes them through a pipeline
type Agent struct {
	client            *client.Client
	pipeline          *Pipeline
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	maxConcurrentRuns int
	metrics           MetricsRecorder

	wg sync.WaitGroup
}

// SetMetrics sets an optional metrics recorder
func (a *Agent) SetMetrics(m MetricsRecorder) {
	a.metrics = m
}

// AgentConfig holds agent tuning knobs
type AgentConfig struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	MaxConcurrentRuns int
}

// NewAgent creates an agent around an engine client and a pipeline
func NewAgent(c *client.Client, pipeline *Pipeline, cfg AgentConfig) *Agent {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 1
	}
	return &Agent{
		client:            c,
		pipeline:          pipeline,
		pollInterval:      cfg.PollInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		maxConcurrentRuns: cfg.MaxConcurrentRuns,
	}
}

// Run registers the worker and drives the heartbeat and polling loops until
// the context is canceled, then drains in-flight runs.
func (a *Agent) Run(ctx context.Context, reg *models.WorkerRegistration) error {
	worker, err := a.client.Register(reg)
	if err != nil {
		return err
	}
	log.Printf("Registered as worker %s [%s]", worker.Name, worker.ID)

	go a.heartbeatLoop(ctx)
	a.pollLoop(ctx)

	log.Println("Draining in-flight runs...")
	a.wg.Wait()
	return nil
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.client.SendHeartbeat(); err != nil {
				log.Printf("Heartbeat failed: %v", err)
			} else if a.metrics != nil {
				a.metrics.HeartbeatSent()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	semaphore := make(chan struct{}, a.maxConcurrentRuns)

	for {
		select {
		case <-ticker.C:
			select {
			case semaphore <- struct{}{}:
			default:
				continue // at capacity
			}

			run, err := a.client.GetNextRun()
			if err != nil {
				log.Printf("Failed to get next run: %v", err)
				<-semaphore
				continue
			}
			if run == nil {
				<-semaphore
				continue
			}

			log.Printf("Received run: %s (flow: %s, %d nodes)", run.ID, run.FlowID, len(run.Nodes))

			a.wg.Add(1)
			go func(r *models.Run) {
				defer a.wg.Done()
				defer func() { <-semaphore }()
				a.executeRun(ctx, r)
			}(run)

		case <-ctx.Done():
			return
		}
	}
}

// executeRun drives one claimed run through the pipeline and reports back
func (a *Agent) executeRun(ctx context.Context, run *models.Run) {
	start := time.Now()
	if a.metrics != nil {
		a.metrics.RunStarted()
	}
	results := a.pipeline.Execute(ctx, run)

	status := models.RunStatusCompleted
	var runErr string
	for _, r := range results {
		if a.metrics != nil {
			a.metrics.NodeExecuted()
		}
		if !r.OK && status != models.RunStatusFailed {
			status = models.RunStatusFailed
			runErr = r.Error
		}
	}
	if a.metrics != nil {
		a.metrics.RunFinished(status == models.RunStatusCompleted)
	}

	result := &models.RunResult{
		RunID:       run.ID,
		WorkerID:    a.client.GetWorkerID(),
		Status:      status,
		NodeResults: results,
		Error:       runErr,
		CompletedAt: time.Now(),
	}

	// Result delivery is the one call that must not be dropped
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		return a.client.SendResults(result)
	})
	if err != nil {
		log.Printf("Failed to deliver results for run %s: %v", run.ID, err)
		return
	}

	log.Printf("Run %s finished: %s (%d nodes, %.1fs)", run.ID, status, len(results), time.Since(start).Seconds())
}
