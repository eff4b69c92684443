// Package metrics exposes Prometheus metrics for the engine and workers.
package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DrSui/code-engine/pkg/store"
)

// EngineCollector collects engine-side metrics. Run and worker gauges are
// read from the store at scrape time, schedule attempts are counted as they
// happen.
type EngineCollector struct {
	store     store.Store
	registry  *prometheus.Registry
	startTime time.Time

	scheduleAttempts *prometheus.CounterVec

	runsTotal         *prometheus.Desc
	runsByStatus      *prometheus.Desc
	runRetriesTotal   *prometheus.Desc
	queueLength       *prometheus.Desc
	queueByPriority   *prometheus.Desc
	avgRunDuration    *prometheus.Desc
	workersTotal      *prometheus.Desc
	workersByStatus   *prometheus.Desc
	clusterCPUThreads *prometheus.Desc
	clusterRAMBytes   *prometheus.Desc
	uptimeSeconds     *prometheus.Desc
}

// NewEngineCollector creates a collector backed by the given store and
// registers it on a fresh registry.
func NewEngineCollector(s store.Store) *EngineCollector {
	c := &EngineCollector{
		store:     s,
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		scheduleAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_schedule_attempts_total",
			Help: "Run claim attempts by result",
		}, []string{"result"}),
		runsTotal: prometheus.NewDesc(
			"engine_runs_total",
			"Total number of runs known to the store", nil, nil),
		runsByStatus: prometheus.NewDesc(
			"engine_runs_by_status",
			"Number of runs by status", []string{"status"}, nil),
		runRetriesTotal: prometheus.NewDesc(
			"engine_run_retries_total",
			"Total number of run retries", nil, nil),
		queueLength: prometheus.NewDesc(
			"engine_queue_length",
			"Number of pending runs awaiting a worker", nil, nil),
		queueByPriority: prometheus.NewDesc(
			"engine_queue_by_priority",
			"Number of pending runs by priority", []string{"priority"}, nil),
		avgRunDuration: prometheus.NewDesc(
			"engine_run_duration_avg_seconds",
			"Average wall-clock duration of completed runs", nil, nil),
		workersTotal: prometheus.NewDesc(
			"engine_workers_total",
			"Total number of registered workers", nil, nil),
		workersByStatus: prometheus.NewDesc(
			"engine_workers_by_status",
			"Number of workers by status", []string{"status"}, nil),
		clusterCPUThreads: prometheus.NewDesc(
			"engine_cluster_cpu_threads",
			"Total CPU threads across registered workers", nil, nil),
		clusterRAMBytes: prometheus.NewDesc(
			"engine_cluster_ram_bytes",
			"Total RAM bytes across registered workers", nil, nil),
		uptimeSeconds: prometheus.NewDesc(
			"engine_uptime_seconds",
			"Time since the engine started", nil, nil),
	}

	c.registry.MustRegister(c.scheduleAttempts)
	c.registry.MustRegister(c)

	return c
}

// RecordScheduleAttempt counts a run claim attempt. Result is one of
// "success", "no_runs" or "error".
func (c *EngineCollector) RecordScheduleAttempt(result string) {
	c.scheduleAttempts.WithLabelValues(result).Inc()
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (c *EngineCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Describe implements prometheus.Collector
func (c *EngineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runsTotal
	ch <- c.runsByStatus
	ch <- c.runRetriesTotal
	ch <- c.queueLength
	ch <- c.queueByPriority
	ch <- c.avgRunDuration
	ch <- c.workersTotal
	ch <- c.workersByStatus
	ch <- c.clusterCPUThreads
	ch <- c.clusterRAMBytes
	ch <- c.uptimeSeconds
}

// Collect implements prometheus.Collector. Run statistics come from the
// store's own aggregate so the SQL backends can count server-side instead of
// loading every run.
func (c *EngineCollector) Collect(ch chan<- prometheus.Metric) {
	workers := c.store.GetAllWorkers()

	workersByStatus := make(map[string]int)
	totalCPUThreads := 0
	totalRAMBytes := uint64(0)
	for _, worker := range workers {
		workersByStatus[worker.Status]++
		totalCPUThreads += worker.CPUThreads
		totalRAMBytes += worker.RAMTotalBytes
	}

	if m, err := c.store.GetRunMetrics(); err != nil {
		log.Printf("Warning: run metrics unavailable: %v", err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.runsTotal, prometheus.GaugeValue, float64(m.TotalRuns))
		for status, count := range m.RunsByStatus {
			ch <- prometheus.MustNewConstMetric(c.runsByStatus, prometheus.GaugeValue, float64(count), string(status))
		}
		ch <- prometheus.MustNewConstMetric(c.runRetriesTotal, prometheus.CounterValue, float64(m.TotalRetries))
		ch <- prometheus.MustNewConstMetric(c.queueLength, prometheus.GaugeValue, float64(m.QueueLength))
		for priority, count := range m.QueueByPriority {
			ch <- prometheus.MustNewConstMetric(c.queueByPriority, prometheus.GaugeValue, float64(count), priority)
		}
		ch <- prometheus.MustNewConstMetric(c.avgRunDuration, prometheus.GaugeValue, m.AvgDuration)
	}

	ch <- prometheus.MustNewConstMetric(c.workersTotal, prometheus.GaugeValue, float64(len(workers)))
	for status, count := range workersByStatus {
		ch <- prometheus.MustNewConstMetric(c.workersByStatus, prometheus.GaugeValue, float64(count), status)
	}
	ch <- prometheus.MustNewConstMetric(c.clusterCPUThreads, prometheus.GaugeValue, float64(totalCPUThreads))
	ch <- prometheus.MustNewConstMetric(c.clusterRAMBytes, prometheus.GaugeValue, float64(totalRAMBytes))

	ch <- prometheus.MustNewConstMetric(c.uptimeSeconds, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}
