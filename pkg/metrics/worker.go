package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// WorkerExporter exports Prometheus metrics for a worker process: host
// resource usage sampled from gopsutil plus counters for executed runs.
type WorkerExporter struct {
	registry *prometheus.Registry

	cpuUsagePercent prometheus.Gauge
	memoryUsedBytes prometheus.Gauge
	activeRuns      prometheus.Gauge
	uptimeSeconds   prometheus.GaugeFunc

	runsCompleted  prometheus.Counter
	runsFailed     prometheus.Counter
	nodesExecuted  prometheus.Counter
	heartbeatsSent prometheus.Counter
}

// NewWorkerExporter creates an exporter labeled with the worker ID.
func NewWorkerExporter(workerID string) *WorkerExporter {
	constLabels := prometheus.Labels{"worker_id": workerID}
	startTime := time.Now()

	e := &WorkerExporter{
		registry: prometheus.NewRegistry(),
		cpuUsagePercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "worker_cpu_usage_percent",
			Help:        "Host CPU usage percentage",
			ConstLabels: constLabels,
		}),
		memoryUsedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "worker_memory_used_bytes",
			Help:        "Host memory in use",
			ConstLabels: constLabels,
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "worker_active_runs",
			Help:        "Runs currently executing",
			ConstLabels: constLabels,
		}),
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "worker_runs_completed_total",
			Help:        "Runs finished with every node succeeding",
			ConstLabels: constLabels,
		}),
		runsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "worker_runs_failed_total",
			Help:        "Runs finished with at least one failed node",
			ConstLabels: constLabels,
		}),
		nodesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "worker_nodes_executed_total",
			Help:        "Individual pipeline nodes executed",
			ConstLabels: constLabels,
		}),
		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "worker_heartbeats_sent_total",
			Help:        "Heartbeats sent to the engine",
			ConstLabels: constLabels,
		}),
	}
	e.uptimeSeconds = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "worker_uptime_seconds",
		Help:        "Time since the worker started",
		ConstLabels: constLabels,
	}, func() float64 {
		return time.Since(startTime).Seconds()
	})

	e.registry.MustRegister(
		e.cpuUsagePercent,
		e.memoryUsedBytes,
		e.activeRuns,
		e.uptimeSeconds,
		e.runsCompleted,
		e.runsFailed,
		e.nodesExecuted,
		e.heartbeatsSent,
	)

	return e
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (e *WorkerExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// SampleHostStats refreshes the CPU and memory gauges from the host.
func (e *WorkerExporter) SampleHostStats() {
	percentages, err := cpu.Percent(0, false)
	if err != nil {
		log.Printf("Warning: failed to sample CPU usage: %v", err)
	} else if len(percentages) > 0 {
		e.cpuUsagePercent.Set(percentages[0])
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Printf("Warning: failed to sample memory usage: %v", err)
	} else {
		e.memoryUsedBytes.Set(float64(vm.Used))
	}
}

// StartSampling samples host stats every interval until stopCh closes.
func (e *WorkerExporter) StartSampling(interval time.Duration, stopCh <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.SampleHostStats()
			case <-stopCh:
				return
			}
		}
	}()
}

// RunStarted increments the active run gauge
func (e *WorkerExporter) RunStarted() {
	e.activeRuns.Inc()
}

// RunFinished records a finished run
func (e *WorkerExporter) RunFinished(succeeded bool) {
	e.activeRuns.Dec()
	if succeeded {
		e.runsCompleted.Inc()
	} else {
		e.runsFailed.Inc()
	}
}

// NodeExecuted counts one executed pipeline node
func (e *WorkerExporter) NodeExecuted() {
	e.nodesExecuted.Inc()
}

// HeartbeatSent counts one heartbeat
func (e *WorkerExporter) HeartbeatSent() {
	e.heartbeatsSent.Inc()
}
