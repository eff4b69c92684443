package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/DrSui/code-engine/pkg/client"
	"github.com/DrSui/code-engine/pkg/executor"
	"github.com/DrSui/code-engine/pkg/metrics"
	"github.com/DrSui/code-engine/pkg/worker"
)

func main() {
	engineURL := flag.String("engine", "http://localhost:8080", "Engine API URL")
	workerName := flag.String("name", "", "Worker name (default: hostname)")
	apiKey := flag.String("api-key", os.Getenv("CODE_ENGINE_API_KEY"), "API key for the engine (default: $CODE_ENGINE_API_KEY)")
	scriptsDir := flag.String("scripts", "./scripts", "Directory with mapping.json and node scripts")
	executorAddr := flag.String("executor-addr", "", "Remote executor address (unix:///path.sock or http://host:port); empty runs code in-process")
	pollInterval := flag.Duration("poll-interval", 2*time.Second, "Run poll interval")
	heartbeatInterval := flag.Duration("heartbeat-interval", 10*time.Second, "Heartbeat interval")
	maxConcurrent := flag.Int("max-concurrent", 1, "Maximum concurrent runs")
	enableMetrics := flag.Bool("metrics", true, "Enable Prometheus metrics endpoint")
	metricsPort := flag.String("metrics-port", "9091", "Prometheus metrics port")
	waitTimeout := flag.Duration("wait-timeout", 60*time.Second, "How long to wait for the engine at startup")
	flag.Parse()

	log.Println("Starting pipeline worker")
	log.Printf("Engine: %s", *engineURL)
	log.Printf("Scripts directory: %s", *scriptsDir)

	if _, err := os.Stat(*scriptsDir); err != nil {
		log.Printf("Warning: scripts directory %s not accessible: %v", *scriptsDir, err)
	}

	engineClient := client.NewClient(*engineURL)
	if *apiKey != "" {
		engineClient.SetAPIKey(*apiKey)
	}

	log.Println("Waiting for engine to become ready...")
	if err := engineClient.WaitForReady(*waitTimeout); err != nil {
		log.Fatalf("Engine not reachable: %v", err)
	}

	var runner worker.CodeRunner
	if *executorAddr != "" {
		log.Printf("Using remote executor at %s", *executorAddr)
		runner = client.NewExecutorClient(*executorAddr)
	} else {
		log.Println("Using in-process executor")
		runner = executor.NewRunner(executor.DefaultInterpreter, executor.LimitsFromEnv())
	}

	pipeline := worker.NewPipeline(runner, *scriptsDir)
	agent := worker.NewAgent(engineClient, pipeline, worker.AgentConfig{
		PollInterval:      *pollInterval,
		HeartbeatInterval: *heartbeatInterval,
		MaxConcurrentRuns: *maxConcurrent,
	})

	reg := worker.DetectHardware()
	if *workerName != "" {
		reg.Name = *workerName
	}
	log.Printf("Worker name: %s", reg.Name)
	log.Printf("Hardware: %d threads, %s, %d MB RAM",
		reg.CPUThreads, reg.CPUModel, reg.RAMTotalBytes/(1024*1024))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-stop
		log.Printf("Received signal: %v, shutting down...", sig)
		cancel()
	}()

	if *enableMetrics {
		exporter := metrics.NewWorkerExporter(reg.Name)
		agent.SetMetrics(exporter)
		exporter.StartSampling(15*time.Second, ctx.Done())

		metricsRouter := mux.NewRouter()
		metricsRouter.Handle("/metrics", exporter.Handler()).Methods("GET")
		metricsSrv := &http.Server{
			Addr:         ":" + *metricsPort,
			Handler:      metricsRouter,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			log.Printf("Metrics server listening on :%s", *metricsPort)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server error: %v", err)
			}
		}()
		defer metricsSrv.Shutdown(context.Background())
	}

	if err := agent.Run(ctx, reg); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}

	log.Println("Worker stopped")
}
