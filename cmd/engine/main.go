package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/DrSui/code-engine/pkg/api"
	"github.com/DrSui/code-engine/pkg/auth"
	"github.com/DrSui/code-engine/pkg/bootstrap"
	"github.com/DrSui/code-engine/pkg/logging"
	"github.com/DrSui/code-engine/pkg/metrics"
	"github.com/DrSui/code-engine/pkg/ratelimit"
	"github.com/DrSui/code-engine/pkg/scheduler"
	"github.com/DrSui/code-engine/pkg/shutdown"
	"github.com/DrSui/code-engine/pkg/store"
	tlsutil "github.com/DrSui/code-engine/pkg/tls"
	"github.com/DrSui/code-engine/pkg/tracing"
)

func main() {
	port := flag.String("port", "8080", "Engine API port")
	socketPath := flag.String("socket", "", "Unix socket path to bind instead of TCP (e.g. /tmp/code-engine/api.sock)")
	socketMode := flag.String("socket-mode", "development", "Socket directory permissions: development or production")
	dbType := flag.String("db-type", "sqlite", "Store backend: memory, sqlite or postgres")
	dbPath := flag.String("db", "engine.db", "SQLite database path")
	pgDSN := flag.String("pg-dsn", os.Getenv("ENGINE_POSTGRES_DSN"), "PostgreSQL DSN (default: from ENGINE_POSTGRES_DSN env var)")
	maxRetries := flag.Int("max-retries", 3, "Maximum run retry attempts on failure")
	checkInterval := flag.Duration("check-interval", 15*time.Second, "Recovery sweep interval")
	triggersFile := flag.String("triggers-file", "", "YAML file with triggers to register at startup")
	apiKeyFlag := flag.String("api-key", "", "API key for management endpoints (or CODE_ENGINE_API_KEY env var; empty disables auth)")
	enableMetrics := flag.Bool("metrics", true, "Enable Prometheus metrics endpoint")
	metricsPort := flag.String("metrics-port", "9090", "Prometheus metrics port")
	webhookRPS := flag.Float64("webhook-rps", 10, "Webhook requests per second per client")
	webhookBurst := flag.Int("webhook-burst", 20, "Webhook burst size per client")
	useTLS := flag.Bool("tls", false, "Enable TLS")
	certFile := flag.String("cert", "certs/engine.crt", "TLS certificate file")
	keyFile := flag.String("key", "certs/engine.key", "TLS key file")
	caFile := flag.String("ca", "", "CA certificate file for mTLS")
	requireClientCert := flag.Bool("mtls", false, "Require client certificate (mTLS)")
	generateCert := flag.Bool("generate-cert", false, "Generate self-signed certificate and exit")
	generateAPIKey := flag.Bool("generate-api-key", false, "Generate a random API key, print it and exit")
	certSANs := flag.String("cert-sans", "", "Comma-separated extra IPs or hostnames for the certificate SANs")
	enableTracing := flag.Bool("trace", false, "Enable OpenTelemetry tracing")
	otlpEndpoint := flag.String("otlp-endpoint", "localhost:4318", "OTLP HTTP endpoint for traces")
	logLevel := flag.String("log-level", "INFO", "Log level: DEBUG, INFO, WARN, ERROR")
	logJSON := flag.Bool("log-json", false, "Write structured log entries as JSON")
	flag.Parse()

	appLog, err := logging.NewFileLogger("engine", logging.ParseLevel(*logLevel), *logJSON)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLog.Close()

	appLog.Info("Starting pipeline engine", map[string]interface{}{
		"max_retries": *maxRetries,
		"db_type":     *dbType,
	})

	if *generateCert {
		log.Println("Generating self-signed certificate...")
		if err := os.MkdirAll("certs", 0755); err != nil {
			log.Fatalf("Failed to create certs directory: %v", err)
		}
		var sans []string
		for _, s := range strings.Split(*certSANs, ",") {
			if s = strings.TrimSpace(s); s != "" {
				sans = append(sans, s)
			}
		}
		if err := tlsutil.GenerateSelfSignedCert(*certFile, *keyFile, "engine", sans...); err != nil {
			log.Fatalf("Failed to generate certificate: %v", err)
		}
		log.Printf("Certificate generated: %s", *certFile)
		return
	}

	if *generateAPIKey {
		key, err := auth.GenerateKey()
		if err != nil {
			log.Fatalf("Failed to generate API key: %v", err)
		}
		fmt.Println(key)
		log.Println("Pass it via --api-key or the CODE_ENGINE_API_KEY environment variable")
		return
	}

	apiKey := *apiKeyFlag
	if apiKey == "" {
		apiKey = os.Getenv("CODE_ENGINE_API_KEY")
	}

	shutdownMgr := shutdown.New(30 * time.Second)

	// Store
	storeCfg := store.Config{Type: *dbType, Path: *dbPath, DSN: *pgDSN}
	dataStore, err := store.NewStore(storeCfg)
	if err != nil {
		log.Fatalf("Failed to create store: %v", err)
	}
	shutdownMgr.Register(shutdown.CloseResource(dataStore, "store"))
	log.Printf("Store backend: %s", *dbType)

	// Tracing
	tracerProvider, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "code-engine",
		ServiceVersion: "1.0.0",
		Environment:    *socketMode,
		OTLPEndpoint:   *otlpEndpoint,
		Enabled:        *enableTracing,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	shutdownMgr.Register(tracerProvider.Shutdown)

	// API handler
	handler := api.NewEngineHandlerWithRetry(dataStore, *maxRetries)

	if *triggersFile != "" {
		if err := api.SeedTriggers(dataStore, *triggersFile); err != nil {
			log.Fatalf("Failed to seed triggers from %s: %v", *triggersFile, err)
		}
	}

	router := mux.NewRouter()
	router.Use(tracing.HTTPMiddleware(tracerProvider, "code-engine"))

	keyAuth := auth.NewAPIKeyAuth(apiKey)
	if keyAuth.Enabled() {
		log.Println("API authentication enabled")
		router.Use(keyAuth.Middleware)
	} else {
		log.Println("WARNING: API authentication disabled (no API key configured)")
	}

	// Webhook endpoints are unauthenticated, keep them rate limited
	webhookLimiter := ratelimit.NewLimiter(*webhookRPS, *webhookBurst)
	router.Use(func(next http.Handler) http.Handler {
		limited := webhookLimiter.Middleware(ratelimit.IPKeyFunc)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/webhook/") {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	handler.RegisterRoutes(router)

	// Metrics on a separate port
	if *enableMetrics {
		collector := metrics.NewEngineCollector(dataStore)
		handler.SetMetricsRecorder(collector)

		metricsRouter := mux.NewRouter()
		metricsRouter.Handle("/metrics", collector.Handler()).Methods("GET")

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
		shutdownMgr.Register(shutdown.StopHTTPServer(metricsSrv, "metrics"))
	}

	// Recovery scheduler
	recovery := scheduler.NewRecoveryManager(dataStore, *maxRetries, 90*time.Second)
	sched := scheduler.New(dataStore, recovery, *checkInterval)
	sched.Start()
	shutdownMgr.Register(func(ctx context.Context) error {
		sched.Stop()
		return nil
	})

	// Bind either the unix socket or TCP
	listenCfg := bootstrap.Config{
		SocketPath: *socketPath,
		TCPAddr:    ":" + *port,
		Mode:       bootstrap.ParseMode(*socketMode),
	}
	listener, err := listenCfg.Listen()
	if err != nil {
		log.Fatalf("Failed to bind listener: %v", err)
	}

	srv := &http.Server{
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if *useTLS {
		log.Println("TLS enabled")
		if _, err := os.Stat(*certFile); os.IsNotExist(err) {
			log.Printf("Certificate file not found: %s, generating self-signed certificate", *certFile)
			if err := os.MkdirAll("certs", 0755); err != nil {
				log.Fatalf("Failed to create certs directory: %v", err)
			}
			if err := tlsutil.GenerateSelfSignedCert(*certFile, *keyFile, "engine"); err != nil {
				log.Fatalf("Failed to generate certificate: %v", err)
			}
		}
		tlsConfig, err := tlsutil.LoadTLSConfig(*certFile, *keyFile, *caFile, *requireClientCert)
		if err != nil {
			log.Fatalf("Failed to load TLS config: %v", err)
		}
		srv.TLSConfig = tlsConfig
	}

	go func() {
		log.Printf("Engine listening on %s", listener.Addr())
		log.Println("API endpoints:")
		log.Println("  POST   /triggers")
		log.Println("  GET    /triggers")
		log.Println("  POST   /webhook/{flow_id}/{token}")
		log.Println("  GET    /runs")
		log.Println("  GET    /runs/next?worker_id=<id>")
		log.Println("  POST   /runs/{id}/cancel")
		log.Println("  POST   /runs/{id}/retry")
		log.Println("  POST   /workers/register")
		log.Println("  POST   /workers/{id}/heartbeat")
		log.Println("  POST   /results")
		log.Println("  GET    /health")

		var serveErr error
		if *useTLS {
			serveErr = srv.ServeTLS(listener, "", "")
		} else {
			serveErr = srv.Serve(listener)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			log.Fatalf("Server error: %v", serveErr)
		}
	}()
	shutdownMgr.Register(shutdown.StopHTTPServer(srv, "engine"))

	shutdownMgr.Wait()
	shutdownMgr.Shutdown()
}
