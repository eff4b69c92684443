package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/DrSui/code-engine/pkg/bootstrap"
	"github.com/DrSui/code-engine/pkg/executor"
	"github.com/DrSui/code-engine/pkg/shutdown"
)

func main() {
	socketPath := flag.String("socket", "/tmp/code-engine/executor.sock", "Unix socket path (empty binds TCP instead)")
	socketMode := flag.String("socket-mode", "development", "Socket directory permissions: development or production")
	port := flag.String("port", "8090", "TCP port when no socket path is set")
	interpreter := flag.String("interpreter", executor.DefaultInterpreter, "Interpreter binary for node scripts")
	flag.Parse()

	log.Println("Starting code executor")

	limits := executor.LimitsFromEnv()
	log.Printf("Limits: %ds wall, %ds CPU, %d MB memory",
		limits.TimeoutSeconds, limits.CPUSeconds, limits.MemoryMB)

	runner := executor.NewRunner(*interpreter, limits)
	handler := executor.NewHandler(runner)

	router := mux.NewRouter()
	handler.RegisterRoutes(router)

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
		Handler: router,
		// No write timeout: /run blocks for the script's wall-clock limit
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	shutdownMgr := shutdown.New(30 * time.Second)
	shutdownMgr.Register(shutdown.StopHTTPServer(srv, "executor"))

	go func() {
		log.Printf("Executor listening on %s", listener.Addr())
		log.Println("  POST /run")
		log.Println("  GET  /health")
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	shutdownMgr.Wait()
	shutdownMgr.Shutdown()
}
