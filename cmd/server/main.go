package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	flag "github.com/spf13/pflag"

	"github.com/geogames2/openSenseMap-API/pkg/clock"
	"github.com/geogames2/openSenseMap-API/pkg/config"
	"github.com/geogames2/openSenseMap-API/pkg/server"
)

const (
	serverReadTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to a YAML config file")
	port := flag.StringP("port", "p", "", "listen port (overrides config)")
	dataDir := flag.String("data-dir", "", "BadgerDB data directory (overrides config)")
	inMemory := flag.Bool("in-memory", false, "keep all data in memory")
	boxesFile := flag.String("boxes", "", "YAML or JSON file of box documents to load at startup")
	flag.Parse()

	log.Println("🚀 Starting openSenseMap API server...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}
	if flag.CommandLine.Changed("port") {
		cfg.Port = *port
	}
	if flag.CommandLine.Changed("data-dir") {
		cfg.DataDir = *dataDir
	}
	if flag.CommandLine.Changed("in-memory") {
		cfg.InMemory = *inMemory
	}
	if flag.CommandLine.Changed("boxes") {
		cfg.BoxesFile = *boxesFile
	}

	log.Printf("⚙️  Configuration: Storage limit = %d GB, Memory limit = %d MB, Retention = %v",
		cfg.MaxStorageGB, cfg.MaxMemoryMB, cfg.Retention)

	log.Println("💾 Initializing storage...")
	store, err := server.InitializeStorage(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize storage: %v", err)
	}
	defer store.Close()
	log.Println("✅ Storage ready")

	if cfg.BoxesFile != "" {
		n, err := server.SeedBoxes(context.Background(), store, cfg.BoxesFile)
		if err != nil {
			log.Fatalf("❌ Failed to load boxes: %v", err)
		}
		log.Printf("📦 Loaded %d boxes from %s", n, cfg.BoxesFile)
	}

	c := clock.Real()
	monitors := server.InitializeMonitors(cfg, store)
	handlers := server.InitializeHandlers(cfg, store, monitors.Storage, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		handlers.Hub.Run(ctx)
	}()
	log.Println("📡 WebSocket hub started for live measurements")

	wg.Add(1)
	go func() {
		defer wg.Done()
		handlers.Notifier.Run(ctx)
	}()

	stopTasks := make(chan bool)
	if monitors.GC != nil {
		wg.Add(1)
		go server.RunBadgerGC(store, monitors.GC, stopTasks, &wg)
	}
	if monitors.Retention != nil {
		wg.Add(1)
		go server.RunRetention(store, cfg.Retention, c, monitors.Retention, stopTasks, &wg)
	}

	router := mux.NewRouter()
	root := server.SetupRoutes(router, handlers, monitors, store, cfg.CORSOrigins)

	// Exports stream for as long as the window takes, so the write
	// timeout is much longer than the read timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: config.ExportWriteTimeout,
	}

	go func() {
		log.Printf("🌐 Server starting on http://localhost:%s", cfg.Port)
		log.Println("📡 API endpoints:")
		log.Println("   POST /boxes/{boxId}/data             - Ingest measurements")
		log.Println("   POST /boxes/{boxId}/{sensorId}       - Ingest a single value")
		log.Println("   GET  /boxes/data                     - Export sensor data (CSV/JSON)")
		log.Println("   GET  /boxes/{boxId}/data/{sensorId}  - Export one sensor")
		log.Println("   GET  /v1/health                      - Health check")
		log.Println("✅ Server ready to accept requests")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutdown signal received...")

	// Stop accepting requests before stopping the notifier so late
	// failures are still recorded.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	log.Println("🔄 Gracefully shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server shutdown warning: %v", err)
	}

	log.Println("⏸️  Stopping background tasks...")
	cancel()
	close(stopTasks)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("✅ All background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("⚠️  Some background tasks did not stop in time (forcing exit)")
	}

	log.Println("👋 Server exited cleanly")
}
