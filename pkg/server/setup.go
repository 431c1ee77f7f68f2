package server

import (
	"fmt"
	"log"
	"os"

	"github.com/geogames2/openSenseMap-API/pkg/clock"
	"github.com/geogames2/openSenseMap-API/pkg/config"
	"github.com/geogames2/openSenseMap-API/pkg/decode"
	"github.com/geogames2/openSenseMap-API/pkg/export"
	"github.com/geogames2/openSenseMap-API/pkg/ingest"
	"github.com/geogames2/openSenseMap-API/pkg/notify"
	"github.com/geogames2/openSenseMap-API/pkg/server/monitor"
	"github.com/geogames2/openSenseMap-API/pkg/storage"
	"github.com/geogames2/openSenseMap-API/pkg/storage/badger"
	"github.com/geogames2/openSenseMap-API/pkg/timewindow"
)

// Handlers groups everything the router serves.
type Handlers struct {
	Ingest   *ingest.Handler
	Export   *export.Handler
	Hub      *ingest.Hub
	Notifier *notify.Queue
}

// Monitors groups the health trackers.
type Monitors struct {
	Storage   *monitor.StorageMonitor
	GC        *monitor.TaskMonitor
	Retention *monitor.TaskMonitor
}

// InitializeStorage opens BadgerDB, on disk or in memory.
func InitializeStorage(cfg *config.Settings) (storage.Storage, error) {
	if cfg.InMemory {
		log.Println("Initializing in-memory BadgerDB storage...")
	} else {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		log.Printf("Initializing BadgerDB storage in %s with Snappy compression...", cfg.DataDir)
	}

	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		InMemory:    cfg.InMemory,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	log.Println("BadgerDB storage initialized successfully")
	return store, nil
}

// InitializeMonitors creates the storage limit check and task monitors.
// Task monitors are nil for tasks that do not run.
func InitializeMonitors(cfg *config.Settings, store storage.Storage) Monitors {
	maxBytes := cfg.MaxStorageGB * 1024 * 1024 * 1024

	var m Monitors
	if cfg.InMemory {
		m.Storage = monitor.NewStatsMonitor(store, maxBytes)
	} else {
		m.Storage = monitor.NewStorageMonitor(cfg.DataDir, maxBytes)
		m.GC = monitor.NewTaskMonitor("badger_gc", 3*config.BadgerGCInterval)
	}
	if cfg.Retention > 0 {
		m.Retention = monitor.NewTaskMonitor("retention", 3*config.RetentionInterval)
	}
	log.Printf("Storage limit enforcement enabled: %.2f GB max", float64(maxBytes)/(1024*1024*1024))
	return m
}

// InitializeHandlers creates and configures all request handlers.
func InitializeHandlers(cfg *config.Settings, store storage.Storage, storageMonitor *monitor.StorageMonitor, c clock.Clock) Handlers {
	notifier := notify.NewQueue(config.NotifyBuffer, notify.LogSink)

	hub := ingest.NewHub()
	log.Println("WebSocket hub created for the live measurement feed")

	registry := decode.NewRegistry(c)
	ingestHandler := ingest.NewHandler(store, registry, c)
	ingestHandler.SetHub(hub)
	ingestHandler.SetNotifier(notifier)
	ingestHandler.SetStorageChecker(storageMonitor)
	log.Printf("Ingest handler created (encodings: %v)", registry.Encodings())

	resolver := timewindow.New(c)
	resolver.MaxWindow = cfg.MaxExportWindow
	exportHandler := export.NewHandler(store, resolver, notifier)
	exportHandler.MaxMultiBoxRows = cfg.MaxMultiBoxRows
	log.Println("Export handler created (CSV & JSON streaming)")

	return Handlers{
		Ingest:   ingestHandler,
		Export:   exportHandler,
		Hub:      hub,
		Notifier: notifier,
	}
}
