package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/geogames2/openSenseMap-API/pkg/clock"
	"github.com/geogames2/openSenseMap-API/pkg/config"
	"github.com/geogames2/openSenseMap-API/pkg/measurement"
	"github.com/geogames2/openSenseMap-API/pkg/server/monitor"
	"github.com/geogames2/openSenseMap-API/pkg/storage"
	"github.com/geogames2/openSenseMap-API/pkg/storage/badger"
)

// RunRetention deletes measurements older than retention every
// RetentionInterval, retrying failed runs with exponential backoff.
func RunRetention(store storage.Storage, retention time.Duration, c clock.Clock, tm *monitor.TaskMonitor, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.RetentionInterval)
	defer ticker.Stop()

	runWithRetry := func() {
		maxRetries := 3
		baseDelay := 30 * time.Second

		for attempt := 0; attempt <= maxRetries; attempt++ {
			if attempt > 0 {
				delay := baseDelay * time.Duration(1<<(attempt-1)) // 30s, 60s, 120s
				log.Printf("Retrying retention in %v (attempt %d/%d)...", delay, attempt+1, maxRetries+1)
				select {
				case <-time.After(delay):
				case <-stop:
					return
				}
			}

			if err := runRetentionOnce(store, retention, c); err != nil {
				tm.RecordFailure(err)
				log.Printf("Retention failed (attempt %d/%d): %v", attempt+1, maxRetries+1, err)
				if status := tm.Status(); status.ConsecutiveErrors > 3 {
					log.Printf("ALERT: Retention has been failing! Consecutive errors: %d", status.ConsecutiveErrors)
				}
				continue
			}
			tm.RecordSuccess()
			return
		}

		log.Printf("Retention failed after %d attempts, will retry on next schedule", maxRetries+1)
	}

	log.Printf("Retention scheduler started (keeps %v, runs every %v)", retention, config.RetentionInterval)
	runWithRetry()

	for {
		select {
		case <-ticker.C:
			runWithRetry()
		case <-stop:
			log.Println("Stopping retention scheduler")
			return
		}
	}
}

// runRetentionOnce deletes everything older than now minus retention.
func runRetentionOnce(store storage.Storage, retention time.Duration, c clock.Clock) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.RetentionInterval/2)
	defer cancel()

	cutoff := c.Now().Add(-retention)
	start := time.Now()
	if err := store.Delete(ctx, cutoff); err != nil {
		return err
	}
	log.Printf("Retention completed in %v (cutoff %s)", time.Since(start).Round(time.Millisecond), measurement.FormatTime(cutoff))
	return nil
}

// RunBadgerGC runs BadgerDB value log garbage collection periodically to
// reclaim space left behind by retention deletes.
func RunBadgerGC(store storage.Storage, tm *monitor.TaskMonitor, stop chan bool, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		log.Println("Storage is not BadgerDB, skipping GC")
		return
	}

	log.Printf("BadgerDB GC scheduler started (runs every %v)", config.BadgerGCInterval)

	for {
		select {
		case <-ticker.C:
			start := time.Now()

			// Reclaim a file when half of it is garbage; one pass per tick
			err := badgerStore.RunGC(0.5)
			switch {
			case err == nil:
				tm.RecordSuccess()
				log.Printf("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			case errors.Is(err, badgerdb.ErrNoRewrite):
				tm.RecordSuccess()
			default:
				tm.RecordFailure(err)
				log.Printf("GC failed: %v", err)
			}
		case <-stop:
			log.Println("Stopping BadgerDB GC scheduler")
			return
		}
	}
}
