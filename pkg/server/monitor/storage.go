package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/geogames2/openSenseMap-API/pkg/config"
	"github.com/geogames2/openSenseMap-API/pkg/storage"
)

// StorageMonitor tracks storage usage with caching to avoid expensive
// filesystem calls on every ingest request.
type StorageMonitor struct {
	measure       func() (int64, error)
	maxBytes      int64
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor measures the size of dataDir on disk.
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		measure:       func() (int64, error) { return calculateDirSize(dataDir) },
		maxBytes:      maxBytes,
		cacheDuration: 10 * time.Second,
	}
}

// NewStatsMonitor measures usage through the store's own size estimate.
// Used when the store has no data directory (in-memory mode).
func NewStatsMonitor(store storage.Storage, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		measure: func() (int64, error) {
			ctx, cancel := context.WithTimeout(context.Background(), config.StatsTimeout)
			defer cancel()
			stats, err := store.Stats(ctx)
			if err != nil {
				return 0, err
			}
			return int64(stats.SizeBytes), nil
		},
		maxBytes:      maxBytes,
		cacheDuration: 10 * time.Second,
	}
}

// GetUsage returns current storage usage in bytes (cached).
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := sm.measure()
	if err != nil {
		return 0, err
	}

	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// GetLimit returns the configured storage limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// calculateDirSize sums the disk usage of every file under path.
func calculateDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		actualSize, err := getActualFileSize(filePath, info)
		if err != nil {
			actualSize = info.Size()
		}
		size += actualSize
		return nil
	})
	return size, err
}
