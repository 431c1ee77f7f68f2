package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/geogames2/openSenseMap-API/pkg/measurement"
	"github.com/geogames2/openSenseMap-API/pkg/predicate"
	"github.com/geogames2/openSenseMap-API/pkg/storage"
)

// Key prefixes. Measurement keys sort by time first so a cursor over a
// window is one contiguous range scan.
const (
	prefixMeasurement byte = 'm'
	prefixBox         byte = 'b'

	measurementKeyLen = 1 + 8 + 8
)

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db *badger.DB
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults)
	MaxMemoryMB int64
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	// Disk-less mode refuses a directory
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	// 16 MB memtable unless a limit is configured; below 16 MB badger
	// flushes too often to keep up with ingest bursts.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	// Block and index caches are unbounded by default.
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db}, nil
}

// Write stores measurements in BadgerDB.
// Returns early when ctx is cancelled while the write is in flight.
func (s *Storage) Write(ctx context.Context, boxID string, ms []measurement.Measurement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			for i, m := range ms {
				if i%100 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				row := storage.NewRow(boxID, m)
				value, err := json.Marshal(row)
				if err != nil {
					return fmt.Errorf("failed to encode measurement: %w", err)
				}

				if err := txn.Set(measurementKey(row.CreatedAt, row.SensorID), value); err != nil {
					return fmt.Errorf("failed to write measurement: %w", err)
				}
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write operation cancelled: %w", ctx.Err())
	}
}

// Cursor opens a cursor over the query window. Each Next runs its own
// read transaction that resumes after the last key seen, so no transaction
// stays open between batches.
func (s *Storage) Cursor(ctx context.Context, q storage.MeasurementQuery) (storage.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hashes := make(map[uint64]bool, len(q.SensorIDs))
	for _, id := range q.SensorIDs {
		hashes[xxhash.Sum64String(id)] = true
	}

	return &cursor{
		db:      s.db,
		q:       q,
		sensors: storage.SensorSet(q),
		hashes:  hashes,
	}, nil
}

type cursor struct {
	db      *badger.DB
	q       storage.MeasurementQuery
	sensors map[string]bool
	hashes  map[uint64]bool

	mu      sync.Mutex
	lastKey []byte
	emitted int
	done    bool
	closed  bool
}

// Next reads up to n matching rows.
func (c *cursor) Next(ctx context.Context, n int) ([]storage.Row, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, storage.ErrCursorClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.done || len(c.sensors) == 0 {
		return nil, nil
	}
	if c.q.Limit > 0 && c.q.Limit-c.emitted < n {
		n = c.q.Limit - c.emitted
	}
	if n <= 0 {
		c.done = true
		return nil, nil
	}

	rows := make([]storage.Row, 0, n)
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = n
		opts.Reverse = c.q.Descending
		opts.Prefix = []byte{prefixMeasurement}

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Seek(c.seekKey()); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			item := it.Item()
			key := item.Key()
			if len(key) != measurementKeyLen {
				continue
			}
			if c.lastKey != nil && bytes.Equal(key, c.lastKey) {
				continue
			}

			ts, hash := parseMeasurementKey(key)
			if c.pastWindow(ts) {
				c.done = true
				return nil
			}
			c.lastKey = item.KeyCopy(nil)

			if !c.hashes[hash] || !c.q.Window.Contains(ts) {
				continue
			}

			var row storage.Row
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			}); err != nil {
				return fmt.Errorf("failed to decode measurement: %w", err)
			}
			if !c.sensors[row.SensorID] {
				continue
			}

			rows = append(rows, row)
			if len(rows) == n {
				return nil
			}
		}

		c.done = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.emitted += len(rows)
	if c.q.Limit > 0 && c.emitted >= c.q.Limit {
		c.done = true
	}
	return rows, nil
}

// seekKey returns where the next scan starts.
func (c *cursor) seekKey() []byte {
	if c.lastKey != nil {
		return c.lastKey
	}
	if c.q.Descending {
		key := make([]byte, measurementKeyLen)
		key[0] = prefixMeasurement
		binary.BigEndian.PutUint64(key[1:9], timeKey(c.q.Window.To))
		for i := 9; i < measurementKeyLen; i++ {
			key[i] = 0xff
		}
		return key
	}
	key := make([]byte, 9)
	key[0] = prefixMeasurement
	binary.BigEndian.PutUint64(key[1:9], timeKey(c.q.Window.From))
	return key
}

func (c *cursor) pastWindow(ts time.Time) bool {
	if c.q.Descending {
		return ts.Before(c.q.Window.From)
	}
	return ts.After(c.q.Window.To)
}

func (c *cursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.lastKey = nil
	return nil
}

// Boxes returns boxes matching p
func (s *Storage) Boxes(ctx context.Context, p predicate.Predicate) ([]storage.Box, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []storage.Box
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixBox}

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var b storage.Box
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &b)
			}); err != nil {
				return fmt.Errorf("failed to decode box: %w", err)
			}
			if p.MatchesBox(b.ID, b.Exposure, b.Location.Lng, b.Location.Lat) {
				out = append(out, b)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Box returns one box by id
func (s *Storage) Box(ctx context.Context, id string) (storage.Box, error) {
	var b storage.Box
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(boxKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.ErrBoxNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &b)
		})
	})
	return b, err
}

// PutBoxes stores box documents, replacing existing ones
func (s *Storage) PutBoxes(ctx context.Context, boxes []storage.Box) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, b := range boxes {
			value, err := json.Marshal(b)
			if err != nil {
				return fmt.Errorf("failed to encode box %s: %w", b.ID, err)
			}
			if err := txn.Set(boxKey(b.ID), value); err != nil {
				return fmt.Errorf("failed to write box %s: %w", b.ID, err)
			}
		}
		return nil
	})
}

// Delete removes measurements older than before.
// Keys are time-ordered, so the scan stops at the first newer key.
func (s *Storage) Delete(ctx context.Context, before time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var keysToDelete [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefixMeasurement}

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			ts, _ := parseMeasurementKey(it.Item().Key())
			if !ts.Before(before) {
				break
			}
			keysToDelete = append(keysToDelete, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	// WriteBatch splits into as many transactions as needed.
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keysToDelete {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}

	if len(keysToDelete) > 0 {
		log.Printf("Deleted %d measurements older than %s", len(keysToDelete), measurement.FormatTime(before))
	}
	return nil
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns badger.ErrNoRewrite when nothing needed collecting
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &storage.Stats{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		sensors := make(map[uint64]bool)
		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			key := it.Item().Key()
			switch key[0] {
			case prefixBox:
				stats.TotalBoxes++
			case prefixMeasurement:
				if len(key) != measurementKeyLen {
					continue
				}
				stats.TotalMeasurements++
				ts, hash := parseMeasurementKey(key)
				sensors[hash] = true
				if stats.OldestMeasurement.IsZero() || ts.Before(stats.OldestMeasurement) {
					stats.OldestMeasurement = ts
				}
				if ts.After(stats.NewestMeasurement) {
					stats.NewestMeasurement = ts
				}
			}
		}

		stats.TotalSensors = uint64(len(sensors))
		return nil
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

// measurementKey creates a sortable key: prefix + timestamp + sensor hash
// Format: ['m'][timestamp (8 bytes)][xxhash(sensorID) (8 bytes)]
func measurementKey(ts time.Time, sensorID string) []byte {
	key := make([]byte, measurementKeyLen)
	key[0] = prefixMeasurement
	binary.BigEndian.PutUint64(key[1:9], timeKey(ts))
	binary.BigEndian.PutUint64(key[9:17], xxhash.Sum64String(sensorID))
	return key
}

// parseMeasurementKey extracts timestamp and sensor hash from a key
func parseMeasurementKey(key []byte) (time.Time, uint64) {
	ts := time.Unix(0, int64(binary.BigEndian.Uint64(key[1:9])^signBit)).UTC()
	hash := binary.BigEndian.Uint64(key[9:17])
	return ts, hash
}

// signBit is flipped so timestamps before 1970 sort ahead of later ones.
const signBit = 1 << 63

// timeKey truncates to the millisecond precision rows are stored with.
func timeKey(ts time.Time) uint64 {
	return uint64(ts.Truncate(time.Millisecond).UnixNano()) ^ signBit
}

func boxKey(id string) []byte {
	return append([]byte{prefixBox}, id...)
}
