package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geogames2/openSenseMap-API/pkg/measurement"
	"github.com/geogames2/openSenseMap-API/pkg/predicate"
	"github.com/geogames2/openSenseMap-API/pkg/storage"
)

// Storage stores measurements and boxes in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	rows  []storage.Row
	boxes map[string]storage.Box
	mu    sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		rows:  make([]storage.Row, 0, 10000),
		boxes: make(map[string]storage.Box),
	}
}

// Write stores measurements in memory
func (s *Storage) Write(ctx context.Context, boxID string, ms []measurement.Measurement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range ms {
		s.rows = append(s.rows, storage.NewRow(boxID, m))
	}
	return nil
}

// Cursor snapshots the matching rows in the requested order.
func (s *Storage) Cursor(ctx context.Context, q storage.MeasurementQuery) (storage.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sensors := storage.SensorSet(q)
	var matched []storage.Row
	for _, r := range s.rows {
		if storage.MatchRow(r, q, sensors) {
			matched = append(matched, r)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if q.Descending {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	return &cursor{rows: matched}, nil
}

// cursor walks a snapshot
type cursor struct {
	rows   []storage.Row
	pos    int
	closed bool
}

func (c *cursor) Next(ctx context.Context, n int) ([]storage.Row, error) {
	if c.closed {
		return nil, storage.ErrCursorClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	end := c.pos + n
	if end > len(c.rows) {
		end = len(c.rows)
	}
	batch := make([]storage.Row, end-c.pos)
	copy(batch, c.rows[c.pos:end])
	c.pos = end
	return batch, nil
}

func (c *cursor) Close() error {
	c.closed = true
	c.rows = nil
	return nil
}

// Boxes returns boxes matching p, ordered by id
func (s *Storage) Boxes(ctx context.Context, p predicate.Predicate) ([]storage.Box, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.Box
	for _, b := range s.boxes {
		if p.MatchesBox(b.ID, b.Exposure, b.Location.Lng, b.Location.Lat) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Box returns one box by id
func (s *Storage) Box(ctx context.Context, id string) (storage.Box, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.boxes[id]
	if !ok {
		return storage.Box{}, storage.ErrBoxNotFound
	}
	return b, nil
}

// PutBoxes stores box documents, replacing existing ones
func (s *Storage) PutBoxes(ctx context.Context, boxes []storage.Box) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range boxes {
		s.boxes[b.ID] = b
	}
	return nil
}

// Delete removes measurements older than the given time
func (s *Storage) Delete(ctx context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := make([]storage.Row, 0, len(s.rows))
	for _, r := range s.rows {
		if !r.CreatedAt.Before(before) {
			filtered = append(filtered, r)
		}
	}

	s.rows = filtered
	return nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		TotalMeasurements: uint64(len(s.rows)),
		TotalBoxes:        uint64(len(s.boxes)),
	}

	if len(s.rows) == 0 {
		return stats, nil
	}

	sensors := make(map[string]bool)
	oldest := s.rows[0].CreatedAt
	newest := s.rows[0].CreatedAt

	for _, r := range s.rows {
		sensors[r.SensorID] = true

		if r.CreatedAt.Before(oldest) {
			oldest = r.CreatedAt
		}
		if r.CreatedAt.After(newest) {
			newest = r.CreatedAt
		}
	}

	stats.TotalSensors = uint64(len(sensors))
	stats.OldestMeasurement = oldest
	stats.NewestMeasurement = newest

	// Rough size estimate (each row ~120 bytes)
	stats.SizeBytes = uint64(len(s.rows)) * 120

	return stats, nil
}
