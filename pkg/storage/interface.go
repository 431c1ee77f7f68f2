package storage

import (
	"context"
	"errors"
	"time"

	"github.com/geogames2/openSenseMap-API/pkg/measurement"
	"github.com/geogames2/openSenseMap-API/pkg/predicate"
	"github.com/geogames2/openSenseMap-API/pkg/timewindow"
)

// ErrBoxNotFound is returned by Box for unknown ids.
var ErrBoxNotFound = errors.New("box not found")

// ErrSensorNotFound is returned when a box has no sensor with the given id.
var ErrSensorNotFound = errors.New("sensor not found")

// ErrCursorClosed is returned by Next after Close.
var ErrCursorClosed = errors.New("cursor closed")

// Storage defines the interface for measurement storage backends.
// Implementations: memory (testing), badger (production)
type Storage interface {
	// Write stores measurements of one box
	Write(ctx context.Context, boxID string, ms []measurement.Measurement) error

	// Cursor opens a batched read over stored rows
	Cursor(ctx context.Context, q MeasurementQuery) (Cursor, error)

	// Boxes returns the boxes selected by p
	Boxes(ctx context.Context, p predicate.Predicate) ([]Box, error)

	// Box returns a single box
	Box(ctx context.Context, id string) (Box, error)

	// PutBoxes inserts or replaces box documents
	PutBoxes(ctx context.Context, boxes []Box) error

	// Delete removes measurements older than the given time
	Delete(ctx context.Context, before time.Time) error

	// Close cleanly shuts down the storage
	Close() error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)
}

// Cursor reads rows in batches. Next returns at most n rows; an empty
// slice with a nil error means the cursor is exhausted. Close releases the
// cursor and is safe to call more than once.
type Cursor interface {
	Next(ctx context.Context, n int) ([]Row, error)
	Close() error
}

// MeasurementQuery specifies which rows a Cursor yields
type MeasurementQuery struct {
	// Sensors to include (required, empty selects nothing)
	SensorIDs []string

	// Inclusive time range
	Window timewindow.Window

	// Newest first when true
	Descending bool

	// Limit number of rows (0 = no limit)
	Limit int
}

// Row is a stored measurement as read back from storage.
type Row struct {
	BoxID     string                `json:"boxId"`
	SensorID  string                `json:"sensorId"`
	Value     measurement.Value     `json:"value"`
	CreatedAt time.Time             `json:"createdAt"`
	Location  *measurement.Location `json:"location,omitempty"`
}

// NewRow builds the stored form of m.
func NewRow(boxID string, m measurement.Measurement) Row {
	return Row{
		BoxID:     boxID,
		SensorID:  m.SensorID,
		Value:     m.Value,
		CreatedAt: m.CreatedAt.UTC(),
		Location:  m.Location,
	}
}

// Box is a sensor station.
type Box struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Exposure string               `json:"exposure"`
	Location measurement.Location `json:"location"`
	Sensors  []Sensor             `json:"sensors"`
}

// Sensor is one sensor of a box. Title is the phenomenon it measures.
type Sensor struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Unit       string `json:"unit"`
	SensorType string `json:"sensorType"`
}

// HasSensor reports whether id is one of b's sensors.
func (b Box) HasSensor(id string) bool {
	for _, s := range b.Sensors {
		if s.ID == id {
			return true
		}
	}
	return false
}

// Stats provides storage health and usage info
type Stats struct {
	// Total measurements stored
	TotalMeasurements uint64 `json:"total_measurements"`

	// Distinct sensors with at least one measurement
	TotalSensors uint64 `json:"total_sensors"`

	// Box documents stored
	TotalBoxes uint64 `json:"total_boxes"`

	// Storage size in bytes
	SizeBytes uint64 `json:"size_bytes"`

	// Oldest measurement timestamp
	OldestMeasurement time.Time `json:"oldest_measurement"`

	// Newest measurement timestamp
	NewestMeasurement time.Time `json:"newest_measurement"`
}

// MatchRow reports whether r falls inside q, ignoring Limit.
func MatchRow(r Row, q MeasurementQuery, sensors map[string]bool) bool {
	return sensors[r.SensorID] && q.Window.Contains(r.CreatedAt)
}

// SensorSet indexes q.SensorIDs.
func SensorSet(q MeasurementQuery) map[string]bool {
	set := make(map[string]bool, len(q.SensorIDs))
	for _, id := range q.SensorIDs {
		set[id] = true
	}
	return set
}
