// Package sidecar builds the per-export lookup from sensor id to the box and
// sensor metadata an export row may need.
package sidecar

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/geogames2/openSenseMap-API/pkg/predicate"
	"github.com/geogames2/openSenseMap-API/pkg/storage"
)

// BoxReader is the part of storage the builder needs.
type BoxReader interface {
	Boxes(ctx context.Context, p predicate.Predicate) ([]storage.Box, error)
}

// Entry holds the non-measurement columns of one sensor.
type Entry struct {
	SensorID   string
	BoxID      string
	BoxName    string
	Exposure   string
	Lat        float64
	Lng        float64
	Phenomenon string
	Unit       string
	SensorType string
}

// Column returns the text of a metadata column. ok is false for columns the
// sidecar does not carry (createdAt, value).
func (e Entry) Column(name string) (string, bool) {
	switch name {
	case "boxId":
		return e.BoxID, true
	case "boxName":
		return e.BoxName, true
	case "exposure":
		return e.Exposure, true
	case "sensorId":
		return e.SensorID, true
	case "phenomenon":
		return e.Phenomenon, true
	case "unit":
		return e.Unit, true
	case "sensorType":
		return e.SensorType, true
	case "lat":
		return strconv.FormatFloat(e.Lat, 'f', -1, 64), true
	case "lng":
		return strconv.FormatFloat(e.Lng, 'f', -1, 64), true
	}
	return "", false
}

// Sidecar is immutable once built. It must not be shared between exports.
type Sidecar struct {
	entries map[string]Entry
	ids     []string
}

// Build reads the boxes selected by p once and keeps every sensor whose
// phenomenon equals p.Phenomenon.
func Build(ctx context.Context, boxes BoxReader, p predicate.Predicate) (Sidecar, error) {
	selected, err := boxes.Boxes(ctx, p)
	if err != nil {
		return Sidecar{}, fmt.Errorf("failed to load boxes: %w", err)
	}

	entries := make(map[string]Entry)
	for _, b := range selected {
		for _, s := range b.Sensors {
			if s.Title != p.Phenomenon {
				continue
			}
			entries[s.ID] = Entry{
				SensorID:   s.ID,
				BoxID:      b.ID,
				BoxName:    b.Name,
				Exposure:   b.Exposure,
				Lat:        b.Location.Lat,
				Lng:        b.Location.Lng,
				Phenomenon: s.Title,
				Unit:       s.Unit,
				SensorType: s.SensorType,
			}
		}
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return Sidecar{entries: entries, ids: ids}, nil
}

// FromBox builds a sidecar holding only one sensor of b.
func FromBox(b storage.Box, sensorID string) (Sidecar, bool) {
	for _, s := range b.Sensors {
		if s.ID != sensorID {
			continue
		}
		e := Entry{
			SensorID:   s.ID,
			BoxID:      b.ID,
			BoxName:    b.Name,
			Exposure:   b.Exposure,
			Lat:        b.Location.Lat,
			Lng:        b.Location.Lng,
			Phenomenon: s.Title,
			Unit:       s.Unit,
			SensorType: s.SensorType,
		}
		return Sidecar{entries: map[string]Entry{s.ID: e}, ids: []string{s.ID}}, true
	}
	return Sidecar{}, false
}

// Lookup returns the entry for a sensor.
func (s Sidecar) Lookup(sensorID string) (Entry, bool) {
	e, ok := s.entries[sensorID]
	return e, ok
}

// SensorIDs returns the sorted sensor ids the sidecar covers. The export
// cursor is built from this list.
func (s Sidecar) SensorIDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Len is the number of sensors.
func (s Sidecar) Len() int {
	return len(s.ids)
}
