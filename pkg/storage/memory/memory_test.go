package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/geogames2/openSenseMap-API/pkg/measurement"
	"github.com/geogames2/openSenseMap-API/pkg/predicate"
	"github.com/geogames2/openSenseMap-API/pkg/storage"
	"github.com/geogames2/openSenseMap-API/pkg/timewindow"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(sensorID string, offset time.Duration, value string) measurement.Measurement {
	return measurement.Measurement{
		SensorID:  sensorID,
		Value:     measurement.Value(value),
		CreatedAt: base.Add(offset),
	}
}

func window(from, to time.Duration) timewindow.Window {
	return timewindow.Window{From: base.Add(from), To: base.Add(to)}
}

func drain(t *testing.T, c storage.Cursor, n int) []storage.Row {
	t.Helper()
	var out []storage.Row
	for {
		rows, err := c.Next(context.Background(), n)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if len(rows) == 0 {
			return out
		}
		out = append(out, rows...)
	}
}

func TestMemoryStorage_WriteAndCursor(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()
	err := store.Write(ctx, "box1", []measurement.Measurement{
		sample("s1", 0, "1.5"),
		sample("s2", time.Minute, "2"),
		sample("s1", 2*time.Minute, "3"),
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	c, err := store.Cursor(ctx, storage.MeasurementQuery{
		SensorIDs: []string{"s1", "s2"},
		Window:    window(-time.Hour, time.Hour),
	})
	if err != nil {
		t.Fatalf("Cursor failed: %v", err)
	}
	defer c.Close()

	rows := drain(t, c, 2)
	if len(rows) != 3 {
		t.Fatalf("Expected 3 rows, got %d", len(rows))
	}
	if rows[0].BoxID != "box1" || rows[0].Value != "1.5" {
		t.Errorf("Unexpected first row: %+v", rows[0])
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].CreatedAt.Before(rows[i-1].CreatedAt) {
			t.Errorf("Rows not ascending at %d", i)
		}
	}
}

func TestMemoryStorage_CursorFilters(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()
	store.Write(ctx, "box1", []measurement.Measurement{
		sample("s1", -2*time.Hour, "0"),
		sample("s1", 0, "1"),
		sample("s2", 0, "2"),
		sample("s1", 30*time.Minute, "3"),
	})

	c, _ := store.Cursor(ctx, storage.MeasurementQuery{
		SensorIDs: []string{"s1"},
		Window:    window(-time.Hour, time.Hour),
	})
	rows := drain(t, c, 10)
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows for s1 inside window, got %d", len(rows))
	}

	// Bounds are inclusive
	c, _ = store.Cursor(ctx, storage.MeasurementQuery{
		SensorIDs: []string{"s1"},
		Window:    window(0, 30*time.Minute),
	})
	if rows := drain(t, c, 10); len(rows) != 2 {
		t.Errorf("Expected both boundary rows, got %d", len(rows))
	}

	// No sensors selects nothing
	c, _ = store.Cursor(ctx, storage.MeasurementQuery{Window: window(-time.Hour, time.Hour)})
	if rows := drain(t, c, 10); len(rows) != 0 {
		t.Errorf("Expected no rows without sensors, got %d", len(rows))
	}
}

func TestMemoryStorage_CursorDescendingLimit(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()
	var ms []measurement.Measurement
	for i := 0; i < 10; i++ {
		ms = append(ms, sample("s1", time.Duration(i)*time.Minute, "1"))
	}
	store.Write(ctx, "box1", ms)

	c, _ := store.Cursor(ctx, storage.MeasurementQuery{
		SensorIDs:  []string{"s1"},
		Window:     window(-time.Hour, time.Hour),
		Descending: true,
		Limit:      4,
	})
	rows := drain(t, c, 3)
	if len(rows) != 4 {
		t.Fatalf("Expected 4 rows, got %d", len(rows))
	}
	if !rows[0].CreatedAt.Equal(base.Add(9 * time.Minute)) {
		t.Errorf("Expected newest row first, got %v", rows[0].CreatedAt)
	}
}

func TestMemoryStorage_CursorClose(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()
	store.Write(ctx, "box1", []measurement.Measurement{sample("s1", 0, "1")})

	c, _ := store.Cursor(ctx, storage.MeasurementQuery{
		SensorIDs: []string{"s1"},
		Window:    window(-time.Hour, time.Hour),
	})
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
	if _, err := c.Next(ctx, 10); !errors.Is(err, storage.ErrCursorClosed) {
		t.Errorf("Expected ErrCursorClosed, got %v", err)
	}
}

func TestMemoryStorage_Boxes(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()
	err := store.PutBoxes(ctx, []storage.Box{
		{ID: "b2", Exposure: "outdoor", Location: measurement.Location{Lng: 7.6, Lat: 51.9}},
		{ID: "b1", Exposure: "indoor", Location: measurement.Location{Lng: 7.7, Lat: 51.95}},
		{ID: "b3", Exposure: "outdoor", Location: measurement.Location{Lng: 13.4, Lat: 52.5}},
	})
	if err != nil {
		t.Fatalf("PutBoxes failed: %v", err)
	}

	poly, err := predicate.ParseBBox("7.5,51.8,7.8,52.0")
	if err != nil {
		t.Fatalf("ParseBBox failed: %v", err)
	}

	boxes, err := store.Boxes(ctx, predicate.Predicate{Polygon: poly, Phenomenon: "Temperatur"})
	if err != nil {
		t.Fatalf("Boxes failed: %v", err)
	}
	if len(boxes) != 2 || boxes[0].ID != "b1" || boxes[1].ID != "b2" {
		t.Errorf("Expected b1,b2 sorted by id, got %+v", boxes)
	}

	boxes, _ = store.Boxes(ctx, predicate.Predicate{Polygon: poly, Exposure: "outdoor", Phenomenon: "Temperatur"})
	if len(boxes) != 1 || boxes[0].ID != "b2" {
		t.Errorf("Expected only b2 for outdoor, got %+v", boxes)
	}

	if _, err := store.Box(ctx, "missing"); !errors.Is(err, storage.ErrBoxNotFound) {
		t.Errorf("Expected ErrBoxNotFound, got %v", err)
	}
}

func TestMemoryStorage_Delete(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()
	store.Write(ctx, "box1", []measurement.Measurement{
		sample("s1", -48*time.Hour, "old"),
		sample("s1", 0, "new"),
	})

	if err := store.Delete(ctx, base.Add(-24*time.Hour)); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	stats, _ := store.Stats(ctx)
	if stats.TotalMeasurements != 1 {
		t.Errorf("Expected 1 measurement after delete, got %d", stats.TotalMeasurements)
	}
}

func TestMemoryStorage_Stats(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()
	store.PutBoxes(ctx, []storage.Box{{ID: "box1"}})
	store.Write(ctx, "box1", []measurement.Measurement{
		sample("s1", 0, "1"),
		sample("s2", time.Hour, "2"),
		sample("s1", -time.Hour, "3"),
	})

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalMeasurements != 3 {
		t.Errorf("Expected 3 measurements, got %d", stats.TotalMeasurements)
	}
	if stats.TotalSensors != 2 {
		t.Errorf("Expected 2 sensors, got %d", stats.TotalSensors)
	}
	if stats.TotalBoxes != 1 {
		t.Errorf("Expected 1 box, got %d", stats.TotalBoxes)
	}
	if !stats.OldestMeasurement.Equal(base.Add(-time.Hour)) {
		t.Errorf("Unexpected oldest: %v", stats.OldestMeasurement)
	}
	if !stats.NewestMeasurement.Equal(base.Add(time.Hour)) {
		t.Errorf("Unexpected newest: %v", stats.NewestMeasurement)
	}
}

func TestMemoryStorage_ConcurrentWrites(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				store.Write(ctx, "box1", []measurement.Measurement{sample("s1", time.Duration(j)*time.Second, "1")})
			}
		}()
	}
	wg.Wait()

	stats, _ := store.Stats(ctx)
	if stats.TotalMeasurements != 1000 {
		t.Errorf("Expected 1000 measurements, got %d", stats.TotalMeasurements)
	}
}
