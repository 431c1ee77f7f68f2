package sdk

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/geogames2/openSenseMap-API/pkg/clock"
	"github.com/geogames2/openSenseMap-API/pkg/measurement"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []measurement.Measurement
}

func (r *recordingTransport) Send(ctx context.Context, ms []measurement.Measurement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, ms...)
	return nil
}

func (r *recordingTransport) all() []measurement.Measurement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]measurement.Measurement(nil), r.sent...)
}

func TestClientCreation(t *testing.T) {
	client, err := New(ClientConfig{
		BoxID:      "box1",
		Endpoint:   "http://localhost:8080",
		FlushEvery: 1 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	if client.Sensor("s1") != client.Sensor("s1") {
		t.Error("Sensor handles should be reused")
	}

	if _, err := New(ClientConfig{}); err == nil {
		t.Error("Expected error without box id")
	}
	if _, err := New(ClientConfig{BoxID: "box1", Endpoint: "not a url"}); err == nil {
		t.Error("Expected error for invalid endpoint")
	}
}

func TestClientStartStop(t *testing.T) {
	client, err := New(ClientConfig{BoxID: "box1", FlushEvery: 1 * time.Second})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Start(ctx); err != nil {
		t.Fatalf("Failed to start client: %v", err)
	}
	if err := client.Start(ctx); err == nil {
		t.Error("Expected error starting twice")
	}

	// Nothing queued, so nothing is sent
	if err := client.Stop(); err != nil {
		t.Fatalf("Failed to stop client: %v", err)
	}
	if err := client.Stop(); err != nil {
		t.Fatalf("Second stop should be a no-op: %v", err)
	}
}

func TestSensorRecord(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	trans := &recordingTransport{}
	client := newClient(ClientConfig{BoxID: "box1", FlushEvery: time.Hour, Clock: clock.Fixed(at)}, trans)

	if err := client.Sensor("s1").Record(1); err == nil {
		t.Error("Expected error recording before Start")
	}

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start client: %v", err)
	}

	temp := client.Sensor("temp")
	if err := temp.Record(21.5); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := temp.RecordAt(20, at.Add(-time.Minute)); err != nil {
		t.Fatalf("RecordAt failed: %v", err)
	}
	if err := client.Sensor("pm10").RecordWithLocation(3, measurement.Location{Lng: 7.6, Lat: 51.9}); err != nil {
		t.Fatalf("RecordWithLocation failed: %v", err)
	}

	if err := temp.Record(math.NaN()); err == nil {
		t.Error("Expected error for NaN")
	}
	if err := temp.RecordWithLocation(1, measurement.Location{Lng: 0, Lat: 91}); err == nil {
		t.Error("Expected error for invalid location")
	}

	if err := client.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	sent := trans.all()
	if len(sent) != 3 {
		t.Fatalf("Expected 3 measurements sent on stop, got %d", len(sent))
	}
	if sent[0].Value != "21.5" || !sent[0].CreatedAt.Equal(at) {
		t.Errorf("Unexpected first measurement: %+v", sent[0])
	}
	if !sent[1].CreatedAt.Equal(at.Add(-time.Minute)) {
		t.Errorf("RecordAt time not kept: %v", sent[1].CreatedAt)
	}
	if sent[2].Location == nil || sent[2].Location.Lat != 51.9 {
		t.Errorf("Location not kept: %+v", sent[2].Location)
	}
}
