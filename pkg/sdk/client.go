package sdk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/geogames2/openSenseMap-API/pkg/clock"
	"github.com/geogames2/openSenseMap-API/pkg/measurement"
	"github.com/geogames2/openSenseMap-API/pkg/sdk/batch"
	"github.com/geogames2/openSenseMap-API/pkg/sdk/transport"
)

// ClientConfig holds configuration for a box client
type ClientConfig struct {
	BoxID      string             `json:"box_id"`
	APIKey     string             `json:"api_key"`
	Endpoint   string             `json:"endpoint"`
	Encoding   transport.Encoding `json:"encoding"`
	FlushEvery time.Duration      `json:"flush_every"`

	// OnError receives background upload failures (optional)
	OnError func(error) `json:"-"`

	// Clock stamps readings recorded without a time (default: real time)
	Clock clock.Clock `json:"-"`
}

// Client uploads the readings of one box
type Client struct {
	config    ClientConfig
	transport transport.Transport
	batcher   *batch.Batcher

	sensors map[string]*Sensor
	mu      sync.RWMutex

	started bool
}

// Sensor records readings for one sensor of the box
type Sensor struct {
	id     string
	client *Client
}

// New creates a new client
func New(cfg ClientConfig) (*Client, error) {
	if cfg.BoxID == "" {
		return nil, fmt.Errorf("box id is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:8080"
	}
	if cfg.FlushEvery == 0 {
		cfg.FlushEvery = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	trans, err := transport.NewHTTP(cfg.Endpoint, cfg.BoxID, cfg.APIKey, cfg.Encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	return newClient(cfg, trans), nil
}

func newClient(cfg ClientConfig, trans transport.Transport) *Client {
	return &Client{
		config:    cfg,
		transport: trans,
		batcher: batch.New(trans, batch.Config{
			MaxBatchSize: measurement.MaxBatchSize,
			FlushEvery:   cfg.FlushEvery,
			OnError:      cfg.OnError,
		}),
		sensors: make(map[string]*Sensor),
	}
}

// Sensor returns the handle for the sensor with the given id
func (c *Client) Sensor(id string) *Sensor {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, exists := c.sensors[id]; exists {
		return s
	}

	s := &Sensor{id: id, client: c}
	c.sensors[id] = s
	return s
}

// Start starts the client and begins periodic uploads
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("client already started")
	}
	if err := c.batcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start batcher: %w", err)
	}
	c.started = true
	return nil
}

// Stop stops the client and flushes remaining readings
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}
	c.started = false

	if err := c.batcher.Stop(); err != nil {
		return fmt.Errorf("failed to flush measurements: %w", err)
	}
	return nil
}

// Record queues a reading taken now
func (s *Sensor) Record(v float64) error {
	return s.RecordAt(v, s.client.config.Clock.Now())
}

// RecordAt queues a reading taken at t
func (s *Sensor) RecordAt(v float64, t time.Time) error {
	return s.record(v, t, nil)
}

// RecordWithLocation queues a reading taken now at a location, for mobile
// boxes
func (s *Sensor) RecordWithLocation(v float64, loc measurement.Location) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	return s.record(v, s.client.config.Clock.Now(), &loc)
}

func (s *Sensor) record(v float64, t time.Time, loc *measurement.Location) error {
	value, err := measurement.FloatValue(v)
	if err != nil {
		return err
	}

	s.client.mu.RLock()
	started := s.client.started
	s.client.mu.RUnlock()
	if !started {
		return fmt.Errorf("client not started")
	}

	s.client.batcher.Add(measurement.Measurement{
		SensorID:  s.id,
		Value:     value,
		CreatedAt: t.UTC(),
		Location:  loc,
	})
	return nil
}
