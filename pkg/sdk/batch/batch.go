package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geogames2/openSenseMap-API/pkg/measurement"
	"github.com/geogames2/openSenseMap-API/pkg/sdk/transport"
)

// sendTimeout bounds a single upload
const sendTimeout = 5 * time.Second

// Config holds configuration for the batcher
type Config struct {
	// MaxBatchSize is capped at measurement.MaxBatchSize, the most the
	// server accepts in one request
	MaxBatchSize int
	FlushEvery   time.Duration

	// OnError receives failures of background uploads (optional)
	OnError func(error)
}

// Batcher batches measurements and sends them periodically
type Batcher struct {
	config    Config
	transport transport.Transport

	pending []measurement.Measurement
	mu      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	flushing atomic.Bool // Only one flush goroutine at a time
	inflight sync.WaitGroup
}

// New creates a new batcher
func New(transport transport.Transport, config Config) *Batcher {
	if config.MaxBatchSize <= 0 || config.MaxBatchSize > measurement.MaxBatchSize {
		config.MaxBatchSize = measurement.MaxBatchSize
	}
	if config.FlushEvery <= 0 {
		config.FlushEvery = 5 * time.Second
	}
	return &Batcher{
		config:    config,
		transport: transport,
		pending:   make([]measurement.Measurement, 0, config.MaxBatchSize),
		done:      make(chan struct{}),
	}
}

// Start starts the batcher
func (b *Batcher) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	go b.flushLoop()
	return nil
}

// Add adds a measurement to the batch
func (b *Batcher) Add(m measurement.Measurement) {
	b.mu.Lock()
	b.pending = append(b.pending, m)
	shouldFlush := len(b.pending) >= b.config.MaxBatchSize
	b.mu.Unlock()

	// Flush if batch is full AND no flush is already running
	if shouldFlush && b.flushing.CompareAndSwap(false, true) {
		b.inflight.Add(1)
		go func() {
			defer b.inflight.Done()
			b.flush()
			b.flushing.Store(false)
		}()
	}
}

// Pending returns the number of measurements not yet sent
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flush sends all pending measurements and returns the first error
func (b *Batcher) Flush(ctx context.Context) error {
	var firstErr error
	for _, chunk := range b.take() {
		if err := b.send(ctx, chunk); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stop stops the batcher and sends what is left
func (b *Batcher) Stop() error {
	if b.cancel != nil {
		b.cancel()
		// Wait for flush loop to finish
		<-b.done
	}
	b.inflight.Wait()

	// The batcher context is gone, the final flush gets its own
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return b.Flush(ctx)
}

// flushLoop periodically flushes measurements
func (b *Batcher) flushLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.config.FlushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			// Only flush if no flush is already running
			if b.flushing.CompareAndSwap(false, true) {
				b.flush()
				b.flushing.Store(false)
			}
		}
	}
}

// flush sends everything pending, reporting errors to OnError
func (b *Batcher) flush() {
	for _, chunk := range b.take() {
		if err := b.send(b.ctx, chunk); err != nil && b.config.OnError != nil {
			b.config.OnError(err)
		}
	}
}

// take empties the buffer and splits it into request sized chunks
func (b *Batcher) take() [][]measurement.Measurement {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	all := make([]measurement.Measurement, len(b.pending))
	copy(all, b.pending)
	b.pending = b.pending[:0]
	b.mu.Unlock()

	var chunks [][]measurement.Measurement
	for len(all) > b.config.MaxBatchSize {
		chunks = append(chunks, all[:b.config.MaxBatchSize])
		all = all[b.config.MaxBatchSize:]
	}
	return append(chunks, all)
}

// send uploads one chunk via transport
func (b *Batcher) send(parent context.Context, ms []measurement.Measurement) error {
	ctx, cancel := context.WithTimeout(parent, sendTimeout)
	defer cancel()

	return b.transport.Send(ctx, ms)
}
