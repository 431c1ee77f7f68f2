// Package notify reports request failures to an out-of-band sink without
// blocking the request that failed.
package notify

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
)

// Event is one reported failure.
type Event struct {
	Op   string
	Kind apperr.Kind
	Err  error
	At   time.Time
}

// Notifier accepts failures. Notify must never block the caller.
type Notifier interface {
	Notify(op string, err error)
}

// Sink receives events on the notifier's goroutine.
type Sink func(Event)

// LogSink writes events with the standard logger.
func LogSink(e Event) {
	log.Printf("⚠️  %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

// Queue is a Notifier backed by a buffered channel. Events that arrive while
// the buffer is full are dropped and counted.
type Queue struct {
	events  chan Event
	sink    Sink
	dropped atomic.Uint64
	now     func() time.Time

	once sync.Once
	done chan struct{}
}

// NewQueue creates a queue with room for size pending events.
func NewQueue(size int, sink Sink) *Queue {
	if size <= 0 {
		size = 1
	}
	if sink == nil {
		sink = LogSink
	}
	return &Queue{
		events: make(chan Event, size),
		sink:   sink,
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Notify enqueues err. Nil errors are ignored.
func (q *Queue) Notify(op string, err error) {
	if err == nil {
		return
	}
	e := Event{Op: op, Kind: apperr.KindOf(err), Err: err, At: q.now()}
	select {
	case q.events <- e:
	default:
		q.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Run delivers events until ctx is cancelled, then drains what is queued.
func (q *Queue) Run(ctx context.Context) {
	defer q.once.Do(func() { close(q.done) })
	for {
		select {
		case e := <-q.events:
			q.sink(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-q.events:
					q.sink(e)
				default:
					return
				}
			}
		}
	}
}

// Done is closed when Run returns.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Discard drops every event.
type Discard struct{}

func (Discard) Notify(string, error) {}
