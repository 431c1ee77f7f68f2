// Package timewindow resolves the from/to bounds of an export request.
//
// A resolved Window always satisfies From < To. Invalid windows are
// reported as apperr KindTime errors and never corrected.
package timewindow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
	"github.com/geogames2/openSenseMap-API/pkg/clock"
	"github.com/geogames2/openSenseMap-API/pkg/measurement"
)

// Default window lengths per call site.
const (
	SingleSensorDefault = 48 * time.Hour
	MultiBoxDefault     = 15 * 24 * time.Hour
)

var (
	// ErrInvalidBound is returned when a bound does not parse.
	ErrInvalidBound = errors.New("invalid time bound")

	// ErrInverted is returned when from is not strictly before to.
	ErrInverted = errors.New("from must be before to")

	// ErrTooLong is returned when the window exceeds the resolver's maximum.
	ErrTooLong = errors.New("time window too long")

	// ErrMalformedPair is returned when a "from,to" pair does not have two parts.
	ErrMalformedPair = errors.New("expected from,to")
)

// Window is a time range. Both bounds are inclusive.
type Window struct {
	From time.Time
	To   time.Time
}

// Duration returns To - From.
func (w Window) Duration() time.Duration {
	return w.To.Sub(w.From)
}

// Contains reports whether t lies in [From, To].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

func (w Window) String() string {
	return fmt.Sprintf("%s to %s", measurement.FormatTime(w.From), measurement.FormatTime(w.To))
}

// Resolver resolves raw bounds against an injected clock.
type Resolver struct {
	Clock clock.Clock

	// MaxWindow rejects longer windows when positive.
	MaxWindow time.Duration
}

// New returns a Resolver using c.
func New(c clock.Clock) *Resolver {
	if c == nil {
		c = clock.Real()
	}
	return &Resolver{Clock: c}
}

// Resolve parses rawFrom and rawTo. An empty to defaults to now, an empty
// from defaults to to minus def.
func (r *Resolver) Resolve(rawFrom, rawTo string, def time.Duration) (Window, error) {
	const op = "resolve time window"

	to := r.Clock.Now().UTC()
	if strings.TrimSpace(rawTo) != "" {
		t, err := measurement.ParseTime(rawTo)
		if err != nil {
			return Window{}, apperr.Time(op, fmt.Errorf("%w: to-date %q", ErrInvalidBound, rawTo))
		}
		to = t
	}

	from := to.Add(-def)
	if strings.TrimSpace(rawFrom) != "" {
		t, err := measurement.ParseTime(rawFrom)
		if err != nil {
			return Window{}, apperr.Time(op, fmt.Errorf("%w: from-date %q", ErrInvalidBound, rawFrom))
		}
		from = t
	}

	w := Window{From: from, To: to}
	if !w.From.Before(w.To) {
		return Window{}, apperr.Time(op, fmt.Errorf("%w: %s", ErrInverted, w))
	}
	if r.MaxWindow > 0 && w.Duration() > r.MaxWindow {
		return Window{}, apperr.Time(op, fmt.Errorf("%w: %v exceeds %v", ErrTooLong, w.Duration(), r.MaxWindow))
	}
	return w, nil
}

// ResolvePair resolves a single "from,to" value. An empty raw falls back to
// the default window ending now.
func (r *Resolver) ResolvePair(raw string, def time.Duration) (Window, error) {
	if strings.TrimSpace(raw) == "" {
		return r.Resolve("", "", def)
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return Window{}, apperr.Time("resolve time window", fmt.Errorf("%w: %q", ErrMalformedPair, raw))
	}
	return r.Resolve(parts[0], parts[1], def)
}
