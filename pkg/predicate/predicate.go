// Package predicate turns request-level export filters into the Predicate
// handed to the storage layer for box selection.
package predicate

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
	"github.com/geogames2/openSenseMap-API/pkg/timewindow"
)

// Exposure values accepted by the exposure filter.
const (
	ExposureIndoor  = "indoor"
	ExposureOutdoor = "outdoor"
)

var (
	// ErrPhenomenonRequired is returned when no phenomenon is given.
	ErrPhenomenonRequired = errors.New("phenomenon is required")

	// ErrSelectionConflict is returned when both box ids and bbox are given.
	ErrSelectionConflict = errors.New("specify either boxid or bbox, not both")

	// ErrSelectionMissing is returned when neither box ids nor bbox is given.
	ErrSelectionMissing = errors.New("one of boxid or bbox is required")

	// ErrInvalidBBox is returned for a malformed bounding box.
	ErrInvalidBBox = errors.New("bbox must be minLng,minLat,maxLng,maxLat")

	// ErrInvalidExposure is returned for exposure values other than indoor/outdoor.
	ErrInvalidExposure = errors.New("exposure must be indoor or outdoor")
)

// Point is a [lng, lat] pair.
type Point [2]float64

// Polygon is a closed ring of points; the last point repeats the first.
type Polygon []Point

// Filters are the raw request filters.
type Filters struct {
	BoxIDs     []string
	BBox       string
	Phenomenon string
	Exposure   string
	Window     timewindow.Window
}

// Predicate selects boxes for an export. Exactly one of BoxIDs and Polygon
// is set.
type Predicate struct {
	BoxIDs     []string
	Polygon    Polygon
	Phenomenon string
	Exposure   string
	Window     timewindow.Window
}

// Build validates f and constructs a Predicate. Checks run in a fixed
// order and the first failure is returned.
func Build(f Filters) (Predicate, error) {
	const op = "build predicate"

	phenomenon := strings.TrimSpace(f.Phenomenon)
	if phenomenon == "" {
		return Predicate{}, apperr.Validation(op, ErrPhenomenonRequired)
	}

	ids := cleanIDs(f.BoxIDs)
	bbox := strings.TrimSpace(f.BBox)
	switch {
	case len(ids) > 0 && bbox != "":
		return Predicate{}, apperr.Validation(op, ErrSelectionConflict)
	case len(ids) == 0 && bbox == "":
		return Predicate{}, apperr.Validation(op, ErrSelectionMissing)
	}

	p := Predicate{
		BoxIDs:     ids,
		Phenomenon: phenomenon,
		Window:     f.Window,
	}

	if bbox != "" {
		poly, err := ParseBBox(bbox)
		if err != nil {
			return Predicate{}, apperr.Validation(op, err)
		}
		p.Polygon = poly
	}

	if f.Exposure != "" {
		if f.Exposure != ExposureIndoor && f.Exposure != ExposureOutdoor {
			return Predicate{}, apperr.Validation(op, fmt.Errorf("%w: %q", ErrInvalidExposure, f.Exposure))
		}
		p.Exposure = f.Exposure
	}

	return p, nil
}

// ParseBBox parses "minLng,minLat,maxLng,maxLat" into a closed five-point
// ring, counter-clockwise from the south-west corner.
func ParseBBox(raw string) (Polygon, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: got %d values", ErrInvalidBBox, len(parts))
	}

	var c [4]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidBBox, part)
		}
		c[i] = v
	}

	minLng, minLat, maxLng, maxLat := c[0], c[1], c[2], c[3]
	if minLng < -180 || maxLng > 180 || minLat < -90 || maxLat > 90 {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrInvalidBBox)
	}
	if minLng >= maxLng || minLat >= maxLat {
		return nil, fmt.Errorf("%w: min must be below max", ErrInvalidBBox)
	}

	return Polygon{
		{minLng, minLat},
		{maxLng, minLat},
		{maxLng, maxLat},
		{minLng, maxLat},
		{minLng, minLat},
	}, nil
}

// Contains reports whether the point (lng, lat) lies inside or on the edge
// of the ring.
func (p Polygon) Contains(lng, lat float64) bool {
	if len(p) < 4 {
		return false
	}

	inside := false
	for i, j := 0, len(p)-1; i < len(p); j, i = i, i+1 {
		xi, yi := p[i][0], p[i][1]
		xj, yj := p[j][0], p[j][1]

		if onSegment(xi, yi, xj, yj, lng, lat) {
			return true
		}
		if (yi > lat) != (yj > lat) && lng < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

func onSegment(x1, y1, x2, y2, px, py float64) bool {
	cross := (px-x1)*(y2-y1) - (py-y1)*(x2-x1)
	if math.Abs(cross) > 1e-12 {
		return false
	}
	return px >= math.Min(x1, x2) && px <= math.Max(x1, x2) &&
		py >= math.Min(y1, y2) && py <= math.Max(y1, y2)
}

// MatchesBox reports whether a box with the given id, exposure and
// position is selected by p.
func (p Predicate) MatchesBox(id, exposure string, lng, lat float64) bool {
	if p.Exposure != "" && exposure != p.Exposure {
		return false
	}
	if len(p.BoxIDs) > 0 {
		for _, want := range p.BoxIDs {
			if want == id {
				return true
			}
		}
		return false
	}
	return p.Polygon.Contains(lng, lat)
}

func cleanIDs(ids []string) []string {
	var out []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		for _, part := range strings.Split(id, ",") {
			part = strings.TrimSpace(part)
			if part == "" || seen[part] {
				continue
			}
			seen[part] = true
			out = append(out, part)
		}
	}
	return out
}
