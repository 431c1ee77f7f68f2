package measurement

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidLocation is returned for coordinates outside WGS84 bounds or
// of the wrong shape.
var ErrInvalidLocation = errors.New("invalid location")

// Location is a WGS84 point. Height is optional.
type Location struct {
	Lng    float64  `json:"lng"`
	Lat    float64  `json:"lat"`
	Height *float64 `json:"height,omitempty"`
}

// Validate checks Lat/Lng ranges.
func (l Location) Validate() error {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lng) || l.Lat < -90 || l.Lat > 90 || l.Lng < -180 || l.Lng > 180 {
		return fmt.Errorf("%w: lat=%v lng=%v", ErrInvalidLocation, l.Lat, l.Lng)
	}
	return nil
}

// UnmarshalJSON accepts either [lng, lat(, height)] or
// {"lat":..,"lng":..(,"height":..)}.
func (l *Location) UnmarshalJSON(data []byte) error {
	var arr []float64
	if err := json.Unmarshal(data, &arr); err == nil {
		if len(arr) < 2 || len(arr) > 3 {
			return fmt.Errorf("%w: expected 2 or 3 coordinates, got %d", ErrInvalidLocation, len(arr))
		}
		loc := Location{Lng: arr[0], Lat: arr[1]}
		if len(arr) == 3 {
			h := arr[2]
			loc.Height = &h
		}
		if err := loc.Validate(); err != nil {
			return err
		}
		*l = loc
		return nil
	}

	var obj struct {
		Lat    *float64 `json:"lat"`
		Lng    *float64 `json:"lng"`
		Height *float64 `json:"height"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	if obj.Lat == nil || obj.Lng == nil {
		return fmt.Errorf("%w: lat and lng are required", ErrInvalidLocation)
	}
	loc := Location{Lat: *obj.Lat, Lng: *obj.Lng, Height: obj.Height}
	if err := loc.Validate(); err != nil {
		return err
	}
	*l = loc
	return nil
}
