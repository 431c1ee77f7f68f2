package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
)

var (
	// ErrUnknownColumn is returned for a column outside the allow-list
	ErrUnknownColumn = errors.New("unknown column")

	// ErrDuplicateColumn is returned when a column is requested twice
	ErrDuplicateColumn = errors.New("duplicate column")
)

// Column names allowed in an export.
const (
	ColCreatedAt  = "createdAt"
	ColValue      = "value"
	ColLat        = "lat"
	ColLng        = "lng"
	ColUnit       = "unit"
	ColBoxID      = "boxId"
	ColSensorID   = "sensorId"
	ColPhenomenon = "phenomenon"
	ColSensorType = "sensorType"
	ColBoxName    = "boxName"
	ColExposure   = "exposure"
)

var allowedColumns = map[string]bool{
	ColCreatedAt:  true,
	ColValue:      true,
	ColLat:        true,
	ColLng:        true,
	ColUnit:       true,
	ColBoxID:      true,
	ColSensorID:   true,
	ColPhenomenon: true,
	ColSensorType: true,
	ColBoxName:    true,
	ColExposure:   true,
}

// numericColumns are written as JSON numbers.
var numericColumns = map[string]bool{
	ColLat: true,
	ColLng: true,
}

// DefaultColumns is used when no columns are requested.
func DefaultColumns() []string {
	return []string{ColCreatedAt, ColValue, ColLat, ColLng}
}

// ParseColumns parses a comma separated column list. Empty input selects the
// default set.
func ParseColumns(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultColumns(), nil
	}

	parts := strings.Split(raw, ",")
	cols := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		col := strings.TrimSpace(p)
		if !allowedColumns[col] {
			return nil, apperr.Validation("parse columns", fmt.Errorf("%w: %q", ErrUnknownColumn, col))
		}
		if seen[col] {
			return nil, apperr.Validation("parse columns", fmt.Errorf("%w: %q", ErrDuplicateColumn, col))
		}
		seen[col] = true
		cols = append(cols, col)
	}
	return cols, nil
}
