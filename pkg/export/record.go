package export

import (
	"fmt"
	"strconv"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
	"github.com/geogames2/openSenseMap-API/pkg/measurement"
	"github.com/geogames2/openSenseMap-API/pkg/sidecar"
	"github.com/geogames2/openSenseMap-API/pkg/storage"
)

// Record is one output row. Values are aligned with the export columns.
type Record struct {
	Values []string
}

// rowColumns returns the columns a stored row carries itself.
func rowColumns(r storage.Row) map[string]string {
	cols := map[string]string{
		ColSensorID:  r.SensorID,
		ColBoxID:     r.BoxID,
		ColValue:     string(r.Value),
		ColCreatedAt: measurement.FormatTime(r.CreatedAt),
	}
	if r.Location != nil {
		cols[ColLat] = strconv.FormatFloat(r.Location.Lat, 'f', -1, 64)
		cols[ColLng] = strconv.FormatFloat(r.Location.Lng, 'f', -1, 64)
	}
	return cols
}

// Transform builds the output record for r. Columns the row already has win
// over the sidecar. A row whose sensor is missing from the sidecar means the
// cursor and sidecar were built from different selections.
func Transform(r storage.Row, sc sidecar.Sidecar, columns []string) (Record, error) {
	entry, ok := sc.Lookup(r.SensorID)
	if !ok {
		return Record{}, apperr.Pipeline("transform", fmt.Errorf("%w: %s", ErrSidecarMismatch, r.SensorID))
	}

	own := rowColumns(r)
	values := make([]string, len(columns))
	for i, col := range columns {
		if v, ok := own[col]; ok {
			values[i] = v
			continue
		}
		v, _ := entry.Column(col)
		values[i] = v
	}
	return Record{Values: values}, nil
}
