package decode

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
	"github.com/geogames2/openSenseMap-API/pkg/measurement"
)

// decodeCSV decodes headerless lines of
// sensorId,value[,createdAt[,lng,lat[,height]]].
func decodeCSV(body io.Reader, now time.Time, _ Options) ([]measurement.Measurement, error) {
	const op = "decode csv"

	reader := csv.NewReader(body)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	var out []measurement.Measurement
	for i := 0; ; i++ {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Decode(op, i, fmt.Errorf("%w: %w", ErrMalformedBody, err))
		}
		if i >= measurement.MaxBatchSize {
			return nil, apperr.Decode(op, i, ErrTooManyRecords)
		}

		m, err := csvRecord(fields, now)
		if err != nil {
			return nil, apperr.Decode(op, i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

func csvRecord(fields []string, now time.Time) (measurement.Measurement, error) {
	if len(fields) < 2 || len(fields) == 4 || len(fields) > 6 {
		return measurement.Measurement{}, fmt.Errorf("%w: expected sensorId,value[,createdAt[,lng,lat[,height]]], got %d fields", ErrMalformedBody, len(fields))
	}

	sensorID := strings.TrimSpace(fields[0])
	if sensorID == "" {
		return measurement.Measurement{}, ErrMissingSensor
	}

	value, err := measurement.ParseValue(fields[1])
	if err != nil {
		if errors.Is(err, measurement.ErrEmptyValue) {
			return measurement.Measurement{}, fmt.Errorf("%w (sensor %s)", ErrMissingValue, sensorID)
		}
		return measurement.Measurement{}, fmt.Errorf("sensor %s: %w", sensorID, err)
	}

	ts := now
	if len(fields) >= 3 && strings.TrimSpace(fields[2]) != "" {
		ts, err = measurement.ParseTime(fields[2])
		if err != nil {
			return measurement.Measurement{}, fmt.Errorf("%w (sensor %s): %v", ErrInvalidTimestamp, sensorID, err)
		}
	}

	var loc *measurement.Location
	if len(fields) >= 5 {
		loc, err = csvLocation(fields[3:])
		if err != nil {
			return measurement.Measurement{}, fmt.Errorf("sensor %s: %w", sensorID, err)
		}
	}

	return measurement.Measurement{
		SensorID:  sensorID,
		Value:     value,
		CreatedAt: ts,
		Location:  loc,
	}, nil
}

func csvLocation(fields []string) (*measurement.Location, error) {
	coords := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", measurement.ErrInvalidLocation, f)
		}
		coords[i] = v
	}

	loc := &measurement.Location{Lng: coords[0], Lat: coords[1]}
	if len(coords) == 3 {
		h := coords[2]
		loc.Height = &h
	}
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	return loc, nil
}
