package decode

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
	"github.com/geogames2/openSenseMap-API/pkg/measurement"
)

// arrayRecord is one element of the JSON array encoding.
type arrayRecord struct {
	Sensor    *string               `json:"sensor"`
	Value     json.RawMessage       `json:"value"`
	CreatedAt *string               `json:"createdAt"`
	Location  *measurement.Location `json:"location"`
}

// decodeJSONArray decodes [{"sensor":..,"value":..,"createdAt":..}, ...].
func decodeJSONArray(body io.Reader, now time.Time, _ Options) ([]measurement.Measurement, error) {
	const op = "decode json array"

	dec := json.NewDecoder(body)
	if err := expectDelim(dec, '['); err != nil {
		return nil, apperr.Decode(op, apperr.NoRecord, err)
	}

	var out []measurement.Measurement
	for i := 0; dec.More(); i++ {
		if i >= measurement.MaxBatchSize {
			return nil, apperr.Decode(op, i, ErrTooManyRecords)
		}

		var rec arrayRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, apperr.Decode(op, i, fmt.Errorf("%w: %w", ErrMalformedBody, err))
		}
		if rec.Sensor == nil || *rec.Sensor == "" {
			return nil, apperr.Decode(op, i, ErrMissingSensor)
		}
		if len(rec.Value) == 0 {
			return nil, apperr.Decode(op, i, fmt.Errorf("%w (sensor %s)", ErrMissingValue, *rec.Sensor))
		}

		m, err := buildMeasurement(*rec.Sensor, rec.Value, rec.CreatedAt, rec.Location, now)
		if err != nil {
			return nil, apperr.Decode(op, i, err)
		}
		out = append(out, m)
	}

	if err := expectDelim(dec, ']'); err != nil {
		return nil, apperr.Decode(op, apperr.NoRecord, err)
	}
	if err := expectEOF(dec); err != nil {
		return nil, apperr.Decode(op, apperr.NoRecord, err)
	}
	return out, nil
}

// decodeJSONObject decodes {"<sensorId>": value | [value, createdAt(, location)], ...}.
func decodeJSONObject(body io.Reader, now time.Time, _ Options) ([]measurement.Measurement, error) {
	const op = "decode json object"

	dec := json.NewDecoder(body)
	if err := expectDelim(dec, '{'); err != nil {
		return nil, apperr.Decode(op, apperr.NoRecord, err)
	}

	var out []measurement.Measurement
	for i := 0; dec.More(); i++ {
		if i >= measurement.MaxBatchSize {
			return nil, apperr.Decode(op, i, ErrTooManyRecords)
		}

		tok, err := dec.Token()
		if err != nil {
			return nil, apperr.Decode(op, i, fmt.Errorf("%w: %w", ErrMalformedBody, err))
		}
		sensorID, ok := tok.(string)
		if !ok || sensorID == "" {
			return nil, apperr.Decode(op, i, ErrMissingSensor)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, apperr.Decode(op, i, fmt.Errorf("%w: %w", ErrMalformedBody, err))
		}

		m, err := decodeObjectEntry(sensorID, raw, now)
		if err != nil {
			return nil, apperr.Decode(op, i, err)
		}
		out = append(out, m)
	}

	if err := expectDelim(dec, '}'); err != nil {
		return nil, apperr.Decode(op, apperr.NoRecord, err)
	}
	if err := expectEOF(dec); err != nil {
		return nil, apperr.Decode(op, apperr.NoRecord, err)
	}
	return out, nil
}

func decodeObjectEntry(sensorID string, raw json.RawMessage, now time.Time) (measurement.Measurement, error) {
	if len(raw) > 0 && raw[0] == '[' {
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			return measurement.Measurement{}, fmt.Errorf("%w: %w", ErrMalformedBody, err)
		}
		if len(parts) < 1 || len(parts) > 3 {
			return measurement.Measurement{}, fmt.Errorf("%w: sensor %s: expected [value, createdAt(, location)]", ErrMalformedBody, sensorID)
		}

		var createdAt *string
		if len(parts) >= 2 && string(parts[1]) != "null" {
			var s string
			if err := json.Unmarshal(parts[1], &s); err != nil {
				return measurement.Measurement{}, fmt.Errorf("%w (sensor %s): %v", ErrInvalidTimestamp, sensorID, err)
			}
			createdAt = &s
		}

		var loc *measurement.Location
		if len(parts) == 3 {
			loc = &measurement.Location{}
			if err := json.Unmarshal(parts[2], loc); err != nil {
				return measurement.Measurement{}, fmt.Errorf("sensor %s: %w", sensorID, err)
			}
		}
		return buildMeasurement(sensorID, parts[0], createdAt, loc, now)
	}
	return buildMeasurement(sensorID, raw, nil, nil, now)
}

// decodeSingle decodes {"value":..,"createdAt":..,"location":..} for opts.SensorID.
func decodeSingle(body io.Reader, now time.Time, opts Options) ([]measurement.Measurement, error) {
	const op = "decode single value"

	if opts.SensorID == "" {
		return nil, apperr.Decode(op, 0, ErrMissingSensor)
	}

	var rec struct {
		Value     json.RawMessage       `json:"value"`
		CreatedAt *string               `json:"createdAt"`
		Location  *measurement.Location `json:"location"`
	}
	dec := json.NewDecoder(body)
	if err := dec.Decode(&rec); err != nil {
		return nil, apperr.Decode(op, 0, fmt.Errorf("%w: %w", ErrMalformedBody, err))
	}
	if err := expectEOF(dec); err != nil {
		return nil, apperr.Decode(op, apperr.NoRecord, err)
	}
	if len(rec.Value) == 0 {
		return nil, apperr.Decode(op, 0, ErrMissingValue)
	}

	m, err := buildMeasurement(opts.SensorID, rec.Value, rec.CreatedAt, rec.Location, now)
	if err != nil {
		return nil, apperr.Decode(op, 0, err)
	}
	return []measurement.Measurement{m}, nil
}

func buildMeasurement(sensorID string, rawValue json.RawMessage, createdAt *string, loc *measurement.Location, now time.Time) (measurement.Measurement, error) {
	value, err := measurement.ValueFromJSON(rawValue)
	if err != nil {
		if errors.Is(err, measurement.ErrEmptyValue) {
			return measurement.Measurement{}, fmt.Errorf("%w (sensor %s)", ErrMissingValue, sensorID)
		}
		return measurement.Measurement{}, fmt.Errorf("sensor %s: %w", sensorID, err)
	}

	ts := now
	if createdAt != nil {
		ts, err = measurement.ParseTime(*createdAt)
		if err != nil {
			return measurement.Measurement{}, fmt.Errorf("%w (sensor %s): %v", ErrInvalidTimestamp, sensorID, err)
		}
	}

	return measurement.Measurement{
		SensorID:  sensorID,
		Value:     value,
		CreatedAt: ts,
		Location:  loc,
	}, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q, got %v", ErrMalformedBody, want, tok)
	}
	return nil
}

func expectEOF(dec *json.Decoder) error {
	_, err := dec.Token()
	switch {
	case err == io.EOF:
		return nil
	case err != nil && !errors.As(err, new(*json.SyntaxError)):
		return fmt.Errorf("%w: %w", ErrMalformedBody, err)
	default:
		return fmt.Errorf("%w: trailing data after document", ErrMalformedBody)
	}
}
