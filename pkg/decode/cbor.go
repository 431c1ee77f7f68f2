package decode

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
	"github.com/geogames2/openSenseMap-API/pkg/measurement"
)

// maxCBORBody bounds how much of a CBOR body is read. Records are small
// maps, 256 bytes each leaves plenty of room.
const maxCBORBody = measurement.MaxBatchSize * 256

var cborDecMode cbor.DecMode

func init() {
	var err error
	cborDecMode, err = cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		MaxArrayElements: measurement.MaxBatchSize + 1,
	}.DecMode()
	if err != nil {
		panic("decode: CBOR decoder initialization failed: " + err.Error())
	}
}

// cborRecord mirrors arrayRecord. Value and CreatedAt stay untyped because
// senders use numbers, text, or tagged times interchangeably.
type cborRecord struct {
	Sensor    string `cbor:"sensor"`
	Value     any    `cbor:"value"`
	CreatedAt any    `cbor:"createdAt"`
}

// decodeCBOR decodes a CBOR array of {sensor, value, createdAt?} maps.
func decodeCBOR(body io.Reader, now time.Time, _ Options) ([]measurement.Measurement, error) {
	const op = "decode cbor"

	data, err := io.ReadAll(io.LimitReader(body, maxCBORBody+1))
	if err != nil {
		return nil, apperr.Decode(op, apperr.NoRecord, fmt.Errorf("%w: %w", ErrMalformedBody, err))
	}
	if len(data) > maxCBORBody {
		return nil, apperr.Decode(op, apperr.NoRecord, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedBody, maxCBORBody))
	}

	// Split into raw elements first so the cap is checked before any
	// record is decoded.
	var raws []cbor.RawMessage
	if err := cborDecMode.Unmarshal(data, &raws); err != nil {
		var tooMany *cbor.MaxArrayElementsError
		if errors.As(err, &tooMany) {
			return nil, apperr.Decode(op, measurement.MaxBatchSize, ErrTooManyRecords)
		}
		return nil, apperr.Decode(op, apperr.NoRecord, fmt.Errorf("%w: %w", ErrMalformedBody, err))
	}
	if len(raws) > measurement.MaxBatchSize {
		return nil, apperr.Decode(op, measurement.MaxBatchSize, ErrTooManyRecords)
	}

	out := make([]measurement.Measurement, 0, len(raws))
	for i, raw := range raws {
		var rec cborRecord
		if err := cborDecMode.Unmarshal(raw, &rec); err != nil {
			return nil, apperr.Decode(op, i, fmt.Errorf("%w: %w", ErrMalformedBody, err))
		}
		if rec.Sensor == "" {
			return nil, apperr.Decode(op, i, ErrMissingSensor)
		}

		value, err := cborValue(rec.Value)
		if err != nil {
			return nil, apperr.Decode(op, i, fmt.Errorf("sensor %s: %w", rec.Sensor, err))
		}

		ts, err := cborTime(rec.CreatedAt, now)
		if err != nil {
			return nil, apperr.Decode(op, i, fmt.Errorf("%w (sensor %s): %v", ErrInvalidTimestamp, rec.Sensor, err))
		}

		out = append(out, measurement.Measurement{SensorID: rec.Sensor, Value: value, CreatedAt: ts})
	}
	return out, nil
}

func cborValue(v any) (measurement.Value, error) {
	switch x := v.(type) {
	case nil:
		return "", ErrMissingValue
	case string:
		return measurement.ParseValue(x)
	case float64:
		return measurement.FloatValue(x)
	case float32:
		return measurement.FloatValue(float64(x))
	case uint64:
		return measurement.Value(strconv.FormatUint(x, 10)), nil
	case int64:
		return measurement.Value(strconv.FormatInt(x, 10)), nil
	}
	return "", fmt.Errorf("%w: unsupported type %T", measurement.ErrNotFinite, v)
}

func cborTime(v any, now time.Time) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return now, nil
	case string:
		return measurement.ParseTime(x)
	case time.Time:
		return x.UTC(), nil
	case uint64:
		return time.Unix(int64(x), 0).UTC(), nil
	case int64:
		return time.Unix(x, 0).UTC(), nil
	case cbor.Tag:
		switch c := x.Content.(type) {
		case string:
			return measurement.ParseTime(c)
		case uint64:
			return time.Unix(int64(c), 0).UTC(), nil
		case float64:
			return time.UnixMilli(int64(c * 1000)).UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
}
