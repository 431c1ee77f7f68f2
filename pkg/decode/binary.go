package decode

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
	"github.com/geogames2/openSenseMap-API/pkg/measurement"
)

// Record layout of the sbx-bytes encodings: a 12 byte sensor id followed by
// a little-endian float32 value and, for sbx-bytes-ts, a little-endian
// uint32 of unix seconds.
const (
	sbxSensorIDLen = 12
	sbxRecordLen   = sbxSensorIDLen + 4
	sbxRecordTSLen = sbxRecordLen + 4
)

func sbxDecoder(withTimestamp bool) decodeFunc {
	recordLen := sbxRecordLen
	op := "decode sbx-bytes"
	if withTimestamp {
		recordLen = sbxRecordTSLen
		op = "decode sbx-bytes-ts"
	}

	return func(body io.Reader, now time.Time, _ Options) ([]measurement.Measurement, error) {
		// One byte past the cap is enough to know the batch is too big.
		limit := int64(measurement.MaxBatchSize*recordLen + 1)
		data, err := io.ReadAll(io.LimitReader(body, limit))
		if err != nil {
			return nil, apperr.Decode(op, apperr.NoRecord, fmt.Errorf("%w: %w", ErrMalformedBody, err))
		}
		if int64(len(data)) == limit {
			return nil, apperr.Decode(op, measurement.MaxBatchSize, ErrTooManyRecords)
		}
		if len(data) == 0 || len(data)%recordLen != 0 {
			return nil, apperr.Decode(op, apperr.NoRecord, fmt.Errorf("%w: length %d is not a multiple of %d", ErrMalformedBody, len(data), recordLen))
		}

		out := make([]measurement.Measurement, 0, len(data)/recordLen)
		for i := 0; i*recordLen < len(data); i++ {
			rec := data[i*recordLen : (i+1)*recordLen]

			f := math.Float32frombits(binary.LittleEndian.Uint32(rec[sbxSensorIDLen:sbxRecordLen]))
			if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
				return nil, apperr.Decode(op, i, measurement.ErrNotFinite)
			}

			ts := now
			if withTimestamp {
				ts = time.Unix(int64(binary.LittleEndian.Uint32(rec[sbxRecordLen:sbxRecordTSLen])), 0).UTC()
			}

			out = append(out, measurement.Measurement{
				SensorID:  hex.EncodeToString(rec[:sbxSensorIDLen]),
				Value:     measurement.Value(strconv.FormatFloat(float64(f), 'f', -1, 32)),
				CreatedAt: ts,
			})
		}
		return out, nil
	}
}
