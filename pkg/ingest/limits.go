package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
	"github.com/geogames2/openSenseMap-API/pkg/measurement"
	"github.com/geogames2/openSenseMap-API/pkg/storage"
)

// MaxFutureSkew is how far ahead of the server clock a reading may be
const MaxFutureSkew = 5 * time.Minute

var (
	// ErrUnknownSensor is returned for readings of sensors the box does not have
	ErrUnknownSensor = errors.New("sensor does not belong to box")

	// ErrFutureTimestamp is returned for readings too far in the future
	ErrFutureTimestamp = fmt.Errorf("createdAt is more than %v in the future", MaxFutureSkew)

	// ErrStorageLimit is returned when the data directory is full
	ErrStorageLimit = errors.New("storage limit exceeded")
)

// StorageChecker reports disk usage against the configured limit
type StorageChecker interface {
	GetUsage() (int64, error)
	GetLimit() int64
}

// ValidateBatch checks every reading against the box it is posted to.
// The first offending record is reported.
func ValidateBatch(box storage.Box, ms []measurement.Measurement, now time.Time) error {
	limit := now.Add(MaxFutureSkew)
	for i, m := range ms {
		if !box.HasSensor(m.SensorID) {
			return &apperr.Error{
				Kind:   apperr.KindValidation,
				Op:     "validate batch",
				Record: i,
				Err:    fmt.Errorf("%w: %s", ErrUnknownSensor, m.SensorID),
			}
		}
		if m.CreatedAt.After(limit) {
			return &apperr.Error{
				Kind:   apperr.KindValidation,
				Op:     "validate batch",
				Record: i,
				Err:    fmt.Errorf("%w: %s", ErrFutureTimestamp, measurement.FormatTime(m.CreatedAt)),
			}
		}
	}
	return nil
}

// checkStorage fails when usage reached the limit. Usage errors are not
// fatal; ingest continues and the error is logged by the caller.
func checkStorage(c StorageChecker) error {
	if c == nil {
		return nil
	}
	usage, err := c.GetUsage()
	if err != nil {
		return err
	}
	if usage >= c.GetLimit() {
		return fmt.Errorf("%w: %d of %d bytes used", ErrStorageLimit, usage, c.GetLimit())
	}
	return nil
}
