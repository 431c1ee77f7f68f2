package decode

import (
	"errors"
	"fmt"

	"github.com/geogames2/openSenseMap-API/pkg/measurement"
)

var (
	// ErrUnsupportedEncoding is returned for unknown content types or tags.
	ErrUnsupportedEncoding = errors.New("unsupported encoding")

	// ErrTooManyRecords is returned as soon as a batch exceeds the cap.
	ErrTooManyRecords = fmt.Errorf("too many records in batch (max %d)", measurement.MaxBatchSize)

	// ErrMalformedBody is returned when the body is not of the declared shape.
	ErrMalformedBody = errors.New("malformed body")

	// ErrMissingSensor is returned for records without a sensor id.
	ErrMissingSensor = errors.New("sensor id is required")

	// ErrMissingValue is returned for records without a value.
	ErrMissingValue = errors.New("value is required")

	// ErrInvalidTimestamp is returned when createdAt does not parse.
	ErrInvalidTimestamp = errors.New("invalid createdAt")
)
