// Package measurement defines the canonical measurement record shared by
// the ingestion decoders, the storage layer and the export pipeline.
package measurement

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// MaxBatchSize is the hard cap on records accepted in one decoded batch.
const MaxBatchSize = 2500

// TimeLayout is the ISO-8601 form every output timestamp is normalized to.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// ErrEmptyValue is returned when a value is missing or blank.
var ErrEmptyValue = errors.New("value cannot be empty")

// ErrNotFinite is returned when a value does not parse as a finite number.
var ErrNotFinite = errors.New("value is not a finite number")

// Measurement is one sensor reading.
type Measurement struct {
	SensorID  string    `json:"sensorId"`
	Value     Value     `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
	Location  *Location `json:"location,omitempty"`
}

// MarshalJSON writes CreatedAt in the normalized ISO-8601 layout.
func (m Measurement) MarshalJSON() ([]byte, error) {
	type out struct {
		SensorID  string    `json:"sensorId"`
		Value     Value     `json:"value"`
		CreatedAt string    `json:"createdAt"`
		Location  *Location `json:"location,omitempty"`
	}
	return json.Marshal(out{
		SensorID:  m.SensorID,
		Value:     m.Value,
		CreatedAt: FormatTime(m.CreatedAt),
		Location:  m.Location,
	})
}

// Value is a reading in canonical decimal text form. Numbers and numeric
// strings both decode into it; anything that is not a finite float is
// rejected.
type Value string

// ParseValue validates s and returns it as a Value. Surrounding whitespace
// is trimmed, the digits are otherwise kept as sent.
func ParseValue(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyValue
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: %q", ErrNotFinite, s)
	}
	return Value(s), nil
}

// FloatValue converts f to a Value.
func FloatValue(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: %v", ErrNotFinite, f)
	}
	return Value(strconv.FormatFloat(f, 'f', -1, 64)), nil
}

// Float64 returns the numeric form of v.
func (v Value) Float64() float64 {
	f, _ := strconv.ParseFloat(string(v), 64)
	return f
}

// UnmarshalJSON accepts a bare JSON number or a JSON string.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ValueFromJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ValueFromJSON parses a raw JSON token (number or string) into a Value.
func ValueFromJSON(raw json.RawMessage) (Value, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", ErrEmptyValue
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return ParseValue(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFinite, trimmed)
	}
	return ParseValue(n.String())
}

// ParseTime parses an ISO-8601 timestamp. RFC 3339 with or without
// fractional seconds is accepted, as is a zone-less "2006-01-02T15:04:05"
// which is read as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}
