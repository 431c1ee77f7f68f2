package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/geogames2/openSenseMap-API/pkg/measurement"
)

// Encoding selects the request body format
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingCBOR Encoding = "cbor"
)

// ErrInvalidEndpoint is returned by NewHTTP for unusable base URLs
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// Transport defines the interface for sending measurements of one box
type Transport interface {
	Send(ctx context.Context, ms []measurement.Measurement) error
}

// HTTPTransport implements Transport against POST /boxes/{boxId}/data
type HTTPTransport struct {
	endpoint string
	apiKey   string
	encoding Encoding
	client   *http.Client
}

// wireRecord is the JSON array form the ingest decoder reads
type wireRecord struct {
	Sensor    string                `json:"sensor" cbor:"sensor"`
	Value     string                `json:"value" cbor:"value"`
	CreatedAt string                `json:"createdAt" cbor:"createdAt"`
	Location  *measurement.Location `json:"location,omitempty" cbor:"-"`
}

// NewHTTP creates a new HTTP transport for boxID. baseURL is the API root,
// for example http://localhost:8080.
func NewHTTP(baseURL, boxID, apiKey string, enc Encoding) (*HTTPTransport, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, baseURL)
	}
	if boxID == "" {
		return nil, fmt.Errorf("box id is required")
	}
	switch enc {
	case "":
		enc = EncodingJSON
	case EncodingJSON, EncodingCBOR:
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}

	return &HTTPTransport{
		endpoint: strings.TrimRight(baseURL, "/") + "/boxes/" + url.PathEscape(boxID) + "/data",
		apiKey:   apiKey,
		encoding: enc,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

// Send posts measurements to the ingest endpoint
func (t *HTTPTransport) Send(ctx context.Context, ms []measurement.Measurement) error {
	if len(ms) == 0 {
		return nil
	}

	records := make([]wireRecord, len(ms))
	for i, m := range ms {
		records[i] = wireRecord{
			Sensor:    m.SensorID,
			Value:     string(m.Value),
			CreatedAt: measurement.FormatTime(m.CreatedAt),
			Location:  m.Location,
		}
	}

	var (
		body        []byte
		contentType string
		err         error
	)
	switch t.encoding {
	case EncodingCBOR:
		body, err = cbor.Marshal(records)
		contentType = "application/cbor"
	default:
		body, err = json.Marshal(records)
		contentType = "application/json"
	}
	if err != nil {
		return fmt.Errorf("failed to marshal measurements: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request failed with status %d%s", resp.StatusCode, errorMessage(resp.Body))
	}

	return nil
}

// errorMessage extracts the message of a JSON error response, if any
func errorMessage(r io.Reader) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&body); err != nil || body.Message == "" {
		return ""
	}
	return ": " + body.Message
}
