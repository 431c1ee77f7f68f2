// Package decode turns ingestion request bodies into canonical measurement
// batches.
//
// Each supported wire encoding is a fixed Encoding tag with one decode
// function, registered once in NewRegistry. Decoding is all-or-nothing:
// a batch either decodes completely or fails with an apperr KindDecode
// error naming the offending record. No decoder performs I/O other than
// reading the body it was handed.
package decode

import (
	"bufio"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
	"github.com/geogames2/openSenseMap-API/pkg/clock"
	"github.com/geogames2/openSenseMap-API/pkg/measurement"
)

// Encoding identifies a wire encoding.
type Encoding string

const (
	JSONArray  Encoding = "json-array"
	JSONObject Encoding = "json-object"
	CSV        Encoding = "csv"
	Single     Encoding = "single"
	SBXBytes   Encoding = "sbx-bytes"
	SBXBytesTS Encoding = "sbx-bytes-ts"
	CBOR       Encoding = "cbor"
)

// Content types understood by Lookup.
const (
	ContentTypeJSON       = "application/json"
	ContentTypeCSV        = "text/csv"
	ContentTypeSBXBytes   = "application/sbx-bytes"
	ContentTypeSBXBytesTS = "application/sbx-bytes-ts"
	ContentTypeCBOR       = "application/cbor"
)

// Options carries per-request decode parameters.
type Options struct {
	// SensorID is the target sensor for the Single encoding.
	SensorID string
}

// decodeFunc decodes body using now for records without a timestamp.
type decodeFunc func(body io.Reader, now time.Time, opts Options) ([]measurement.Measurement, error)

// Registry dispatches an Encoding to its decoder.
type Registry struct {
	clock    clock.Clock
	decoders map[Encoding]decodeFunc
}

// NewRegistry creates a registry holding every supported encoding.
func NewRegistry(c clock.Clock) *Registry {
	if c == nil {
		c = clock.Real()
	}
	return &Registry{
		clock: c,
		decoders: map[Encoding]decodeFunc{
			JSONArray:  decodeJSONArray,
			JSONObject: decodeJSONObject,
			CSV:        decodeCSV,
			Single:     decodeSingle,
			SBXBytes:   sbxDecoder(false),
			SBXBytesTS: sbxDecoder(true),
			CBOR:       decodeCBOR,
		},
	}
}

// Encodings lists the registered tags.
func (r *Registry) Encodings() []Encoding {
	out := make([]Encoding, 0, len(r.decoders))
	for _, enc := range []Encoding{JSONArray, JSONObject, CSV, Single, SBXBytes, SBXBytesTS, CBOR} {
		if _, ok := r.decoders[enc]; ok {
			out = append(out, enc)
		}
	}
	return out
}

// Decode decodes body with the decoder registered for enc. All records
// without an explicit timestamp share one decode-time "now".
func (r *Registry) Decode(enc Encoding, body io.Reader, opts Options) ([]measurement.Measurement, error) {
	fn, ok := r.decoders[enc]
	if !ok {
		return nil, apperr.Validation("decode", fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc))
	}
	return fn(body, r.clock.Now().UTC(), opts)
}

// DecodeContentType resolves the encoding from a Content-Type header, then
// decodes. For application/json the first non-space byte of the body picks
// between the array and object forms.
func (r *Registry) DecodeContentType(contentType string, body io.Reader, opts Options) ([]measurement.Measurement, Encoding, error) {
	br := bufio.NewReader(body)
	enc, err := Lookup(contentType, br)
	if err != nil {
		return nil, "", err
	}
	ms, err := r.Decode(enc, br, opts)
	return ms, enc, err
}

// Lookup maps a Content-Type to an Encoding. body is only peeked, never
// consumed, and may be nil for non-JSON types.
func Lookup(contentType string, body *bufio.Reader) (Encoding, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", apperr.Validation("decode", fmt.Errorf("%w: %q", ErrUnsupportedEncoding, contentType))
	}

	switch strings.ToLower(mediaType) {
	case ContentTypeJSON:
		if body == nil {
			return JSONArray, nil
		}
		return sniffJSON(body)
	case ContentTypeCSV:
		return CSV, nil
	case ContentTypeSBXBytes:
		return SBXBytes, nil
	case ContentTypeSBXBytesTS:
		return SBXBytesTS, nil
	case ContentTypeCBOR:
		return CBOR, nil
	}
	return "", apperr.Validation("decode", fmt.Errorf("%w: %q", ErrUnsupportedEncoding, mediaType))
}

// sniffJSON peeks past leading whitespace to find '[' or '{'.
func sniffJSON(br *bufio.Reader) (Encoding, error) {
	for n := 1; ; n++ {
		peeked, err := br.Peek(n)
		if len(peeked) < n {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return "", apperr.Decode("decode", apperr.NoRecord, fmt.Errorf("%w: %w", ErrMalformedBody, err))
		}
		switch peeked[n-1] {
		case ' ', '\t', '\r', '\n':
			continue
		case '[':
			return JSONArray, nil
		case '{':
			return JSONObject, nil
		default:
			return "", apperr.Decode("decode", apperr.NoRecord, fmt.Errorf("%w: expected JSON array or object", ErrMalformedBody))
		}
	}
}
