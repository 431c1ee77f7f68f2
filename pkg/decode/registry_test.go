package decode

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
	"github.com/geogames2/openSenseMap-API/pkg/clock"
	"github.com/geogames2/openSenseMap-API/pkg/measurement"
)

var decodeNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestRegistry() *Registry {
	return NewRegistry(clock.Fixed(decodeNow))
}

func TestDecode_JSONObjectExample(t *testing.T) {
	reg := newTestRegistry()

	body := `{"a1":"23.5","a2":["5","2020-01-01T00:00:00Z"]}`
	got, err := reg.Decode(JSONObject, strings.NewReader(body), Options{})
	require.NoError(t, err)

	require.Equal(t, []measurement.Measurement{
		{SensorID: "a1", Value: "23.5", CreatedAt: decodeNow},
		{SensorID: "a2", Value: "5", CreatedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)},
	}, got)
}

func TestDecode_CSVExample(t *testing.T) {
	reg := newTestRegistry()

	got, err := reg.Decode(CSV, strings.NewReader("s1,10\ns2,20,2021-06-01T12:00:00Z"), Options{})
	require.NoError(t, err)

	require.Equal(t, []measurement.Measurement{
		{SensorID: "s1", Value: "10", CreatedAt: decodeNow},
		{SensorID: "s2", Value: "20", CreatedAt: time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)},
	}, got)
}

func TestDecode_EquivalentAcrossEncodings(t *testing.T) {
	reg := newTestRegistry()

	array := `[
		{"sensor":"s1","value":10.5,"createdAt":"2021-06-01T12:00:00Z"},
		{"sensor":"s2","value":"-3","createdAt":"2021-06-01T12:01:00.000Z"}
	]`
	object := `{"s1":[10.5,"2021-06-01T12:00:00Z"],"s2":["-3","2021-06-01T12:01:00Z"]}`
	csvBody := "s1,10.5,2021-06-01T12:00:00Z\ns2,-3,2021-06-01T12:01:00Z\n"

	cborBody, err := cbor.Marshal([]map[string]any{
		{"sensor": "s1", "value": 10.5, "createdAt": "2021-06-01T12:00:00Z"},
		{"sensor": "s2", "value": "-3", "createdAt": "2021-06-01T12:01:00Z"},
	})
	require.NoError(t, err)

	fromArray, err := reg.Decode(JSONArray, strings.NewReader(array), Options{})
	require.NoError(t, err)
	fromObject, err := reg.Decode(JSONObject, strings.NewReader(object), Options{})
	require.NoError(t, err)
	fromCSV, err := reg.Decode(CSV, strings.NewReader(csvBody), Options{})
	require.NoError(t, err)
	fromCBOR, err := reg.Decode(CBOR, bytes.NewReader(cborBody), Options{})
	require.NoError(t, err)

	require.Len(t, fromArray, 2)
	require.Equal(t, fromArray, fromObject)
	require.Equal(t, fromArray, fromCSV)
	require.Equal(t, fromArray, fromCBOR)
}

func TestDecode_BatchCap(t *testing.T) {
	reg := newTestRegistry()

	encoders := map[Encoding]func(n int) []byte{
		JSONArray: func(n int) []byte {
			recs := make([]map[string]any, n)
			for i := range recs {
				recs[i] = map[string]any{"sensor": fmt.Sprintf("s%d", i), "value": i}
			}
			b, _ := json.Marshal(recs)
			return b
		},
		JSONObject: func(n int) []byte {
			recs := make(map[string]any, n)
			for i := 0; i < n; i++ {
				recs[fmt.Sprintf("s%d", i)] = i
			}
			b, _ := json.Marshal(recs)
			return b
		},
		CSV: func(n int) []byte {
			var buf bytes.Buffer
			for i := 0; i < n; i++ {
				fmt.Fprintf(&buf, "s%d,%d\n", i, i)
			}
			return buf.Bytes()
		},
		SBXBytes: func(n int) []byte {
			return sbxPayload(n, false)
		},
		CBOR: func(n int) []byte {
			recs := make([]map[string]any, n)
			for i := range recs {
				recs[i] = map[string]any{"sensor": fmt.Sprintf("s%d", i), "value": i}
			}
			b, _ := cbor.Marshal(recs)
			return b
		},
	}

	for enc, build := range encoders {
		t.Run(string(enc), func(t *testing.T) {
			got, err := reg.Decode(enc, bytes.NewReader(build(measurement.MaxBatchSize)), Options{})
			require.NoError(t, err)
			require.Len(t, got, measurement.MaxBatchSize)

			got, err = reg.Decode(enc, bytes.NewReader(build(measurement.MaxBatchSize+1)), Options{})
			require.Error(t, err)
			require.ErrorIs(t, err, ErrTooManyRecords)
			require.True(t, apperr.Is(err, apperr.KindDecode))
			require.Nil(t, got)
		})
	}
}

func TestDecode_JSONArrayRejectsIncompleteRecord(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Decode(JSONArray, strings.NewReader(`[{"sensor":"s1","value":1},{"value":2}]`), Options{})
	require.ErrorIs(t, err, ErrMissingSensor)
	require.Contains(t, err.Error(), "record 1")

	_, err = reg.Decode(JSONArray, strings.NewReader(`[{"sensor":"s1"}]`), Options{})
	require.ErrorIs(t, err, ErrMissingValue)
}

func TestDecode_InvalidValuesAndTimestamps(t *testing.T) {
	reg := newTestRegistry()

	tests := []struct {
		name string
		enc  Encoding
		body string
		want error
	}{
		{"array non-numeric value", JSONArray, `[{"sensor":"s1","value":"abc"}]`, measurement.ErrNotFinite},
		{"array NaN string", JSONArray, `[{"sensor":"s1","value":"NaN"}]`, measurement.ErrNotFinite},
		{"array bad timestamp", JSONArray, `[{"sensor":"s1","value":1,"createdAt":"yesterday"}]`, ErrInvalidTimestamp},
		{"object bad timestamp", JSONObject, `{"s1":[1,"2021-13-45"]}`, ErrInvalidTimestamp},
		{"object null value", JSONObject, `{"s1":null}`, ErrMissingValue},
		{"csv bad value", CSV, "s1,ten\n", measurement.ErrNotFinite},
		{"csv missing value", CSV, "s1\n", ErrMalformedBody},
		{"csv bad timestamp", CSV, "s1,1,notatime\n", ErrInvalidTimestamp},
		{"array trailing garbage", JSONArray, `[{"sensor":"s1","value":1}] x`, ErrMalformedBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Decode(tt.enc, strings.NewReader(tt.body), Options{})
			require.ErrorIs(t, err, tt.want)
			require.True(t, apperr.Is(err, apperr.KindDecode))
			require.Nil(t, got)
		})
	}
}

func TestDecode_MalformedCSVLineFailsBatch(t *testing.T) {
	reg := newTestRegistry()

	got, err := reg.Decode(CSV, strings.NewReader("s1,1\ns2,2\ns3,\"unterminated\n"), Options{})
	require.Error(t, err)
	require.Nil(t, got)
}

func TestDecode_CSVWithLocation(t *testing.T) {
	reg := newTestRegistry()

	got, err := reg.Decode(CSV, strings.NewReader("s1,1,2021-06-01T12:00:00Z,7.6,51.9\n"), Options{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Location)
	require.Equal(t, 7.6, got[0].Location.Lng)
	require.Equal(t, 51.9, got[0].Location.Lat)
}

func TestDecode_Single(t *testing.T) {
	reg := newTestRegistry()

	got, err := reg.Decode(Single, strings.NewReader(`{"value":"42.1"}`), Options{SensorID: "abc"})
	require.NoError(t, err)
	require.Equal(t, []measurement.Measurement{{SensorID: "abc", Value: "42.1", CreatedAt: decodeNow}}, got)

	_, err = reg.Decode(Single, strings.NewReader(`{"value":"42.1"}`), Options{})
	require.ErrorIs(t, err, ErrMissingSensor)

	got, err = reg.Decode(Single, strings.NewReader(`{"value":3,"createdAt":"2022-02-02T02:02:02Z","location":[7.1,51.2]}`), Options{SensorID: "abc"})
	require.NoError(t, err)
	require.Equal(t, time.Date(2022, 2, 2, 2, 2, 2, 0, time.UTC), got[0].CreatedAt)
	require.Equal(t, 51.2, got[0].Location.Lat)
}

func TestDecode_SBXBytesTimestamp(t *testing.T) {
	reg := newTestRegistry()

	got, err := reg.Decode(SBXBytesTS, bytes.NewReader(sbxPayload(2, true)), Options{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "000000000000000000000001", got[1].SensorID)
	require.Equal(t, measurement.Value("1.5"), got[1].Value)
	require.Equal(t, time.Unix(1600000001, 0).UTC(), got[1].CreatedAt)

	_, err = reg.Decode(SBXBytes, bytes.NewReader([]byte{1, 2, 3}), Options{})
	require.ErrorIs(t, err, ErrMalformedBody)
}

func TestDecodeContentType(t *testing.T) {
	reg := newTestRegistry()

	tests := []struct {
		contentType string
		body        string
		want        Encoding
	}{
		{"application/json", `  [{"sensor":"s","value":1}]`, JSONArray},
		{"application/json; charset=utf-8", "\n{\"s\":1}", JSONObject},
		{"text/csv", "s,1", CSV},
	}
	for _, tt := range tests {
		got, enc, err := reg.DecodeContentType(tt.contentType, strings.NewReader(tt.body), Options{})
		require.NoError(t, err, tt.contentType)
		require.Equal(t, tt.want, enc)
		require.Len(t, got, 1)
	}

	_, _, err := reg.DecodeContentType("application/xml", strings.NewReader("<a/>"), Options{})
	require.ErrorIs(t, err, ErrUnsupportedEncoding)
	require.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = Lookup("application/json", bufio.NewReader(strings.NewReader("42")))
	require.ErrorIs(t, err, ErrMalformedBody)
}

func TestDecode_UnknownEncoding(t *testing.T) {
	_, err := newTestRegistry().Decode(Encoding("xml"), strings.NewReader(""), Options{})
	require.ErrorIs(t, err, ErrUnsupportedEncoding)
}

// sbxPayload builds n sbx records; record i has sensor id i and value i*1.5.
func sbxPayload(n int, withTimestamp bool) []byte {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		id := make([]byte, sbxSensorIDLen)
		binary.BigEndian.PutUint32(id[8:], uint32(i))
		buf.Write(id)
		_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(float32(i)*1.5))
		if withTimestamp {
			_ = binary.Write(&buf, binary.LittleEndian, uint32(1600000000+i))
		}
	}
	return buf.Bytes()
}
