package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
	"github.com/geogames2/openSenseMap-API/pkg/measurement"
	"github.com/geogames2/openSenseMap-API/pkg/sidecar"
	"github.com/geogames2/openSenseMap-API/pkg/storage"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// events is a shared call log for cursor and sink
type events struct {
	log []string
}

func (e *events) add(s string) { e.log = append(e.log, s) }

type fakeCursor struct {
	ev     *events
	rows   []storage.Row
	pos    int
	err    error
	closed bool
}

func (c *fakeCursor) Next(ctx context.Context, n int) ([]storage.Row, error) {
	c.ev.add("next")
	if c.err != nil {
		return nil, c.err
	}
	end := c.pos + n
	if end > len(c.rows) {
		end = len(c.rows)
	}
	out := c.rows[c.pos:end]
	c.pos = end
	return out, nil
}

func (c *fakeCursor) Close() error {
	c.ev.add("close")
	c.closed = true
	return nil
}

type fakeSink struct {
	ev      *events
	buf     bytes.Buffer
	onWrite func()
	err     error
}

func (s *fakeSink) Write(p []byte) (int, error) {
	s.ev.add("write")
	if s.onWrite != nil {
		s.onWrite()
	}
	if s.err != nil {
		return 0, s.err
	}
	return s.buf.Write(p)
}

func (s *fakeSink) Flush() { s.ev.add("flush") }

func testSidecar(t *testing.T) sidecar.Sidecar {
	t.Helper()
	sc, ok := sidecar.FromBox(storage.Box{
		ID:       "box1",
		Name:     "Garden",
		Exposure: "outdoor",
		Location: measurement.Location{Lng: 7.62, Lat: 51.96},
		Sensors:  []storage.Sensor{{ID: "s1", Title: "Temperatur", Unit: "°C", SensorType: "HDC1080"}},
	}, "s1")
	require.True(t, ok)
	return sc
}

func testRows(n int) []storage.Row {
	rows := make([]storage.Row, n)
	for i := range rows {
		rows[i] = storage.Row{
			BoxID:     "box1",
			SensorID:  "s1",
			Value:     measurement.Value("2" + strings.Repeat("0", i%3) + ".5"),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return rows
}

func newPipeline(t *testing.T, format string, columns []string, batch int) *Pipeline {
	t.Helper()
	ser, err := NewSerializer(format, columns, ',')
	require.NoError(t, err)
	return &Pipeline{Columns: columns, Sidecar: testSidecar(t), Serializer: ser, BatchSize: batch}
}

func TestPipeline_CSVHeaderAndRows(t *testing.T) {
	ev := &events{}
	cur := &fakeCursor{ev: ev, rows: testRows(5)}
	sink := &fakeSink{ev: ev}
	cols := []string{ColCreatedAt, ColValue, ColBoxName, ColUnit}

	stats, err := newPipeline(t, FormatCSV, cols, 2).Run(context.Background(), cur, sink)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Rows)
	assert.Equal(t, 3, stats.Batches)
	assert.Equal(t, int64(sink.buf.Len()), stats.Bytes)

	lines, err := csv.NewReader(&sink.buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, lines, 6, "header plus one line per row")
	assert.Equal(t, cols, lines[0])
	assert.Equal(t, []string{"2024-03-01T12:00:00.000Z", "2.5", "Garden", "°C"}, lines[1])
	assert.Equal(t, "2024-03-01T12:04:00.000Z", lines[5][0])
}

func TestPipeline_CSVDelimiter(t *testing.T) {
	ev := &events{}
	ser, err := NewSerializer(FormatCSV, []string{ColValue, ColLat}, ';')
	require.NoError(t, err)
	p := &Pipeline{Columns: []string{ColValue, ColLat}, Sidecar: testSidecar(t), Serializer: ser}

	sink := &fakeSink{ev: ev}
	_, err = p.Run(context.Background(), &fakeCursor{ev: ev, rows: testRows(1)}, sink)
	require.NoError(t, err)
	assert.Equal(t, "value;lat\n2.5;51.96\n", sink.buf.String())
}

func TestPipeline_EmptyOutputs(t *testing.T) {
	ev := &events{}

	sink := &fakeSink{ev: ev}
	_, err := newPipeline(t, FormatJSON, DefaultColumns(), 0).Run(context.Background(), &fakeCursor{ev: ev}, sink)
	require.NoError(t, err)
	assert.Equal(t, "[]", sink.buf.String())

	sink = &fakeSink{ev: ev}
	_, err = newPipeline(t, FormatCSV, DefaultColumns(), 0).Run(context.Background(), &fakeCursor{ev: ev}, sink)
	require.NoError(t, err)
	assert.Equal(t, "createdAt,value,lat,lng\n", sink.buf.String())
}

func TestPipeline_JSONKeyOrder(t *testing.T) {
	ev := &events{}
	sink := &fakeSink{ev: ev}
	cols := []string{ColValue, ColLng, ColBoxID, ColCreatedAt}

	_, err := newPipeline(t, FormatJSON, cols, 1).Run(context.Background(), &fakeCursor{ev: ev, rows: testRows(2)}, sink)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sink.buf.String(), `[{"value":"2.5","lng":7.62,"boxId":"box1","createdAt":`))

	var out []map[string]any
	require.NoError(t, json.Unmarshal(sink.buf.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "20.5", out[1]["value"])
	assert.Equal(t, 7.62, out[1]["lng"])
}

func TestPipeline_RowColumnsWinOverSidecar(t *testing.T) {
	ev := &events{}
	rows := testRows(1)
	rows[0].Location = &measurement.Location{Lng: 8.1, Lat: 52.2}

	sink := &fakeSink{ev: ev}
	_, err := newPipeline(t, FormatCSV, []string{ColLat, ColLng, ColExposure}, 0).Run(context.Background(), &fakeCursor{ev: ev, rows: rows}, sink)
	require.NoError(t, err)
	assert.Equal(t, "lat,lng,exposure\n52.2,8.1,outdoor\n", sink.buf.String())
}

func TestPipeline_SidecarMismatchIsFatal(t *testing.T) {
	ev := &events{}
	rows := testRows(3)
	rows[1].SensorID = "unknown"
	cur := &fakeCursor{ev: ev, rows: rows}

	_, err := newPipeline(t, FormatCSV, DefaultColumns(), 10).Run(context.Background(), cur, &fakeSink{ev: ev})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPipeline))
	assert.ErrorIs(t, err, ErrSidecarMismatch)
	assert.True(t, cur.closed)
}

func TestPipeline_WritesBeforeNextRead(t *testing.T) {
	ev := &events{}
	cur := &fakeCursor{ev: ev, rows: testRows(5)}

	_, err := newPipeline(t, FormatCSV, DefaultColumns(), 2).Run(context.Background(), cur, &fakeSink{ev: ev})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"next", "write", "flush",
		"next", "write", "flush",
		"next", "write", "flush",
		"next",
		"close",
	}, ev.log)
}

func TestPipeline_CancellationStopsReads(t *testing.T) {
	ev := &events{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cur := &fakeCursor{ev: ev, rows: testRows(10)}
	sink := &fakeSink{ev: ev, onWrite: cancel}

	stats, err := newPipeline(t, FormatCSV, DefaultColumns(), 2).Run(ctx, cur, sink)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, apperr.Is(err, apperr.KindPipeline))
	assert.Equal(t, 2, stats.Rows)

	assert.Equal(t, []string{"next", "write", "flush", "close"}, ev.log)
}

func TestPipeline_SinkErrorStops(t *testing.T) {
	ev := &events{}
	cur := &fakeCursor{ev: ev, rows: testRows(10)}
	sink := &fakeSink{ev: ev, err: errors.New("broken pipe")}

	_, err := newPipeline(t, FormatCSV, DefaultColumns(), 2).Run(context.Background(), cur, sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
	assert.Equal(t, []string{"next", "write", "close"}, ev.log)
}

func TestPipeline_FirstReadFailureWritesNothing(t *testing.T) {
	ev := &events{}
	cur := &fakeCursor{ev: ev, err: errors.New("cursor killed")}

	stats, err := newPipeline(t, FormatJSON, DefaultColumns(), 0).Run(context.Background(), cur, &fakeSink{ev: ev})
	require.Error(t, err)
	assert.Zero(t, stats.Bytes)
	assert.True(t, cur.closed)
}

func TestParseColumns(t *testing.T) {
	cols, err := ParseColumns("")
	require.NoError(t, err)
	assert.Equal(t, DefaultColumns(), cols)

	cols, err = ParseColumns("boxId, value,createdAt")
	require.NoError(t, err)
	assert.Equal(t, []string{"boxId", "value", "createdAt"}, cols)

	_, err = ParseColumns("value,height")
	assert.ErrorIs(t, err, ErrUnknownColumn)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = ParseColumns("value,value")
	assert.ErrorIs(t, err, ErrDuplicateColumn)
}

func TestParseDelimiter(t *testing.T) {
	tests := []struct {
		raw     string
		want    rune
		wantErr bool
	}{
		{"", ',', false},
		{"comma", ',', false},
		{"semicolon", ';', false},
		{"tab", '\t', false},
		{"|", '|', false},
		{"ab", 0, true},
		{`"`, 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDelimiter(tt.raw)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidDelimiter, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}
