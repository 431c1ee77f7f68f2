package export

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
	"github.com/geogames2/openSenseMap-API/pkg/httpx"
	"github.com/geogames2/openSenseMap-API/pkg/notify"
	"github.com/geogames2/openSenseMap-API/pkg/predicate"
	"github.com/geogames2/openSenseMap-API/pkg/sidecar"
	"github.com/geogames2/openSenseMap-API/pkg/storage"
	"github.com/geogames2/openSenseMap-API/pkg/timewindow"
)

// Handler serves the export endpoints
type Handler struct {
	store    storage.Storage
	resolver *timewindow.Resolver
	notifier notify.Notifier

	// MaxMultiBoxRows caps multi box exports when > 0. They are bounded by
	// their time window otherwise.
	MaxMultiBoxRows int
}

// NewHandler creates a new export handler
func NewHandler(store storage.Storage, resolver *timewindow.Resolver, notifier notify.Notifier) *Handler {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Handler{
		store:    store,
		resolver: resolver,
		notifier: notifier,
	}
}

// exportRequest is everything needed to start a stream
type exportRequest struct {
	op       string
	pipeline *Pipeline
	query    storage.MeasurementQuery
	download bool
	name     string
}

// HandleSensorExport handles GET /boxes/{boxId}/data/{sensorId}
// Query params:
//   - from-date, to-date: RFC3339 (default: last 48 hours)
//   - format: "json" or "csv" (default: json)
//   - delimiter: csv delimiter (default: comma)
//   - download: "true" to send as attachment
//
// Rows are newest first and capped at MaxSingleSensorRows.
func (h *Handler) HandleSensorExport(w http.ResponseWriter, r *http.Request) {
	const op = "sensor export"
	vars := mux.Vars(r)
	boxID, sensorID := vars["boxId"], vars["sensorId"]
	q := r.URL.Query()

	columns := DefaultColumns()
	ser, err := h.serializer(q.Get("format"), FormatJSON, columns, q.Get("delimiter"))
	if err != nil {
		h.fail(w, op, err)
		return
	}

	window, err := h.resolver.Resolve(q.Get("from-date"), q.Get("to-date"), timewindow.SingleSensorDefault)
	if err != nil {
		h.fail(w, op, err)
		return
	}

	box, err := h.store.Box(r.Context(), boxID)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	sc, ok := sidecar.FromBox(box, sensorID)
	if !ok {
		h.fail(w, op, fmt.Errorf("%w: %s on box %s", storage.ErrSensorNotFound, sensorID, boxID))
		return
	}

	h.stream(w, r, exportRequest{
		op: op,
		pipeline: &Pipeline{
			Columns:    columns,
			Sidecar:    sc,
			Serializer: ser,
		},
		query: storage.MeasurementQuery{
			SensorIDs:  sc.SensorIDs(),
			Window:     window,
			Descending: true,
			Limit:      MaxSingleSensorRows,
		},
		download: parseBool(q.Get("download")),
		name:     sensorID,
	})
}

// HandleBoxesExport handles GET /boxes/data
// Query params:
//   - boxid: comma separated box ids, or
//   - bbox: minLng,minLat,maxLng,maxLat
//   - phenomenon: sensor title to export (required)
//   - exposure: "indoor" or "outdoor"
//   - columns: comma separated output columns
//   - from-date, to-date or date=from,to (default: last 15 days)
//   - format: "csv" or "json" (default: csv)
//   - delimiter, download
func (h *Handler) HandleBoxesExport(w http.ResponseWriter, r *http.Request) {
	const op = "boxes export"
	q := r.URL.Query()

	columns, err := ParseColumns(q.Get("columns"))
	if err != nil {
		h.fail(w, op, err)
		return
	}
	ser, err := h.serializer(q.Get("format"), FormatCSV, columns, q.Get("delimiter"))
	if err != nil {
		h.fail(w, op, err)
		return
	}

	var window timewindow.Window
	if date := q.Get("date"); date != "" {
		window, err = h.resolver.ResolvePair(date, timewindow.MultiBoxDefault)
	} else {
		window, err = h.resolver.Resolve(q.Get("from-date"), q.Get("to-date"), timewindow.MultiBoxDefault)
	}
	if err != nil {
		h.fail(w, op, err)
		return
	}

	var boxIDs []string
	if raw := q.Get("boxid"); raw != "" {
		boxIDs = strings.Split(raw, ",")
	}
	pred, err := predicate.Build(predicate.Filters{
		BoxIDs:     boxIDs,
		BBox:       q.Get("bbox"),
		Phenomenon: q.Get("phenomenon"),
		Exposure:   q.Get("exposure"),
		Window:     window,
	})
	if err != nil {
		h.fail(w, op, err)
		return
	}

	sc, err := sidecar.Build(r.Context(), h.store, pred)
	if err != nil {
		h.fail(w, op, apperr.Pipeline("build sidecar", err))
		return
	}

	h.stream(w, r, exportRequest{
		op: op,
		pipeline: &Pipeline{
			Columns:    columns,
			Sidecar:    sc,
			Serializer: ser,
		},
		query: storage.MeasurementQuery{
			SensorIDs: sc.SensorIDs(),
			Window:    window,
			Limit:     h.MaxMultiBoxRows,
		},
		download: parseBool(q.Get("download")),
		name:     "opensensemap_org-download-" + pred.Phenomenon,
	})
}

func (h *Handler) serializer(format, def string, columns []string, rawDelimiter string) (Serializer, error) {
	if format == "" {
		format = def
	}
	delim, err := ParseDelimiter(rawDelimiter)
	if err != nil {
		return nil, err
	}
	return NewSerializer(format, columns, delim)
}

// stream opens the cursor and runs the pipeline. Errors before the first
// byte get a JSON error response; later errors end the stream.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, req exportRequest) {
	ctx := r.Context()

	cur, err := h.store.Cursor(ctx, req.query)
	if err != nil {
		h.fail(w, req.op, apperr.Pipeline("open cursor", err))
		return
	}

	ser := req.pipeline.Serializer
	w.Header().Set("Content-Type", ser.ContentType())
	if req.download {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename(req.name, ser)))
	}

	stats, err := req.pipeline.Run(ctx, cur, w)
	if err != nil {
		h.notifier.Notify(req.op, err)
		if stats.Bytes == 0 {
			w.Header().Del("Content-Disposition")
			httpx.RespondAppError(w, err)
			return
		}
		log.Printf("❌ %s aborted after %d rows: %v", req.op, stats.Rows, err)
		return
	}

	log.Printf("✅ %s: %d rows in %d batches (%v)", req.op, stats.Rows, stats.Batches, stats.Duration)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.notifier.Notify(op, err)
	httpx.RespondAppError(w, err)
}

func parseBool(raw string) bool {
	b, _ := strconv.ParseBool(raw)
	return b
}
