package ingest

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
	"github.com/geogames2/openSenseMap-API/pkg/clock"
	"github.com/geogames2/openSenseMap-API/pkg/config"
	"github.com/geogames2/openSenseMap-API/pkg/decode"
	"github.com/geogames2/openSenseMap-API/pkg/httpx"
	"github.com/geogames2/openSenseMap-API/pkg/measurement"
	"github.com/geogames2/openSenseMap-API/pkg/notify"
	"github.com/geogames2/openSenseMap-API/pkg/storage"
)

// Handler handles measurement ingestion
type Handler struct {
	store          storage.Storage
	registry       *decode.Registry
	clock          clock.Clock
	hub            *Hub
	notifier       notify.Notifier
	storageChecker StorageChecker
}

// NewHandler creates a new ingest handler
func NewHandler(store storage.Storage, registry *decode.Registry, c clock.Clock) *Handler {
	if c == nil {
		c = clock.Real()
	}
	return &Handler{
		store:    store,
		registry: registry,
		clock:    c,
		notifier: notify.Discard{},
	}
}

// SetHub enables the live feed
func (h *Handler) SetHub(hub *Hub) {
	h.hub = hub
}

// SetNotifier sets where failures are reported
func (h *Handler) SetNotifier(n notify.Notifier) {
	if n != nil {
		h.notifier = n
	}
}

// SetStorageChecker enables the storage limit check
func (h *Handler) SetStorageChecker(c StorageChecker) {
	h.storageChecker = c
}

// IngestResponse represents the response payload
type IngestResponse struct {
	Status   string `json:"status"`
	Count    int    `json:"count"`
	Encoding string `json:"encoding"`
}

// HandleBoxData handles POST /boxes/{boxId}/data
// The body encoding is chosen from the Content-Type header.
func (h *Handler) HandleBoxData(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, config.IngestMaxBodyBytes)
	ms, enc, err := h.registry.DecodeContentType(r.Header.Get("Content-Type"), body, decode.Options{})
	h.accept(w, r, "ingest box data", ms, enc, err)
}

// HandleSensorValue handles POST /boxes/{boxId}/{sensorId}
// Body: {"value": ..., "createdAt": ..., "location": ...}
func (h *Handler) HandleSensorValue(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, config.IngestMaxBodyBytes)
	sensorID := mux.Vars(r)["sensorId"]
	ms, err := h.registry.Decode(decode.Single, body, decode.Options{SensorID: sensorID})
	h.accept(w, r, "ingest sensor value", ms, decode.Single, err)
}

// accept validates and stores a decoded batch
func (h *Handler) accept(w http.ResponseWriter, r *http.Request, op string, ms []measurement.Measurement, enc decode.Encoding, err error) {
	boxID := mux.Vars(r)["boxId"]

	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.notifier.Notify(op, err)
			httpx.RespondError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		h.fail(w, op, err)
		return
	}

	if err := checkStorage(h.storageChecker); err != nil {
		if errors.Is(err, ErrStorageLimit) {
			log.Printf("⚠️  Rejecting ingest for box %s: %v", boxID, err)
			h.notifier.Notify(op, err)
			httpx.RespondError(w, http.StatusInsufficientStorage, err)
			return
		}
		log.Printf("Failed to check storage usage: %v", err)
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	box, err := h.store.Box(ctx, boxID)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	if err := ValidateBatch(box, ms, h.clock.Now()); err != nil {
		h.fail(w, op, err)
		return
	}

	if err := h.store.Write(ctx, boxID, ms); err != nil {
		log.Printf("❌ Failed to store %d measurements for box %s: %v", len(ms), boxID, err)
		h.fail(w, op, apperr.Pipeline("store measurements", err))
		return
	}

	if h.hub != nil && h.hub.HasClients() {
		if err := h.hub.Broadcast(LiveUpdate{BoxID: boxID, Encoding: string(enc), Measurements: ms}); err != nil {
			log.Printf("Failed to broadcast update for box %s: %v", boxID, err)
		}
	}

	httpx.RespondJSON(w, http.StatusCreated, IngestResponse{
		Status:   "success",
		Count:    len(ms),
		Encoding: string(enc),
	})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.notifier.Notify(op, err)
	httpx.RespondAppError(w, err)
}
