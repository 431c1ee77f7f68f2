package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"

	"github.com/geogames2/openSenseMap-API/pkg/config"
	"github.com/geogames2/openSenseMap-API/pkg/httpx"
	"github.com/geogames2/openSenseMap-API/pkg/server/monitor"
	"github.com/geogames2/openSenseMap-API/pkg/storage"
)

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes int64          `json:"used_bytes"`
	MaxBytes  int64          `json:"max_bytes"`
	Store     *storage.Stats `json:"store,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string               `json:"status"`
	Version string               `json:"version"`
	Uptime  string               `json:"uptime"`
	Tasks   []monitor.TaskStatus `json:"tasks"`
}

// handleHealth returns service health status. Each task monitor is
// optional; a nil monitor is not reported.
func handleHealth(tasks ...*monitor.TaskMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK

		response := HealthResponse{
			Version: "1.0.0",
			Uptime:  time.Since(startTime).String(),
		}
		for _, tm := range tasks {
			if tm == nil {
				continue
			}
			status := tm.Status()
			if !status.Healthy {
				overallStatus = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
			response.Tasks = append(response.Tasks, status)
		}
		response.Status = overallStatus

		httpx.RespondJSON(w, statusCode, response)
	}
}

// handleStorageUsage returns current storage usage.
func handleStorageUsage(sm *monitor.StorageMonitor, store storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usedBytes, err := sm.GetUsage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), config.StatsTimeout)
		defer cancel()
		stats, err := store.Stats(ctx)
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}

		httpx.RespondJSON(w, http.StatusOK, StorageUsage{
			UsedBytes: usedBytes,
			MaxBytes:  sm.GetLimit(),
			Store:     stats,
		})
	}
}

// SetupRoutes configures all HTTP routes and returns the root handler with
// CORS applied.
func SetupRoutes(router *mux.Router, h Handlers, m Monitors, store storage.Storage, origins []string) http.Handler {
	router.Use(RequestLogger(log.Printf))

	// Measurement ingestion. /data must be registered before the
	// single sensor route, which would otherwise match it.
	router.HandleFunc("/boxes/{boxId}/data", h.Ingest.HandleBoxData).Methods("POST")
	router.HandleFunc("/boxes/{boxId}/{sensorId}", h.Ingest.HandleSensorValue).Methods("POST")

	// Streaming exports, gzip-compressed when the client accepts it
	router.Handle("/boxes/data", gzhttp.GzipHandler(http.HandlerFunc(h.Export.HandleBoxesExport))).Methods("GET")
	router.Handle("/boxes/{boxId}/data/{sensorId}", gzhttp.GzipHandler(http.HandlerFunc(h.Export.HandleSensorExport))).Methods("GET")

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/health", handleHealth(m.GC, m.Retention)).Methods("GET")
	api.HandleFunc("/storage", handleStorageUsage(m.Storage, store)).Methods("GET")
	api.HandleFunc("/ws", h.Hub.HandleWebSocket).Methods("GET")

	return corsHandler(origins).Handler(router)
}

// corsHandler allows every origin unless a list is configured.
func corsHandler(origins []string) *cors.Cors {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{"Content-Disposition"},
	}
	if len(origins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = origins
		opts.AllowCredentials = true
	}
	return cors.New(opts)
}
