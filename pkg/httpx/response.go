// Package httpx provides HTTP response utilities.
package httpx

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/geogames2/openSenseMap-API/pkg/apperr"
	"github.com/geogames2/openSenseMap-API/pkg/decode"
	"github.com/geogames2/openSenseMap-API/pkg/storage"
)

// RespondJSON writes a JSON response with the given status code and data.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Record  *int   `json:"record,omitempty"`
}

// RespondError writes an error response with the given status code and error message.
func RespondError(w http.ResponseWriter, status int, err error) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
	}
	RespondJSON(w, status, response)
}

// RespondErrorString writes an error response with the given status code and error message string.
func RespondErrorString(w http.ResponseWriter, status int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	}
	RespondJSON(w, status, response)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrBoxNotFound), errors.Is(err, storage.ErrSensorNotFound):
		return http.StatusNotFound
	case errors.Is(err, decode.ErrUnsupportedEncoding):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, decode.ErrMalformedBody):
		return http.StatusBadRequest
	}

	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindDecode, apperr.KindTime:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// RespondAppError writes err with the status StatusFor picks. Decode errors
// carry the index of the offending record.
func RespondAppError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
		Kind:    string(apperr.KindOf(err)),
	}

	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Record != apperr.NoRecord {
		record := ae.Record
		response.Record = &record
	}
	RespondJSON(w, status, response)
}
