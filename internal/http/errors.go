// Package httpapi exposes the kiosk's HTTP surface: scan control, the MJPEG
// preview, cart data, the kiosk pages and operational endpoints.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/fairyhunter13/scan-kiosk/internal/capture"
	"github.com/fairyhunter13/scan-kiosk/internal/session"
)

// jsonError is the body of every non-2xx JSON response.
type jsonError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteJSONError writes a JSON error payload with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, jsonError{Error: message, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type engineError struct {
	target  error
	status  int
	message string
	details string
}

// Engine failures in match order. An empty details uses the request's code.
var engineErrors = []engineError{
	{session.ErrNotRunning, http.StatusPreconditionFailed, "not_running", "start a scan session first"},
	{session.ErrUnknownCode, http.StatusNotFound, "unknown_code", ""},
	{session.ErrSuppressed, http.StatusConflict, "duplicate_scan", "same code scanned within the cool-down window"},
	{capture.ErrDeviceUnavailable, http.StatusServiceUnavailable, "device_unavailable", ""},
}

// writeEngineError maps a controller error to its status; anything unknown
// is a 500 tagged with fallback.
func writeEngineError(w http.ResponseWriter, err error, fallback, code string) {
	for _, e := range engineErrors {
		if !errors.Is(err, e.target) {
			continue
		}
		details := e.details
		if details == "" {
			details = code
		}
		WriteJSONError(w, e.status, e.message, details)
		return
	}
	WriteJSONError(w, http.StatusInternalServerError, fallback, err.Error())
}
