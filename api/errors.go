package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kilianp07/chargeslot/core/model"
	"github.com/kilianp07/chargeslot/core/monitoring"
)

// ErrorBody is the JSON document returned for failed requests.
type ErrorBody struct {
	Code         string     `json:"code"`
	Error        string     `json:"error"`
	EarliestFree *time.Time `json:"earliest_free,omitempty"`
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case model.CodeNotFound:
		return http.StatusNotFound
	case model.CodeValidation:
		return http.StatusBadRequest
	case model.CodeUnverified:
		return http.StatusForbidden
	case model.CodeConflict:
		return http.StatusConflict
	case model.CodeUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := model.Code(err)
	body := ErrorBody{Code: code, Error: err.Error()}
	if code == model.CodeInternal {
		monitoring.CaptureException(err, map[string]string{"component": "api"})
		body.Error = "internal error"
	}
	var ce *model.ConflictError
	if errors.As(err, &ce) {
		t := ce.EarliestFree.UTC()
		body.EarliestFree = &t
	}
	writeJSON(w, StatusFor(code), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// recoverPanics turns a handler panic into a 500 response and reports it.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				monitoring.CapturePanic(v, map[string]string{"component": "api", "path": r.URL.Path})
				writeJSON(w, http.StatusInternalServerError, ErrorBody{Code: model.CodeInternal, Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
