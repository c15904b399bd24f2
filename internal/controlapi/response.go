// Package controlapi is the conductor's control-plane HTTP surface:
// status, timeline replacement, mapping swap, and device add/remove,
// guarded by a bearer token on every mutating route.
//
// Grounded on internal/api (Handler/WriteJSON/WriteError/RecovererMiddleware)
// and internal/auth's chi + golang-jwt bearer middleware, both collapsed
// from sonos-hub-go's device-pairing token flow to a single operator
// credential (a static bearer token or an HS256 JWT), since this control
// plane has no device-pairing concept.
package controlapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/strefethen/playout-conductor/internal/apperrors"
)

// Handler adapts a handler that can fail into an http.Handler, serializing
// any returned error through WriteError.
type Handler func(w http.ResponseWriter, r *http.Request) error

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h(w, r); err != nil {
		WriteError(w, err)
	}
}

// WriteJSON writes payload as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteError serializes an error as the AppError's ErrorBody, preserving
// its status code.
func WriteError(w http.ResponseWriter, err error) {
	appErr := apperrors.EnsureAppError(err)
	_ = WriteJSON(w, appErr.StatusCode, appErr.ErrorBody())
}

// RecovererMiddleware converts panics in downstream handlers into 500s
// instead of crashing the conductor process.
func RecovererMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				log.Printf("controlapi: panic recovered: %v", recovered)
				WriteError(w, apperrors.NewInternalError("internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLoggerMiddleware logs every request the way sonos-hub-go's
// server.requestLoggerMiddleware does, scoped down to method/path/status.
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Printf("%s %s %d", r.Method, r.URL.Path, wrapped.status)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
