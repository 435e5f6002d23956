package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// errorEnvelope mirrors the API's JSON error shape for responses written
// outside a handler.
type errorEnvelope struct {
	Error string `json:"error"`
}

// PanicResponder writes the response for a request whose handler panicked.
type PanicResponder func(w http.ResponseWriter, r *http.Request)

// Recover returns middleware that recovers from panics, logs the stack trace
// using slog, and hands the response to respond. It should be mounted after
// StructuredLogger so the request ID is available.
func Recover(respond PanicResponder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}

					slog.Error("panic recovered",
						"request_id", chimw.GetReqID(r.Context()),
						"panic", rec,
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					respond(w, r)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Recoverer is Recover with a 500 Internal Server Error JSON response.
func Recoverer(next http.Handler) http.Handler {
	return Recover(internalErrorJSON)(next)
}

func internalErrorJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(errorEnvelope{Error: "internal server error"}) //nolint:errcheck
}
