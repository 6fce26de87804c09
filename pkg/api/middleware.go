package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/containerd/errdefs"
)

// withMiddleware wraps next with request logging and the read-only guard
func (s *Server) withMiddleware(next http.Handler) http.Handler {
	h := next
	if s.opts.ReadOnly {
		h = s.readOnly(h)
	}
	return s.logRequests(h)
}

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying connection
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// readOnly rejects state-changing requests. Probes and metrics stay reachable.
func (s *Server) readOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isReadOnlyRequest(r) {
			s.writeError(w, r, fmt.Errorf("%s %s is not allowed on a read-only API: %w", r.Method, r.URL.Path, errdefs.ErrPermissionDenied))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isReadOnlyRequest(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
