package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/loadflow/internal/logger"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// responseWriter captures HTTP status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware attaches a request-scoped logger to the context and
// logs method, path, status and duration once the request completes.
func LoggingMiddleware(base logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			rw.Header().Set(RequestIDHeader, requestID)

			log := base.With("request_id", requestID)
			ctx := logger.ContextWithLogger(r.Context(), log)

			next.ServeHTTP(rw, r.WithContext(ctx))

			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
			)
		})
	}
}
