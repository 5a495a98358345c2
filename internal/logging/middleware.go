package logging

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen bounds caller supplied ids.
const maxRequestIDLen = 128

type contextKey int

const ctxRequestID contextKey = iota

// RequestID returns the request id stored by Middleware, or "".
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxRequestID).(string)
	return v
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware assigns each request an id, echoes it in X-Request-ID and
// logs one line per request once the response is written. A well formed
// incoming X-Request-ID is kept.
func Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
			if id == "" || len(id) > maxRequestIDLen || strings.ContainsAny(id, "\r\n") {
				id = uuid.NewString()
			}

			w.Header().Set(RequestIDHeader, id)
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), ctxRequestID, id)))

			// The query is omitted: authorize redirects carry codes and state.
			attrs := []any{
				slog.String("request_id", id),
				slog.Int("status", sw.status),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Duration("latency", time.Since(start)),
				slog.String("user_agent", r.UserAgent()),
			}

			switch {
			case sw.status >= http.StatusInternalServerError:
				logger.Error("http request", attrs...)
			case sw.status >= http.StatusBadRequest:
				logger.Warn("http request", attrs...)
			default:
				logger.Debug("http request", attrs...)
			}
		})
	}
}
