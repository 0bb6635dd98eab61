// Package middleware wraps the admin API handlers.
package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"andstatus/internal/metrics"

	"github.com/rs/zerolog"
)

// unmeasured paths are logged but kept out of the request metrics.
var unmeasured = map[string]bool{
	"/healthz": true,
	"/metrics": true,
}

// GetClientIP returns the address of the admin client. Behind a reverse
// proxy the first X-Forwarded-For hop wins, then X-Real-IP.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// LoggingMiddleware writes one structured entry per admin API request and
// records it in the HTTP metrics.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			elapsed := time.Since(start)

			event := eventFor(logger, rw.statusCode).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("query", r.URL.RawQuery).
				Int("status", rw.statusCode).
				Dur("duration", elapsed).
				Str("client_ip", GetClientIP(r)).
				Str("user_agent", r.UserAgent()).
				Int64("bytes_written", rw.bytesWritten).
				Str("proto", r.Proto)
			addRequestFields(event, r)
			if logger.GetLevel() == zerolog.DebugLevel {
				event.Interface("headers", flattenHeaders(r.Header))
			}
			event.Msgf("Admin API %s %s %d", r.Method, r.URL.Path, rw.statusCode)

			if unmeasured[r.URL.Path] {
				return
			}
			route := metrics.NormalizePath(r.URL.Path)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		})
	}
}

// eventFor logs server errors at error and client errors at warn.
func eventFor(logger zerolog.Logger, status int) *zerolog.Event {
	switch {
	case status >= http.StatusInternalServerError:
		return logger.Error()
	case status >= http.StatusBadRequest:
		return logger.Warn()
	default:
		return logger.Info()
	}
}

// addRequestFields adds the optional fields that are present on r: the
// account and timeline a query is about, and the proxy's request id.
func addRequestFields(event *zerolog.Event, r *http.Request) {
	q := r.URL.Query()
	for field, value := range map[string]string{
		"account":      q.Get("account"),
		"timeline":     q.Get("type"),
		"request_id":   r.Header.Get("X-Request-ID"),
		"referer":      r.Referer(),
		"content_type": r.Header.Get("Content-Type"),
	} {
		if value != "" {
			event.Str(field, value)
		}
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// responseWriter records what the handler wrote.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
