// Package middleware holds the HTTP middleware for the operator API.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// scrubPatterns are substrings that indicate sensitive values in log output.
var scrubPatterns = []string{"passphrase", "password", "secret", "token", "credential", "authorization"}

// Logging returns middleware that logs each request with structured
// fields, scrubbing sensitive query parameters.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
			}
			if q := scrubQuery(r.URL.RawQuery); q != "" {
				attrs = append(attrs, slog.String("query", q))
			}
			logger.Info("http request", attrs...)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// scrubQuery redacts sensitive query parameter values.
func scrubQuery(raw string) string {
	if raw == "" {
		return ""
	}

	parts := strings.Split(raw, "&")
	for i, part := range parts {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		lower := strings.ToLower(kv[0])
		for _, pattern := range scrubPatterns {
			if strings.Contains(lower, pattern) {
				parts[i] = kv[0] + "=REDACTED"
				break
			}
		}
	}
	return strings.Join(parts, "&")
}
