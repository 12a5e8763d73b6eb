package provider

import (
	"net/http"
	"strconv"
	"time"
)

// ParseRetryAfter interprets a Retry-After header value, either delta
// seconds or an HTTP date. Returns 0 when the value is absent or
// unparseable; callers fall back to DefaultBackoff.
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		d := time.Until(at)
		if d > 0 {
			return d
		}
	}
	return 0
}
