package errors

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// RetryAfterMS extracts a rate-limit reset hint in milliseconds, checking in
// order of preference: the Retry-After header, google.rpc.RetryInfo
// retryDelay ("<float>s"), google.rpc.ErrorInfo metadata.quotaResetDelay
// ("<int>m<float>s"). Returns 0 when no hint is present.
func RetryAfterMS(header http.Header, body []byte) int64 {
	if header != nil {
		if ms, ok := ParseRetryAfterHeader(header.Get("Retry-After")); ok {
			return ms
		}
	}
	if len(body) == 0 {
		return 0
	}
	details := gjson.GetBytes(body, "error.details")
	if !details.IsArray() {
		return 0
	}
	var retryInfoMS, errorInfoMS int64
	details.ForEach(func(_, detail gjson.Result) bool {
		switch detail.Get("@type").String() {
		case "type.googleapis.com/google.rpc.RetryInfo":
			if ms, ok := parseSecondsDuration(detail.Get("retryDelay").String()); ok && retryInfoMS == 0 {
				retryInfoMS = ms
			}
		case "type.googleapis.com/google.rpc.ErrorInfo":
			if ms, ok := parseMinSecDuration(detail.Get("metadata.quotaResetDelay").String()); ok && errorInfoMS == 0 {
				errorInfoMS = ms
			}
		}
		return true
	})
	if retryInfoMS > 0 {
		return retryInfoMS
	}
	return errorInfoMS
}

// ParseRetryAfterHeader parses a Retry-After value as either delta-seconds
// or an HTTP-date, returning milliseconds.
func ParseRetryAfterHeader(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			secs = 0
		}
		return int64(secs) * 1000, true
	}
	layouts := []string{time.RFC1123, time.RFC1123Z, time.RFC850, time.ANSIC}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			d := time.Until(t)
			if d < 0 {
				d = 0
			}
			return d.Milliseconds(), true
		}
	}
	return 0, false
}

// parseSecondsDuration parses "<float>s" (e.g. "32.5s") into milliseconds.
func parseSecondsDuration(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	if v == "" || !strings.HasSuffix(v, "s") {
		return 0, false
	}
	secs, err := strconv.ParseFloat(strings.TrimSuffix(v, "s"), 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return int64(secs * 1000), true
}

// parseMinSecDuration parses "<int>m<float>s" (e.g. "1m30.5s"); the minute
// component is optional, so plain "<float>s" also parses.
func parseMinSecDuration(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	var totalMS int64
	if idx := strings.Index(v, "m"); idx >= 0 && !strings.HasPrefix(v[idx:], "ms") {
		mins, err := strconv.Atoi(v[:idx])
		if err != nil || mins < 0 {
			return 0, false
		}
		totalMS = int64(mins) * 60 * 1000
		v = v[idx+1:]
	}
	if v != "" {
		ms, ok := parseSecondsDuration(v)
		if !ok {
			return 0, false
		}
		totalMS += ms
	}
	return totalMS, totalMS >= 0
}
