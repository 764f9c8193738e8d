package errors

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// MapUpstreamStatus classifies an upstream non-2xx response into the error
// taxonomy. The body is used for the message and, on 429, for reset hints.
func MapUpstreamStatus(statusCode int, header http.Header, body []byte) *APIError {
	msg := extractUpstreamMessage(body)

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewAuthentication(firstNonEmpty(msg, "upstream rejected credential"))
	case statusCode == http.StatusTooManyRequests:
		retryAfter := RetryAfterMS(header, body)
		return NewRateLimit(firstNonEmpty(msg, "upstream rate limit exceeded"), retryAfter)
	default:
		return NewAPI(statusCode, firstNonEmpty(msg, fmt.Sprintf("upstream error (%d)", statusCode)))
	}
}

func extractUpstreamMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
		return msg
	}
	msg := string(body)
	if len(msg) > 200 {
		return msg[:200] + "..."
	}
	return msg
}

func firstNonEmpty(strs ...string) string {
	for _, s := range strs {
		if s != "" {
			return s
		}
	}
	return ""
}
