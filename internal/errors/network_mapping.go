package errors

import "strings"

// MapNetworkError classifies a transport failure. All variants share the
// network kind; the code distinguishes the cause for logs and stats.
func MapNetworkError(err error) *APIError {
	msg := err.Error()
	mapped := NewNetwork("network error: " + msg)
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		mapped.Code = "timeout"
	case strings.Contains(msg, "connection refused"):
		mapped.Code = "connection_refused"
	case strings.Contains(msg, "EOF") || strings.Contains(msg, "connection reset"):
		mapped.Code = "connection_reset"
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "name resolution"):
		mapped.Code = "dns_error"
	case strings.Contains(msg, "certificate") || strings.Contains(msg, "tls"):
		mapped.Code = "tls_error"
	case strings.Contains(msg, "context canceled"):
		mapped.Code = "request_canceled"
	}
	return mapped
}
