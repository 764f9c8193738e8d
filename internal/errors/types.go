package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind discriminates error variants so the retry loop can match on them
// without inspecting strings.
type Kind int

const (
	KindValidation Kind = iota
	KindAuthentication
	KindRateLimit
	KindServiceUnavailable
	KindQueueFull
	KindTimeout
	KindAPI
	KindNetwork
	KindStream
	KindNoCredentials
)

// APIError is the standardized error carried across the scheduler, the retry
// loop and the ingress boundary.
type APIError struct {
	Kind       Kind
	HTTPStatus int
	Code       string
	Type       string
	Message    string
	// RetryAfterMS is set for rate-limit errors when the upstream supplied
	// a reset hint. The ingress maps it to a Retry-After header in seconds.
	RetryAfterMS int64
	// UpstreamStatus preserves the raw upstream HTTP status for API errors.
	UpstreamStatus int
}

// IsServerError reports whether the error wraps an upstream 5xx.
func (e *APIError) IsServerError() bool {
	return e.Kind == KindAPI && e.UpstreamStatus >= 500
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Type, e.HTTPStatus, e.Message)
}

// RetryAfterSeconds returns the ceiling of RetryAfterMS in seconds.
func (e *APIError) RetryAfterSeconds() int64 {
	if e.RetryAfterMS <= 0 {
		return 0
	}
	return (e.RetryAfterMS + 999) / 1000
}

// Envelope is the user-visible error shape: {"error":{message,type,code}}.
type Envelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

// ToJSON renders the OpenAI-style error envelope.
func (e *APIError) ToJSON() []byte {
	var env Envelope
	env.Error.Message = e.Message
	env.Error.Type = e.Type
	env.Error.Code = e.Code
	b, _ := json.Marshal(env)
	return b
}

// New constructs an APIError with an explicit kind.
func New(kind Kind, httpStatus int, code, errType, message string) *APIError {
	return &APIError{Kind: kind, HTTPStatus: httpStatus, Code: code, Type: errType, Message: message}
}

// NewValidation reports a malformed ingress request.
func NewValidation(message string) *APIError {
	return New(KindValidation, http.StatusBadRequest, "invalid_request", "validation", message)
}

// NewAuthentication reports a missing/invalid bearer key or an upstream
// credential rejection.
func NewAuthentication(message string) *APIError {
	return New(KindAuthentication, http.StatusUnauthorized, "invalid_api_key", "authentication_error", message)
}

// NewRateLimit reports exhausted rate-limit budget; retryAfterMS may be 0.
func NewRateLimit(message string, retryAfterMS int64) *APIError {
	err := New(KindRateLimit, http.StatusTooManyRequests, "rate_limit_exceeded", "rate_limit_error", message)
	err.RetryAfterMS = retryAfterMS
	return err
}

// NewServiceUnavailable reports that no credential can serve the request.
func NewServiceUnavailable(message string) *APIError {
	return New(KindServiceUnavailable, http.StatusServiceUnavailable, "service_unavailable", "service_unavailable", message)
}

// NewQueueFull reports admission queue saturation.
func NewQueueFull(message string) *APIError {
	return New(KindQueueFull, http.StatusServiceUnavailable, "queue_full", "queue_full", message)
}

// NewTimeout reports an admission queue timeout.
func NewTimeout(message string) *APIError {
	return New(KindTimeout, http.StatusGatewayTimeout, "timeout", "timeout", message)
}

// NewAPI reports an upstream failure that is not auth or rate-limit class.
// 5xx statuses remain retryable across credentials; other 4xx are terminal.
func NewAPI(upstreamStatus int, message string) *APIError {
	err := New(KindAPI, http.StatusInternalServerError, "api_error", "api_error", message)
	if upstreamStatus > 0 {
		err.Code = fmt.Sprintf("upstream_%d", upstreamStatus)
		err.UpstreamStatus = upstreamStatus
	}
	return err
}

// NewNetwork reports a transport-level failure.
func NewNetwork(message string) *APIError {
	return New(KindNetwork, http.StatusInternalServerError, "network_error", "network_error", message)
}

// NewStream reports a mid-stream failure after headers were committed.
func NewStream(message string) *APIError {
	return New(KindStream, http.StatusInternalServerError, "stream_error", "stream_error", message)
}

// NewNoCredentials reports that the credential pool is empty or unusable.
func NewNoCredentials(message string) *APIError {
	return New(KindNoCredentials, http.StatusServiceUnavailable, "no_credentials", "service_unavailable", message)
}

// AsAPIError unwraps err into an *APIError, wrapping unknown errors as
// network-class so the retry loop has a single shape to match on.
func AsAPIError(err error) *APIError {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	return NewNetwork(err.Error())
}
