package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapUpstreamStatus(t *testing.T) {
	err := MapUpstreamStatus(401, nil, []byte(`{"error":{"message":"bad token"}}`))
	require.Equal(t, KindAuthentication, err.Kind)
	require.Equal(t, http.StatusUnauthorized, err.HTTPStatus)
	require.Equal(t, "bad token", err.Message)

	err = MapUpstreamStatus(403, nil, nil)
	require.Equal(t, KindAuthentication, err.Kind)

	header := http.Header{}
	header.Set("Retry-After", "7")
	err = MapUpstreamStatus(429, header, nil)
	require.Equal(t, KindRateLimit, err.Kind)
	require.Equal(t, int64(7000), err.RetryAfterMS)

	err = MapUpstreamStatus(500, nil, nil)
	require.Equal(t, KindAPI, err.Kind)
	require.True(t, err.IsServerError())
	require.Equal(t, "upstream_500", err.Code)

	err = MapUpstreamStatus(404, nil, nil)
	require.Equal(t, KindAPI, err.Kind)
	require.False(t, err.IsServerError())
}

func TestToJSONEnvelope(t *testing.T) {
	err := NewValidation("model is required")
	require.JSONEq(t,
		`{"error":{"message":"model is required","type":"validation","code":"invalid_request"}}`,
		string(err.ToJSON()))
}

func TestAsAPIError(t *testing.T) {
	require.Nil(t, AsAPIError(nil))

	orig := NewQueueFull("full")
	require.Same(t, orig, AsAPIError(orig))

	wrapped := AsAPIError(fmt.Errorf("dial tcp: connection refused"))
	require.Equal(t, KindNetwork, wrapped.Kind)
}

func TestMapNetworkErrorCodes(t *testing.T) {
	cases := map[string]string{
		"dial tcp: i/o timeout":           "timeout",
		"dial tcp: connection refused":    "connection_refused",
		"unexpected EOF":                  "connection_reset",
		"lookup host: no such host":       "dns_error",
		"tls: bad certificate":            "tls_error",
		"Post \"x\": context canceled":    "request_canceled",
		"something else entirely strange": "network_error",
	}
	for msg, code := range cases {
		err := MapNetworkError(fmt.Errorf("%s", msg))
		require.Equal(t, code, err.Code, "message %q", msg)
		require.Equal(t, KindNetwork, err.Kind)
	}
}
