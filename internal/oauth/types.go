package oauth

import "fmt"

// TokenResponse mirrors the OAuth2 token endpoint reply.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// RefreshError reports a non-2xx reply from the token endpoint.
type RefreshError struct {
	StatusCode int
	Body       string
	// RetryAfterMS is taken from the Retry-After header when present.
	RetryAfterMS int64
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed with status %d: %s", e.StatusCode, e.Body)
}

// IsAuthFailure reports whether the refresh token itself was rejected.
func (e *RefreshError) IsAuthFailure() bool {
	return e.StatusCode == 400 || e.StatusCode == 401 || e.StatusCode == 403
}
