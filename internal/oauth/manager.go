package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"antigravity2api-go/internal/config"
	"antigravity2api-go/internal/constants"
	apierrors "antigravity2api-go/internal/errors"
)

// Manager exchanges refresh tokens for access tokens against the
// configured OAuth2 token endpoint.
type Manager struct {
	endpoint     oauth2.Endpoint
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// Options configures a Manager.
type Options struct {
	Config *config.Config
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// NewManager builds a Manager from configuration.
func NewManager(opts Options) *Manager {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: constants.TokenRefreshTimeout}
	}
	return &Manager{
		endpoint: oauth2.Endpoint{
			TokenURL: opts.Config.OAuth.TokenURL,
		},
		clientID:     opts.Config.OAuth.ClientID,
		clientSecret: opts.Config.OAuth.ClientSecret,
		httpClient:   client,
	}
}

// Refresh exchanges refreshToken for a fresh access token. A non-2xx
// endpoint reply returns *RefreshError; transport failures return a
// network-class error.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, apierrors.MapNetworkError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apierrors.MapNetworkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfterMS, _ := apierrors.ParseRetryAfterHeader(resp.Header.Get("Retry-After"))
		refreshErr := &RefreshError{
			StatusCode:   resp.StatusCode,
			Body:         truncateBody(string(body)),
			RetryAfterMS: retryAfterMS,
		}
		log.WithField("status", resp.StatusCode).Warn("token refresh rejected")
		return nil, refreshErr
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	log.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("token refresh succeeded")
	return &token, nil
}

func truncateBody(s string) string {
	const max = 300
	if len(s) > max {
		return s[:max]
	}
	return s
}
