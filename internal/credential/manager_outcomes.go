package credential

import (
	"errors"

	log "github.com/sirupsen/logrus"

	apierrors "antigravity2api-go/internal/errors"
	"antigravity2api-go/internal/monitoring"
	"antigravity2api-go/internal/oauth"
)

// RecordSuccess marks a completed upstream request on c. Any active
// cooldown is cleared.
func (m *Manager) RecordSuccess(c *Credential) {
	m.mu.Lock()
	c.SuccessCount++
	c.Consecutive429 = 0
	c.CooldownUntil = 0
	c.LastStatus = 200
	c.LastOutcome = OutcomeSuccess
	c.LastError = ""
	m.mu.Unlock()
	m.notifyStats()
}

// RecordFailure applies the outcome of a failed upstream request.
// Rate limits start a cooldown sized by the upstream hint or the
// configured base delay. Auth rejections disable the credential and
// persist the change before returning. Server and transport errors
// clear any cooldown so the credential stays in rotation.
func (m *Manager) RecordFailure(c *Credential, apiErr *apierrors.APIError) {
	var persist []*Credential

	m.mu.Lock()
	c.FailureCount++
	c.LastError = apiErr.Message
	c.LastStatus = apiErr.UpstreamStatus
	c.LastOutcome = failureOutcome(apiErr)

	monitoring.CredentialErrorsTotal.WithLabelValues(errorClass(apiErr)).Inc()

	switch {
	case apiErr.Kind == apierrors.KindRateLimit:
		c.Consecutive429++
		cooldown := apiErr.RetryAfterMS
		if cooldown <= 0 {
			cooldown = m.baseCooldown
		}
		c.CooldownUntil = NowMS() + cooldown
		c.LastStatus = 429
		log.WithFields(log.Fields{
			"credential":  c.TokenPrefix(),
			"cooldown_ms": cooldown,
		}).Warn("credential rate limited")

	case apiErr.Kind == apierrors.KindAuthentication:
		disabled := false
		c.Enable = &disabled
		c.CooldownUntil = 0
		persist = m.snapshotLocked()
		log.WithField("credential", c.TokenPrefix()).Error("credential rejected by upstream, disabling")

	default:
		// 5xx and transport failures are not the credential's fault.
		c.CooldownUntil = 0
		c.Consecutive429 = 0
	}
	m.mu.Unlock()

	if persist != nil {
		if err := m.store.SaveAll(persist); err != nil {
			log.WithError(err).Error("failed to persist disabled credential")
		}
	}
	m.notifyStats()
}

func failureOutcome(apiErr *apierrors.APIError) string {
	switch {
	case apiErr.Kind == apierrors.KindRateLimit:
		return OutcomeRateLimited
	case apiErr.Kind == apierrors.KindAuthentication:
		return OutcomeAuthFailed
	case apiErr.IsServerError():
		return OutcomeServerError
	case apiErr.Kind == apierrors.KindNetwork, apiErr.Kind == apierrors.KindStream:
		return OutcomeNetworkError
	default:
		return OutcomeError
	}
}

func errorClass(apiErr *apierrors.APIError) string {
	switch {
	case apiErr.Kind == apierrors.KindRateLimit:
		return "rate_limit"
	case apiErr.Kind == apierrors.KindAuthentication:
		return "auth"
	case apiErr.IsServerError():
		return "server"
	case apiErr.Kind == apierrors.KindNetwork, apiErr.Kind == apierrors.KindStream:
		return "network"
	default:
		return "other"
	}
}

// handleRefreshFailure maps a token refresh failure onto credential
// state using the same transitions as request failures.
func (m *Manager) handleRefreshFailure(c *Credential, err error) {
	var refreshErr *oauth.RefreshError
	if errors.As(err, &refreshErr) {
		switch {
		case refreshErr.IsAuthFailure():
			m.RecordFailure(c, apierrors.NewAuthentication("refresh token rejected"))
		case refreshErr.StatusCode == 429:
			m.RecordFailure(c, apierrors.NewRateLimit("token endpoint rate limited", refreshErr.RetryAfterMS))
		default:
			m.RecordFailure(c, apierrors.NewAPI(refreshErr.StatusCode, "token refresh failed"))
		}
		return
	}
	m.RecordFailure(c, apierrors.AsAPIError(err))
}
