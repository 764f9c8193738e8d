package credential

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	apierrors "antigravity2api-go/internal/errors"
	"antigravity2api-go/internal/monitoring"
)

// ErrCredentialNotFound reports a lookup by token prefix that matched
// nothing.
var ErrCredentialNotFound = errors.New("credential not found")

// ErrAmbiguousPrefix reports a token prefix shared by more than one
// credential.
var ErrAmbiguousPrefix = errors.New("token prefix matches more than one credential")

// ReleaseFunc returns a credential slot. Calling it more than once is
// safe; only the first call decrements the active count.
type ReleaseFunc func()

// Acquire picks the best available credential, refreshing its access
// token first if needed. tried holds refresh tokens the caller already
// exhausted in this request; pass nil on the first attempt.
//
// When nothing is selectable the error explains why, in priority
// order: every candidate cooling down yields a rate-limit error with
// the shortest remaining cooldown, candidates blocked only by load
// yield a concurrency error, and an empty candidate set yields a
// no-credentials error.
func (m *Manager) Acquire(ctx context.Context, tried map[string]struct{}) (*Credential, ReleaseFunc, error) {
	skipped := make(map[string]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		m.mu.Lock()
		picked, selErr := m.selectLocked(tried, skipped)
		if selErr != nil {
			m.mu.Unlock()
			return nil, nil, selErr
		}

		if !picked.TokenExpired(NowMS()) {
			picked.ActiveCount++
			picked.LastUsedMS = NowMS()
			m.mu.Unlock()
			m.notifyStats()
			return picked, m.releaseFor(picked), nil
		}

		picked.refreshing = true
		m.mu.Unlock()

		refreshed := m.refreshToken(ctx, picked)

		m.mu.Lock()
		picked.refreshing = false
		if refreshed {
			picked.ActiveCount++
			picked.LastUsedMS = NowMS()
			m.mu.Unlock()
			m.notifyStats()
			return picked, m.releaseFor(picked), nil
		}
		m.mu.Unlock()
		m.notifyStats()

		// Refresh failed; the failure handler already adjusted state.
		// Keep this one out of the running for the rest of the call.
		skipped[picked.RefreshToken] = struct{}{}
	}
}

// selectLocked implements the selection walk. Caller holds m.mu.
func (m *Manager) selectLocked(tried, skipped map[string]struct{}) (*Credential, error) {
	now := NowMS()

	var (
		picked      *Credential
		candidates  int
		cooling     int
		minCooldown int64 = -1
	)

	for _, c := range m.creds {
		if !c.Enabled() {
			continue
		}
		if _, ok := tried[c.RefreshToken]; ok {
			continue
		}
		if _, ok := skipped[c.RefreshToken]; ok {
			continue
		}
		candidates++

		if c.Cooling(now) {
			cooling++
			if remaining := c.CooldownUntil - now; minCooldown < 0 || remaining < minCooldown {
				minCooldown = remaining
			}
			continue
		}
		if c.Overloaded(m.perToken) || c.refreshing {
			continue
		}
		if picked == nil || c.ActiveCount < picked.ActiveCount {
			picked = c
		}
	}

	if picked != nil {
		return picked, nil
	}

	switch {
	case candidates == 0:
		return nil, apierrors.NewNoCredentials("no available credentials")
	case cooling == candidates:
		return nil, apierrors.NewRateLimit("all credentials are rate limited", minCooldown)
	default:
		return nil, apierrors.NewServiceUnavailable(
			fmt.Sprintf("all credentials are at their concurrency limit (%d per credential)", m.perToken))
	}
}

func (m *Manager) releaseFor(c *Credential) ReleaseFunc {
	var released atomic.Bool
	return func() {
		if !released.CompareAndSwap(false, true) {
			return
		}
		m.mu.Lock()
		if c.ActiveCount > 0 {
			c.ActiveCount--
		}
		m.mu.Unlock()
		m.notifyStats()
	}
}

// refreshToken refreshes picked's access token and reports success.
// Auth rejections disable the credential and persist synchronously;
// rate limits start a cooldown; transport failures only record the
// error.
func (m *Manager) refreshToken(ctx context.Context, picked *Credential) bool {
	token, err := m.refresher.Refresh(ctx, picked.RefreshToken)
	if err != nil {
		monitoring.TokenRefreshesTotal.WithLabelValues("failure").Inc()
	} else {
		monitoring.TokenRefreshesTotal.WithLabelValues("success").Inc()
	}
	if err == nil {
		m.mu.Lock()
		picked.RefreshCount++
		picked.AccessToken = token.AccessToken
		picked.ExpiresIn = token.ExpiresIn
		picked.Timestamp = NowMS()
		if token.RefreshToken != "" && token.RefreshToken != picked.RefreshToken {
			picked.RefreshToken = token.RefreshToken
		}
		snapshot := m.snapshotLocked()
		m.mu.Unlock()

		if saveErr := m.store.SaveAll(snapshot); saveErr != nil {
			log.WithError(saveErr).Warn("failed to persist refreshed token")
		}
		return true
	}

	m.handleRefreshFailure(picked, err)
	return false
}
