package credential

import "math"

// CredentialStats is the public view of one credential's runtime
// state. The refresh token is reduced to its ten character prefix.
type CredentialStats struct {
	Index               int    `json:"index"`
	TokenPrefix         string `json:"token_prefix"`
	ProjectID           string `json:"project_id"`
	Email               string `json:"email,omitempty"`
	Remark              string `json:"remark,omitempty"`
	Status              string `json:"status"`
	Enabled             bool   `json:"enabled"`
	ActiveCount         int    `json:"active_count"`
	SuccessCount        int64  `json:"success_count"`
	FailureCount        int64  `json:"failure_count"`
	RefreshCount        int64  `json:"refresh_count"`
	Consecutive429      int    `json:"consecutive_429"`
	CooldownRemainingMS int64  `json:"cooldown_remaining_ms"`
	// SuccessRate is the success fraction as a percentage with one
	// decimal; zero until the credential has handled a request.
	SuccessRate float64 `json:"success_rate"`
	LastOutcome string  `json:"last_outcome"`
	LastUsedMS  int64   `json:"last_used_ms,omitempty"`
	LastError   string  `json:"last_error,omitempty"`
}

// StatsSummary aggregates credential counts by effective status.
type StatsSummary struct {
	Total       int `json:"total"`
	Enabled     int `json:"enabled"`
	Idle        int `json:"idle"`
	Active      int `json:"active"`
	RateLimited int `json:"rate_limited"`
	Disabled    int `json:"disabled"`
	InFlight    int `json:"in_flight"`

	TotalSuccess int64 `json:"total_success"`
	TotalFailure int64 `json:"total_failure"`
}

// Stats is the full snapshot served by the stats endpoints.
type Stats struct {
	Credentials []CredentialStats `json:"credentials"`
	Summary     StatsSummary      `json:"summary"`
}

// GetAllStats builds a consistent snapshot of every credential.
func (m *Manager) GetAllStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := NowMS()
	out := Stats{Credentials: make([]CredentialStats, 0, len(m.creds))}
	out.Summary.Total = len(m.creds)

	for i, c := range m.creds {
		status := c.EffectiveStatus(now, m.perToken)

		var remaining int64
		if c.CooldownUntil > now {
			remaining = c.CooldownUntil - now
		}

		outcome := c.LastOutcome
		if outcome == "" {
			outcome = OutcomeUnused
		}

		var rate float64
		if total := c.SuccessCount + c.FailureCount; total > 0 {
			rate = math.Round(float64(c.SuccessCount)/float64(total)*1000) / 10
		}

		out.Credentials = append(out.Credentials, CredentialStats{
			Index:               i,
			TokenPrefix:         c.TokenPrefix(),
			ProjectID:           c.ProjectID,
			Email:               c.Email,
			Remark:              c.Remark,
			Status:              status,
			Enabled:             c.Enabled(),
			ActiveCount:         c.ActiveCount,
			SuccessCount:        c.SuccessCount,
			FailureCount:        c.FailureCount,
			RefreshCount:        c.RefreshCount,
			Consecutive429:      c.Consecutive429,
			CooldownRemainingMS: remaining,
			SuccessRate:         rate,
			LastOutcome:         outcome,
			LastUsedMS:          c.LastUsedMS,
			LastError:           c.LastError,
		})

		if c.Enabled() {
			out.Summary.Enabled++
		}
		out.Summary.InFlight += c.ActiveCount
		out.Summary.TotalSuccess += c.SuccessCount
		out.Summary.TotalFailure += c.FailureCount
		switch status {
		case StatusIdle:
			out.Summary.Idle++
		case StatusActive:
			out.Summary.Active++
		case StatusRateLimited:
			out.Summary.RateLimited++
		case StatusDisabled:
			out.Summary.Disabled++
		}
	}
	return out
}
