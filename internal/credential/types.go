package credential

import (
	"time"

	"antigravity2api-go/internal/constants"
)

// Record is the persisted shape of one account in the credentials file.
// Unknown keys in the file are preserved by the store on save.
type Record struct {
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token,omitempty"`
	// ExpiresIn is the token lifetime in seconds as reported by the
	// token endpoint.
	ExpiresIn int64 `json:"expires_in,omitempty"`
	// Timestamp is the wall-clock millisecond instant the access token
	// was obtained.
	Timestamp int64   `json:"timestamp,omitempty"`
	Enable    *bool   `json:"enable,omitempty"`
	ProjectID string  `json:"project_id,omitempty"`
	Remark    string  `json:"remark,omitempty"`
	Email     string  `json:"email,omitempty"`
	Extra     RawJSON `json:"-"`
}

// RawJSON keeps unknown file keys intact across a load/save round trip.
type RawJSON map[string]any

// Enabled reports whether the record is selectable. A missing enable
// key counts as enabled.
func (r *Record) Enabled() bool {
	return r.Enable == nil || *r.Enable
}

// TokenExpired reports whether the access token is missing or inside
// the expiry skew window at nowMS.
func (r *Record) TokenExpired(nowMS int64) bool {
	if r.AccessToken == "" || r.Timestamp == 0 || r.ExpiresIn == 0 {
		return true
	}
	return nowMS >= r.Timestamp+r.ExpiresIn*1000-constants.AccessTokenSkewMS
}

// Credential is the in-memory runtime view of one account. SessionID
// lives only here; it is regenerated on every load and never written
// back to the file.
type Credential struct {
	Record

	// SessionID is a process-local negative identifier sent upstream.
	SessionID int64 `json:"-"`

	// CooldownUntil is a wall-clock millisecond instant; zero means no
	// active cooldown.
	CooldownUntil int64 `json:"-"`
	// ActiveCount is the number of in-flight requests holding this
	// credential.
	ActiveCount int `json:"-"`
	// Consecutive429 counts rate-limit responses since the last
	// success.
	Consecutive429 int `json:"-"`
	// refreshing marks an in-flight token refresh; the scheduler skips
	// the credential until it clears.
	refreshing bool

	SuccessCount int64  `json:"-"`
	FailureCount int64  `json:"-"`
	RefreshCount int64  `json:"-"`
	LastError    string `json:"-"`
	LastUsedMS   int64  `json:"-"`
	LastStatus   int    `json:"-"`
	// LastOutcome is the classification of the most recent request,
	// one of the Outcome* labels. Empty until the first use.
	LastOutcome string `json:"-"`
}

// Outcome labels for the most recent request on a credential.
const (
	OutcomeUnused       = "unused"
	OutcomeSuccess      = "success"
	OutcomeRateLimited  = "rate_limited"
	OutcomeAuthFailed   = "auth_failed"
	OutcomeServerError  = "server_error"
	OutcomeNetworkError = "network_error"
	OutcomeError        = "error"
)

// Cooling reports whether the credential is inside a cooldown window.
func (c *Credential) Cooling(nowMS int64) bool {
	return c.CooldownUntil > nowMS
}

// Overloaded reports whether the credential has reached the per-token
// concurrency cap.
func (c *Credential) Overloaded(perToken int) bool {
	return c.ActiveCount >= perToken
}

// EffectiveStatus classifies the credential for stats reporting, in
// priority order disabled, active, rate_limited, idle. In-flight work
// outranks a concurrent cooldown.
func (c *Credential) EffectiveStatus(nowMS int64, perToken int) string {
	switch {
	case !c.Enabled():
		return StatusDisabled
	case c.ActiveCount > 0 || c.Overloaded(perToken):
		return StatusActive
	case c.Cooling(nowMS):
		return StatusRateLimited
	default:
		return StatusIdle
	}
}

// Status labels reported by GetAllStats and the stats endpoints.
const (
	StatusIdle        = "idle"
	StatusActive      = "active"
	StatusRateLimited = "rate_limited"
	StatusDisabled    = "disabled"
)

// TokenPrefix returns the first ten characters of the refresh token,
// used as a stable public identifier in stats output.
func (c *Credential) TokenPrefix() string {
	if len(c.RefreshToken) > 10 {
		return c.RefreshToken[:10]
	}
	return c.RefreshToken
}

// NowMS is the millisecond wall clock used across the package. Tests
// swap it for a deterministic clock.
var NowMS = func() int64 { return time.Now().UnixMilli() }
