package constants

import "time"

const (
	// ServerShutdownTimeout bounds graceful drain of in-flight requests.
	ServerShutdownTimeout = 5 * time.Second

	// DefaultQueueTimeout is the admission queue per-request budget.
	DefaultQueueTimeout = 300 * time.Second

	// TokenRefreshTimeout bounds a single OAuth refresh round-trip.
	TokenRefreshTimeout = 30 * time.Second

	// CredentialWatchDebounce coalesces bursty file change notifications.
	CredentialWatchDebounce = 300 * time.Millisecond
)
