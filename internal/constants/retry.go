package constants

const (
	// DefaultMaxRetries caps credential rotation attempts per request.
	DefaultMaxRetries = 3

	// DefaultCooldownMS is applied on 429 when the upstream supplies no
	// Retry-After hint. Short on purpose: the scheduler rotates to another
	// credential instead of backing off on one.
	DefaultCooldownMS = 2000

	// AccessTokenSkewMS treats tokens as expired this long before their
	// wall-clock expiry.
	AccessTokenSkewMS = 300000

	// DefaultPerTokenConcurrency bounds in-flight requests per credential.
	DefaultPerTokenConcurrency = 2

	// AutoConcurrencyMax clamps concurrency.maxConcurrent="auto".
	AutoConcurrencyMax = 100
)
