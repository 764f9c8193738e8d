package constants

import "time"

// HTTP transport defaults for the upstream client.
const (
	DefaultDialTimeout           = 10 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 30 * time.Second
	DefaultExpectContinueTimeout = 1 * time.Second

	BaseMaxIdleConns        = 100
	BaseMaxIdleConnsPerHost = 10
	IdleConnTimeout         = 90 * time.Second
)
