package constants

const (
	// SSEScannerInitialBufferSize is the starting buffer for upstream SSE lines.
	SSEScannerInitialBufferSize = 64 * 1024
	// SSEScannerMaxBufferSize caps a single SSE line.
	SSEScannerMaxBufferSize = 10 * 1024 * 1024

	// DefaultMaxRequestSize caps ingress request bodies (bytes).
	DefaultMaxRequestSize = 50 * 1024 * 1024
)
