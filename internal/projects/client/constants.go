package client

import "time"

const (
	// DefaultTimeout is the standard timeout for upstream requests
	DefaultTimeout = 30 * time.Second

	// backoffBase is the first retry delay when the upstream rate-limits us
	backoffBase = 1000 * time.Millisecond

	// backoffCap bounds the exponential retry delay
	backoffCap = 10 * time.Second

	// maxRetries is the number of retries scheduled after the initial 429
	maxRetries = 3
)
