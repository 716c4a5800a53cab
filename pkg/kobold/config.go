package kobold

import "time"

// Config is the backend client configuration.
type Config struct {
	// BaseURL of the backend (e.g., "http://localhost:5001")
	BaseURL string

	// Timeout bounds every request. Generation can be slow on CPU backends.
	Timeout time.Duration
}

// DefaultTimeout is used when Config.Timeout is zero.
const DefaultTimeout = 5 * time.Minute
