package gateway

import "time"

// Config is the gateway server configuration.
type Config struct {
	// Address to listen on (e.g., ":8080")
	ListenAddr string

	// Timeout bounds how long POST /chat waits for the worker's response.
	Timeout time.Duration
}

// DefaultTimeout is used when Config.Timeout is zero.
const DefaultTimeout = 60 * time.Second
