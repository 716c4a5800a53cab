package broker

import "time"

// Config is the queue worker configuration.
type Config struct {
	// InboundQueue is the list chat requests are popped from.
	InboundQueue string

	// OutboundQueue is the list responses are pushed onto.
	OutboundQueue string

	// ResponseTTL bounds how long a response slot is kept. Zero keeps slots
	// until they are cleared by a reset.
	ResponseTTL time.Duration

	// PopTimeout bounds each blocking pop; the loop yields between pops.
	PopTimeout time.Duration

	// IdleDelay is slept after every iteration.
	IdleDelay time.Duration

	// ErrorBackoff is slept after an unexpected loop error.
	ErrorBackoff time.Duration

	// ConnectionBackoff is slept when the bus is unreachable.
	ConnectionBackoff time.Duration

	// ExtraQueues are additional lists cleared by Reset.
	ExtraQueues []string
}

// Default queue names.
const (
	DefaultInboundQueue  = "emotika_incoming"
	DefaultOutboundQueue = "emotika_response"
)

// DefaultConfig returns the standard worker configuration.
func DefaultConfig() Config {
	return Config{
		InboundQueue:      DefaultInboundQueue,
		OutboundQueue:     DefaultOutboundQueue,
		ResponseTTL:       12 * time.Hour,
		PopTimeout:        time.Second,
		IdleDelay:         100 * time.Millisecond,
		ErrorBackoff:      time.Second,
		ConnectionBackoff: 5 * time.Second,
		ExtraQueues:       []string{"llama_queue", "llama_response_queue"},
	}
}

// ResponsePrefix namespaces response slots on the bus.
const ResponsePrefix = "response:"

// ResponseKey returns the bus key of a request's response slot.
func ResponseKey(id string) string {
	return ResponsePrefix + id
}
