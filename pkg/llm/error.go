// Package llm provides the wire representations exchanged with the text
// generation backend and over the broker's queues.
package llm

// ErrorResponse represents an error body returned by the backend or the gateway.
type ErrorResponse struct {
	Error string `json:"error"`
}
