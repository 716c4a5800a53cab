package llm

// GenerateRequest is the body of a backend generate call.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
	Options
}

// TokenCountRequest is the body of a backend token count call.
type TokenCountRequest struct {
	Text string `json:"prompt"`
}
