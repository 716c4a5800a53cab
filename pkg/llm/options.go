package llm

// Options contains the sampling and formatting parameters of a generate call
// (KoboldCpp-compatible field names).
type Options struct {
	// Length parameters
	MaxLength        int `json:"max_length"`         // Max tokens to generate
	MaxContextLength int `json:"max_context_length"` // Context window the backend should use

	// Sampling parameters
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
	Typical     float64 `json:"typical"`
	TFS         float64 `json:"tfs"`
	Seed        int     `json:"sampler_seed,omitempty"`

	// Repetition control
	RepPen float64 `json:"rep_pen"`

	// Output formatting
	TrimIncomplete   bool `json:"frmttriminc"`
	RemoveBlankLines bool `json:"frmtrmblln"`
	SingleLine       bool `json:"singleline"`

	// Stop generation at these sequences
	StopSequence []string `json:"stop_sequence,omitempty"`
}
