package llm

// GenerateResponse is the result of a backend generate call.
type GenerateResponse struct {
	Results []Result `json:"results"`
}

// Result is a single generation candidate.
type Result struct {
	Text string `json:"text"`
}

// Text returns the first candidate's text, or "" when the backend produced none.
func (r *GenerateResponse) Text() string {
	if r == nil || len(r.Results) == 0 {
		return ""
	}
	return r.Results[0].Text
}

// TokenCountResponse is the result of a backend token count call.
type TokenCountResponse struct {
	Value int   `json:"value"`
	IDs   []int `json:"ids,omitempty"`
}

// ResultResponse wraps the string-valued info endpoints (model, api version).
type ResultResponse struct {
	Result string `json:"result"`
}

// ValueResponse wraps the integer-valued config endpoints.
type ValueResponse struct {
	Value int `json:"value"`
}

// VersionResponse is returned by the backend's extra version endpoint.
type VersionResponse struct {
	Result  string `json:"result"`
	Version string `json:"version"`
}

// PerfResponse holds the backend's recent performance counters.
type PerfResponse struct {
	LastProcess  float64 `json:"last_process"`
	LastEval     float64 `json:"last_eval"`
	LastTokenCnt int     `json:"last_token_count"`
	TotalGens    int     `json:"total_gens"`
	Queue        int     `json:"queue"`
	Idle         int     `json:"idle"`
	StopReason   int     `json:"stop_reason"`
	Uptime       float64 `json:"uptime"`
}
