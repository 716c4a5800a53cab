package llm

import "encoding/json"

// InboundRequest is a chat request popped from the inbound queue.
// Fields are pointers so a missing id can be told apart from an empty one.
type InboundRequest struct {
	ID           *string `json:"id"`
	SessionToken *string `json:"sessionToken,omitempty"`
	UserMessage  *string `json:"userMessage"`
}

// OutboundResponse is published to the outbound queue and the response slot.
// Exactly one of Response or Error is populated. A successful response always
// carries the response key, even when the generation is empty.
type OutboundResponse struct {
	ID           string `json:"id"`
	UserMessage  string `json:"userMessage"`
	Response     string `json:"response,omitempty"`
	Error        string `json:"error,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`
}

type outboundWire struct {
	ID           string  `json:"id"`
	UserMessage  string  `json:"userMessage"`
	Response     *string `json:"response,omitempty"`
	Error        string  `json:"error,omitempty"`
	SessionToken string  `json:"sessionToken,omitempty"`
}

// MarshalJSON writes the response key for every successful response.
func (r OutboundResponse) MarshalJSON() ([]byte, error) {
	w := outboundWire{
		ID:           r.ID,
		UserMessage:  r.UserMessage,
		Error:        r.Error,
		SessionToken: r.SessionToken,
	}
	if r.Error == "" {
		w.Response = &r.Response
	}
	return json.Marshal(w)
}

// Failed reports whether the response carries an error.
func (r *OutboundResponse) Failed() bool {
	return r.Error != ""
}
