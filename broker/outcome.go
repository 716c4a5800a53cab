package broker

// Outcome is the result of processing one inbound message.
type Outcome int

const (
	// OutcomeOK means a response was published.
	OutcomeOK Outcome = iota

	// OutcomeDropped means the message had no usable id and nothing was
	// published.
	OutcomeDropped

	// OutcomeFailed means processing failed; an error response was published
	// if the bus allowed it.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeDropped:
		return "dropped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the worker's position in its loop.
type State int32

const (
	StateIdle State = iota
	StatePopping
	StateProcessing
	StatePublishing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePopping:
		return "popping"
	case StateProcessing:
		return "processing"
	case StatePublishing:
		return "publishing"
	default:
		return "unknown"
	}
}
