package llm

// Role identifies the speaker of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Label is the speaker prefix used when a turn is rendered into a prompt.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// Turn is a single utterance in a conversation. Turns are the atomic unit of
// pruning: a turn is either kept whole or dropped.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Line renders the turn the way the backend sees it, e.g. "User: hi".
func (t Turn) Line() string {
	return t.Role.Label() + ": " + t.Content
}

// UserTurn returns a turn spoken by the user.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn returns a turn spoken by the assistant.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}
