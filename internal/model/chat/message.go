package chat

// Role identifies who authored a history turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the history the caller keeps and resends.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is the payload accepted by the chat endpoint.
type Request struct {
	Message         string    `json:"message"`
	History         []Message `json:"history"`
	PropertyContext string    `json:"propertyContext,omitempty"`
	SessionID       string    `json:"sessionId,omitempty"`

	// PersonaID comes from the route, never from the body.
	PersonaID string `json:"-"`
}

// Reply is the conversational JSON answer used for canned replies and the
// non-streaming path.
type Reply struct {
	Reply             string `json:"reply"`
	SessionID         string `json:"sessionId"`
	RemainingMessages *int   `json:"remainingMessages,omitempty"`
	RateLimited       bool   `json:"rateLimited,omitempty"`
	CircuitOpen       bool   `json:"circuitOpen,omitempty"`
	Filtered          bool   `json:"filtered,omitempty"`
}

// Delta is the payload of one streamed SSE frame.
type Delta struct {
	Delta string `json:"delta"`
}

// StreamError is the payload of the single frame sent when the upstream fails
// after streaming has started.
type StreamError struct {
	Error bool `json:"error"`
}
