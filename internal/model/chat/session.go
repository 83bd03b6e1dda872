package chat

import "time"

// Session is the in-memory admission state of one visitor conversation.
type Session struct {
	Key                 string    `json:"key"`
	MessageCount        int       `json:"messageCount"`
	StartedAt           time.Time `json:"startedAt"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
}
