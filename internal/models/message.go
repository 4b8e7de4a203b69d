package models

import "time"

// Role identifies the author of a message in a chat.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the roles a chat message may carry.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single turn in a chat. Content of an assistant message starts
// empty and is filled in place once the reply arrives.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Pending reports whether the message is an assistant placeholder still
// waiting for its reply.
func (m Message) Pending() bool {
	return m.Role == RoleAssistant && m.Content == ""
}
