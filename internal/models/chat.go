package models

import "time"

// DefaultChatTitle is the title of a chat that has not received a message yet.
const DefaultChatTitle = "New Chat"

// Chat groups an ordered sequence of messages.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Starred   bool      `json:"starred,omitempty"`
}

// Clone returns a deep copy so callers can't mutate the owner's message slice.
func (c Chat) Clone() Chat {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// FindMessage returns the index of the message with the given id, or -1.
func (c Chat) FindMessage(id string) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}
