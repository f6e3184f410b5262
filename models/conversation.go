package models

import "time"

// User is the peer identity attached to a conversation.
type User struct {
	ID        string `json:"user_id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Conversation is a two-party thread plus its aggregate metadata.
type Conversation struct {
	ID          string    `json:"conversation_id"`
	Participant User      `json:"participant"`
	LastMessage *Message  `json:"last_message,omitempty"`
	UnreadCount int       `json:"unread_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}
