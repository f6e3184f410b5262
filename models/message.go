package models

import (
	"strings"
	"time"
)

// Message is a single chat message as rendered by the client. Messages are
// owned by the store; everything else works on copies.
type Message struct {
	ID             string            `json:"message_id"`
	ConversationID string            `json:"conversation_id"`
	SenderID       string            `json:"sender_id"`
	Content        string            `json:"content"` // may be empty for image-only messages
	Images         []MessageImage    `json:"images,omitempty"`
	ReplyTo        *ReplySnapshot    `json:"reply_to,omitempty"`
	Reactions      []MessageReaction `json:"reactions,omitempty"`
	IsRead         bool              `json:"is_read"`
	IsDeleted      bool              `json:"is_deleted"`
	EditedAt       *time.Time        `json:"edited_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// MessageImage is an uploaded attachment. Local files that have not been
// uploaded yet are a different representation (api.Upload) and only become
// this type once the server has handed back a URL.
type MessageImage struct {
	ID    string `json:"image_id"`
	URL   string `json:"url"`
	Order int    `json:"order"`
}

// ReplySnapshot is a denormalized copy of the quoted message taken at send
// time. Edits or deletion of the original do not rewrite it.
type ReplySnapshot struct {
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	ImageURL  string `json:"image_url,omitempty"`
}

// MessageReaction is one emoji's aggregate on a message. HasReacted is
// relative to the viewing user.
type MessageReaction struct {
	Emoji      string `json:"emoji"`
	Count      int    `json:"count"`
	HasReacted bool   `json:"has_reacted"`
}

// TrimmedContent is the content as compared for edit no-op detection.
func (m Message) TrimmedContent() string {
	return strings.TrimSpace(m.Content)
}

// ImageIDs returns the ids of the message's images in order.
func (m Message) ImageIDs() []string {
	ids := make([]string, 0, len(m.Images))
	for _, img := range m.Images {
		ids = append(ids, img.ID)
	}
	return ids
}
