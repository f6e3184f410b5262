// Package services ties the transport, the REST client and the store
// together: history pagination, the optimistic mutation pipeline, typing
// and presence control, and the routing of push events into the store.
package services

import (
	"context"

	"chat-client/api"
	"chat-client/models"
	"chat-client/transport"
)

// Channel is the emit-with-acknowledgement surface of the connection
// manager. *transport.Manager satisfies it; tests use fakes.
type Channel interface {
	Connected() bool
	Call(ctx context.Context, event string, payload any) (models.Ack, error)
	Emit(event string, payload any) error
}

// Emitter is the fire-and-forget subset of Channel, enough for typing
// signals.
type Emitter interface {
	Emit(event string, payload any) error
}

// Bus is the subscription surface of the connection manager.
type Bus interface {
	Subscribe(event string, h transport.Handler)
	OnDisconnect(fn func())
}

// Uploader turns prepared image files into stable URLs. *api.Client
// satisfies it.
type Uploader interface {
	UploadImages(ctx context.Context, uploads []api.Upload) ([]string, error)
}

// History fetches newest-first message pages. *api.Client satisfies it.
type History interface {
	GetMessages(ctx context.Context, conversationID string, page, limit int) ([]models.Message, error)
}

// ConversationLister fetches the viewer's conversation list.
type ConversationLister interface {
	GetConversations(ctx context.Context) ([]models.Conversation, error)
}

// ReadFallback reports a conversation read over REST when the socket path
// is unavailable.
type ReadFallback interface {
	MarkRead(ctx context.Context, conversationID string) error
}
