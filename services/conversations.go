package services

import (
	"context"
	"log/slog"

	"chat-client/models"
	"chat-client/store"
)

// Conversations handles the conversation list and the open/close lifecycle
// of a single conversation view.
type Conversations struct {
	channel Channel
	lister  ConversationLister
	typing  *Typing
	store   *store.Store
	log     *slog.Logger
}

// NewConversations wires the conversation lifecycle service.
func NewConversations(channel Channel, lister ConversationLister, typing *Typing, st *store.Store) *Conversations {
	return &Conversations{
		channel: channel,
		lister:  lister,
		typing:  typing,
		store:   st,
		log:     slog.Default(),
	}
}

// Refresh replaces the store's conversation list from REST.
func (c *Conversations) Refresh(ctx context.Context) error {
	convs, err := c.lister.GetConversations(ctx)
	if err != nil {
		return err
	}
	c.store.SetConversations(convs)
	return nil
}

// Open joins the conversation's live-event room and marks it active so
// incoming messages there stop bumping the unread count.
func (c *Conversations) Open(ctx context.Context, conversationID string) error {
	ack, err := c.channel.Call(ctx, models.EventJoinConversation, models.ConversationPayload{
		ConversationID: conversationID,
	})
	if err != nil {
		return err
	}
	if !ack.Success {
		return ackError(ack)
	}
	c.store.SetActiveConversation(conversationID)
	return nil
}

// Close is the unmount path: it stops any pending typing timer (emitting
// the stop signal if needed), leaves the live-event room and clears the
// active conversation. Skipping any of these leaks a phantom typing
// indicator or a silent subscription.
func (c *Conversations) Close(conversationID string) {
	c.typing.Stop(conversationID)
	if err := c.channel.Emit(models.EventLeaveConversation, models.ConversationPayload{
		ConversationID: conversationID,
	}); err != nil {
		c.log.Debug("leave emit skipped", "conversation", conversationID, "error", err)
	}
	if c.store.ActiveConversation() == conversationID {
		c.store.SetActiveConversation("")
	}
}
