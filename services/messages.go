package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"chat-client/api"
	"chat-client/models"
	"chat-client/store"
)

var (
	// ErrEmptyMessage rejects a send with neither text nor images.
	ErrEmptyMessage = errors.New("services: message has no content")

	// ErrMessageNotFound means the target of an edit/delete/reaction is not
	// in the store.
	ErrMessageNotFound = errors.New("services: message not found")
)

// Messages is the optimistic mutation pipeline: send, edit, delete and
// react flows. "Optimistic" here means the opposite of eager: local state
// changes only once the server acknowledged the mutation, and the store's
// id dedupe catches the case where the matching push event won the race.
type Messages struct {
	channel  Channel
	uploader Uploader
	fallback ReadFallback
	store    *store.Store
	log      *slog.Logger
}

// NewMessages wires the pipeline. fallback may be nil if no REST mark-read
// path exists.
func NewMessages(channel Channel, uploader Uploader, fallback ReadFallback, st *store.Store) *Messages {
	return &Messages{
		channel:  channel,
		uploader: uploader,
		fallback: fallback,
		store:    st,
		log:      slog.Default(),
	}
}

// Send uploads any attachments, emits the send event and inserts the
// acknowledged message into the store. Nothing is inserted before the ack;
// an upload or emit failure leaves local state untouched.
func (m *Messages) Send(ctx context.Context, conversationID, content string, attachments []api.Upload) (models.Message, error) {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return models.Message{}, ErrEmptyMessage
	}

	urls, err := m.uploader.UploadImages(ctx, attachments)
	if err != nil {
		return models.Message{}, fmt.Errorf("upload failed: %w", err)
	}

	payload := models.SendMessagePayload{
		ConversationID: conversationID,
		Content:        content,
		ImageURLs:      urls,
	}
	if replyTo, ok := m.store.ReplyTo(conversationID); ok {
		payload.ReplyToID = replyTo.ID
	}

	msg, err := callForMessage(ctx, m.channel, models.EventSendMessage, payload)
	if err != nil {
		return models.Message{}, err
	}

	m.store.AddMessage(conversationID, msg)
	m.store.NoteIncoming(conversationID, msg)
	m.store.ClearReplyTo(conversationID)
	return msg, nil
}

// Edit sends the diff of an edit. When neither the trimmed content nor the
// image set changed, the edit is silently cancelled: the draft is cleared
// and no network call happens. On failure the draft is retained so the
// user can retry.
func (m *Messages) Edit(ctx context.Context, conversationID, messageID, content string, removedImageIDs []string, newImages []api.Upload) error {
	original, ok := m.store.Message(conversationID, messageID)
	if !ok {
		return ErrMessageNotFound
	}

	if strings.TrimSpace(content) == original.TrimmedContent() &&
		len(removedImageIDs) == 0 && len(newImages) == 0 {
		m.store.ClearEditingMessage(conversationID)
		return nil
	}

	urls, err := m.uploader.UploadImages(ctx, newImages)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	edited, err := callForMessage(ctx, m.channel, models.EventEditMessage, models.EditMessagePayload{
		ConversationID:  conversationID,
		MessageID:       messageID,
		Content:         content,
		RemovedImageIDs: removedImageIDs,
		NewImageURLs:    urls,
	})
	if err != nil {
		return err
	}

	m.store.ApplyEdit(conversationID, edited)
	m.store.ClearEditingMessage(conversationID)
	return nil
}

// Delete removes a message after explicit confirmation. The message is not
// locally struck through until the server acknowledged, so a failure never
// shows a false "deleted" state.
func (m *Messages) Delete(ctx context.Context, conversationID, messageID string, confirm func() bool) error {
	if confirm != nil && !confirm() {
		return nil
	}

	ack, err := m.channel.Call(ctx, models.EventDeleteMessage, models.DeleteMessagePayload{
		ConversationID: conversationID,
		MessageID:      messageID,
	})
	if err != nil {
		return err
	}
	if !ack.Success {
		return ackError(ack)
	}

	m.store.MarkDeleted(conversationID, messageID)
	return nil
}

// ToggleReaction flips the viewer's reaction with one emoji on a message:
// reacting while already reacted removes it. Two toggles are identity.
func (m *Messages) ToggleReaction(ctx context.Context, conversationID, messageID, emoji string) error {
	if _, ok := m.store.Message(conversationID, messageID); !ok {
		return ErrMessageNotFound
	}

	event := models.EventAddReaction
	adding := true
	if m.store.HasReacted(conversationID, messageID, emoji) {
		event = models.EventRemoveReaction
		adding = false
	}

	ack, err := m.channel.Call(ctx, event, models.ReactionPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
		Emoji:          emoji,
	})
	if err != nil {
		return err
	}
	if !ack.Success {
		return ackError(ack)
	}

	m.store.ApplyReaction(conversationID, messageID, emoji, m.store.ViewerID(), adding)
	return nil
}

// MarkAsRead emits the read receipt over the socket, falling back to REST
// when the channel is down. The unread count is zeroed only once one of
// the two paths succeeded.
func (m *Messages) MarkAsRead(ctx context.Context, conversationID string) error {
	ack, err := m.channel.Call(ctx, models.EventMarkRead, models.ConversationPayload{
		ConversationID: conversationID,
	})
	switch {
	case err == nil && ack.Success:
	case m.fallback != nil:
		m.log.Debug("mark-read over socket failed, using REST fallback", "conversation", conversationID)
		if err := m.fallback.MarkRead(ctx, conversationID); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		return ackError(ack)
	}

	m.store.MarkConversationAsRead(conversationID)
	return nil
}

// callForMessage performs an ack call whose data payload is a Message.
func callForMessage(ctx context.Context, ch Channel, event string, payload any) (models.Message, error) {
	ack, err := ch.Call(ctx, event, payload)
	if err != nil {
		return models.Message{}, err
	}
	if !ack.Success {
		return models.Message{}, ackError(ack)
	}
	var msg models.Message
	if err := json.Unmarshal(ack.Data, &msg); err != nil {
		return models.Message{}, fmt.Errorf("malformed ack payload: %w", err)
	}
	return msg, nil
}

func ackError(ack models.Ack) error {
	if ack.Error != "" {
		return errors.New(ack.Error)
	}
	return errors.New("server rejected the operation")
}
