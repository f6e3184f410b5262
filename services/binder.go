package services

import (
	"encoding/json"

	"chat-client/models"
	"chat-client/store"
)

// BindPushEvents routes every server push into the store. Handlers run on
// the transport's read loop, so per-socket ordering carries straight
// through to the store; the store's own invariants take care of ordering
// against the other two input paths.
func BindPushEvents(bus Bus, st *store.Store) {
	bus.Subscribe(models.EventNewMessage, func(data json.RawMessage) {
		var p models.NewMessagePush
		if json.Unmarshal(data, &p) != nil {
			return
		}
		if st.AddMessage(p.ConversationID, p.Message) {
			st.NoteIncoming(p.ConversationID, p.Message)
		}
	})

	bus.Subscribe(models.EventMessageEdited, func(data json.RawMessage) {
		var p models.NewMessagePush
		if json.Unmarshal(data, &p) != nil {
			return
		}
		st.ApplyEdit(p.ConversationID, p.Message)
	})

	bus.Subscribe(models.EventMessageDeleted, func(data json.RawMessage) {
		var p models.MessageDeletedPush
		if json.Unmarshal(data, &p) != nil {
			return
		}
		st.MarkDeleted(p.ConversationID, p.MessageID)
	})

	bus.Subscribe(models.EventTypingStarted, func(data json.RawMessage) {
		var p models.TypingPush
		if json.Unmarshal(data, &p) != nil {
			return
		}
		st.SetTyping(p.ConversationID, p.UserID, true)
	})

	bus.Subscribe(models.EventTypingStopped, func(data json.RawMessage) {
		var p models.TypingPush
		if json.Unmarshal(data, &p) != nil {
			return
		}
		st.SetTyping(p.ConversationID, p.UserID, false)
	})

	bus.Subscribe(models.EventMessagesRead, func(data json.RawMessage) {
		var p models.MessagesReadPush
		if json.Unmarshal(data, &p) != nil {
			return
		}
		st.MarkMessagesReadBy(p.ConversationID, p.ReadBy)
	})

	bus.Subscribe(models.EventReactionAdded, func(data json.RawMessage) {
		var p models.ReactionPush
		if json.Unmarshal(data, &p) != nil {
			return
		}
		st.ApplyReaction(p.ConversationID, p.MessageID, p.Emoji, p.UserID, true)
	})

	bus.Subscribe(models.EventReactionRemoved, func(data json.RawMessage) {
		var p models.ReactionPush
		if json.Unmarshal(data, &p) != nil {
			return
		}
		st.ApplyReaction(p.ConversationID, p.MessageID, p.Emoji, p.UserID, false)
	})

	bus.Subscribe(models.EventUserOnline, func(data json.RawMessage) {
		var p models.PresencePush
		if json.Unmarshal(data, &p) != nil {
			return
		}
		st.SetOnline(p.UserID, true)
	})

	bus.Subscribe(models.EventUserOffline, func(data json.RawMessage) {
		var p models.PresencePush
		if json.Unmarshal(data, &p) != nil {
			return
		}
		st.SetOnline(p.UserID, false)
	})

	// Presence cannot be assumed once connectivity is lost.
	bus.OnDisconnect(st.InvalidatePresence)
}
