package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/models"
	"chat-client/services"
	"chat-client/store"
)

func newBoundStore(t *testing.T) (*fakeBus, *store.Store) {
	t.Helper()
	bus := newFakeBus()
	st := store.New("me")
	services.BindPushEvents(bus, st)
	return bus, st
}

func TestNewMessagePushLandsInTimelineAndBumpsUnread(t *testing.T) {
	bus, st := newBoundStore(t)
	st.SetConversations([]models.Conversation{{ID: "conv-1"}})

	incoming := msg("a", time.Minute)
	bus.push(t, models.EventNewMessage, models.NewMessagePush{ConversationID: "conv-1", Message: incoming})

	require.Len(t, st.Messages("conv-1"), 1)
	conv, _ := st.Conversation("conv-1")
	assert.Equal(t, 1, conv.UnreadCount)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "a", conv.LastMessage.ID)
}

func TestDuplicatePushCountsOnce(t *testing.T) {
	bus, st := newBoundStore(t)
	st.SetConversations([]models.Conversation{{ID: "conv-1"}})

	push := models.NewMessagePush{ConversationID: "conv-1", Message: msg("a", time.Minute)}
	bus.push(t, models.EventNewMessage, push)
	bus.push(t, models.EventNewMessage, push)

	assert.Len(t, st.Messages("conv-1"), 1)
	conv, _ := st.Conversation("conv-1")
	assert.Equal(t, 1, conv.UnreadCount, "the id dedupe also guards the unread count")
}

func TestPushAfterOptimisticAckIsDeduped(t *testing.T) {
	bus, st := newBoundStore(t)
	st.SetConversations([]models.Conversation{{ID: "conv-1"}})

	// The acknowledgement inserted the message first…
	own := msg("a", time.Minute)
	own.SenderID = "me"
	st.AddMessage("conv-1", own)

	// …then the server's broadcast of the same message arrives.
	bus.push(t, models.EventNewMessage, models.NewMessagePush{ConversationID: "conv-1", Message: own})

	assert.Len(t, st.Messages("conv-1"), 1)
	conv, _ := st.Conversation("conv-1")
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestEditAndDeletePushes(t *testing.T) {
	bus, st := newBoundStore(t)
	st.SetMessages("conv-1", []models.Message{msg("a", time.Minute), msg("b", 2*time.Minute)})

	edited := msg("a", time.Minute)
	edited.Content = "rewritten"
	bus.push(t, models.EventMessageEdited, models.NewMessagePush{ConversationID: "conv-1", Message: edited})
	got, _ := st.Message("conv-1", "a")
	assert.Equal(t, "rewritten", got.Content)

	bus.push(t, models.EventMessageDeleted, models.MessageDeletedPush{ConversationID: "conv-1", MessageID: "b"})
	got, _ = st.Message("conv-1", "b")
	assert.True(t, got.IsDeleted)
}

func TestTypingPushes(t *testing.T) {
	bus, st := newBoundStore(t)

	bus.push(t, models.EventTypingStarted, models.TypingPush{ConversationID: "conv-1", UserID: "peer"})
	assert.Equal(t, []string{"peer"}, st.TypingUsers("conv-1"))

	bus.push(t, models.EventTypingStopped, models.TypingPush{ConversationID: "conv-1", UserID: "peer"})
	assert.Empty(t, st.TypingUsers("conv-1"))
}

func TestReadReceiptPush(t *testing.T) {
	bus, st := newBoundStore(t)
	mine := msg("a", time.Minute)
	mine.SenderID = "me"
	st.SetMessages("conv-1", []models.Message{mine})

	bus.push(t, models.EventMessagesRead, models.MessagesReadPush{ConversationID: "conv-1", ReadBy: "peer"})
	got, _ := st.Message("conv-1", "a")
	assert.True(t, got.IsRead)
}

func TestReactionPushesTrackViewer(t *testing.T) {
	bus, st := newBoundStore(t)
	st.SetMessages("conv-1", []models.Message{msg("a", time.Minute)})

	bus.push(t, models.EventReactionAdded, models.ReactionPush{
		ConversationID: "conv-1", MessageID: "a", Emoji: "👍", UserID: "peer",
	})
	got, _ := st.Message("conv-1", "a")
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, 1, got.Reactions[0].Count)
	assert.False(t, got.Reactions[0].HasReacted, "another viewer's reaction is not ours")

	bus.push(t, models.EventReactionRemoved, models.ReactionPush{
		ConversationID: "conv-1", MessageID: "a", Emoji: "👍", UserID: "peer",
	})
	got, _ = st.Message("conv-1", "a")
	assert.Empty(t, got.Reactions)
}

func TestPresencePushesAndDisconnectStaleness(t *testing.T) {
	bus, st := newBoundStore(t)

	bus.push(t, models.EventUserOnline, models.PresencePush{UserID: "peer"})
	assert.True(t, st.IsOnline("peer"))

	bus.push(t, models.EventUserOffline, models.PresencePush{UserID: "peer"})
	assert.False(t, st.IsOnline("peer"))

	bus.push(t, models.EventUserOnline, models.PresencePush{UserID: "peer"})
	bus.drop() // transport lost: cached presence is no longer trusted
	assert.False(t, st.IsOnline("peer"))
}
