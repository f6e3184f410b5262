package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/models"
	"chat-client/store"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: "conv-1",
		SenderID:       "peer",
		Content:        "message " + id,
		CreatedAt:      base.Add(offset),
	}
}

func assertTimeline(t *testing.T, msgs []models.Message, wantIDs ...string) {
	t.Helper()
	ids := make([]string, 0, len(msgs))
	for i, m := range msgs {
		ids = append(ids, m.ID)
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(msgs[i-1].CreatedAt), "timeline out of order at %d", i)
		}
	}
	assert.Equal(t, wantIDs, ids)
}

func TestSetMessagesSortsAndDedupes(t *testing.T) {
	s := store.New("me")
	s.SetMessages("conv-1", []models.Message{
		msg("c", 3*time.Minute),
		msg("a", 1*time.Minute),
		msg("b", 2*time.Minute),
		msg("a", 1*time.Minute), // duplicate id
	})
	assertTimeline(t, s.Messages("conv-1"), "a", "b", "c")
}

func TestAddMessageKeepsOrderAcrossSources(t *testing.T) {
	s := store.New("me")
	s.SetMessages("conv-1", []models.Message{msg("a", 1*time.Minute), msg("c", 3*time.Minute)})

	// A push event arriving late still lands in timestamp order.
	assert.True(t, s.AddMessage("conv-1", msg("b", 2*time.Minute)))
	assertTimeline(t, s.Messages("conv-1"), "a", "b", "c")
}

func TestAddMessageRejectsDuplicateID(t *testing.T) {
	s := store.New("me")
	require.True(t, s.AddMessage("conv-1", msg("a", time.Minute)))
	assert.False(t, s.AddMessage("conv-1", msg("a", time.Minute)))
	assert.Len(t, s.Messages("conv-1"), 1)
}

func TestPrependMessagesRefetchIsIdempotent(t *testing.T) {
	s := store.New("me")
	s.SetMessages("conv-1", []models.Message{msg("d", 4*time.Minute), msg("e", 5*time.Minute)})

	older := []models.Message{msg("b", 2*time.Minute), msg("c", 3*time.Minute)}
	s.PrependMessages("conv-1", older)
	assertTimeline(t, s.Messages("conv-1"), "b", "c", "d", "e")

	// Fetching the same page again changes nothing.
	s.PrependMessages("conv-1", older)
	assertTimeline(t, s.Messages("conv-1"), "b", "c", "d", "e")
}

func TestPrependMessagesRejectsNonOlder(t *testing.T) {
	s := store.New("me")
	s.SetMessages("conv-1", []models.Message{msg("b", 2*time.Minute)})

	s.PrependMessages("conv-1", []models.Message{
		msg("a", 1*time.Minute),
		msg("z", 9*time.Minute), // newer than the earliest held message
	})
	assertTimeline(t, s.Messages("conv-1"), "a", "b")
}

func TestUnreadCountScenario(t *testing.T) {
	s := store.New("me")
	s.SetConversations([]models.Conversation{{ID: "conv-1", UnreadCount: 5}})

	s.MarkConversationAsRead("conv-1")
	conv, _ := s.Conversation("conv-1")
	assert.Equal(t, 0, conv.UnreadCount)

	// A fresh message from the peer starts the count at 1, not 6.
	s.NoteIncoming("conv-1", msg("n", 10*time.Minute))
	conv, _ = s.Conversation("conv-1")
	assert.Equal(t, 1, conv.UnreadCount)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "n", conv.LastMessage.ID)
}

func TestNoUnreadBumpForActiveConversationOrOwnMessages(t *testing.T) {
	s := store.New("me")
	s.SetConversations([]models.Conversation{{ID: "conv-1"}, {ID: "conv-2"}})

	s.SetActiveConversation("conv-1")
	s.NoteIncoming("conv-1", msg("a", time.Minute))
	conv, _ := s.Conversation("conv-1")
	assert.Equal(t, 0, conv.UnreadCount)

	own := msg("b", 2*time.Minute)
	own.SenderID = "me"
	s.NoteIncoming("conv-2", own)
	conv, _ = s.Conversation("conv-2")
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestApplyEditPreservesPosition(t *testing.T) {
	s := store.New("me")
	s.SetMessages("conv-1", []models.Message{msg("a", time.Minute), msg("b", 2*time.Minute)})

	edited := msg("a", time.Minute)
	edited.Content = "rewritten"
	now := base.Add(time.Hour)
	edited.EditedAt = &now
	edited.CreatedAt = now // must be ignored
	s.ApplyEdit("conv-1", edited)

	assertTimeline(t, s.Messages("conv-1"), "a", "b")
	got, ok := s.Message("conv-1", "a")
	require.True(t, ok)
	assert.Equal(t, "rewritten", got.Content)
	assert.Equal(t, base.Add(time.Minute), got.CreatedAt)
}

func TestMarkDeletedKeepsMessageInTimeline(t *testing.T) {
	s := store.New("me")
	s.SetMessages("conv-1", []models.Message{msg("a", time.Minute)})
	s.MarkDeleted("conv-1", "a")

	got, ok := s.Message("conv-1", "a")
	require.True(t, ok)
	assert.True(t, got.IsDeleted)
}

func TestMarkMessagesReadBy(t *testing.T) {
	s := store.New("me")
	mine := msg("a", time.Minute)
	mine.SenderID = "me"
	theirs := msg("b", 2*time.Minute)
	s.SetMessages("conv-1", []models.Message{mine, theirs})

	s.MarkMessagesReadBy("conv-1", "peer")

	got, _ := s.Message("conv-1", "a")
	assert.True(t, got.IsRead)
	got, _ = s.Message("conv-1", "b")
	assert.False(t, got.IsRead)
}

func TestReactionToggleIsIdentity(t *testing.T) {
	s := store.New("me")
	s.SetMessages("conv-1", []models.Message{msg("a", time.Minute)})

	s.ApplyReaction("conv-1", "a", "👍", "me", true)
	assert.True(t, s.HasReacted("conv-1", "a", "👍"))

	s.ApplyReaction("conv-1", "a", "👍", "me", false)
	assert.False(t, s.HasReacted("conv-1", "a", "👍"))
	got, _ := s.Message("conv-1", "a")
	assert.Empty(t, got.Reactions)
}

func TestReactionCountsSeparateViewers(t *testing.T) {
	s := store.New("me")
	s.SetMessages("conv-1", []models.Message{msg("a", time.Minute)})

	s.ApplyReaction("conv-1", "a", "👍", "peer", true)
	s.ApplyReaction("conv-1", "a", "👍", "me", true)

	got, _ := s.Message("conv-1", "a")
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, 2, got.Reactions[0].Count)
	assert.True(t, got.Reactions[0].HasReacted)

	s.ApplyReaction("conv-1", "a", "👍", "peer", false)
	got, _ = s.Message("conv-1", "a")
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, 1, got.Reactions[0].Count)
	assert.True(t, got.Reactions[0].HasReacted)
}

func TestSnapshotsAreDetachedFromLaterMutations(t *testing.T) {
	s := store.New("me")
	m := msg("a", time.Minute)
	m.Images = []models.MessageImage{{ID: "img-1", URL: "/uploads/a.jpg"}}
	s.SetMessages("conv-1", []models.Message{m})
	s.ApplyReaction("conv-1", "a", "👍", "peer", true)

	snapshot := s.Messages("conv-1")
	single, _ := s.Message("conv-1", "a")

	s.ApplyReaction("conv-1", "a", "👍", "me", true)
	s.ApplyReaction("conv-1", "a", "🎉", "me", true)

	require.Len(t, snapshot[0].Reactions, 1)
	assert.Equal(t, 1, snapshot[0].Reactions[0].Count)
	assert.False(t, snapshot[0].Reactions[0].HasReacted)
	require.Len(t, single.Reactions, 1)
	assert.Equal(t, 1, single.Reactions[0].Count)

	// Nor does writing into a snapshot reach the store.
	snapshot[0].Images[0].URL = "scribbled"
	got, _ := s.Message("conv-1", "a")
	assert.Equal(t, "/uploads/a.jpg", got.Images[0].URL)
}

func TestReadersRaceReactionPushes(t *testing.T) {
	s := store.New("me")
	s.SetMessages("conv-1", []models.Message{msg("a", time.Minute)})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			s.ApplyReaction("conv-1", "a", "👍", "peer", i%2 == 0)
		}
	}()
	for i := 0; i < 500; i++ {
		for _, m := range s.Messages("conv-1") {
			for _, r := range m.Reactions {
				_ = r.Count
			}
		}
	}
	<-done
}

func TestTypingSet(t *testing.T) {
	s := store.New("me")
	s.SetTyping("conv-1", "peer", true)
	assert.Equal(t, []string{"peer"}, s.TypingUsers("conv-1"))

	s.SetTyping("conv-1", "peer", false)
	assert.Empty(t, s.TypingUsers("conv-1"))
}

func TestPresenceGoesStaleOnInvalidate(t *testing.T) {
	s := store.New("me")
	s.SetOnlineUsers([]string{"peer"})
	assert.True(t, s.IsOnline("peer"))

	s.InvalidatePresence()
	assert.False(t, s.IsOnline("peer"))

	// A fresh query restores knowledge.
	s.SetOnlineUsers([]string{"peer"})
	assert.True(t, s.IsOnline("peer"))
}

func TestDrafts(t *testing.T) {
	s := store.New("me")
	s.SetReplyTo("conv-1", msg("a", time.Minute))
	replyTo, ok := s.ReplyTo("conv-1")
	require.True(t, ok)
	assert.Equal(t, "a", replyTo.ID)

	s.ClearReplyTo("conv-1")
	_, ok = s.ReplyTo("conv-1")
	assert.False(t, ok)

	s.SetEditingMessage("conv-1", msg("b", 2*time.Minute))
	_, ok = s.EditingMessage("conv-1")
	assert.True(t, ok)
	s.ClearEditingMessage("conv-1")
	_, ok = s.EditingMessage("conv-1")
	assert.False(t, ok)
}

func TestConversationsSortedByRecency(t *testing.T) {
	s := store.New("me")
	s.SetConversations([]models.Conversation{
		{ID: "old", UpdatedAt: base},
		{ID: "new", UpdatedAt: base.Add(time.Hour)},
	})
	convs := s.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "new", convs[0].ID)
}
