// Package store holds the normalized client-side chat state: conversations,
// per-conversation message timelines, typing and presence sets, and draft
// state. The store is the sole writer of this state; transport handlers,
// the paginator and the mutation pipeline only propose changes through its
// methods. Message timelines stay sorted ascending by creation time with
// unique ids no matter which of the three input paths (history fetch, push
// event, acknowledged send) delivered them.
package store

import (
	"sort"
	"sync"

	"chat-client/models"
)

type draft struct {
	replyTo *models.Message
	editing *models.Message
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	viewerID string

	conversations map[string]models.Conversation
	messages      map[string][]models.Message
	typing        map[string]map[string]struct{}
	online        map[string]struct{}
	presenceStale bool
	drafts        map[string]*draft
	active        string
}

// New returns an empty store. viewerID is the signed-in user, used to
// resolve HasReacted and read receipts.
func New(viewerID string) *Store {
	return &Store{
		viewerID:      viewerID,
		conversations: make(map[string]models.Conversation),
		messages:      make(map[string][]models.Message),
		typing:        make(map[string]map[string]struct{}),
		online:        make(map[string]struct{}),
		drafts:        make(map[string]*draft),
	}
}

// ViewerID returns the signed-in user's id.
func (s *Store) ViewerID() string {
	return s.viewerID
}

// --- conversations ---

// SetConversations replaces the whole conversation list.
func (s *Store) SetConversations(convs []models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[string]models.Conversation, len(convs))
	for _, c := range convs {
		s.conversations[c.ID] = c
	}
}

// UpdateConversation inserts or replaces one conversation.
func (s *Store) UpdateConversation(c models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
}

// Conversation returns a copy of one conversation.
func (s *Store) Conversation(id string) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	return c, ok
}

// Conversations returns all conversations, most recently updated first.
func (s *Store) Conversations() []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// NoteIncoming refreshes a conversation's last message and timestamp for a
// newly arrived message, bumping the unread count unless the conversation
// is the active one. Unread only ever goes back down through
// MarkConversationAsRead.
func (s *Store) NoteIncoming(conversationID string, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	m := msg
	c.LastMessage = &m
	c.UpdatedAt = msg.CreatedAt
	if conversationID != s.active && msg.SenderID != s.viewerID {
		c.UnreadCount++
	}
	s.conversations[conversationID] = c
}

// MarkConversationAsRead zeroes the unread count. This is the only way the
// count decreases.
func (s *Store) MarkConversationAsRead(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return
	}
	c.UnreadCount = 0
	s.conversations[conversationID] = c
}

// SetActiveConversation records which conversation is on screen; incoming
// messages there do not bump its unread count.
func (s *Store) SetActiveConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = id
}

// ActiveConversation returns the on-screen conversation id, empty if none.
func (s *Store) ActiveConversation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// --- message timelines ---

// SetMessages replaces a conversation's timeline with the given messages,
// sorted ascending by creation time and deduplicated by id.
func (s *Store) SetMessages(conversationID string, msgs []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[conversationID] = normalize(msgs)
}

// PrependMessages merges an older history page in front of the current
// timeline. Messages whose id is already held, or that are not strictly
// older than the current earliest message, are dropped, which makes
// re-fetching the same page idempotent.
func (s *Store) PrependMessages(conversationID string, older []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.messages[conversationID]
	if len(current) == 0 {
		s.messages[conversationID] = normalize(older)
		return
	}

	earliest := current[0].CreatedAt
	seen := idSet(current)
	accepted := make([]models.Message, 0, len(older))
	for _, m := range older {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		if !m.CreatedAt.Before(earliest) {
			continue
		}
		seen[m.ID] = struct{}{}
		accepted = append(accepted, m)
	}
	if len(accepted) == 0 {
		return
	}
	sortByCreatedAt(accepted)
	s.messages[conversationID] = append(accepted, current...)
}

// AddMessage inserts one message in timeline order. It reports false and
// leaves the timeline untouched when the id is already present, which is
// what protects against a push event and an acknowledgement both carrying
// the same logical message.
func (s *Store) AddMessage(conversationID string, msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timeline := s.messages[conversationID]
	for _, m := range timeline {
		if m.ID == msg.ID {
			return false
		}
	}
	// Insert before the first strictly newer message.
	at := sort.Search(len(timeline), func(i int) bool {
		return timeline[i].CreatedAt.After(msg.CreatedAt)
	})
	timeline = append(timeline, models.Message{})
	copy(timeline[at+1:], timeline[at:])
	timeline[at] = msg
	s.messages[conversationID] = timeline
	return true
}

// Messages returns a snapshot of the conversation's timeline. The
// snapshot shares nothing with the store, so readers may iterate it while
// mutations land.
func (s *Store) Messages(conversationID string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, len(s.messages[conversationID]))
	for i, m := range s.messages[conversationID] {
		out[i] = cloneMessage(m)
	}
	return out
}

// Message returns a detached copy of one message by id.
func (s *Store) Message(conversationID, messageID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages[conversationID] {
		if m.ID == messageID {
			return cloneMessage(m), true
		}
	}
	return models.Message{}, false
}

// ApplyEdit replaces the content, image set and edit timestamp of an
// existing message. Creation time never changes, so timeline order holds.
func (s *Store) ApplyEdit(conversationID string, edited models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	timeline := s.messages[conversationID]
	for i, m := range timeline {
		if m.ID == edited.ID {
			edited.CreatedAt = m.CreatedAt
			timeline[i] = edited
			return
		}
	}
}

// MarkDeleted flags a message as deleted without removing it from the
// timeline.
func (s *Store) MarkDeleted(conversationID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	timeline := s.messages[conversationID]
	for i := range timeline {
		if timeline[i].ID == messageID {
			timeline[i].IsDeleted = true
			return
		}
	}
}

// MarkMessagesReadBy applies a peer's read receipt to every message the
// viewer sent in the conversation.
func (s *Store) MarkMessagesReadBy(conversationID, readBy string) {
	if readBy == s.viewerID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	timeline := s.messages[conversationID]
	for i := range timeline {
		if timeline[i].SenderID == s.viewerID {
			timeline[i].IsRead = true
		}
	}
}

// --- reactions ---

// ApplyReaction records one user's emoji toggle on a message. added=false
// removes the user's reaction; counts never go negative and empty
// aggregates are dropped.
func (s *Store) ApplyReaction(conversationID, messageID, emoji, userID string, added bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	timeline := s.messages[conversationID]
	for i := range timeline {
		if timeline[i].ID != messageID {
			continue
		}
		timeline[i].Reactions = applyReaction(timeline[i].Reactions, emoji, added, userID == s.viewerID)
		return
	}
}

// HasReacted reports whether the viewer currently has the given emoji on
// the message.
func (s *Store) HasReacted(conversationID, messageID, emoji string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages[conversationID] {
		if m.ID != messageID {
			continue
		}
		for _, r := range m.Reactions {
			if r.Emoji == emoji {
				return r.HasReacted
			}
		}
	}
	return false
}

// applyReaction builds a fresh aggregate slice rather than editing the
// old one, which may still back a snapshot handed to a reader.
func applyReaction(reactions []models.MessageReaction, emoji string, added, byViewer bool) []models.MessageReaction {
	out := make([]models.MessageReaction, 0, len(reactions)+1)
	found := false
	for _, r := range reactions {
		if r.Emoji != emoji {
			out = append(out, r)
			continue
		}
		found = true
		if added {
			r.Count++
		} else {
			r.Count--
		}
		if byViewer {
			r.HasReacted = added
		}
		if r.Count > 0 {
			out = append(out, r)
		}
	}
	if !found && added {
		out = append(out, models.MessageReaction{Emoji: emoji, Count: 1, HasReacted: byViewer})
	}
	return out
}

// --- drafts ---

// SetReplyTo stages a message as the quoted reply target for a new message
// in the conversation.
func (s *Store) SetReplyTo(conversationID string, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draftFor(conversationID).replyTo = &msg
}

// ReplyTo returns the staged reply target, if any.
func (s *Store) ReplyTo(conversationID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.drafts[conversationID]
	if d == nil || d.replyTo == nil {
		return models.Message{}, false
	}
	return *d.replyTo, true
}

// ClearReplyTo drops the staged reply target.
func (s *Store) ClearReplyTo(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.drafts[conversationID]; d != nil {
		d.replyTo = nil
	}
}

// SetEditingMessage stages a message for editing. While an edit draft is
// active, typing signals are suppressed.
func (s *Store) SetEditingMessage(conversationID string, msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draftFor(conversationID).editing = &msg
}

// EditingMessage returns the message currently staged for editing.
func (s *Store) EditingMessage(conversationID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.drafts[conversationID]
	if d == nil || d.editing == nil {
		return models.Message{}, false
	}
	return *d.editing, true
}

// ClearEditingMessage drops the edit draft.
func (s *Store) ClearEditingMessage(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.drafts[conversationID]; d != nil {
		d.editing = nil
	}
}

func (s *Store) draftFor(conversationID string) *draft {
	d := s.drafts[conversationID]
	if d == nil {
		d = &draft{}
		s.drafts[conversationID] = d
	}
	return d
}

// --- typing ---

// SetTyping adds or removes a user from a conversation's typing set. The
// receiver trusts explicit stop events; there is no local expiry here.
func (s *Store) SetTyping(conversationID, userID string, typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.typing[conversationID]
	if typing {
		if set == nil {
			set = make(map[string]struct{})
			s.typing[conversationID] = set
		}
		set[userID] = struct{}{}
		return
	}
	delete(set, userID)
}

// TypingUsers returns the users currently typing in a conversation.
func (s *Store) TypingUsers(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.typing[conversationID]))
	for id := range s.typing[conversationID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// --- presence ---

// SetOnlineUsers caches a presence query result and marks the cache fresh.
func (s *Store) SetOnlineUsers(userIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		s.online[id] = struct{}{}
	}
	s.presenceStale = false
}

// SetOnline applies a single online/offline push.
func (s *Store) SetOnline(userID string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if online {
		s.online[userID] = struct{}{}
	} else {
		delete(s.online, userID)
	}
}

// IsOnline reports known presence. A stale cache (after a disconnect)
// reports everyone offline; presence is never assumed without
// connectivity.
func (s *Store) IsOnline(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.presenceStale {
		return false
	}
	_, ok := s.online[userID]
	return ok
}

// InvalidatePresence marks cached presence stale. Wired to the transport's
// disconnect hook.
func (s *Store) InvalidatePresence() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presenceStale = true
	s.online = make(map[string]struct{})
}

// --- helpers ---

// cloneMessage detaches a message from the store's backing storage.
func cloneMessage(m models.Message) models.Message {
	if len(m.Images) > 0 {
		m.Images = append([]models.MessageImage{}, m.Images...)
	}
	if len(m.Reactions) > 0 {
		m.Reactions = append([]models.MessageReaction{}, m.Reactions...)
	}
	if m.ReplyTo != nil {
		snap := *m.ReplyTo
		m.ReplyTo = &snap
	}
	if m.EditedAt != nil {
		ts := *m.EditedAt
		m.EditedAt = &ts
	}
	return m
}

func normalize(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	sortByCreatedAt(out)
	return out
}

func sortByCreatedAt(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

func idSet(msgs []models.Message) map[string]struct{} {
	set := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		set[m.ID] = struct{}{}
	}
	return set
}
