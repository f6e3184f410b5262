package services

import (
	"sync"
	"time"

	"chat-client/models"
	"chat-client/store"
)

// Typing debounces the viewer's typing signal per conversation. A
// keystroke while idle emits "typing"; silence for the idle window emits
// "stop typing"; leaving the conversation forces the stop immediately.
// While an edit draft is active no signals are emitted at all; editing is
// not typing a new message.
type Typing struct {
	emitter Emitter
	store   *store.Store
	idle    time.Duration
	after   func(time.Duration, func()) *time.Timer

	mu     sync.Mutex
	seq    map[string]uint64
	timers map[string]*time.Timer
	active map[string]bool
}

// TypingOption configures a Typing controller.
type TypingOption func(*Typing)

// WithTimerFunc overrides how the inactivity timer is armed, so tests can
// drive expiry by hand.
func WithTimerFunc(fn func(time.Duration, func()) *time.Timer) TypingOption {
	return func(t *Typing) { t.after = fn }
}

// NewTyping returns a controller with the given inactivity window
// (typically 2s, injectable for tests).
func NewTyping(emitter Emitter, st *store.Store, idle time.Duration, opts ...TypingOption) *Typing {
	t := &Typing{
		emitter: emitter,
		store:   st,
		idle:    idle,
		after:   time.AfterFunc,
		seq:     make(map[string]uint64),
		timers:  make(map[string]*time.Timer),
		active:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Keystroke records input activity in a conversation. The first keystroke
// after idleness emits the start signal; every keystroke resets the
// inactivity timer.
func (t *Typing) Keystroke(conversationID string) {
	if _, editing := t.store.EditingMessage(conversationID); editing {
		return
	}

	t.mu.Lock()
	start := !t.active[conversationID]
	t.active[conversationID] = true
	t.seq[conversationID]++
	seq := t.seq[conversationID]
	if timer, ok := t.timers[conversationID]; ok {
		timer.Stop()
	}
	t.timers[conversationID] = t.after(t.idle, func() { t.expire(conversationID, seq) })
	t.mu.Unlock()

	if start {
		t.emitter.Emit(models.EventTyping, models.ConversationPayload{ConversationID: conversationID})
	}
}

// Stop forces the idle state right now, emitting the stop signal if the
// viewer was typing. Safe to call repeatedly; the signal goes out once.
func (t *Typing) Stop(conversationID string) {
	t.mu.Lock()
	wasActive := t.active[conversationID]
	delete(t.active, conversationID)
	if timer, ok := t.timers[conversationID]; ok {
		timer.Stop()
		delete(t.timers, conversationID)
	}
	t.mu.Unlock()

	if wasActive {
		t.emitter.Emit(models.EventStopTyping, models.ConversationPayload{ConversationID: conversationID})
	}
}

// expire handles one timer firing. Stopping an already-fired timer is a
// no-op, so a keystroke landing as its old timer fires would still see
// that expiry run; the seq check makes such a stale expiry inert and
// leaves the keystroke's own timer in charge of the stop.
func (t *Typing) expire(conversationID string, seq uint64) {
	t.mu.Lock()
	if seq != t.seq[conversationID] || !t.active[conversationID] {
		t.mu.Unlock()
		return
	}
	delete(t.active, conversationID)
	delete(t.timers, conversationID)
	t.mu.Unlock()

	t.emitter.Emit(models.EventStopTyping, models.ConversationPayload{ConversationID: conversationID})
}
