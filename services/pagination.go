package services

import (
	"context"
	"sync"

	"chat-client/models"
	"chat-client/store"
)

// ScrollHint tells the view what to do with the viewport after a merge.
type ScrollHint int

const (
	// ScrollNone: nothing was merged, leave the viewport alone.
	ScrollNone ScrollHint = iota
	// ScrollToBottom: jump to the newest message.
	ScrollToBottom
	// ScrollPreserve: keep the current reading position despite content
	// having been prepended above it.
	ScrollPreserve
)

type pageState struct {
	next      int
	inflight  bool
	exhausted bool
}

// Paginator merges REST history pages into the store without reordering or
// duplicating live-pushed messages. At most one fetch per conversation is
// in flight at a time.
type Paginator struct {
	history  History
	store    *store.Store
	pageSize int

	mu    sync.Mutex
	state map[string]*pageState
}

// NewPaginator returns a Paginator fetching pageSize messages at a time.
func NewPaginator(history History, st *store.Store, pageSize int) *Paginator {
	return &Paginator{
		history:  history,
		store:    st,
		pageSize: pageSize,
		state:    make(map[string]*pageState),
	}
}

// LoadInitial fetches the newest page and replaces the conversation's
// timeline with it. The view should jump to the newest message.
func (p *Paginator) LoadInitial(ctx context.Context, conversationID string) (ScrollHint, error) {
	st, ok := p.begin(conversationID, true)
	if !ok {
		return ScrollNone, nil
	}

	page, err := p.history.GetMessages(ctx, conversationID, 1, p.pageSize)
	p.finish(st, err == nil, 2, len(page) < p.pageSize)
	if err != nil {
		return ScrollNone, err
	}

	reverse(page) // server pages are newest-first
	p.store.SetMessages(conversationID, page)
	return ScrollToBottom, nil
}

// LoadOlder fetches the next older page and prepends it. nearBottom is the
// caller's proximity-to-bottom observation: a user who scrolled up to read
// history keeps their position, one hovering at the bottom is allowed to
// follow the tail.
func (p *Paginator) LoadOlder(ctx context.Context, conversationID string, nearBottom bool) (ScrollHint, error) {
	st, ok := p.begin(conversationID, false)
	if !ok {
		return ScrollNone, nil
	}

	page, err := p.history.GetMessages(ctx, conversationID, st.next, p.pageSize)
	p.finish(st, err == nil, st.next+1, len(page) < p.pageSize)
	if err != nil {
		return ScrollNone, err
	}
	if len(page) == 0 {
		return ScrollNone, nil
	}

	reverse(page)
	p.store.PrependMessages(conversationID, page)
	if nearBottom {
		return ScrollToBottom, nil
	}
	return ScrollPreserve, nil
}

// HasMore reports whether older pages may still exist.
func (p *Paginator) HasMore(conversationID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.state[conversationID]
	return st == nil || !st.exhausted
}

// begin claims the in-flight slot for a conversation. initial resets the
// cursor; a non-initial load refuses when exhausted.
func (p *Paginator) begin(conversationID string, initial bool) (*pageState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.state[conversationID]
	if st == nil {
		st = &pageState{next: 1}
		p.state[conversationID] = st
	}
	if st.inflight {
		return nil, false
	}
	if initial {
		st.next = 1
		st.exhausted = false
	} else if st.exhausted {
		return nil, false
	}
	st.inflight = true
	return st, true
}

func (p *Paginator) finish(st *pageState, advanced bool, next int, exhausted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st.inflight = false
	if advanced {
		st.next = next
		st.exhausted = exhausted
	}
}

func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
