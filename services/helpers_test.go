package services_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"chat-client/api"
	"chat-client/models"
	"chat-client/transport"
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

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

type recordedCall struct {
	event   string
	payload any
}

// fakeChannel implements services.Channel and records every call and emit.
type fakeChannel struct {
	mu        sync.Mutex
	connected bool
	calls     []recordedCall
	emits     []recordedCall
	ackFn     func(event string, payload any) (models.Ack, error)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		connected: true,
		ackFn: func(string, any) (models.Ack, error) {
			return models.Ack{Success: true}, nil
		},
	}
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Call(ctx context.Context, event string, payload any) (models.Ack, error) {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return models.Ack{Success: false}, transport.ErrNotConnected
	}
	f.calls = append(f.calls, recordedCall{event: event, payload: payload})
	ackFn := f.ackFn
	f.mu.Unlock()
	return ackFn(event, payload)
}

func (f *fakeChannel) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	f.emits = append(f.emits, recordedCall{event: event, payload: payload})
	return nil
}

func (f *fakeChannel) callEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.event
	}
	return out
}

func (f *fakeChannel) emitEvents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.emits))
	for i, c := range f.emits {
		out[i] = c.event
	}
	return out
}

// fakeUploader implements services.Uploader.
type fakeUploader struct {
	mu    sync.Mutex
	urls  []string
	err   error
	calls int
}

func (f *fakeUploader) UploadImages(ctx context.Context, uploads []api.Upload) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(uploads) == 0 {
		return nil, nil
	}
	f.calls++
	return f.urls, f.err
}

func (f *fakeUploader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeHistory implements services.History, serving newest-first pages and
// optionally blocking until released.
type fakeHistory struct {
	mu      sync.Mutex
	pages   map[int][]models.Message
	calls   int
	release chan struct{} // nil means don't block
	err     error
}

func (f *fakeHistory) GetMessages(ctx context.Context, conversationID string, page, limit int) ([]models.Message, error) {
	f.mu.Lock()
	f.calls++
	release := f.release
	err := f.err
	out := append([]models.Message{}, f.pages[page]...)
	f.mu.Unlock()
	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeHistory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeFallback implements services.ReadFallback.
type fakeFallback struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeFallback) MarkRead(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

// fakeBus implements services.Bus and lets tests trigger pushes.
type fakeBus struct {
	handlers   map[string][]transport.Handler
	disconnect []func()
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string][]transport.Handler)}
}

func (f *fakeBus) Subscribe(event string, h transport.Handler) {
	f.handlers[event] = append(f.handlers[event], h)
}

func (f *fakeBus) OnDisconnect(fn func()) {
	f.disconnect = append(f.disconnect, fn)
}

func (f *fakeBus) push(t *testing.T, event string, payload any) {
	t.Helper()
	raw := mustMarshal(t, payload)
	for _, h := range f.handlers[event] {
		h(raw)
	}
}

func (f *fakeBus) drop() {
	for _, fn := range f.disconnect {
		fn()
	}
}
