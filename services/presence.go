package services

import (
	"context"
	"encoding/json"
	"errors"

	"chat-client/models"
	"chat-client/store"
	"chat-client/transport"
)

// Presence answers on-demand "who of these is online" queries. Presence is
// pull-based; the store's cache of the answer goes stale the moment the
// channel disconnects.
type Presence struct {
	channel Channel
	store   *store.Store
}

// NewPresence returns a presence controller.
func NewPresence(channel Channel, st *store.Store) *Presence {
	return &Presence{channel: channel, store: st}
}

// Query returns the subset of userIDs currently online and caches it. With
// the channel down it returns an empty result and no error.
func (p *Presence) Query(ctx context.Context, userIDs []string) ([]string, error) {
	if !p.channel.Connected() {
		return nil, nil
	}

	ack, err := p.channel.Call(ctx, models.EventGetOnlineUsers, models.OnlineUsersPayload{UserIDs: userIDs})
	if errors.Is(err, transport.ErrNotConnected) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !ack.Success {
		return nil, ackError(ack)
	}

	var result models.OnlineUsersResult
	if err := json.Unmarshal(ack.Data, &result); err != nil {
		return nil, err
	}
	p.store.SetOnlineUsers(result.Online)
	return result.Online, nil
}
