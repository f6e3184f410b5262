package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chat-client/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type hubClient struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
}

func (c *hubClient) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	default:
		// Slow consumer; drop rather than block the hub.
	}
}

func (c *hubClient) close() {
	c.once.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

// hub tracks connected clients per user and room membership per
// conversation.
type hub struct {
	mu      sync.Mutex
	clients map[string]map[*hubClient]struct{}
	rooms   map[string]map[*hubClient]struct{}
}

func newHub() *hub {
	return &hub{
		clients: make(map[string]map[*hubClient]struct{}),
		rooms:   make(map[string]map[*hubClient]struct{}),
	}
}

// add registers a client, reporting whether it is the user's first
// connection (i.e. the user just came online).
func (h *hub) add(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[c.userID]
	if set == nil {
		set = make(map[*hubClient]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	return len(set) == 1
}

// remove unregisters a client, reporting whether the user has no
// connections left (went offline).
func (h *hub) remove(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, members := range h.rooms {
		delete(members, c)
	}
	set := h.clients[c.userID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
		return true
	}
	return false
}

func (h *hub) join(conversationID string, c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[conversationID]
	if members == nil {
		members = make(map[*hubClient]struct{})
		h.rooms[conversationID] = members
	}
	members[c] = struct{}{}
}

func (h *hub) leave(conversationID string, c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[conversationID], c)
}

func (h *hub) online(userIDs []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := []string{}
	for _, id := range userIDs {
		if len(h.clients[id]) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// clientsOf snapshots every connection of a user.
func (h *hub) clientsOf(userID string) []*hubClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*hubClient, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		out = append(out, c)
	}
	return out
}

func (h *hub) everyone() []*hubClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*hubClient
	for _, set := range h.clients {
		for c := range set {
			out = append(out, c)
		}
	}
	return out
}

// handleWS upgrades the connection and pumps frames until the socket dies.
func (s *Server) handleWS(c *gin.Context) {
	userID, err := s.parseAccessToken(bearerToken(c.Request))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "message": "invalid or expired token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &hubClient{userID: userID, conn: conn, send: make(chan []byte, 32)}
	if s.hub.add(client) {
		s.broadcast(models.EventUserOnline, models.PresencePush{UserID: userID}, client)
	}
	go client.writePump()
	s.readPump(client)
}

func (c *hubClient) writePump() {
	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (s *Server) readPump(client *hubClient) {
	defer func() {
		if s.hub.remove(client) {
			s.broadcast(models.EventUserOffline, models.PresencePush{UserID: client.userID}, client)
		}
		client.close()
	}()

	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame models.Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			slog.Debug("dropping malformed frame", "user", client.userID)
			continue
		}
		s.handleFrame(client, frame)
	}
}

func (s *Server) handleFrame(client *hubClient, frame models.Frame) {
	switch frame.Event {
	case models.EventJoinConversation:
		var p models.ConversationPayload
		if json.Unmarshal(frame.Data, &p) != nil || !s.isParticipant(p.ConversationID, client.userID) {
			s.ack(client, frame.ID, false, "not a participant", nil)
			return
		}
		s.hub.join(p.ConversationID, client)
		s.ack(client, frame.ID, true, "", nil)

	case models.EventLeaveConversation:
		var p models.ConversationPayload
		if json.Unmarshal(frame.Data, &p) == nil {
			s.hub.leave(p.ConversationID, client)
		}
		s.ack(client, frame.ID, true, "", nil)

	case models.EventSendMessage:
		s.handleSend(client, frame)

	case models.EventEditMessage:
		s.handleEdit(client, frame)

	case models.EventDeleteMessage:
		s.handleDelete(client, frame)

	case models.EventTyping, models.EventStopTyping:
		var p models.ConversationPayload
		if json.Unmarshal(frame.Data, &p) != nil {
			return
		}
		pushEvent := models.EventTypingStarted
		if frame.Event == models.EventStopTyping {
			pushEvent = models.EventTypingStopped
		}
		s.pushToConversation(p.ConversationID, client.userID, pushEvent, models.TypingPush{
			ConversationID: p.ConversationID,
			UserID:         client.userID,
		})

	case models.EventMarkRead:
		var p models.ConversationPayload
		if json.Unmarshal(frame.Data, &p) != nil || !s.isParticipant(p.ConversationID, client.userID) {
			s.ack(client, frame.ID, false, "not a participant", nil)
			return
		}
		if err := s.markConversationRead(p.ConversationID, client.userID); err != nil {
			s.ack(client, frame.ID, false, "failed to mark read", nil)
			return
		}
		s.ack(client, frame.ID, true, "", nil)

	case models.EventAddReaction, models.EventRemoveReaction:
		s.handleReaction(client, frame)

	case models.EventGetOnlineUsers:
		var p models.OnlineUsersPayload
		if json.Unmarshal(frame.Data, &p) != nil {
			s.ack(client, frame.ID, false, "malformed payload", nil)
			return
		}
		s.ack(client, frame.ID, true, "", models.OnlineUsersResult{Online: s.hub.online(p.UserIDs)})

	default:
		s.ack(client, frame.ID, false, "unknown event", nil)
	}
}

func (s *Server) handleSend(client *hubClient, frame models.Frame) {
	var p models.SendMessagePayload
	if json.Unmarshal(frame.Data, &p) != nil || !s.isParticipant(p.ConversationID, client.userID) {
		s.ack(client, frame.ID, false, "not a participant", nil)
		return
	}

	msg := Message{
		ID:             newID(),
		ConversationID: p.ConversationID,
		SenderID:       client.userID,
		Content:        p.Content,
		ReplyToID:      p.ReplyToID,
		CreatedAt:      time.Now(),
	}
	if err := s.db.Create(&msg).Error; err != nil {
		s.ack(client, frame.ID, false, "failed to store message", nil)
		return
	}
	for i, url := range p.ImageURLs {
		s.db.Create(&MessageImage{ID: newID(), MessageID: msg.ID, URL: url, Ord: i})
	}
	s.db.Model(&Conversation{}).Where("id = ?", p.ConversationID).
		Updates(map[string]any{"last_message_id": msg.ID, "updated_at": msg.CreatedAt})

	s.ack(client, frame.ID, true, "", s.toClientMessage(msg, client.userID))
	s.pushMessage(p.ConversationID, client.userID, models.EventNewMessage, msg)
}

func (s *Server) handleEdit(client *hubClient, frame models.Frame) {
	var p models.EditMessagePayload
	if json.Unmarshal(frame.Data, &p) != nil {
		s.ack(client, frame.ID, false, "malformed payload", nil)
		return
	}
	var msg Message
	if err := s.db.Where("id = ? AND sender_id = ?", p.MessageID, client.userID).First(&msg).Error; err != nil {
		s.ack(client, frame.ID, false, "message not found", nil)
		return
	}

	now := time.Now()
	msg.Content = p.Content
	msg.EditedAt = &now
	if err := s.db.Save(&msg).Error; err != nil {
		s.ack(client, frame.ID, false, "failed to store edit", nil)
		return
	}
	if len(p.RemovedImageIDs) > 0 {
		s.db.Where("message_id = ? AND id IN ?", msg.ID, p.RemovedImageIDs).Delete(&MessageImage{})
	}
	var maxOrd int
	s.db.Model(&MessageImage{}).Where("message_id = ?", msg.ID).Select("COALESCE(MAX(ord), -1)").Scan(&maxOrd)
	for i, url := range p.NewImageURLs {
		s.db.Create(&MessageImage{ID: newID(), MessageID: msg.ID, URL: url, Ord: maxOrd + 1 + i})
	}

	s.ack(client, frame.ID, true, "", s.toClientMessage(msg, client.userID))
	s.pushMessage(p.ConversationID, client.userID, models.EventMessageEdited, msg)
}

func (s *Server) handleDelete(client *hubClient, frame models.Frame) {
	var p models.DeleteMessagePayload
	if json.Unmarshal(frame.Data, &p) != nil {
		s.ack(client, frame.ID, false, "malformed payload", nil)
		return
	}
	res := s.db.Model(&Message{}).
		Where("id = ? AND sender_id = ?", p.MessageID, client.userID).
		Update("is_deleted", true)
	if res.Error != nil || res.RowsAffected == 0 {
		s.ack(client, frame.ID, false, "message not found", nil)
		return
	}

	s.ack(client, frame.ID, true, "", nil)
	s.pushToConversation(p.ConversationID, client.userID, models.EventMessageDeleted, models.MessageDeletedPush{
		ConversationID: p.ConversationID,
		MessageID:      p.MessageID,
	})
}

// handleReaction acks success only when the toggle actually changed
// state. A duplicate add or a remove of a missing reaction is refused, so
// the client never applies a local change the server did not make (and
// did not push).
func (s *Server) handleReaction(client *hubClient, frame models.Frame) {
	var p models.ReactionPayload
	if json.Unmarshal(frame.Data, &p) != nil || !s.isParticipant(p.ConversationID, client.userID) {
		s.ack(client, frame.ID, false, "not a participant", nil)
		return
	}

	row := MessageReaction{MessageID: p.MessageID, UserID: client.userID, Emoji: p.Emoji}
	pushEvent := models.EventReactionAdded
	if frame.Event == models.EventAddReaction {
		var existing int64
		s.db.Model(&MessageReaction{}).
			Where("message_id = ? AND user_id = ? AND emoji = ?", p.MessageID, client.userID, p.Emoji).
			Count(&existing)
		if existing > 0 {
			s.ack(client, frame.ID, false, "already reacted", nil)
			return
		}
		if err := s.db.Create(&row).Error; err != nil {
			s.ack(client, frame.ID, false, "failed to store reaction", nil)
			return
		}
	} else {
		pushEvent = models.EventReactionRemoved
		res := s.db.Where("message_id = ? AND user_id = ? AND emoji = ?", p.MessageID, client.userID, p.Emoji).
			Delete(&MessageReaction{})
		if res.Error != nil || res.RowsAffected == 0 {
			s.ack(client, frame.ID, false, "not reacted", nil)
			return
		}
	}

	s.ack(client, frame.ID, true, "", nil)
	s.pushToConversation(p.ConversationID, client.userID, pushEvent, models.ReactionPush{
		ConversationID: p.ConversationID,
		MessageID:      p.MessageID,
		Emoji:          p.Emoji,
		UserID:         client.userID,
	})
}

// ack replies to one specific frame. Frames sent without an id get no ack.
func (s *Server) ack(client *hubClient, frameID string, success bool, errMsg string, data any) {
	if frameID == "" {
		return
	}
	ack := models.Ack{Success: success, Error: errMsg}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return
		}
		ack.Data = raw
	}
	payload, _ := json.Marshal(ack)
	frame, _ := json.Marshal(models.Frame{ID: frameID, Event: models.EventAck, Data: payload})
	client.enqueue(frame)
}

// pushMessage fans a message push out to both participants, rendering
// the message per recipient so viewer-relative fields like HasReacted
// survive the trip.
func (s *Server) pushMessage(conversationID, senderID, event string, msg Message) {
	var conv Conversation
	if err := s.db.Where("id = ?", conversationID).First(&conv).Error; err != nil {
		return
	}
	for _, userID := range []string{conv.ParticipantA, conv.ParticipantB} {
		if userID == senderID {
			continue
		}
		clients := s.hub.clientsOf(userID)
		if len(clients) == 0 {
			continue
		}
		raw, err := json.Marshal(models.NewMessagePush{
			ConversationID: conversationID,
			Message:        s.toClientMessage(msg, userID),
		})
		if err != nil {
			return
		}
		frame, _ := json.Marshal(models.Frame{Event: event, Data: raw})
		for _, c := range clients {
			c.enqueue(frame)
		}
	}
}

// pushToConversation fans a push event out to every connection of both
// participants except the originating client.
func (s *Server) pushToConversation(conversationID, senderID string, event string, data any) {
	var conv Conversation
	if err := s.db.Where("id = ?", conversationID).First(&conv).Error; err != nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	frame, _ := json.Marshal(models.Frame{Event: event, Data: raw})

	for _, userID := range []string{conv.ParticipantA, conv.ParticipantB} {
		for _, c := range s.hub.clientsOf(userID) {
			if c.userID == senderID {
				continue
			}
			c.enqueue(frame)
		}
	}
}

// broadcast sends a frame to every connected client except origin.
func (s *Server) broadcast(event string, data any, origin *hubClient) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	frame, _ := json.Marshal(models.Frame{Event: event, Data: raw})
	for _, c := range s.hub.everyone() {
		if c == origin {
			continue
		}
		c.enqueue(frame)
	}
}
