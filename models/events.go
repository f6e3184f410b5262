package models

import "encoding/json"

// Socket event names. Client-to-server events may carry a frame id and
// receive an ack; server-to-client pushes never do.
const (
	// client -> server
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTyping            = "typing"
	EventStopTyping        = "stop_typing"
	EventMarkRead          = "mark_read"
	EventAddReaction       = "add_reaction"
	EventRemoveReaction    = "remove_reaction"
	EventEditMessage       = "edit_message"
	EventDeleteMessage     = "delete_message"
	EventGetOnlineUsers    = "get_online_users"

	// server -> client
	EventNewMessage      = "new_message"
	EventMessageEdited   = "message_edited"
	EventMessageDeleted  = "message_deleted"
	EventTypingStarted   = "typing_started"
	EventTypingStopped   = "typing_stopped"
	EventMessagesRead    = "messages_read"
	EventReactionAdded   = "reaction_added"
	EventReactionRemoved = "reaction_removed"
	EventUserOnline      = "user_online"
	EventUserOffline     = "user_offline"

	// ack envelope event name
	EventAck = "ack"
)

// Frame is the JSON envelope for every socket message in both directions.
// ID is set on client calls that expect an acknowledgement and echoed back
// on the matching ack frame; pushes leave it empty.
type Frame struct {
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Ack is the server's reply to one specific emitted frame, as opposed to a
// broadcast push.
type Ack struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// SendMessagePayload asks the server to create a message. The ack data is
// the created Message.
type SendMessagePayload struct {
	ConversationID string   `json:"conversation_id"`
	Content        string   `json:"content"`
	ReplyToID      string   `json:"reply_to_id,omitempty"`
	ImageURLs      []string `json:"image_urls,omitempty"`
}

// EditMessagePayload carries the diff of an edit, never the whole message.
type EditMessagePayload struct {
	ConversationID  string   `json:"conversation_id"`
	MessageID       string   `json:"message_id"`
	Content         string   `json:"content"`
	RemovedImageIDs []string `json:"removed_image_ids,omitempty"`
	NewImageURLs    []string `json:"new_image_urls,omitempty"`
}

type DeleteMessagePayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

type ReactionPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Emoji          string `json:"emoji"`
}

type ConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

type OnlineUsersPayload struct {
	UserIDs []string `json:"user_ids"`
}

// OnlineUsersResult is the ack data for EventGetOnlineUsers.
type OnlineUsersResult struct {
	Online []string `json:"online"`
}

// NewMessagePush is the payload of EventNewMessage, EventMessageEdited.
type NewMessagePush struct {
	ConversationID string  `json:"conversation_id"`
	Message        Message `json:"message"`
}

type MessageDeletedPush struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

type TypingPush struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type MessagesReadPush struct {
	ConversationID string `json:"conversation_id"`
	ReadBy         string `json:"read_by"`
}

type ReactionPush struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Emoji          string `json:"emoji"`
	UserID         string `json:"user_id"`
}

type PresencePush struct {
	UserID string `json:"user_id"`
}
