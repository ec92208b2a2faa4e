package channel

import (
	"encoding/json"

	"github.com/taskora/chatsync/internal/model"
)

// Envelope is the JSON frame exchanged with the relay. Outbound frames that
// request an acknowledgment carry a fresh AckID; the relay echoes it on the
// matching "ack" frame.
type Envelope struct {
	Op    string          `json:"op"`
	Data  json.RawMessage `json:"d,omitempty"`
	AckID string          `json:"ack,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Client -> relay operations.
const (
	OpJoinConversation = "join_conversation"
	OpSendMessage      = "send_message"
)

// Relay -> client operations.
const (
	OpAck                 = "ack"
	OpNewMessage          = "new_message"
	OpMessageNotification = "message_notification"
)

// JoinPayload subscribes this connection to updates for a conversation.
type JoinPayload struct {
	ConversationID string `json:"conversationId"`
}

// SendMessagePayload carries an outbound message. ClientKey is duplicated
// outside the message body so older relay builds that strip unknown message
// fields still see it.
type SendMessagePayload struct {
	ConversationID string        `json:"conversationId"`
	Message        model.Message `json:"message"`
	ClientKey      string        `json:"clientKey"`
}

// NotificationPayload is the lightweight "something changed" signal.
type NotificationPayload struct {
	ConversationID string `json:"conversationId"`
	FromSelf       bool   `json:"fromSelf"`
}
