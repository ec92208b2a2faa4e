package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the synchronization core. Subscribers filter by
// namespace prefix, e.g. "channel." receives every channel lifecycle and
// inbound-frame event.
const (
	KindChannelConnected    = "channel.connected"
	KindChannelDisconnected = "channel.disconnected"
	KindChannelNewMessage   = "channel.new_message"
	KindChannelNotification = "channel.message_notification"

	KindConversationUpdated = "conversation.updated"
	KindConversationList    = "conversation.list_changed"

	// message.appended, message.reconciled and message.failed carry a
	// model.Message; message.page_ingested carries the conversation id.
	KindMessageAppended     = "message.appended"
	KindMessageReconciled   = "message.reconciled"
	KindMessageFailed       = "message.failed"
	KindMessagePageIngested = "message.page_ingested"

	KindPresenceChanged = "presence.changed"

	KindSearchResults = "search.results"
)
