package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by namespace prefix, so kinds within one
// component share a dotted prefix.
const (
	// Inbound transport events, published by the connection manager's read
	// loop. Payload is *transport.Event.
	KindNewMessage         = "transport.new_message"
	KindNewMessagesBulk    = "transport.new_messages_bulk"
	KindMessageStatus      = "transport.message_status"
	KindMessageReaction    = "transport.message_reaction"
	KindResetUnread        = "transport.reset_unread"
	KindContactCreated     = "transport.contact_created"
	KindContactCreateError = "transport.contact_create_error"
	KindSendMessageError   = "transport.send_message_error"
	KindTeamMemberLogout   = "transport.team_member_logout"
	KindChatsUpdated       = "transport.chats_updated"
	KindTemplateStatus     = "transport.template_status"

	// Connection lifecycle. Payload is conn.ConnectedInfo / conn.RetryInfo.
	KindConnConnected    = "conn.connected"
	KindConnDisconnected = "conn.disconnected"
	KindConnRetrying     = "conn.retrying"
	KindConnFailed       = "conn.failed"

	// Sync queue. Payload is outbox.OpResult for op_* kinds.
	KindQueueTrigger     = "queue.trigger"
	KindQueueOpCompleted = "queue.op_completed"
	KindQueueOpFailed    = "queue.op_failed"

	// Network reachability, produced by the platform shell.
	KindNetOnline = "net.online"

	// In-memory view changes, for UI consumers.
	KindStateChats    = "state.chats_updated"
	KindStateMessages = "state.messages_updated"
	KindStateBadge    = "state.badge_updated"

	// Session scope.
	KindSessionForceLogout = "session.force_logout"
)
