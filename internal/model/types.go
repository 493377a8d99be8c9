package model

import (
	"strings"

	"github.com/google/uuid"
)

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusQueued    MessageStatus = "queued"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// TempIDPrefix marks client-generated placeholder identifiers. An entry
// whose ID carries this prefix is never used for identity matching.
const TempIDPrefix = "temp-"

// NewTempID returns a fresh client-generated message identifier.
func NewTempID() string {
	return TempIDPrefix + uuid.New().String()
}

// IsTempID reports whether id is a client-generated placeholder.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Reaction is a single per-sender reaction record on a message.
type Reaction struct {
	Sender    string `json:"sender"`
	Emoji     string `json:"emoji"`
	Timestamp int64  `json:"timestamp"`
}

// Message is the canonical message shape used everywhere past the
// transport/fetch boundary. Timestamps are unix milliseconds.
type Message struct {
	ID           string        `json:"id"`
	TempID       string        `json:"tempId,omitempty"`
	WamID        string        `json:"wamid,omitempty"`
	ChatID       string        `json:"chatId"`
	Type         string        `json:"type"`
	Body         string        `json:"body"`
	Timestamp    int64         `json:"timestamp"`
	Status       MessageStatus `json:"status"`
	IsOptimistic bool          `json:"isOptimistic,omitempty"`
	FromMe       bool          `json:"fromMe"`
	SenderRole   string        `json:"senderRole,omitempty"`
	Reaction     string        `json:"reaction,omitempty"`
	Reactions    []Reaction    `json:"reactions,omitempty"`
	SentAt       int64         `json:"sentAt,omitempty"`
	DeliveredAt  int64         `json:"deliveredAt,omitempty"`
	ReadAt       int64         `json:"readAt,omitempty"`
}

// HasServerID reports whether the message carries a server-assigned,
// non-placeholder identifier.
func (m *Message) HasServerID() bool {
	return m.ID != "" && !IsTempID(m.ID)
}

// Summary returns the denormalized form stored on a Chat.
func (m *Message) Summary() *MessageSummary {
	return &MessageSummary{
		ID:        m.ID,
		Type:      m.Type,
		Body:      m.Body,
		Status:    m.Status,
		FromMe:    m.FromMe,
		Timestamp: m.Timestamp,
	}
}

// MessageSummary is the denormalized last-message shape carried on a Chat.
type MessageSummary struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type,omitempty"`
	Body      string        `json:"body,omitempty"`
	Status    MessageStatus `json:"status,omitempty"`
	FromMe    bool          `json:"fromMe,omitempty"`
	Timestamp int64         `json:"timestamp,omitempty"`
}

// Chat is the canonical chat summary shape.
type Chat struct {
	ID              string          `json:"id"`
	ContactID       string          `json:"contactId,omitempty"`
	ContactName     string          `json:"contactName,omitempty"`
	LastMessage     *MessageSummary `json:"lastMessage,omitempty"`
	LastMessageTime int64           `json:"lastMessageTime"`
	UnreadCount     int             `json:"unreadCount"`
	Status          string          `json:"status,omitempty"`
	AssignedTo      string          `json:"assignedTo,omitempty"`
	CreatedAt       int64           `json:"createdAt,omitempty"`
	UpdatedAt       int64           `json:"updatedAt,omitempty"`
}

// ChatPage is one page of the server's paginated chat listing.
type ChatPage struct {
	Chats   []Chat
	HasMore bool
}

// OperationKind identifies what an enqueued outbound operation does.
type OperationKind string

const (
	OpSendMessage  OperationKind = "send-message"
	OpSendTemplate OperationKind = "send-template"
	OpResetUnread  OperationKind = "reset-unread"
)

// OperationStatus is the lifecycle state of a queued operation.
type OperationStatus string

const (
	OpPending   OperationStatus = "pending"
	OpCompleted OperationStatus = "completed"
	OpFailed    OperationStatus = "failed"
)

// SyncOperation is a durable outbound action awaiting confirmed delivery.
type SyncOperation struct {
	ID        string
	Kind      OperationKind
	Payload   []byte
	Status    OperationStatus
	Error     string
	CreatedAt int64
	UpdatedAt int64
}

// StatusUpdate is an inbound delivery-status event for a single message.
type StatusUpdate struct {
	ChatID      string
	WamID       string
	TempID      string
	Status      MessageStatus
	SentAt      int64
	DeliveredAt int64
	ReadAt      int64
}

// ReactionUpdate is an inbound per-sender reaction change for a message.
type ReactionUpdate struct {
	ChatID    string
	WamID     string
	MessageID string
	Sender    string
	Emoji     string
	Remove    bool
	Timestamp int64
}
