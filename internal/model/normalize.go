package model

import (
	"time"

	"github.com/tidwall/gjson"
)

// The upstream API grew organically and the same concept appears under
// several field names depending on the endpoint and event. Normalization
// happens here, once, at the boundary; nothing past this package looks at
// raw payloads.

// MessageFromJSON normalizes a raw message payload into the canonical shape.
func MessageFromJSON(raw []byte) Message {
	m := Message{
		ID:          firstString(raw, "id", "_id", "messageId"),
		TempID:      firstString(raw, "tempId", "temp_id", "clientId"),
		WamID:       firstString(raw, "wamid", "waMessageId", "wa_message_id"),
		ChatID:      firstString(raw, "chatId", "chat_id"),
		Type:        firstString(raw, "type", "messageType", "message_type"),
		Body:        firstString(raw, "body", "text", "message", "content", "caption"),
		Timestamp:   firstTimestamp(raw, "timestamp", "createdAt", "sentAt", "time"),
		Status:      MessageStatus(firstString(raw, "status")),
		Reaction:    firstString(raw, "reaction", "currentReaction"),
		SentAt:      firstTimestamp(raw, "sentAt", "sent_at"),
		DeliveredAt: firstTimestamp(raw, "deliveredAt", "delivered_at"),
		ReadAt:      firstTimestamp(raw, "readAt", "read_at"),
	}
	if m.Type == "" {
		m.Type = "text"
	}
	if m.Status == "" {
		m.Status = StatusSent
	}
	m.SenderRole = firstString(raw, "senderRole", "sender", "from", "role")
	m.FromMe = isOutgoingRole(m.SenderRole) || gjson.GetBytes(raw, "fromMe").Bool()

	if rs := gjson.GetBytes(raw, "reactions"); rs.IsArray() {
		for _, r := range rs.Array() {
			m.Reactions = append(m.Reactions, Reaction{
				Sender:    r.Get("sender").String(),
				Emoji:     firstStringResult(r, "emoji", "reaction"),
				Timestamp: timestampResult(r.Get("timestamp")),
			})
		}
	}
	return m
}

// ChatFromJSON normalizes a raw chat payload, synthesizing the denormalized
// lastMessage from flat fields when the nested object is missing.
func ChatFromJSON(raw []byte) Chat {
	c := Chat{
		ID:              firstString(raw, "id", "_id", "chatId"),
		ContactID:       firstString(raw, "contactId", "contact_id", "contact.id", "contact._id"),
		ContactName:     firstString(raw, "contactName", "contact.name", "name"),
		LastMessageTime: firstTimestamp(raw, "lastMessageTime", "lastMessageAt", "last_message_time"),
		UnreadCount:     int(gjson.GetBytes(raw, "unreadCount").Int()),
		Status:          firstString(raw, "status"),
		AssignedTo:      firstString(raw, "assignedTo", "assigned_to"),
		CreatedAt:       firstTimestamp(raw, "createdAt", "created_at"),
		UpdatedAt:       firstTimestamp(raw, "updatedAt", "updated_at"),
	}

	if lm := gjson.GetBytes(raw, "lastMessage"); lm.IsObject() {
		c.LastMessage = &MessageSummary{
			ID:        firstStringResult(lm, "id", "_id"),
			Type:      firstStringResult(lm, "type", "messageType"),
			Body:      firstStringResult(lm, "body", "text", "message", "content"),
			Status:    MessageStatus(lm.Get("status").String()),
			FromMe:    lm.Get("fromMe").Bool() || isOutgoingRole(firstStringResult(lm, "sender", "senderRole")),
			Timestamp: timestampResult(lm.Get("timestamp")),
		}
	} else {
		c.LastMessage = synthesizeLastMessage(raw)
	}

	if c.LastMessage != nil {
		if c.LastMessage.Timestamp == 0 {
			c.LastMessage.Timestamp = c.LastMessageTime
		}
		if c.LastMessageTime == 0 {
			c.LastMessageTime = c.LastMessage.Timestamp
		}
	}
	return c
}

// synthesizeLastMessage builds a summary from whatever flat last-message
// fields are present. Returns nil when no flat fields exist either.
func synthesizeLastMessage(raw []byte) *MessageSummary {
	body := firstString(raw, "lastMessageBody", "lastMessageText", "last_message_body")
	typ := firstString(raw, "lastMessageType", "last_message_type")
	status := firstString(raw, "lastMessageStatus", "last_message_status")
	sender := firstString(raw, "lastMessageSender", "last_message_sender")
	ts := firstTimestamp(raw, "lastMessageTime", "lastMessageAt", "last_message_time")

	if body == "" && typ == "" && status == "" && sender == "" && ts == 0 {
		return nil
	}
	if typ == "" {
		typ = "text"
	}
	return &MessageSummary{
		Type:      typ,
		Body:      body,
		Status:    MessageStatus(status),
		FromMe:    isOutgoingRole(sender),
		Timestamp: ts,
	}
}

// StatusUpdateFromJSON normalizes a messageStatus event payload.
func StatusUpdateFromJSON(raw []byte) StatusUpdate {
	return StatusUpdate{
		ChatID:      firstString(raw, "chatId", "chat_id"),
		WamID:       firstString(raw, "wamid", "messageTransportId", "waMessageId"),
		TempID:      firstString(raw, "tempId", "temp_id"),
		Status:      MessageStatus(firstString(raw, "status")),
		SentAt:      firstTimestamp(raw, "sentAt", "sent_at"),
		DeliveredAt: firstTimestamp(raw, "deliveredAt", "delivered_at"),
		ReadAt:      firstTimestamp(raw, "readAt", "read_at"),
	}
}

// ReactionUpdateFromJSON normalizes a reaction event payload.
func ReactionUpdateFromJSON(raw []byte) ReactionUpdate {
	u := ReactionUpdate{
		ChatID:    firstString(raw, "chatId", "chat_id"),
		WamID:     firstString(raw, "wamid", "messageTransportId"),
		MessageID: firstString(raw, "messageId", "message_id"),
		Sender:    firstString(raw, "sender", "senderRole", "from"),
		Emoji:     firstString(raw, "emoji", "reaction"),
		Timestamp: firstTimestamp(raw, "timestamp", "createdAt"),
	}
	u.Remove = u.Emoji == "" || gjson.GetBytes(raw, "remove").Bool()
	return u
}

func isOutgoingRole(role string) bool {
	switch role {
	case "agent", "me", "self", "operator", "business":
		return true
	}
	return false
}

func firstString(raw []byte, paths ...string) string {
	for _, p := range paths {
		if v := gjson.GetBytes(raw, p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func firstStringResult(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func firstTimestamp(raw []byte, paths ...string) int64 {
	for _, p := range paths {
		if v := gjson.GetBytes(raw, p); v.Exists() {
			if ts := timestampResult(v); ts != 0 {
				return ts
			}
		}
	}
	return 0
}

// timestampResult accepts unix seconds, unix milliseconds, numeric strings
// and RFC3339 strings, and always returns unix milliseconds.
func timestampResult(v gjson.Result) int64 {
	switch v.Type {
	case gjson.Number:
		return secondsToMillis(v.Int())
	case gjson.String:
		if t, err := time.Parse(time.RFC3339, v.String()); err == nil {
			return t.UnixMilli()
		}
		if n := v.Int(); n != 0 {
			return secondsToMillis(n)
		}
	}
	return 0
}

// secondsToMillis promotes second-precision timestamps to milliseconds.
// Anything below 1e12 is treated as seconds (1e12 ms is ~2001).
func secondsToMillis(n int64) int64 {
	if n != 0 && n < 1_000_000_000_000 {
		return n * 1000
	}
	return n
}
