package transport

import (
	"testing"

	"github.com/inboxd/inboxd/internal/bus"
	"github.com/inboxd/inboxd/internal/model"
)

func TestDecodeNewMessage(t *testing.T) {
	frame := []byte(`{
		"event": "newMessage",
		"data": {
			"chat": {"id": "c1", "contactName": "Ana", "unreadCount": 2, "lastMessageTime": 1700000000000},
			"message": {"id": "m1", "wamid": "wamid.1", "body": "hello", "timestamp": 1700000000000}
		}
	}`)
	evt, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if evt.Kind != KindNewMessage {
		t.Errorf("kind = %q, want newMessage", evt.Kind)
	}
	if evt.Chat == nil || evt.Chat.ID != "c1" {
		t.Fatalf("chat = %+v", evt.Chat)
	}
	if evt.Message == nil || evt.Message.Body != "hello" {
		t.Fatalf("message = %+v", evt.Message)
	}
	if evt.Message.ChatID != "c1" {
		t.Errorf("message chatId = %q, want inherited c1", evt.Message.ChatID)
	}
	if evt.BusKind() != bus.KindNewMessage {
		t.Errorf("bus kind = %q, want transport.new_message", evt.BusKind())
	}
}

func TestDecodeNewMessageFlatChat(t *testing.T) {
	// Some producers put the chat fields directly on data, with the message
	// denormalized as lastMessage.
	frame := []byte(`{
		"event": "newMessage",
		"data": {"id": "c2", "unreadCount": 1, "lastMessageTime": 1700000000000,
			"lastMessage": {"id": "m2", "body": "flat", "timestamp": 1700000000000}}
	}`)
	evt, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if evt.Chat.ID != "c2" {
		t.Errorf("chat id = %q, want c2", evt.Chat.ID)
	}
	if evt.Message == nil || evt.Message.Body != "flat" {
		t.Errorf("message = %+v", evt.Message)
	}
}

func TestDecodeNewMessagesBulk(t *testing.T) {
	frame := []byte(`{
		"event": "newMessagesBulk",
		"data": {"chats": [
			{"id": "c1", "lastMessageTime": 1000, "message": {"id": "m1", "timestamp": 1000}},
			{"id": "c2", "lastMessageTime": 2000}
		]}
	}`)
	evt, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(evt.Chats) != 2 {
		t.Fatalf("got %d chats, want 2", len(evt.Chats))
	}
	if len(evt.Messages) != 1 {
		t.Errorf("got %d messages, want 1", len(evt.Messages))
	}
}

func TestDecodeMessageStatus(t *testing.T) {
	frame := []byte(`{"event": "messageStatus", "data": {"chatId": "c1", "wamid": "wamid.1", "status": "read", "readAt": 1700000001000}}`)
	evt, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if evt.Status == nil || evt.Status.Status != model.StatusRead || evt.Status.WamID != "wamid.1" {
		t.Errorf("status = %+v", evt.Status)
	}
}

func TestDecodeMessageReaction(t *testing.T) {
	frame := []byte(`{"event": "messageReaction", "data": {"chatId": "c1", "wamid": "wamid.1", "sender": "contact", "emoji": "🔥"}}`)
	evt, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if evt.Reaction == nil || evt.Reaction.Emoji != "🔥" {
		t.Errorf("reaction = %+v", evt.Reaction)
	}
}

func TestDecodeResetUnread(t *testing.T) {
	evt, err := Decode([]byte(`{"event": "resetUnreadCount", "data": {"chatId": "c9"}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if evt.ChatID != "c9" {
		t.Errorf("chatId = %q, want c9", evt.ChatID)
	}

	// Bare string form.
	evt, err = Decode([]byte(`{"event": "resetUnreadCount", "data": "c10"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if evt.ChatID != "c10" {
		t.Errorf("chatId = %q, want c10", evt.ChatID)
	}
}

func TestDecodeTeamMemberLogout(t *testing.T) {
	evt, err := Decode([]byte(`{"event": "teamMemberLogout", "data": {"accounts": ["a1", "a2"]}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(evt.Accounts) != 2 || evt.Accounts[0] != "a1" {
		t.Errorf("accounts = %v", evt.Accounts)
	}
}

func TestDecodeUnknownEvent(t *testing.T) {
	if _, err := Decode([]byte(`{"event": "somethingNew", "data": {}}`)); err == nil {
		t.Error("Decode() expected error for unknown event")
	}
}

func TestDecodeMissingEventName(t *testing.T) {
	if _, err := Decode([]byte(`{"data": {}}`)); err == nil {
		t.Error("Decode() expected error for missing event name")
	}
}

func TestDecodeNewMessageWithoutChat(t *testing.T) {
	if _, err := Decode([]byte(`{"event": "newMessage", "data": {"message": {"id": "m1"}}}`)); err == nil {
		t.Error("Decode() expected error for newMessage without chat id")
	}
}
