package transport

import (
	"fmt"

	"github.com/inboxd/inboxd/internal/bus"
	"github.com/inboxd/inboxd/internal/model"
	"github.com/tidwall/gjson"
)

// Kind identifies an inbound transport event.
type Kind string

const (
	KindNewMessage         Kind = "newMessage"
	KindNewMessagesBulk    Kind = "newMessagesBulk"
	KindMessageStatus      Kind = "messageStatus"
	KindMessageReaction    Kind = "messageReaction"
	KindResetUnreadCount   Kind = "resetUnreadCount"
	KindContactCreated     Kind = "contactCreated"
	KindContactCreateError Kind = "contactCreateError"
	KindSendMessageError   Kind = "sendMessageError"
	KindTeamMemberLogout   Kind = "teamMemberLogout"
	KindChatUpdated        Kind = "chatUpdatedOnContactUpdate"
	KindTemplateStatus     Kind = "templateStatusUpdate"
)

// Event is the tagged union carrying one decoded inbound event. Only the
// fields relevant to the Kind are populated.
type Event struct {
	Kind Kind

	Chat     *model.Chat
	Message  *model.Message
	Chats    []model.Chat
	Messages []model.Message

	Status   *model.StatusUpdate
	Reaction *model.ReactionUpdate

	ChatID       string
	ContactID    string
	ContactIDs   []string
	Accounts     []string
	ErrorMessage string
	Template     []byte
}

var busKinds = map[Kind]string{
	KindNewMessage:         bus.KindNewMessage,
	KindNewMessagesBulk:    bus.KindNewMessagesBulk,
	KindMessageStatus:      bus.KindMessageStatus,
	KindMessageReaction:    bus.KindMessageReaction,
	KindResetUnreadCount:   bus.KindResetUnread,
	KindContactCreated:     bus.KindContactCreated,
	KindContactCreateError: bus.KindContactCreateError,
	KindSendMessageError:   bus.KindSendMessageError,
	KindTeamMemberLogout:   bus.KindTeamMemberLogout,
	KindChatUpdated:        bus.KindChatsUpdated,
	KindTemplateStatus:     bus.KindTemplateStatus,
}

// BusKind maps the transport event to its bus event kind.
func (e *Event) BusKind() string {
	return busKinds[e.Kind]
}

// Decode parses a raw socket frame of the form {"event": ..., "data": ...}
// into a tagged Event. Unknown event names return an error; the caller logs
// and drops them.
func Decode(frame []byte) (*Event, error) {
	name := gjson.GetBytes(frame, "event").String()
	if name == "" {
		return nil, fmt.Errorf("frame missing event name")
	}
	data := gjson.GetBytes(frame, "data")
	raw := []byte(data.Raw)

	evt := &Event{Kind: Kind(name)}
	switch evt.Kind {
	case KindNewMessage:
		chat, msg := decodeChatWithMessage(data)
		if chat.ID == "" {
			return nil, fmt.Errorf("newMessage without chat identifier")
		}
		evt.Chat = chat
		evt.Message = msg

	case KindNewMessagesBulk:
		for _, item := range data.Get("chats").Array() {
			chat, msg := decodeChatWithMessage(item)
			if chat.ID == "" {
				continue
			}
			evt.Chats = append(evt.Chats, *chat)
			if msg != nil {
				evt.Messages = append(evt.Messages, *msg)
			}
		}

	case KindMessageStatus:
		u := model.StatusUpdateFromJSON(raw)
		evt.Status = &u

	case KindMessageReaction:
		u := model.ReactionUpdateFromJSON(raw)
		evt.Reaction = &u

	case KindResetUnreadCount:
		evt.ChatID = data.Get("chatId").String()
		if evt.ChatID == "" {
			evt.ChatID = data.String()
		}

	case KindContactCreated:
		evt.ContactID = data.Get("id").String()

	case KindContactCreateError, KindSendMessageError:
		evt.ErrorMessage = data.Get("message").String()
		if evt.ErrorMessage == "" {
			evt.ErrorMessage = data.String()
		}

	case KindTeamMemberLogout:
		for _, acc := range data.Get("accounts").Array() {
			evt.Accounts = append(evt.Accounts, acc.String())
		}

	case KindChatUpdated:
		for _, id := range data.Get("contactIds").Array() {
			evt.ContactIDs = append(evt.ContactIDs, id.String())
		}

	case KindTemplateStatus:
		evt.Template = []byte(data.Get("template").Raw)

	default:
		return nil, fmt.Errorf("unknown event %q", name)
	}
	return evt, nil
}

// decodeChatWithMessage handles the newMessage payload shape: a chat object
// carrying the triggering message either as a dedicated field or as its
// denormalized lastMessage.
func decodeChatWithMessage(data gjson.Result) (*model.Chat, *model.Message) {
	chatData := data.Get("chat")
	if !chatData.IsObject() {
		chatData = data
	}
	chat := model.ChatFromJSON([]byte(chatData.Raw))

	var msg *model.Message
	if m := data.Get("message"); m.IsObject() {
		parsed := model.MessageFromJSON([]byte(m.Raw))
		msg = &parsed
	} else if m := chatData.Get("lastMessage"); m.IsObject() {
		parsed := model.MessageFromJSON([]byte(m.Raw))
		msg = &parsed
	}
	if msg != nil {
		if msg.ChatID == "" {
			msg.ChatID = chat.ID
		}
		if msg.Timestamp == 0 {
			msg.Timestamp = chat.LastMessageTime
		}
	}
	return &chat, msg
}
