// Package transport owns the socket session to the inbox backend: dialing,
// the read loop that decodes inbound frames into tagged events, and the
// outbound fire-and-confirm actions.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/inboxd/inboxd/internal/model"
	"go.uber.org/zap"
)

// readLimit caps inbound frame size; bulk backfill frames can be large.
const readLimit = 8 * 1024 * 1024

// Session is one live socket connection scoped to a token and account.
// All writes go through Write's internal serialization in coder/websocket;
// reads happen only from ReadLoop.
type Session struct {
	conn   *websocket.Conn
	logger *zap.Logger
}

// Dial opens a socket session authenticated with the given credentials.
func Dial(ctx context.Context, socketURL, token, account string, logger *zap.Logger) (*Session, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-Account-ID", account)

	conn, _, err := websocket.Dial(ctx, socketURL, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("dial socket: %w", err)
	}
	conn.SetReadLimit(readLimit)

	return &Session{conn: conn, logger: logger}, nil
}

// ReadLoop reads frames until the connection drops or ctx is canceled,
// decoding each into a tagged event handed to emit. Undecodable frames are
// logged and skipped; the returned error is always a connection-level one.
func (s *Session) ReadLoop(ctx context.Context, emit func(*Event)) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		evt, err := Decode(data)
		if err != nil {
			s.logger.Warn("dropping inbound frame", zap.Error(err))
			continue
		}
		emit(evt)
	}
}

// Close terminates the session.
func (s *Session) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "client closing")
}

// outboundFrame is the wire shape for actions.
type outboundFrame struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

func (s *Session) send(ctx context.Context, action string, data json.RawMessage) error {
	frame, err := json.Marshal(outboundFrame{Action: action, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s: %w", action, err)
	}
	// The backend sends no per-action acknowledgment; a successful write
	// within the caller's deadline counts as submission. Delivery receipts
	// arrive later as messageStatus events.
	if err := s.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("submit %s: %w", action, err)
	}
	return nil
}

// SendMessage submits a sendMessage action.
func (s *Session) SendMessage(ctx context.Context, payload json.RawMessage) error {
	return s.send(ctx, "sendMessage", payload)
}

// SendTemplate submits a sendTemplate action.
func (s *Session) SendTemplate(ctx context.Context, payload json.RawMessage) error {
	return s.send(ctx, "sendTemplate", payload)
}

// ResetUnreadCount submits a resetUnreadCount action for a chat.
func (s *Session) ResetUnreadCount(ctx context.Context, chatID string) error {
	data, err := json.Marshal(map[string]string{"chatId": chatID})
	if err != nil {
		return err
	}
	return s.send(ctx, "resetUnreadCount", data)
}

// Submit dispatches a queued sync operation onto the socket.
func (s *Session) Submit(ctx context.Context, op model.SyncOperation) error {
	switch op.Kind {
	case model.OpSendMessage:
		return s.SendMessage(ctx, op.Payload)
	case model.OpSendTemplate:
		return s.SendTemplate(ctx, op.Payload)
	case model.OpResetUnread:
		return s.send(ctx, "resetUnreadCount", op.Payload)
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}
