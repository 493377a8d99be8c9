// Package fetch implements the server fetch contract: the paginated chat
// listing and conversation retrieval consumed by the cache-first loader.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/guonaihong/gout"
	"github.com/inboxd/inboxd/internal/model"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Client talks to the inbox backend's REST API.
type Client struct {
	baseURL string
	token   string
	account string
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient creates a fetch client scoped to one account.
func NewClient(baseURL, token, account string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		account: account,
		timeout: timeout,
		logger:  logger,
	}
}

// ListChats fetches one page of chat summaries. cursor is the oldest-seen
// update timestamp (unix ms); zero means "from the newest". The response is
// normalized into canonical chats at this boundary.
func (c *Client) ListChats(ctx context.Context, filter string, cursor int64) (*model.ChatPage, error) {
	query := gout.H{}
	if filter != "" {
		query["filter"] = filter
	}
	if cursor > 0 {
		query["before"] = cursor
	}

	var body []byte
	var code int
	err := gout.GET(c.baseURL + "/chats").
		WithContext(ctx).
		SetTimeout(c.timeout).
		SetHeader(c.headers()).
		SetQuery(query).
		BindBody(&body).
		Code(&code).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	if code != 200 {
		return nil, fmt.Errorf("list chats: status %d", code)
	}

	page := &model.ChatPage{}
	items := gjson.GetBytes(body, "items")
	if !items.Exists() {
		items = gjson.GetBytes(body, "chats")
	}
	for _, item := range items.Array() {
		chat := model.ChatFromJSON([]byte(item.Raw))
		if chat.ID == "" {
			c.logger.Warn("dropping chat without identifier")
			continue
		}
		page.Chats = append(page.Chats, chat)
	}
	page.HasMore = gjson.GetBytes(body, "hasMore").Bool() ||
		gjson.GetBytes(body, "has_more").Bool() ||
		gjson.GetBytes(body, "pagination.hasNextPage").Bool()
	return page, nil
}

// GetConversation fetches messages for a chat: the whole history when all is
// true, otherwise a limit/skip window. Messages come back normalized and
// sorted ascending by timestamp.
func (c *Client) GetConversation(ctx context.Context, chatID string, all bool, limit, skip int) ([]model.Message, error) {
	query := gout.H{}
	if all {
		query["all"] = "true"
	} else {
		query["limit"] = limit
		query["skip"] = skip
	}

	var body []byte
	var code int
	err := gout.GET(c.baseURL + "/chats/" + chatID + "/messages").
		WithContext(ctx).
		SetTimeout(c.timeout).
		SetHeader(c.headers()).
		SetQuery(query).
		BindBody(&body).
		Code(&code).
		Do()
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if code != 200 {
		return nil, fmt.Errorf("get conversation: status %d", code)
	}

	items := gjson.GetBytes(body, "items")
	if !items.Exists() {
		items = gjson.GetBytes(body, "messages")
	}
	var msgs []model.Message
	for _, item := range items.Array() {
		m := model.MessageFromJSON([]byte(item.Raw))
		if m.ChatID == "" {
			m.ChatID = chatID
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (c *Client) headers() gout.H {
	return gout.H{
		"Authorization": "Bearer " + c.token,
		"X-Account-ID":  c.account,
	}
}
