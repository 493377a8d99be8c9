package sync

import (
	"context"
	"fmt"

	"github.com/inboxd/inboxd/internal/model"
	"go.uber.org/zap"
)

// Fetcher is the server fetch contract the loader consumes.
type Fetcher interface {
	ListChats(ctx context.Context, filter string, cursor int64) (*model.ChatPage, error)
	GetConversation(ctx context.Context, chatID string, all bool, limit, skip int) ([]model.Message, error)
}

// CacheStore is the narrow read/write contract over the local cache.
// EnqueueOperation must be safe for concurrent use; the engine calls it from
// submission goroutines as well as its run loop.
type CacheStore interface {
	CachedChats() ([]model.Chat, error)
	CachedConversation(chatID string) ([]model.Message, error)
	PutChats(chats []model.Chat) error
	ReplaceConversation(chatID string, msgs []model.Message) error
	EnqueueOperation(op model.SyncOperation) error
}

// Loader orchestrates "read cache, return immediately, refresh from server"
// for the chat list, and the tiered reconnection backfill.
type Loader struct {
	fetcher  Fetcher
	logger   *zap.Logger
	pageSize int
}

// NewLoader creates a loader over the given fetcher.
func NewLoader(fetcher Fetcher, pageSize int, logger *zap.Logger) *Loader {
	return &Loader{fetcher: fetcher, logger: logger, pageSize: pageSize}
}

// FetchChats pulls up to the tier's page cap of chat pages and combines them
// with the existing working list: a full tier replaces it outright, the
// partial tiers merge into it. The pagination cursor is the oldest-seen
// update timestamp, so pages never overlap incorrectly; fetching stops early
// on an empty page or when the server signals no more data.
func (l *Loader) FetchChats(ctx context.Context, tier Tier, existing []model.Chat) ([]model.Chat, error) {
	var fetched []model.Chat
	var cursor int64
	pages := 0

	for pages < tier.PageCap() {
		page, err := l.fetcher.ListChats(ctx, "", cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch chats page %d: %w", pages+1, err)
		}
		pages++
		if len(page.Chats) == 0 {
			break
		}
		fetched = append(fetched, page.Chats...)
		cursor = oldestUpdate(page.Chats, cursor)
		if !page.HasMore {
			break
		}
	}

	l.logger.Info("chat backfill fetched",
		zap.String("tier", tier.String()),
		zap.Int("pages", pages),
		zap.Int("chats", len(fetched)),
	)

	if tier.Full() {
		return ReplaceChats(fetched), nil
	}
	return MergeChats(existing, fetched), nil
}

// FetchConversation pulls a chat's messages: the whole history for the full
// tier, otherwise one window of the configured page size.
func (l *Loader) FetchConversation(ctx context.Context, tier Tier, chatID string) ([]model.Message, error) {
	msgs, err := l.fetcher.GetConversation(ctx, chatID, tier.Full(), l.pageSize, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch conversation %s: %w", chatID, err)
	}
	SortMessages(msgs)
	return msgs, nil
}

// oldestUpdate advances the pagination cursor to the oldest update timestamp
// seen so far.
func oldestUpdate(chats []model.Chat, cursor int64) int64 {
	for _, c := range chats {
		ts := c.UpdatedAt
		if ts == 0 {
			ts = c.LastMessageTime
		}
		if ts != 0 && (cursor == 0 || ts < cursor) {
			cursor = ts
		}
	}
	return cursor
}
