package sync

import (
	"sort"

	"github.com/inboxd/inboxd/internal/model"
)

// ReplaceChats builds a fresh working list from a complete fetch: duplicates
// by identifier are dropped (first occurrence wins), then the list is sorted
// for display. Used after an exhaustive backfill, where the fetched set is
// the whole truth.
func ReplaceChats(fetched []model.Chat) []model.Chat {
	seen := make(map[string]struct{}, len(fetched))
	out := make([]model.Chat, 0, len(fetched))
	for _, c := range fetched {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	sortChats(out)
	return out
}

// MergeChats folds a partial fetch into the existing working list. Fetched
// chats insert-or-overwrite their entry (server data wins on conflict);
// chats outside the refreshed window are retained unchanged.
func MergeChats(existing, fetched []model.Chat) []model.Chat {
	index := make(map[string]int, len(existing))
	out := make([]model.Chat, len(existing))
	copy(out, existing)
	for i, c := range out {
		index[c.ID] = i
	}

	for _, c := range fetched {
		if i, ok := index[c.ID]; ok {
			out[i] = c
		} else {
			index[c.ID] = len(out)
			out = append(out, c)
		}
	}
	sortChats(out)
	return out
}

// sortChats orders by lastMessageTime descending, ties broken by updatedAt
// then createdAt.
func sortChats(chats []model.Chat) {
	sort.SliceStable(chats, func(i, j int) bool {
		a, b := chats[i], chats[j]
		if a.LastMessageTime != b.LastMessageTime {
			return a.LastMessageTime > b.LastMessageTime
		}
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt > b.UpdatedAt
		}
		return a.CreatedAt > b.CreatedAt
	})
}

// bumpChat folds a reconciled message into its chat summary: lastMessageTime
// is monotone (the max message timestamp), and the denormalized summary only
// advances with it.
func bumpChat(chat *model.Chat, m *model.Message) {
	if m.Timestamp >= chat.LastMessageTime {
		chat.LastMessageTime = m.Timestamp
		chat.LastMessage = m.Summary()
	}
}
