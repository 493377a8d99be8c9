package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/inboxd/inboxd/internal/model"
)

// PutChats upserts the given chat summaries in one transaction.
func (s *Store) PutChats(chats []model.Chat) error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for i := range chats {
		c := &chats[i]
		lastMsg, err := encodeSummary(c.LastMessage)
		if err != nil {
			return fmt.Errorf("encode last message: %w", err)
		}
		updatedAt := c.UpdatedAt
		if updatedAt == 0 {
			updatedAt = now
		}
		if _, err := tx.Exec(`
			INSERT INTO chats (id, contact_id, contact_name, last_message, last_message_time, unread_count, status, assigned_to, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				contact_id = excluded.contact_id,
				contact_name = excluded.contact_name,
				last_message = excluded.last_message,
				last_message_time = excluded.last_message_time,
				unread_count = excluded.unread_count,
				status = excluded.status,
				assigned_to = excluded.assigned_to,
				updated_at = excluded.updated_at`,
			c.ID, c.ContactID, c.ContactName, lastMsg, c.LastMessageTime,
			c.UnreadCount, c.Status, c.AssignedTo, c.CreatedAt, updatedAt); err != nil {
			return fmt.Errorf("upsert chat: %w", err)
		}
	}

	return tx.Commit()
}

// CachedChats returns all cached chats sorted by last message time descending.
func (s *Store) CachedChats() ([]model.Chat, error) {
	rows, err := s.Query(`
		SELECT id, contact_id, contact_name, last_message, last_message_time, unread_count, status, assigned_to, created_at, updated_at
		FROM chats
		ORDER BY last_message_time DESC, updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []model.Chat
	for rows.Next() {
		var c model.Chat
		var lastMsg sql.NullString
		if err := rows.Scan(&c.ID, &c.ContactID, &c.ContactName, &lastMsg, &c.LastMessageTime,
			&c.UnreadCount, &c.Status, &c.AssignedTo, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if lastMsg.Valid && lastMsg.String != "" {
			var summary model.MessageSummary
			if err := json.Unmarshal([]byte(lastMsg.String), &summary); err == nil {
				c.LastMessage = &summary
			}
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// InvalidateChats drops all cached chat summaries. Conversations and the sync
// queue are untouched; the next cache-first load falls through to the server.
func (s *Store) InvalidateChats() error {
	_, err := s.Exec(`DELETE FROM chats`)
	return err
}

func encodeSummary(m *model.MessageSummary) (any, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
