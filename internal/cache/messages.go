package cache

import (
	"encoding/json"
	"fmt"

	"github.com/inboxd/inboxd/internal/model"
)

// ReplaceConversation stores the reconciled message collection for a chat,
// replacing whatever was cached. The in-memory collection is authoritative
// after a reconcile pass, so a full replace is simpler and safer than
// row-level merging here.
func (s *Store) ReplaceConversation(chatID string, msgs []model.Message) error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}

	for i := range msgs {
		m := &msgs[i]
		reactions, err := json.Marshal(m.Reactions)
		if err != nil {
			return fmt.Errorf("encode reactions: %w", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (chat_id, id, temp_id, wamid, type, body, timestamp, status, is_optimistic, from_me, sender_role, reaction, reactions, sent_at, delivered_at, read_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			chatID, m.ID, m.TempID, m.WamID, m.Type, m.Body, m.Timestamp, string(m.Status),
			m.IsOptimistic, m.FromMe, m.SenderRole, m.Reaction, string(reactions),
			m.SentAt, m.DeliveredAt, m.ReadAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	return tx.Commit()
}

// CachedConversation returns the cached messages for a chat in timestamp
// ascending order.
func (s *Store) CachedConversation(chatID string) ([]model.Message, error) {
	rows, err := s.Query(`
		SELECT id, temp_id, wamid, type, body, timestamp, status, is_optimistic, from_me, sender_role, reaction, reactions, sent_at, delivered_at, read_at
		FROM messages
		WHERE chat_id = ?
		ORDER BY timestamp ASC, rowid_seq ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var status, reactions string
		if err := rows.Scan(&m.ID, &m.TempID, &m.WamID, &m.Type, &m.Body, &m.Timestamp, &status,
			&m.IsOptimistic, &m.FromMe, &m.SenderRole, &m.Reaction, &reactions,
			&m.SentAt, &m.DeliveredAt, &m.ReadAt); err != nil {
			return nil, err
		}
		m.ChatID = chatID
		m.Status = model.MessageStatus(status)
		if reactions != "" && reactions != "[]" {
			_ = json.Unmarshal([]byte(reactions), &m.Reactions)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
