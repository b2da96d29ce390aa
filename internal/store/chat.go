package store

import (
	"fmt"

	"github.com/reclaw/reclaw/internal/domain"
)

// AppendChatMessages writes a batch in one transaction. INSERT OR
// REPLACE on the message id keeps idempotent replays free.
func (s *Store) AppendChatMessages(sessionKey string, messages []domain.ChatMessage) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return domain.Storagef("failed to start tx: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, message := range messages {
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO chat_messages(message_id, session_key, role, text, status, metadata_json, ts_ms)
			 VALUES(?, ?, ?, ?, ?, ?, ?)`,
			message.ID, sessionKey, message.Role, message.Text, message.Status,
			jsonText(message.Metadata), message.Ts)
		if err != nil {
			return domain.Storagef("failed to insert chat message: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Storagef("failed to commit tx: %v", err)
	}
	return nil
}

// ListChatMessages returns the newest `limit` messages of a session in
// oldest-first order.
func (s *Store) ListChatMessages(sessionKey string, limit int) ([]domain.ChatMessage, error) {
	query := `SELECT message_id, role, text, status, metadata_json, ts_ms
		FROM chat_messages WHERE session_key = ? ORDER BY ts_ms DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var rows []struct {
		MessageID    string `db:"message_id"`
		Role         string `db:"role"`
		Text         string `db:"text"`
		Status       string `db:"status"`
		MetadataJSON string `db:"metadata_json"`
		TsMs         int64  `db:"ts_ms"`
	}
	if err := s.db.Select(&rows, query, sessionKey); err != nil {
		return nil, domain.Storagef("failed to list chat messages: %v", err)
	}

	messages := make([]domain.ChatMessage, len(rows))
	for i, row := range rows {
		messages[len(rows)-1-i] = domain.ChatMessage{
			ID:       row.MessageID,
			Role:     row.Role,
			Text:     row.Text,
			Status:   row.Status,
			Ts:       row.TsMs,
			Metadata: domain.JSON(row.MetadataJSON),
		}
	}
	return messages, nil
}

func (s *Store) CountChatMessages() (int64, error) {
	var count int64
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM chat_messages`); err != nil {
		return 0, domain.Storagef("failed to count chat messages: %v", err)
	}
	return count, nil
}
