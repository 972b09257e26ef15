package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/freelancehub/convo/internal/chat"
	"github.com/freelancehub/convo/internal/status"
)

// InsertLocalMessage inserts an optimistic placeholder message keyed by the
// client-generated nonce. The placeholder becomes durable when CommitMessage
// promotes it to the store-assigned id.
func (db *DB) InsertLocalMessage(m *chat.Message) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO messages (conversation_id, msg_id, sender_id, receiver_id, body, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.ID, m.SenderID, m.ReceiverID, m.Text, string(m.Status), m.CreatedAt)
	return err
}

// CommitMessage makes a message durable and updates the parent conversation
// summary in the same transaction, so subscribers observe both together or
// not at all. If clientMsgID is non-empty the optimistic placeholder with
// that nonce is promoted to the durable id in place; otherwise a new row is
// inserted.
func (db *DB) CommitMessage(m *chat.Message, clientMsgID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	promoted := false
	if clientMsgID != "" {
		res, err := tx.Exec(`
			UPDATE messages SET msg_id = ?, status = ?, created_at = ?
			WHERE conversation_id = ? AND msg_id = ?`,
			m.ID, string(m.Status), m.CreatedAt, m.ConversationID, clientMsgID)
		if err != nil {
			return fmt.Errorf("promote placeholder: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		promoted = n > 0
	}
	if !promoted {
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, msg_id, sender_id, receiver_id, body, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ConversationID, m.ID, m.SenderID, m.ReceiverID, m.Text, string(m.Status), m.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		UPDATE conversations SET
			last_message = ?, last_message_time = ?, last_sender_id = ?,
			last_message_read = 0, updated_at = ?
		WHERE id = ?`,
		m.Text, m.CreatedAt, m.SenderID, now, m.ConversationID); err != nil {
		return fmt.Errorf("update conversation summary: %w", err)
	}

	return tx.Commit()
}

// MarkMessageFailed flags an in-flight placeholder as failed. Failed is a
// local terminal state: the row is excluded from the durable thread and is
// never retried automatically.
func (db *DB) MarkMessageFailed(conversationID, msgID string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = 'failed'
		WHERE conversation_id = ? AND msg_id = ? AND status = 'sending'`,
		conversationID, msgID)
	return err
}

// MarkMessagesRead sets the given messages to read and flags the parent
// conversation summary, in one transaction. Only rows addressed to
// receiverID are touched, so a sender can never mark its own messages read.
// Already-read messages are skipped, making the call idempotent. Returns the
// number of messages transitioned.
func (db *DB) MarkMessagesRead(conversationID, receiverID string, msgIDs []string, readAt int64) (int64, error) {
	if len(msgIDs) == 0 {
		return 0, nil
	}
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	args := []any{readAt, conversationID, receiverID}
	for _, id := range msgIDs {
		args = append(args, id)
	}
	res, err := tx.Exec(`
		UPDATE messages SET status = 'read', read_at = ?
		WHERE conversation_id = ? AND receiver_id = ?
		  AND status NOT IN ('read', 'failed')
		  AND msg_id IN (`+placeholders(len(msgIDs))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if n > 0 {
		if _, err := tx.Exec(`
			UPDATE conversations SET last_message_read = 1, updated_at = ?
			WHERE id = ?`, readAt, conversationID); err != nil {
			return 0, fmt.Errorf("update conversation read flag: %w", err)
		}
	}

	return n, tx.Commit()
}

// MarkMessagesDelivered transitions sent messages addressed to receiverID to
// delivered. Messages in any other state are left alone, preserving read
// monotonicity. Returns the number of messages transitioned.
func (db *DB) MarkMessagesDelivered(conversationID, receiverID string, msgIDs []string) (int64, error) {
	if len(msgIDs) == 0 {
		return 0, nil
	}
	args := []any{conversationID, receiverID}
	for _, id := range msgIDs {
		args = append(args, id)
	}
	res, err := db.Exec(`
		UPDATE messages SET status = 'delivered'
		WHERE conversation_id = ? AND receiver_id = ? AND status = 'sent'
		  AND msg_id IN (`+placeholders(len(msgIDs))+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListMessages returns the durable thread for a conversation, ascending by
// (created_at, msg_id). Failed placeholders are excluded.
func (db *DB) ListMessages(conversationID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT conversation_id, msg_id, sender_id, receiver_id, body, status, created_at, read_at
		FROM messages
		WHERE conversation_id = ? AND status != 'failed'
		ORDER BY created_at ASC, msg_id ASC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// ListMessagesBefore returns up to limit messages older than beforeTs,
// descending, for keyset pagination of history.
func (db *DB) ListMessagesBefore(conversationID string, beforeTs int64, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT conversation_id, msg_id, sender_id, receiver_id, body, status, created_at, read_at
		FROM messages
		WHERE conversation_id = ? AND status != 'failed' AND created_at < ?
		ORDER BY created_at DESC, msg_id DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanMessages(rows)
}

// UnreadMessageIDs returns ids of messages addressed to receiverID that have
// not been read yet, oldest first.
func (db *DB) UnreadMessageIDs(conversationID, receiverID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT msg_id FROM messages
		WHERE conversation_id = ? AND receiver_id = ?
		  AND status NOT IN ('read', 'failed', 'sending')
		ORDER BY created_at ASC, msg_id ASC`, conversationID, receiverID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanMessages(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]chat.Message, error) {
	var msgs []chat.Message
	for rows.Next() {
		var m chat.Message
		var raw string
		var readAt int64
		if err := rows.Scan(&m.ConversationID, &m.ID, &m.SenderID, &m.ReceiverID,
			&m.Text, &raw, &m.CreatedAt, &readAt); err != nil {
			return nil, err
		}
		// read_at is authoritative if the stored status ever drifts.
		m.Status = status.Resolve(raw, readAt > 0)
		m.ReadAt = readAt
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
