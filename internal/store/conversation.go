package store

import (
	"database/sql"
	"time"

	"github.com/freelancehub/convo/internal/chat"
)

// CreateConversation inserts a conversation document if the pair does not
// already have one. Returns true if a new row was created. Safe to call
// concurrently from both participants: the deterministic id makes the second
// insert a no-op rather than a duplicate.
func (db *DB) CreateConversation(c *chat.Conversation) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		INSERT OR IGNORE INTO conversations (id, user_a, user_b, name_a, name_b, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserA, c.UserB, c.NameA, c.NameB, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const conversationColumns = `
	c.id, c.user_a, c.user_b,
	COALESCE(NULLIF(c.name_a,''), NULLIF(pa.display_name,''), c.user_a) AS name_a,
	COALESCE(NULLIF(c.name_b,''), NULLIF(pb.display_name,''), c.user_b) AS name_b,
	c.last_message, c.last_message_time, c.last_sender_id, c.last_message_read, c.updated_at`

// GetConversation returns a conversation by id, or nil if absent.
// Display names are resolved with fallback: cached snapshot on the
// conversation -> profile cache -> raw user id.
func (db *DB) GetConversation(id string) (*chat.Conversation, error) {
	row := db.QueryRow(`
		SELECT `+conversationColumns+`
		FROM conversations c
		LEFT JOIN profiles pa ON pa.user_id = c.user_a
		LEFT JOIN profiles pb ON pb.user_id = c.user_b
		WHERE c.id = ?`, id)

	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListConversationsForUser returns all conversations containing userID,
// ordered by last message time descending.
func (db *DB) ListConversationsForUser(userID string, limit int) ([]chat.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT `+conversationColumns+`
		FROM conversations c
		LEFT JOIN profiles pa ON pa.user_id = c.user_a
		LEFT JOIN profiles pb ON pb.user_id = c.user_b
		WHERE c.user_a = ? OR c.user_b = ?
		ORDER BY c.last_message_time DESC, c.updated_at DESC
		LIMIT ?`, userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []chat.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// CacheParticipantName stores a display-name snapshot for one participant on
// the conversation document. Stale snapshots are acceptable; they are
// overwritten on the next refresh.
func (db *DB) CacheParticipantName(conversationID, userID, displayName string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE conversations SET
			name_a = CASE WHEN user_a = ? THEN ? ELSE name_a END,
			name_b = CASE WHEN user_b = ? THEN ? ELSE name_b END,
			updated_at = ?
		WHERE id = ?`,
		userID, displayName, userID, displayName, now, conversationID)
	return err
}

// ConversationCount returns the total number of conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

// MessageCount returns the total number of durable messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE status != 'failed'`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*chat.Conversation, error) {
	var c chat.Conversation
	var lastRead int
	if err := row.Scan(&c.ID, &c.UserA, &c.UserB, &c.NameA, &c.NameB,
		&c.LastMessage, &c.LastMessageTime, &c.LastSenderID, &lastRead, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.LastMessageRead = lastRead != 0
	return &c, nil
}
