package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/freelancehub/convo/internal/chat"
)

// UpsertProfile inserts or updates a cached profile snapshot. Empty incoming
// fields never clobber known values.
func (db *DB) UpsertProfile(p *chat.Profile) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO profiles (user_id, display_name, email, avatar_url, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE profiles.display_name END,
			email = CASE WHEN excluded.email != '' THEN excluded.email ELSE profiles.email END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE profiles.avatar_url END,
			updated_at = excluded.updated_at`,
		p.UserID, p.DisplayName, p.Email, p.AvatarURL, now)
	return err
}

// BulkUpsertProfiles inserts or updates multiple profiles in a single
// transaction. Used by the periodic refresh from the profile service.
func (db *DB) BulkUpsertProfiles(profiles []chat.Profile) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, p := range profiles {
		if _, err := tx.Exec(`
			INSERT INTO profiles (user_id, display_name, email, avatar_url, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE profiles.display_name END,
				email = CASE WHEN excluded.email != '' THEN excluded.email ELSE profiles.email END,
				avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE profiles.avatar_url END,
				updated_at = excluded.updated_at`,
			p.UserID, p.DisplayName, p.Email, p.AvatarURL, now); err != nil {
			return fmt.Errorf("upsert profile %q: %w", p.UserID, err)
		}
	}
	return tx.Commit()
}

// GetProfile returns a cached profile by user id, or nil if unknown.
// A missing profile is not an error; display falls back to the raw id.
func (db *DB) GetProfile(userID string) (*chat.Profile, error) {
	var p chat.Profile
	err := db.QueryRow(`SELECT user_id, display_name, email, avatar_url FROM profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.DisplayName, &p.Email, &p.AvatarURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ProfilesByID returns cached profiles for the given user ids. Unknown ids
// are simply absent from the result.
func (db *DB) ProfilesByID(userIDs []string) (map[string]chat.Profile, error) {
	out := make(map[string]chat.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(userIDs))
	for _, id := range userIDs {
		args = append(args, id)
	}
	rows, err := db.Query(`
		SELECT user_id, display_name, email, avatar_url FROM profiles
		WHERE user_id IN (`+placeholders(len(userIDs))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var p chat.Profile
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.Email, &p.AvatarURL); err != nil {
			return nil, err
		}
		out[p.UserID] = p
	}
	return out, rows.Err()
}
