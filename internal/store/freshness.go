package store

import "time"

// MarkOpened records that userID opened conversationID at openedAt.
func (db *DB) MarkOpened(userID, conversationID string, openedAt int64) error {
	_, err := db.Exec(`
		INSERT INTO opened_conversations (user_id, conversation_id, opened_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, conversation_id) DO UPDATE SET opened_at = excluded.opened_at`,
		userID, conversationID, openedAt)
	return err
}

// OpenedConversations returns conversation id -> last opened time.
func (db *DB) OpenedConversations(userID string) (map[string]int64, error) {
	return db.timeMap(`SELECT conversation_id, opened_at FROM opened_conversations WHERE user_id = ?`, userID)
}

// SetLastSeen advances the last-seen message time. It never moves back.
func (db *DB) SetLastSeen(userID, conversationID string, seenAt int64) error {
	_, err := db.Exec(`
		INSERT INTO last_seen (user_id, conversation_id, seen_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, conversation_id) DO UPDATE SET seen_at = MAX(last_seen.seen_at, excluded.seen_at)`,
		userID, conversationID, seenAt)
	return err
}

// LastSeen returns conversation id -> newest message time seen.
func (db *DB) LastSeen(userID string) (map[string]int64, error) {
	return db.timeMap(`SELECT conversation_id, seen_at FROM last_seen WHERE user_id = ?`, userID)
}

// ForgetConversation drops local state for a deleted conversation.
func (db *DB) ForgetConversation(userID, conversationID string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{
		`DELETE FROM opened_conversations WHERE user_id = ? AND conversation_id = ?`,
		`DELETE FROM last_seen WHERE user_id = ? AND conversation_id = ?`,
	} {
		if _, err := tx.Exec(q, userID, conversationID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ForgetUser removes every row owned by userID. Global preferences stay.
func (db *DB) ForgetUser(userID string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{
		`DELETE FROM opened_conversations WHERE user_id = ?`,
		`DELETE FROM last_seen WHERE user_id = ?`,
		`DELETE FROM preferences WHERE scope = ?`,
		`DELETE FROM outbox WHERE user_id = ?`,
	} {
		if _, err := tx.Exec(q, userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (db *DB) timeMap(query string, userID string) (map[string]int64, error) {
	rows, err := db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int64)
	for rows.Next() {
		var id string
		var at int64
		if err := rows.Scan(&id, &at); err != nil {
			return nil, err
		}
		out[id] = at
	}
	return out, rows.Err()
}

// SetPreference stores a value under scope/key. Use GlobalScope for
// settings shared across users, or a user id.
func (db *DB) SetPreference(scope, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO preferences (scope, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		scope, key, value, time.Now().UnixMilli())
	return err
}

// Preferences returns every key in scope.
func (db *DB) Preferences(scope string) (map[string]string, error) {
	rows, err := db.Query(`SELECT key, value FROM preferences WHERE scope = ?`, scope)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
