package store

import (
	"database/sql"
	"errors"
	"time"
)

// QueueOutbox adds a message to the send outbox.
func (db *DB) QueueOutbox(clientMsgID, userID, conversationID, content, messageType string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, user_id, conversation_id, content, message_type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'queued', ?, ?)`,
		clientMsgID, userID, conversationID, content, messageType, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status and counts
// the attempt.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sending', attempts = attempts + 1, updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboxSent updates an outbox entry to 'sent' with the gateway message key.
func (db *DB) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_id = ?, error_message = '', updated_at = ? WHERE client_msg_id = ?`, serverMsgID, now, clientMsgID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// RequeueOutbox puts an entry back in the queue after a retryable failure.
func (db *DB) RequeueOutbox(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'queued', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// PendingOutbox returns the user's queued entries, oldest first.
func (db *DB) PendingOutbox(userID string) ([]OutboxEntry, error) {
	return db.queryOutbox(`
		SELECT id, client_msg_id, user_id, conversation_id, content, message_type, status, attempts, error_message, server_msg_id, created_at
		FROM outbox WHERE status = 'queued' AND user_id = ? ORDER BY created_at ASC, id ASC`, userID)
}

// OutboxEntryByClientID returns one entry, or nil when it does not exist.
func (db *DB) OutboxEntryByClientID(clientMsgID string) (*OutboxEntry, error) {
	entries, err := db.queryOutbox(`
		SELECT id, client_msg_id, user_id, conversation_id, content, message_type, status, attempts, error_message, server_msg_id, created_at
		FROM outbox WHERE client_msg_id = ?`, clientMsgID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// CountOutbox returns how many entries are queued or in flight.
func (db *DB) CountOutbox() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE status IN ('queued', 'sending')`).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// ResetSendingOutbox requeues entries left in 'sending' by a crash.
func (db *DB) ResetSendingOutbox() (int64, error) {
	res, err := db.Exec(`UPDATE outbox SET status = 'queued', updated_at = ? WHERE status = 'sending'`, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) queryOutbox(query string, args ...any) ([]OutboxEntry, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.UserID, &e.ConversationID, &e.Content, &e.MessageType,
			&e.Status, &e.Attempts, &e.ErrorMessage, &e.ServerMsgID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
