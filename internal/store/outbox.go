package store

import (
	"fmt"
	"time"
)

// QueueOutbox journals a send before it is attempted.
func (db *DB) QueueOutbox(e OutboxEntry) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, account_id, conversation_id, recipient, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'queued', ?, ?)`,
		e.ClientMsgID, e.AccountID, e.ConversationID, e.Recipient, e.Body, now, now)
	if err != nil {
		return fmt.Errorf("queue outbox %s: %w", e.ClientMsgID, err)
	}
	return nil
}

// MarkOutboxSending records the session a send is going out through.
func (db *DB) MarkOutboxSending(clientMsgID, sessionID string) error {
	return db.updateOutbox(clientMsgID,
		`UPDATE outbox SET status = 'sending', session_id = ?, updated_at = ? WHERE client_msg_id = ?`,
		sessionID)
}

// MarkOutboxSent records the server message id of a confirmed send.
func (db *DB) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	return db.updateOutbox(clientMsgID,
		`UPDATE outbox SET status = 'sent', server_msg_id = ?, updated_at = ? WHERE client_msg_id = ?`,
		serverMsgID)
}

// MarkOutboxFailed records why a send failed.
func (db *DB) MarkOutboxFailed(clientMsgID, kind, errMsg string) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`UPDATE outbox SET status = 'failed', error_kind = ?, error_message = ?, updated_at = ? WHERE client_msg_id = ?`,
		kind, errMsg, now, clientMsgID)
	if err != nil {
		return fmt.Errorf("mark outbox %s failed: %w", clientMsgID, err)
	}
	return requireRow(res, clientMsgID)
}

func (db *DB) updateOutbox(clientMsgID, query, value string) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(query, value, now, clientMsgID)
	if err != nil {
		return fmt.Errorf("update outbox %s: %w", clientMsgID, err)
	}
	return requireRow(res, clientMsgID)
}

// OutboxForConversation returns the newest journaled sends of a conversation.
func (db *DB) OutboxForConversation(conversationID string, limit int) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, account_id, conversation_id, recipient, body, status,
		       session_id, server_msg_id, error_kind, error_message, created_at, updated_at
		FROM outbox WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var created, updated int64
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.AccountID, &e.ConversationID, &e.Recipient, &e.Body, &e.Status,
			&e.SessionID, &e.ServerMsgID, &e.ErrorKind, &e.ErrorMessage, &created, &updated); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(created)
		e.UpdatedAt = time.UnixMilli(updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// InterruptedOutbox returns sends left queued or sending by a previous run.
func (db *DB) InterruptedOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, conversation_id, status
		FROM outbox WHERE status IN ('queued', 'sending') ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ConversationID, &e.Status); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func requireRow(res rowsAffected, clientMsgID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("outbox entry %s not found", clientMsgID)
	}
	return nil
}
