package chat

import (
	"context"
	"database/sql"
	"errors"

	"github.com/4xmen/goftgu/internal/models"
)

// upsertReceipt creates or advances a read receipt. last_read_at never
// moves backwards; a nil messageID keeps the stored message reference.
func upsertReceipt(ctx context.Context, q querier, conversationID, userID string, messageID *string, at int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO read_receipts (conversation_id, user_id, last_read_message_id, last_read_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (conversation_id, user_id) DO UPDATE SET
			last_read_message_id = COALESCE(excluded.last_read_message_id, read_receipts.last_read_message_id),
			last_read_at = MAX(read_receipts.last_read_at, excluded.last_read_at)
	`, conversationID, userID, messageID, at)
	if err != nil {
		return wrapStorage("update read receipt", err)
	}
	return nil
}

// MarkRead moves userID's watermark in the conversation to now, creating
// the receipt on first use.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string) error {
	if err := validateIDs(conversationID, userID); err != nil {
		return err
	}

	var recipients []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := upsertReceipt(ctx, tx, conversationID, userID, nil, s.now()); err != nil {
			return err
		}
		var err error
		recipients, err = participantIDs(ctx, tx, conversationID)
		return err
	})
	if err != nil {
		return err
	}

	if len(recipients) == 0 {
		recipients = []string{userID}
	}
	s.emit(Event{
		Type:           EventReceiptUpdated,
		ConversationID: conversationID,
		UserID:         userID,
		Recipients:     recipients,
	})
	return nil
}

func (s *Service) GetReadReceipt(ctx context.Context, conversationID, userID string) (*models.ReadReceipt, error) {
	if err := validateIDs(conversationID, userID); err != nil {
		return nil, err
	}

	r := models.ReadReceipt{ConversationID: conversationID, UserID: userID}
	var messageID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT last_read_message_id, last_read_at FROM read_receipts
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(&messageID, &r.LastReadAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("read receipt not found")
	}
	if err != nil {
		return nil, wrapStorage("fetch read receipt", err)
	}
	r.LastReadMessageID = nullString(messageID)
	return &r, nil
}

// UnreadCount counts messages from other participants created strictly
// after userID's watermark. Without a receipt every such message counts.
func (s *Service) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	if err := validateIDs(conversationID, userID); err != nil {
		return 0, err
	}
	return unreadCount(ctx, s.db, conversationID, userID)
}

func unreadCount(ctx context.Context, q querier, conversationID, userID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ?
		  AND sender_id != ?
		  AND created_at > COALESCE(
			(SELECT last_read_at FROM read_receipts WHERE conversation_id = ? AND user_id = ?), 0)
	`, conversationID, userID, conversationID, userID).Scan(&n)
	if err != nil {
		return 0, wrapStorage("count unread messages", err)
	}
	return n, nil
}
