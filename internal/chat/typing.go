package chat

import (
	"context"
	"database/sql"
	"time"

	"github.com/4xmen/goftgu/internal/models"
)

// TypingWindow is how long a typing flag stays active after its last
// update. A flag exactly TypingWindow old is stale.
const TypingWindow = 2000 * time.Millisecond

// SetTyping stores userID's typing flag for the conversation, stamped now.
func (s *Service) SetTyping(ctx context.Context, conversationID, userID string, isTyping bool) error {
	if err := validateIDs(conversationID, userID); err != nil {
		return err
	}

	var recipients []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO typing_indicators (conversation_id, user_id, is_typing, last_typing_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (conversation_id, user_id) DO UPDATE SET
				is_typing = excluded.is_typing,
				last_typing_at = excluded.last_typing_at
		`, conversationID, userID, boolToInt(isTyping), s.now())
		if err != nil {
			return wrapStorage("update typing indicator", err)
		}
		recipients, err = participantIDs(ctx, tx, conversationID)
		return err
	})
	if err != nil {
		return err
	}

	if len(recipients) > 0 {
		s.emit(Event{
			Type:           EventTypingUpdated,
			ConversationID: conversationID,
			UserID:         userID,
			Recipients:     recipients,
		})
	}
	return nil
}

// ActiveTypers returns the users other than excludeUserID whose typing
// flag in the conversation is set and younger than TypingWindow. Staleness
// is decided here at read time; nothing clears old flags.
func (s *Service) ActiveTypers(ctx context.Context, conversationID, excludeUserID string) ([]*models.User, error) {
	if err := validateID(conversationID); err != nil {
		return nil, err
	}

	cutoff := s.now() - TypingWindow.Milliseconds()
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM typing_indicators
		WHERE conversation_id = ? AND user_id != ? AND is_typing = 1 AND last_typing_at > ?
		ORDER BY last_typing_at
	`, conversationID, excludeUserID, cutoff)
	if err != nil {
		return nil, wrapStorage("fetch typing indicators", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, wrapStorage("scan typing indicator", err)
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, wrapStorage("fetch typing indicators", err)
	}

	return getUsers(ctx, s.db, ids)
}
