package chat

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/goccy/go-json"

	"github.com/4xmen/goftgu/internal/metrics"
	"github.com/4xmen/goftgu/internal/models"
)

// Tombstone replaces the content of a deleted message.
const Tombstone = "This message was deleted"

const messageColumns = `id, conversation_id, sender_id, content, message_type,
	is_deleted, deleted_at, reactions, created_at`

func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	var isDeleted int
	var deletedAt sql.NullInt64
	var reactions string
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &m.Type,
		&isDeleted, &deletedAt, &reactions, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.IsDeleted = isDeleted == 1
	if deletedAt.Valid {
		v := deletedAt.Int64
		m.DeletedAt = &v
	}
	if m.Reactions, err = decodeReactions(reactions); err != nil {
		return nil, err
	}
	return &m, nil
}

func decodeReactions(raw string) ([]models.Reaction, error) {
	reactions := []models.Reaction{}
	if raw == "" {
		return reactions, nil
	}
	if err := json.Unmarshal([]byte(raw), &reactions); err != nil {
		return nil, err
	}
	return reactions, nil
}

func encodeReactions(reactions []models.Reaction) (string, error) {
	if len(reactions) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(reactions)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// getMessage returns nil, nil for a missing message.
func getMessage(ctx context.Context, q querier, id string) (*models.Message, error) {
	m, err := scanMessage(q.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStorage("fetch message", err)
	}
	return m, nil
}

func (s *Service) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	m, err := getMessage(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, notFound("message not found")
	}
	return m, nil
}

// AppendMessage adds a message to the conversation. In the same
// transaction, and in this order, it inserts the message, moves the
// conversation's last-message pointer and advances the sender's read
// receipt to the new message.
func (s *Service) AppendMessage(ctx context.Context, conversationID, senderID, content string, typ models.MessageType) (string, error) {
	if err := validateIDs(conversationID, senderID); err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", invalid("content is required")
	}
	if !typ.Valid() {
		return "", invalid("invalid message type")
	}

	messageID := newID()
	var participants []string
	var sender *models.User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		c, err := getConversation(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		if c == nil {
			return notFound("conversation not found")
		}
		participants = c.ParticipantIDs

		now := s.now()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, content, message_type, is_deleted, reactions, created_at)
			VALUES (?, ?, ?, ?, ?, 0, '[]', ?)
		`, messageID, conversationID, senderID, content, typ, now)
		if err != nil {
			return wrapStorage("insert message", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE conversations SET last_message_id = ?, last_message_at = ? WHERE id = ?
		`, messageID, now, conversationID)
		if err != nil {
			return wrapStorage("update conversation", err)
		}

		if err := upsertReceipt(ctx, tx, conversationID, senderID, &messageID, now); err != nil {
			return err
		}

		sender, err = getUser(ctx, tx, senderID)
		return err
	})
	if err != nil {
		return "", err
	}

	metrics.MessagesSent.Inc()
	s.emit(Event{
		Type:           EventMessageCreated,
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         senderID,
		Recipients:     participants,
	})
	s.notifyPush(conversationID, messageID, senderID, sender, content, typ, participants)
	return messageID, nil
}

func (s *Service) notifyPush(conversationID, messageID, senderID string, sender *models.User, content string, typ models.MessageType, participants []string) {
	if s.pusher == nil {
		return
	}
	recipients := make([]string, 0, len(participants))
	seen := map[string]bool{senderID: true}
	for _, id := range participants {
		if !seen[id] {
			seen[id] = true
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return
	}

	senderName := ""
	if sender != nil {
		senderName = sender.Name
	}
	if typ != models.MessageTypeText {
		content = "[" + string(typ) + "]"
	}
	s.pusher.NotifyMessage(&MessageNotification{
		ConversationID: conversationID,
		MessageID:      messageID,
		SenderName:     senderName,
		Content:        content,
		Recipients:     recipients,
	})
}

// ListMessages returns the conversation's messages oldest first with their
// senders resolved.
func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]*models.MessageWithSender, error) {
	if err := validateID(conversationID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, conversationID)
	if err != nil {
		return nil, wrapStorage("fetch messages", err)
	}
	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, wrapStorage("scan message", err)
		}
		messages = append(messages, m)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, wrapStorage("fetch messages", err)
	}

	senders := map[string]*models.User{}
	result := make([]*models.MessageWithSender, 0, len(messages))
	for _, m := range messages {
		sender, ok := senders[m.SenderID]
		if !ok {
			if sender, err = getUser(ctx, s.db, m.SenderID); err != nil {
				return nil, err
			}
			senders[m.SenderID] = sender
		}
		result = append(result, &models.MessageWithSender{Message: *m, Sender: sender})
	}
	return result, nil
}

// DeleteMessage soft-deletes a message on behalf of its sender. The content
// is replaced with Tombstone and cannot be recovered. Deleting an already
// deleted message succeeds without changing it.
func (s *Service) DeleteMessage(ctx context.Context, messageID, requesterID string) error {
	if err := validateIDs(messageID, requesterID); err != nil {
		return err
	}

	var m *models.Message
	var changed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if m, err = getMessage(ctx, tx, messageID); err != nil {
			return err
		}
		if m == nil {
			return notFound("message not found")
		}
		if m.SenderID != requesterID {
			return forbidden("can only delete own messages")
		}
		if m.IsDeleted {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE messages SET is_deleted = 1, deleted_at = ?, content = ? WHERE id = ?
		`, s.now(), Tombstone, messageID)
		if err != nil {
			return wrapStorage("delete message", err)
		}
		changed = true
		return nil
	})
	if err != nil || !changed {
		return err
	}

	metrics.MessagesDeleted.Inc()
	s.emitMessageUpdated(ctx, m, requesterID)
	return nil
}

// ToggleReaction adds the (userID, emoji) reaction to the message, or
// removes it when already present. It reports whether the reaction is now
// present.
func (s *Service) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	if err := validateIDs(messageID, userID); err != nil {
		return false, err
	}
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return false, invalid("emoji is required")
	}

	var m *models.Message
	var added bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if m, err = getMessage(ctx, tx, messageID); err != nil {
			return err
		}
		if m == nil {
			return notFound("message not found")
		}

		var reactions []models.Reaction
		reactions, added = toggle(m.Reactions, userID, emoji)
		encoded, err := encodeReactions(reactions)
		if err != nil {
			return internal("failed to encode reactions", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET reactions = ? WHERE id = ?`, encoded, messageID); err != nil {
			return wrapStorage("update reactions", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if added {
		metrics.ReactionsToggled.WithLabelValues("added").Inc()
	} else {
		metrics.ReactionsToggled.WithLabelValues("removed").Inc()
	}
	s.emitMessageUpdated(ctx, m, userID)
	return added, nil
}

func toggle(reactions []models.Reaction, userID, emoji string) ([]models.Reaction, bool) {
	out := make([]models.Reaction, 0, len(reactions)+1)
	removed := false
	for _, r := range reactions {
		if r.UserID == userID && r.Emoji == emoji {
			removed = true
			continue
		}
		out = append(out, r)
	}
	if removed {
		return out, false
	}
	return append(out, models.Reaction{UserID: userID, Emoji: emoji}), true
}

func (s *Service) emitMessageUpdated(ctx context.Context, m *models.Message, userID string) {
	if s.notifier == nil {
		return
	}
	recipients, err := participantIDs(ctx, s.db, m.ConversationID)
	if err != nil {
		s.logger.Warn().Err(err).Str("message_id", m.ID).Msg("failed to resolve event recipients")
		return
	}
	if len(recipients) == 0 {
		return
	}
	s.emit(Event{
		Type:           EventMessageUpdated,
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		UserID:         userID,
		Recipients:     recipients,
	})
}
