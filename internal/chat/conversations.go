package chat

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/4xmen/goftgu/internal/models"
)

const conversationColumns = `id, is_group, group_name, group_description, group_image,
	created_by, last_message_id, last_message_at, created_at`

// DirectKey is the derived unique key of the direct conversation between
// two users, independent of argument order.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var c models.Conversation
	var isGroup int
	var name, description, image, lastMessageID sql.NullString
	err := row.Scan(&c.ID, &isGroup, &name, &description, &image,
		&c.CreatedBy, &lastMessageID, &c.LastMessageAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.IsGroup = isGroup == 1
	c.GroupName = nullString(name)
	c.GroupDescription = nullString(description)
	c.GroupImage = nullString(image)
	c.LastMessageID = nullString(lastMessageID)
	return &c, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func participantIDs(ctx context.Context, q querier, conversationID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY position
	`, conversationID)
	if err != nil {
		return nil, wrapStorage("fetch participants", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapStorage("scan participant", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage("fetch participants", err)
	}
	return ids, nil
}

// getConversation returns nil, nil for a missing conversation.
func getConversation(ctx context.Context, q querier, id string) (*models.Conversation, error) {
	c, err := scanConversation(q.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStorage("fetch conversation", err)
	}
	if c.ParticipantIDs, err = participantIDs(ctx, q, id); err != nil {
		return nil, err
	}
	return c, nil
}

func insertParticipants(ctx context.Context, tx *sql.Tx, conversationID string, userIDs []string) error {
	for i, userID := range userIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (conversation_id, position, user_id)
			VALUES (?, ?, ?)
		`, conversationID, i, userID)
		if err != nil {
			return wrapStorage("add participant", err)
		}
	}
	return nil
}

func requireUsers(ctx context.Context, q querier, ids []string) error {
	for _, id := range ids {
		var exists int
		err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id = ?`, id).Scan(&exists)
		if err != nil {
			return wrapStorage("look up user", err)
		}
		if exists == 0 {
			return notFound("user not found")
		}
	}
	return nil
}

// GetOrCreateDirect returns the direct conversation between userA and
// userB, creating it with userA as creator when none exists. Concurrent
// first calls for the same pair agree on one conversation.
func (s *Service) GetOrCreateDirect(ctx context.Context, userA, userB string) (string, error) {
	if err := validateIDs(userA, userB); err != nil {
		return "", err
	}
	if userA == userB {
		return "", invalid("cannot create conversation with yourself")
	}

	key := DirectKey(userA, userB)
	var conversationID string
	var created bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireUsers(ctx, tx, []string{userA, userB}); err != nil {
			return err
		}

		id, err := findDirect(ctx, tx, userA, userB)
		if err != nil {
			return err
		}
		if id != "" {
			conversationID = id
			return nil
		}

		now := s.now()
		id = newID()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, is_group, created_by, last_message_at, created_at, direct_key)
			VALUES (?, 0, ?, ?, ?, ?)
			ON CONFLICT (direct_key) WHERE direct_key IS NOT NULL DO NOTHING
		`, id, userA, now, now, key)
		if err != nil {
			return wrapStorage("create conversation", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM conversations WHERE direct_key = ?`, key).Scan(&conversationID)
			if err != nil {
				return wrapStorage("look up conversation", err)
			}
			return nil
		}
		if err := insertParticipants(ctx, tx, id, []string{userA, userB}); err != nil {
			return err
		}
		conversationID = id
		created = true
		return nil
	})
	if err != nil {
		return "", err
	}

	if created {
		s.emit(Event{
			Type:           EventConversationUpdated,
			ConversationID: conversationID,
			Recipients:     []string{userA, userB},
		})
	}
	return conversationID, nil
}

// findDirect looks the pair up by derived key first, then falls back to
// scanning direct conversations created before the key was stored.
func findDirect(ctx context.Context, q querier, userA, userB string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE direct_key = ?`, DirectKey(userA, userB)).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", wrapStorage("look up conversation", err)
	}

	err = q.QueryRowContext(ctx, `
		SELECT c.id FROM conversations c
		WHERE c.is_group = 0 AND c.direct_key IS NULL
		  AND (SELECT COUNT(*) FROM conversation_participants p WHERE p.conversation_id = c.id) = 2
		  AND EXISTS (SELECT 1 FROM conversation_participants p WHERE p.conversation_id = c.id AND p.user_id = ?)
		  AND EXISTS (SELECT 1 FROM conversation_participants p WHERE p.conversation_id = c.id AND p.user_id = ?)
		ORDER BY c.created_at, c.rowid
		LIMIT 1
	`, userA, userB).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", wrapStorage("scan direct conversations", err)
	}
	return id, nil
}

// GroupParams describes a new group conversation.
type GroupParams struct {
	Name           string
	Description    *string
	Image          *string
	ParticipantIDs []string
}

// CreateGroup creates a group whose participants are the creator followed
// by p.ParticipantIDs, as given.
func (s *Service) CreateGroup(ctx context.Context, creatorID string, p GroupParams) (string, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return "", invalid("group name is required")
	}
	participants := append([]string{creatorID}, p.ParticipantIDs...)
	if err := validateIDs(participants...); err != nil {
		return "", err
	}

	conversationID := newID()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireUsers(ctx, tx, participants); err != nil {
			return err
		}
		now := s.now()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, is_group, group_name, group_description, group_image,
				created_by, last_message_at, created_at)
			VALUES (?, 1, ?, ?, ?, ?, ?, ?)
		`, conversationID, name, p.Description, p.Image, creatorID, now, now)
		if err != nil {
			return wrapStorage("create conversation", err)
		}
		return insertParticipants(ctx, tx, conversationID, participants)
	})
	if err != nil {
		return "", err
	}

	s.emit(Event{
		Type:           EventConversationUpdated,
		ConversationID: conversationID,
		Recipients:     participants,
	})
	return conversationID, nil
}

func (s *Service) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	c, err := getConversation(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, notFound("conversation not found")
	}
	return c, nil
}

// RequireParticipant returns the conversation when userID belongs to it.
func (s *Service) RequireParticipant(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	c, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, forbidden("not a participant")
	}
	return c, nil
}

// ListConversations returns the conversations userID takes part in, most
// recently active first, with participants, last message and the caller's
// unread count resolved.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*models.ConversationSummary, error) {
	if err := validateID(userID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE id IN (SELECT conversation_id FROM conversation_participants WHERE user_id = ?)
		ORDER BY last_message_at DESC, created_at DESC
	`, userID)
	if err != nil {
		return nil, wrapStorage("fetch conversations", err)
	}
	var conversations []*models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, wrapStorage("scan conversation", err)
		}
		conversations = append(conversations, c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, wrapStorage("fetch conversations", err)
	}

	summaries := make([]*models.ConversationSummary, 0, len(conversations))
	for _, c := range conversations {
		summary, err := s.summarize(ctx, c, userID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *Service) summarize(ctx context.Context, c *models.Conversation, userID string) (*models.ConversationSummary, error) {
	var err error
	if c.ParticipantIDs, err = participantIDs(ctx, s.db, c.ID); err != nil {
		return nil, err
	}

	summary := &models.ConversationSummary{Conversation: *c}
	if summary.Participants, err = getUsers(ctx, s.db, c.ParticipantIDs); err != nil {
		return nil, err
	}
	if c.LastMessageID != nil {
		if summary.LastMessage, err = getMessage(ctx, s.db, *c.LastMessageID); err != nil {
			return nil, err
		}
	}
	if summary.UnreadCount, err = unreadCount(ctx, s.db, c.ID, userID); err != nil {
		return nil, err
	}
	return summary, nil
}
