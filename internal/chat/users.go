package chat

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/4xmen/goftgu/internal/models"
)

const userColumns = "id, identity_key, name, email, image_url, is_online, last_seen, created_at"

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var imageURL sql.NullString
	var online int
	if err := row.Scan(&u.ID, &u.IdentityKey, &u.Name, &u.Email, &imageURL, &online, &u.LastSeen, &u.CreatedAt); err != nil {
		return nil, err
	}
	if imageURL.Valid {
		u.ImageURL = &imageURL.String
	}
	u.IsOnline = online == 1
	return &u, nil
}

// UpsertUser creates the user for identityKey or overwrites its profile
// fields. Presence is left untouched for existing users. It returns the
// internal user id and is safe to call on every login.
func (s *Service) UpsertUser(ctx context.Context, identityKey, name, email string, imageURL *string) (string, error) {
	identityKey = strings.TrimSpace(identityKey)
	if identityKey == "" {
		return "", invalid("identity key is required")
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return "", invalid("email is required")
	}

	var userID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx, `SELECT identity_key FROM users WHERE email = ?`, email).Scan(&owner)
		switch {
		case err == nil && owner != identityKey:
			return invalid("email already in use")
		case err != nil && !errors.Is(err, sql.ErrNoRows):
			return wrapStorage("look up user by email", err)
		}

		err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE identity_key = ?`, identityKey).Scan(&userID)
		if err == nil {
			_, err = tx.ExecContext(ctx, `
				UPDATE users SET name = ?, email = ?, image_url = ? WHERE id = ?
			`, name, email, imageURL, userID)
			if err != nil {
				return wrapStorage("update user", err)
			}
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return wrapStorage("look up user", err)
		}

		now := s.now()
		userID = newID()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO users (id, identity_key, name, email, image_url, is_online, last_seen, created_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		`, userID, identityKey, name, email, imageURL, now, now)
		if err != nil {
			return wrapStorage("create user", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.emit(Event{Type: EventUserUpdated, UserID: userID})
	return userID, nil
}

// SetOnline records presence for identityKey. Unknown identities are
// ignored.
func (s *Service) SetOnline(ctx context.Context, identityKey string, online bool) error {
	var userID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE identity_key = ?`, identityKey).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return wrapStorage("look up user", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?
		`, boolToInt(online), s.now(), userID)
		if err != nil {
			return wrapStorage("update presence", err)
		}
		return nil
	})
	if err != nil || userID == "" {
		return err
	}

	s.emit(Event{Type: EventUserUpdated, UserID: userID})
	return nil
}

// ResetPresence marks every online user offline except those in keep. It
// runs at startup, before connections are accepted, to clear flags left by
// a previous process. It returns the number of users changed.
func (s *Service) ResetPresence(ctx context.Context, keep []string) (int, error) {
	kept := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		kept[id] = struct{}{}
	}

	var changed []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM users WHERE is_online = 1`)
		if err != nil {
			return wrapStorage("list online users", err)
		}
		var stale []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return wrapStorage("scan online user", err)
			}
			if _, ok := kept[id]; !ok {
				stale = append(stale, id)
			}
		}
		if err := rows.Close(); err != nil {
			return wrapStorage("list online users", err)
		}

		now := s.now()
		for _, id := range stale {
			if _, err := tx.ExecContext(ctx,
				`UPDATE users SET is_online = 0, last_seen = ? WHERE id = ?`, now, id); err != nil {
				return wrapStorage("reset presence", err)
			}
		}
		changed = stale
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, id := range changed {
		s.emit(Event{Type: EventUserUpdated, UserID: id})
	}
	return len(changed), nil
}

func (s *Service) GetUserByIdentityKey(ctx context.Context, identityKey string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE identity_key = ?`, identityKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user not found")
	}
	if err != nil {
		return nil, wrapStorage("fetch user", err)
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	u, err := getUser(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, notFound("user not found")
	}
	return u, nil
}

// getUser returns nil, nil for a missing user.
func getUser(ctx context.Context, q querier, id string) (*models.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStorage("fetch user", err)
	}
	return u, nil
}

// GetUsers resolves ids in input order. Missing users are dropped.
func (s *Service) GetUsers(ctx context.Context, ids []string) ([]*models.User, error) {
	if err := validateIDs(ids...); err != nil {
		return nil, err
	}
	return getUsers(ctx, s.db, ids)
}

func getUsers(ctx context.Context, q querier, ids []string) ([]*models.User, error) {
	users := make([]*models.User, 0, len(ids))
	seen := make(map[string]*models.User, len(ids))
	for _, id := range ids {
		u, ok := seen[id]
		if !ok {
			var err error
			if u, err = getUser(ctx, q, id); err != nil {
				return nil, err
			}
			seen[id] = u
		}
		if u != nil {
			users = append(users, u)
		}
	}
	return users, nil
}

// ListUsersExcept returns every user but the one holding identityKey.
func (s *Service) ListUsersExcept(ctx context.Context, identityKey string) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE identity_key != ?
		ORDER BY name COLLATE NOCASE, created_at
	`, identityKey)
	if err != nil {
		return nil, wrapStorage("fetch users", err)
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrapStorage("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage("fetch users", err)
	}
	return users, nil
}

// SearchUsers matches query against display names, ignoring case. An empty
// query lists everyone but the caller.
func (s *Service) SearchUsers(ctx context.Context, query, excludeIdentityKey string) ([]*models.User, error) {
	users, err := s.ListUsersExcept(ctx, excludeIdentityKey)
	if err != nil {
		return nil, err
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return users, nil
	}

	matched := users[:0]
	for _, u := range users {
		if strings.Contains(strings.ToLower(u.Name), query) {
			matched = append(matched, u)
		}
	}
	return matched, nil
}
