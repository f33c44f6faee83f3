package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warden-auth/warden/internal/platform/pagination"
	"github.com/warden-auth/warden/internal/storage"
	"github.com/warden-auth/warden/internal/user"
)

// userPageSizes bounds ListUsers page sizes.
var userPageSizes = pagination.PageSizeConfig{Default: 50, Max: 200}

// PutUser persists a user record, updating username and display name on
// conflict.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(u.Username) == "" {
		return fmt.Errorf("username is required")
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (id, username, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			updated_at = excluded.updated_at`,
		u.ID, u.Username, u.DisplayName, toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser fetches a user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if err := s.ensureDB(); err != nil {
		return user.User{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, username, display_name, created_at, updated_at FROM users WHERE id = ?`,
		userID,
	)
	return scanUser(row)
}

// GetUserByUsername fetches a user by canonical username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if err := s.ensureDB(); err != nil {
		return user.User{}, err
	}
	if strings.TrimSpace(username) == "" {
		return user.User{}, fmt.Errorf("username is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, username, display_name, created_at, updated_at FROM users WHERE username = ?`,
		strings.ToLower(strings.TrimSpace(username)),
	)
	return scanUser(row)
}

// ListUsers returns a page of users ordered by ID using keyset pagination.
func (s *Store) ListUsers(ctx context.Context, pageSize int, pageToken string) (storage.UserPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.UserPage{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.UserPage{}, err
	}
	pageSize = pagination.ClampPageSize(pageSize, userPageSizes)

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, username, display_name, created_at, updated_at
		FROM users WHERE id > ? ORDER BY id LIMIT ?`,
		pageToken, pageSize+1,
	)
	if err != nil {
		return storage.UserPage{}, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []user.User
	for rows.Next() {
		var u user.User
		var createdAt, updatedAt int64
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &createdAt, &updatedAt); err != nil {
			return storage.UserPage{}, fmt.Errorf("scan user: %w", err)
		}
		u.CreatedAt = fromMillis(createdAt)
		u.UpdatedAt = fromMillis(updatedAt)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return storage.UserPage{}, fmt.Errorf("list users: %w", err)
	}

	page := storage.UserPage{}
	if len(users) > pageSize {
		users = users[:pageSize]
		page.NextPageToken = users[len(users)-1].ID
	}
	page.Users = users
	return page, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (user.User, error) {
	var u user.User
	var createdAt, updatedAt int64
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}
