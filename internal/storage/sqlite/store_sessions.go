package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warden-auth/warden/internal/storage"
)

// PutWebSession stores a durable authenticated session.
func (s *Store) PutWebSession(ctx context.Context, session storage.WebSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(session.UserID) == "" {
		return fmt.Errorf("user id is required")
	}

	revoked := sql.NullInt64{}
	if session.RevokedAt != nil {
		revoked = sql.NullInt64{Int64: toMillis(*session.RevokedAt), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO web_sessions (id, user_id, created_at, expires_at, revoked_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			expires_at = excluded.expires_at,
			revoked_at = excluded.revoked_at`,
		session.ID, session.UserID, toMillis(session.CreatedAt), toMillis(session.ExpiresAt), revoked,
	)
	if err != nil {
		return fmt.Errorf("put web session: %w", err)
	}
	return nil
}

// GetWebSession fetches a durable session by ID.
func (s *Store) GetWebSession(ctx context.Context, id string) (storage.WebSession, error) {
	if err := ctx.Err(); err != nil {
		return storage.WebSession{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.WebSession{}, err
	}
	if strings.TrimSpace(id) == "" {
		return storage.WebSession{}, fmt.Errorf("session id is required")
	}

	var session storage.WebSession
	var createdAt, expiresAt int64
	var revoked sql.NullInt64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, expires_at, revoked_at FROM web_sessions WHERE id = ?`,
		id,
	).Scan(&session.ID, &session.UserID, &createdAt, &expiresAt, &revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.WebSession{}, storage.ErrNotFound
		}
		return storage.WebSession{}, fmt.Errorf("get web session: %w", err)
	}
	session.CreatedAt = fromMillis(createdAt)
	session.ExpiresAt = fromMillis(expiresAt)
	if revoked.Valid {
		value := fromMillis(revoked.Int64)
		session.RevokedAt = &value
	}
	return session, nil
}

// RevokeWebSession marks a session revoked.
func (s *Store) RevokeWebSession(ctx context.Context, id string, revokedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("session id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE web_sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		toMillis(revokedAt), id,
	)
	if err != nil {
		return fmt.Errorf("revoke web session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke web session: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteExpiredWebSessions removes sessions past their expiry.
func (s *Store) DeleteExpiredWebSessions(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM web_sessions WHERE expires_at < ?`, toMillis(now))
	if err != nil {
		return fmt.Errorf("delete expired web sessions: %w", err)
	}
	return nil
}
