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

// PutCeremony stores a pending WebAuthn ceremony.
func (s *Store) PutCeremony(ctx context.Context, ceremony storage.Ceremony) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(ceremony.ID) == "" {
		return fmt.Errorf("ceremony id is required")
	}
	if strings.TrimSpace(ceremony.Kind) == "" {
		return fmt.Errorf("ceremony kind is required")
	}
	if strings.TrimSpace(ceremony.SessionJSON) == "" {
		return fmt.Errorf("session json is required")
	}

	userID := sql.NullString{}
	if strings.TrimSpace(ceremony.UserID) != "" {
		userID = sql.NullString{String: ceremony.UserID, Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO ceremonies (id, kind, user_id, session_json, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			user_id = excluded.user_id,
			session_json = excluded.session_json,
			expires_at = excluded.expires_at`,
		ceremony.ID, ceremony.Kind, userID, ceremony.SessionJSON, toMillis(ceremony.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put ceremony: %w", err)
	}
	return nil
}

// GetCeremony fetches a pending ceremony by ID.
func (s *Store) GetCeremony(ctx context.Context, id string) (storage.Ceremony, error) {
	if err := ctx.Err(); err != nil {
		return storage.Ceremony{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.Ceremony{}, err
	}
	if strings.TrimSpace(id) == "" {
		return storage.Ceremony{}, fmt.Errorf("ceremony id is required")
	}

	var ceremony storage.Ceremony
	var userID sql.NullString
	var expiresAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, kind, user_id, session_json, expires_at FROM ceremonies WHERE id = ?`,
		id,
	).Scan(&ceremony.ID, &ceremony.Kind, &userID, &ceremony.SessionJSON, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Ceremony{}, storage.ErrNotFound
		}
		return storage.Ceremony{}, fmt.Errorf("get ceremony: %w", err)
	}
	if userID.Valid {
		ceremony.UserID = userID.String
	}
	ceremony.ExpiresAt = fromMillis(expiresAt)
	return ceremony, nil
}

// DeleteCeremony removes a pending ceremony.
func (s *Store) DeleteCeremony(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("ceremony id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM ceremonies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete ceremony: %w", err)
	}
	return nil
}

// DeleteExpiredCeremonies removes ceremonies past their expiry.
func (s *Store) DeleteExpiredCeremonies(ctx context.Context, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM ceremonies WHERE expires_at < ?`, toMillis(now))
	if err != nil {
		return fmt.Errorf("delete expired ceremonies: %w", err)
	}
	return nil
}
