package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warden-auth/warden/internal/storage"
)

// PutCredential stores a WebAuthn credential source.
func (s *Store) PutCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(credential.CredentialJSON) == "" {
		return fmt.Errorf("credential json is required")
	}

	lastUsed := sql.NullInt64{}
	if credential.LastUsedAt != nil {
		lastUsed = sql.NullInt64{Int64: toMillis(*credential.LastUsedAt), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO credentials (credential_id, user_id, credential_json, created_at, updated_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(credential_id) DO UPDATE SET
			credential_json = excluded.credential_json,
			updated_at = excluded.updated_at,
			last_used_at = excluded.last_used_at`,
		credential.CredentialID,
		credential.UserID,
		credential.CredentialJSON,
		toMillis(credential.CreatedAt),
		toMillis(credential.UpdatedAt),
		lastUsed,
	)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// GetCredential fetches a stored WebAuthn credential.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.Credential{}, err
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.Credential{}, fmt.Errorf("credential id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT credential_id, user_id, credential_json, created_at, updated_at, last_used_at
		FROM credentials WHERE credential_id = ?`,
		credentialID,
	)
	credential, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return credential, nil
}

// ListCredentialsByUser returns credentials for a user.
func (s *Store) ListCredentialsByUser(ctx context.Context, userID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT credential_id, user_id, credential_json, created_at, updated_at, last_used_at
		FROM credentials WHERE user_id = ? ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	credentials := make([]storage.Credential, 0)
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// DeleteCredential removes a credential.
func (s *Store) DeleteCredential(ctx context.Context, credentialID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(credentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM credentials WHERE credential_id = ?`, credentialID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func scanCredential(row rowScanner) (storage.Credential, error) {
	var credential storage.Credential
	var createdAt, updatedAt int64
	var lastUsed sql.NullInt64
	if err := row.Scan(
		&credential.CredentialID,
		&credential.UserID,
		&credential.CredentialJSON,
		&createdAt,
		&updatedAt,
		&lastUsed,
	); err != nil {
		return storage.Credential{}, err
	}
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)
	if lastUsed.Valid {
		value := fromMillis(lastUsed.Int64)
		credential.LastUsedAt = &value
	}
	return credential, nil
}
