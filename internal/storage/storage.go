// Package storage defines persistence contracts for warden.
package storage

import (
	"context"
	"time"

	"github.com/warden-auth/warden/internal/platform/errors"
	"github.com/warden-auth/warden/internal/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// UserStore persists relying-party user records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
	ListUsers(ctx context.Context, pageSize int, pageToken string) (UserPage, error)
}

// UserPage describes a page of user records.
type UserPage struct {
	Users         []user.User
	NextPageToken string
}

// Credential stores a validated WebAuthn credential source for a user.
// The library's credential struct is kept as a JSON blob so upgrades to the
// protocol library never require schema changes.
type Credential struct {
	CredentialID   string
	UserID         string
	CredentialJSON string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// Ceremony stores the pending options for a WebAuthn registration or login
// ceremony, keyed by a single-use ceremony ID.
type Ceremony struct {
	ID          string
	Kind        string
	UserID      string
	SessionJSON string
	ExpiresAt   time.Time
}

// WebSession represents a durable authenticated session created after a
// successful ceremony.
type WebSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// CredentialStore persists WebAuthn credential sources.
type CredentialStore interface {
	PutCredential(ctx context.Context, credential Credential) error
	GetCredential(ctx context.Context, credentialID string) (Credential, error)
	ListCredentialsByUser(ctx context.Context, userID string) ([]Credential, error)
	DeleteCredential(ctx context.Context, credentialID string) error
}

// CeremonyStore persists pending ceremony options.
type CeremonyStore interface {
	PutCeremony(ctx context.Context, ceremony Ceremony) error
	GetCeremony(ctx context.Context, id string) (Ceremony, error)
	DeleteCeremony(ctx context.Context, id string) error
	DeleteExpiredCeremonies(ctx context.Context, now time.Time) error
}

// Statistics summarizes stored record counts.
type Statistics struct {
	Users       int64
	Credentials int64
	WebSessions int64
}

// StatisticsStore reports aggregate counts over stored records.
type StatisticsStore interface {
	GetStatistics(ctx context.Context) (Statistics, error)
}

// WebSessionStore persists durable authenticated sessions.
type WebSessionStore interface {
	PutWebSession(ctx context.Context, session WebSession) error
	GetWebSession(ctx context.Context, id string) (WebSession, error)
	RevokeWebSession(ctx context.Context, id string, revokedAt time.Time) error
	DeleteExpiredWebSessions(ctx context.Context, now time.Time) error
}
