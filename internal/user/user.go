// Package user provides relying-party user identity management.
package user

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/warden-auth/warden/internal/platform/errors"
	"github.com/warden-auth/warden/internal/platform/id"
)

var (
	// ErrEmptyUsername indicates a missing username.
	ErrEmptyUsername = apperrors.New(apperrors.CodeUserEmptyUsername, "username is required")
	// ErrInvalidUsername indicates a username that does not match the required format.
	ErrInvalidUsername = apperrors.New(apperrors.CodeUserInvalidUsername, "username must be 3-32 lowercase alphanumeric, dot, dash, or underscore characters")

	usernamePattern = regexp.MustCompile(`^[a-z0-9_.\-]{3,32}$`)
)

// User represents an identity a WebAuthn credential can be bound to.
type User struct {
	ID          string
	Username    string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateUserInput describes the metadata needed to create a user.
type CreateUserInput struct {
	Username    string
	DisplayName string
}

// ValidateUsername enforces canonical username constraints. The username
// doubles as the WebAuthn user name shown in authenticator pickers, so it
// must stay stable and printable.
func ValidateUsername(s string) error {
	if !usernamePattern.MatchString(s) {
		return ErrInvalidUsername
	}
	return nil
}

// CreateUser creates a durable user identity from validated input.
//
// The service layer treats this as the canonical point where untrusted
// username data becomes a stable identity credentials can be scoped to.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateUserInput(input)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	createdAt := now().UTC()
	return User{
		ID:          userID,
		Username:    normalized.Username,
		DisplayName: normalized.DisplayName,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}, nil
}

// NormalizeCreateUserInput trims and normalizes input before validation.
func NormalizeCreateUserInput(input CreateUserInput) (CreateUserInput, error) {
	input.Username = strings.ToLower(strings.TrimSpace(input.Username))
	if input.Username == "" {
		return CreateUserInput{}, ErrEmptyUsername
	}
	if err := ValidateUsername(input.Username); err != nil {
		return CreateUserInput{}, err
	}
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if input.DisplayName == "" {
		input.DisplayName = input.Username
	}
	return input, nil
}
