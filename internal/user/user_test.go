package user

import (
	"errors"
	"testing"
	"time"
)

func TestCreateUser(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	created, err := CreateUser(
		CreateUserInput{Username: " Alice ", DisplayName: "Alice A."},
		func() time.Time { return fixed },
		func() (string, error) { return "user-1", nil },
	)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.ID != "user-1" {
		t.Fatalf("id = %q, want %q", created.ID, "user-1")
	}
	if created.Username != "alice" {
		t.Fatalf("username = %q, want %q", created.Username, "alice")
	}
	if created.DisplayName != "Alice A." {
		t.Fatalf("display name = %q", created.DisplayName)
	}
	if !created.CreatedAt.Equal(fixed) || !created.UpdatedAt.Equal(fixed) {
		t.Fatalf("unexpected timestamps: %+v", created)
	}
}

func TestCreateUserDefaultsDisplayName(t *testing.T) {
	created, err := CreateUser(CreateUserInput{Username: "bob"}, nil, nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if created.DisplayName != "bob" {
		t.Fatalf("display name = %q, want username fallback", created.DisplayName)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestCreateUserEmptyUsername(t *testing.T) {
	_, err := CreateUser(CreateUserInput{Username: "   "}, nil, nil)
	if !errors.Is(err, ErrEmptyUsername) {
		t.Fatalf("expected ErrEmptyUsername, got %v", err)
	}
}

func TestValidateUsername(t *testing.T) {
	valid := []string{"abc", "user.name", "user-name", "user_name", "a2345678901234567890123456789012"}
	for _, name := range valid {
		if err := ValidateUsername(name); err != nil {
			t.Fatalf("expected %q to be valid: %v", name, err)
		}
	}

	invalid := []string{"ab", "UPPER", "has space", "emoji🔥", "a23456789012345678901234567890123"}
	for _, name := range invalid {
		if !errors.Is(ValidateUsername(name), ErrInvalidUsername) {
			t.Fatalf("expected %q to be invalid", name)
		}
	}
}
