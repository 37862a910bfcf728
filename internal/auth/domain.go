package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mscandco/platform/internal/platform/httpx"
	"github.com/mscandco/platform/internal/rbac"
)

var (
	// ErrNotFound indicates that no user matched the lookup.
	ErrNotFound = errors.New("auth: user not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = fmt.Errorf("auth: invalid credentials: %w", httpx.ErrUnauthorized)
	// ErrInvalidToken indicates a malformed, expired or revoked bearer token.
	ErrInvalidToken = fmt.Errorf("auth: invalid token: %w", httpx.ErrUnauthorized)
)

// User represents an authenticated user account.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	Role         rbac.Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal returns the authorization identity of the user.
func (u User) Principal() rbac.Principal {
	return rbac.Principal{ID: u.ID, Email: u.Email, Role: u.Role}
}
