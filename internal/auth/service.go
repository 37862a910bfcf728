package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mscandco/platform/internal/platform/httpx"
	"github.com/mscandco/platform/internal/rbac"
)

// Session is the result of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      User
}

// Service wraps authentication business rules.
type Service struct {
	repo        Repository
	tokens      *TokenIssuer
	revocations RevocationStore
	now         func() time.Time
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *TokenIssuer, revocations RevocationStore) *Service {
	return &Service{repo: repo, tokens: tokens, revocations: revocations, now: time.Now}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, httpx.Upstream(fmt.Errorf("auth: find user: %w", err))
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates the credentials and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	token, claims, err := s.tokens.Issue(*user)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: claims.ExpiresAt.Time, User: *user}, nil
}

// Logout revokes the token described by claims.
func (s *Service) Logout(ctx context.Context, claims *Claims) error {
	if claims == nil {
		return ErrInvalidToken
	}
	if err := s.revocations.Revoke(ctx, claims.ID, claims.Remaining(s.now())); err != nil {
		return httpx.Upstream(fmt.Errorf("auth: revoke token: %w", err))
	}
	return nil
}

// RevokeUser ends every session userID opened at or before at. It lets the
// permission service log out users whose role changed.
func (s *Service) RevokeUser(ctx context.Context, userID uuid.UUID, at time.Time) error {
	if err := s.revocations.RevokeUser(ctx, userID, at, s.tokens.TTL()); err != nil {
		return fmt.Errorf("auth: revoke sessions: %w", err)
	}
	return nil
}

var _ rbac.SessionRevoker = (*Service)(nil)

// HashPassword returns the bcrypt hash stored for new accounts.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}
