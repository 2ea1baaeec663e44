package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/efreitasn/papertrade/internal/auth"
	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/store"
	"github.com/google/uuid"
)

const (
	maxEmailLength    = 254
	maxPasswordLength = 72 // bcrypt ignores anything longer
)

// SignupRequest represents the input for account creation.
type SignupRequest struct {
	Email           string
	Password        string
	ConfirmPassword string
}

// AuthService handles signup, login and token verification.
type AuthService struct {
	store  store.Store
	hasher *auth.PasswordHasher
	tokens *auth.TokenIssuer
}

// NewAuthService creates a new AuthService.
func NewAuthService(st store.Store, hasher *auth.PasswordHasher, tokens *auth.TokenIssuer) *AuthService {
	return &AuthService{
		store:  st,
		hasher: hasher,
		tokens: tokens,
	}
}

// Signup validates the request and creates a user. Emails are stored
// lowercased.
func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, &domain.ValidationError{Message: "email is required"}
	}
	if len(email) > maxEmailLength {
		return nil, &domain.ValidationError{Message: "email must be at most 254 characters"}
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, &domain.ValidationError{Message: "email must be a valid address"}
	}
	if req.Password == "" {
		return nil, &domain.ValidationError{Message: "password is required"}
	}
	if len(req.Password) > maxPasswordLength {
		return nil, &domain.ValidationError{Message: "password must be at most 72 bytes"}
	}
	if req.Password != req.ConfirmPassword {
		return nil, domain.ErrPasswordMismatch
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, domain.ErrEmailAlreadyRegistered
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	u := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	// The store enforces uniqueness too; a concurrent signup surfaces here.
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate checks the credentials and returns a signed access token.
// Unknown emails and wrong passwords both yield domain.ErrUnauthorized.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (string, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, domain.ErrUserNotFound) {
		return "", domain.ErrUnauthorized
	}
	if err != nil {
		return "", err
	}

	if err := s.hasher.Compare(u.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrWrongPassword) {
			return "", domain.ErrUnauthorized
		}
		return "", err
	}

	return s.tokens.Issue(u.ID)
}

// Verify resolves an access token to its user. Invalid or expired tokens
// and tokens of deleted users yield domain.ErrUnauthorized.
func (s *AuthService) Verify(ctx context.Context, token string) (*domain.User, error) {
	id, err := s.tokens.Verify(token)
	if err != nil {
		return nil, domain.ErrUnauthorized
	}
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Me returns the user with the given id.
func (s *AuthService) Me(ctx context.Context, userID string) (*domain.User, error) {
	return s.store.GetUser(ctx, userID)
}

// DeleteAccount removes the user together with its holdings and trades.
func (s *AuthService) DeleteAccount(ctx context.Context, userID string) error {
	return s.store.DeleteUser(ctx, userID)
}
