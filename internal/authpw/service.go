// Package authpw provides email/password authentication and password resets.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"sheetapp/api/internal/auth"
	"sheetapp/api/internal/store"
	"sheetapp/api/internal/util"
)

const (
	MinPasswordLength = 8
	ResetTokenTTL     = time.Hour
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
)

// InputError is a rejected field value.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	return e.Field + ": " + e.Message
}

type Service struct {
	store UserStore
	cost  int
}

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, tokenHash string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, tokenHash string) error
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost}
}

// WithCost lowers the bcrypt cost; tests use bcrypt.MinCost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

type SignUpRequest struct {
	Email    string
	Username string
	Password string
}

func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	email := strings.TrimSpace(req.Email)
	username := strings.TrimSpace(req.Username)
	if email == "" {
		return store.User{}, &InputError{Field: "email", Message: "Email is required."}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return store.User{}, &InputError{Field: "email", Message: "Enter a valid email address."}
	}
	if username == "" {
		return store.User{}, &InputError{Field: "username", Message: "Username is required."}
	}
	if len(req.Password) < MinPasswordLength {
		return store.User{}, &InputError{Field: "password", Message: fmt.Sprintf("Password must be at least %d characters.", MinPasswordLength)}
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, ErrEmailTaken
	}
	if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
		return store.User{}, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.User{
		ID:           util.NewID(),
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.User{}, ErrEmailTaken
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn accepts either the email address or the username as login.
func (s *Service) SignIn(ctx context.Context, login, password string) (store.User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	lookup := s.store.GetUserByUsername
	if strings.Contains(login, "@") {
		lookup = s.store.GetUserByEmail
	}
	user, err := lookup(ctx, login)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// RequestPasswordReset returns a raw reset token for the account behind
// email. Unknown addresses yield an empty token and no error so callers
// cannot probe which emails are registered.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, store.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return "", store.User{}, nil
	}

	token := util.NewToken()
	if err := s.store.CreatePasswordReset(ctx, user.ID, auth.HashToken(token), time.Now().Add(ResetTokenTTL)); err != nil {
		return "", store.User{}, err
	}
	return token, user, nil
}

type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	if strings.TrimSpace(req.Token) == "" {
		return &InputError{Field: "token", Message: "Reset token is required."}
	}
	if len(req.NewPassword) < MinPasswordLength {
		return &InputError{Field: "password", Message: fmt.Sprintf("Password must be at least %d characters.", MinPasswordLength)}
	}

	tokenHash := auth.HashToken(req.Token)
	userID, err := s.store.GetPasswordReset(ctx, tokenHash)
	if err != nil {
		return ErrInvalidResetToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.store.MarkPasswordResetUsed(ctx, tokenHash); err != nil {
		return fmt.Errorf("mark reset used: %w", err)
	}
	return nil
}
