// Package usecase contains application services orchestrating the domain
// ports. Services validate input, enforce ownership and drive the
// asynchronous pipelines; adapters stay mechanism-only.
package usecase

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 128
)

// credentialDigest pre-hashes the password before bcrypt. bcrypt rejects
// inputs over 72 bytes, so the digest keeps the whole [8,128] length range
// usable; base64 keeps NUL bytes out of the bcrypt input.
func credentialDigest(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	out := make([]byte, base64.RawStdEncoding.EncodedLen(len(sum)))
	base64.RawStdEncoding.Encode(out, sum[:])
	return out
}

// AuthService registers users and verifies credentials.
type AuthService struct {
	users domain.UserRepository
}

// NewAuthService constructs an AuthService.
func NewAuthService(users domain.UserRepository) AuthService {
	return AuthService{users: users}
}

// Register creates a user with a bcrypt-hashed password and returns its id.
// A duplicate email surfaces as domain.ErrConflict.
func (s AuthService) Register(ctx domain.Context, email, password string) (int64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return 0, fmt.Errorf("%w: invalid email", domain.ErrInvalidArgument)
	}
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return 0, fmt.Errorf("%w: password must be %d to %d characters", domain.ErrInvalidArgument, minPasswordLen, maxPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword(credentialDigest(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("op=auth.register: %w", err)
	}
	id, err := s.users.Create(ctx, domain.User{Email: email, PasswordHash: string(hash)})
	if err != nil {
		return 0, err
	}
	slog.Info("user registered", slog.Int64("user_id", id))
	return id, nil
}

// Login verifies credentials and returns the user. Unknown emails and wrong
// passwords both map to domain.ErrInvalidCredentials so the response does
// not reveal which one it was. Inactive or deleted accounts map to
// domain.ErrUserInactive.
func (s AuthService) Login(ctx domain.Context, email, password string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: email or password is wrong", domain.ErrInvalidCredentials)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), credentialDigest(password)); err != nil {
		return domain.User{}, fmt.Errorf("%w: email or password is wrong", domain.ErrInvalidCredentials)
	}
	if !u.Active || u.Deleted {
		return domain.User{}, fmt.Errorf("%w: account disabled", domain.ErrUserInactive)
	}
	return u, nil
}
