package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
)

func TestRegisterAndLogin(t *testing.T) {
	users := newMemUsers()
	svc := NewAuthService(users)
	ctx := context.Background()

	id, err := svc.Register(ctx, "Ann@Example.com", "s3cret-pass")
	require.NoError(t, err)
	require.NotZero(t, id)

	stored, err := users.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", stored.Email)
	assert.NotEqual(t, "s3cret-pass", stored.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), credentialDigest("s3cret-pass")))

	u, err := svc.Login(ctx, "ann@example.com", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
}

func TestRegisterValidation(t *testing.T) {
	svc := NewAuthService(newMemUsers())
	ctx := context.Background()

	_, err := svc.Register(ctx, "not-an-email", "s3cret-pass")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.Register(ctx, "a@b.com", "short")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.Register(ctx, "a@b.com", strings.Repeat("a", 129))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRegisterAcceptsLongPasswords(t *testing.T) {
	svc := NewAuthService(newMemUsers())
	ctx := context.Background()

	// bcrypt alone caps input at 72 bytes; the full range up to 128 must work.
	long := strings.Repeat("a", 100)
	id, err := svc.Register(ctx, "long@b.com", long)
	require.NoError(t, err)
	require.NotZero(t, id)

	u, err := svc.Login(ctx, "long@b.com", long)
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)

	_, err = svc.Login(ctx, "long@b.com", strings.Repeat("a", 99))
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := NewAuthService(newMemUsers())
	ctx := context.Background()

	_, err := svc.Register(ctx, "a@b.com", "s3cret-pass")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "A@B.com", "other-pass-123")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestLoginFailures(t *testing.T) {
	users := newMemUsers()
	svc := NewAuthService(users)
	ctx := context.Background()

	id, err := svc.Register(ctx, "a@b.com", "s3cret-pass")
	require.NoError(t, err)

	// Unknown email and wrong password both look identical to the caller.
	_, err = svc.Login(ctx, "nobody@b.com", "s3cret-pass")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = svc.Login(ctx, "a@b.com", "wrong-pass")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	users.setActive(id, false)
	_, err = svc.Login(ctx, "a@b.com", "s3cret-pass")
	assert.ErrorIs(t, err, domain.ErrUserInactive)
}
