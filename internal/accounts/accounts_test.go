package accounts

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/helenavibes/ML-service/internal/config"
	"github.com/helenavibes/ML-service/internal/models"
	"github.com/helenavibes/ML-service/internal/repository"
)

func newService(t *testing.T) (*Service, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	svc := NewService(store, config.AuthConfig{
		JWTSecret:  "test-secret-0123456789",
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	}, zap.NewNop())
	return svc, store
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	user, err := svc.Register(ctx, RegisterRequest{Username: "alice", Email: "Alice@Example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.True(t, user.IsActive)
	assert.True(t, user.Balance.IsZero())
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, "secret1", user.PasswordHash)

	_, err = svc.Register(ctx, RegisterRequest{Username: "alice", Email: "other@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = svc.Register(ctx, RegisterRequest{Username: "bob", Email: "alice@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestLoginAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	registered, err := svc.Register(ctx, RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "alice", "nope")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "mallory", "secret1")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("valid", func(t *testing.T) {
		token, user, err := svc.Login(ctx, "alice", "secret1")
		require.NoError(t, err)
		assert.Equal(t, registered.ID, user.ID)
		assert.Equal(t, "bearer", token.TokenType)
		assert.Equal(t, int64(3600), token.ExpiresIn)

		authed, err := svc.Authenticate(ctx, token.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, registered.ID, authed.ID)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "not-a-token")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})
}

func TestAuthenticateRejectsExpiredAndForeignTokens(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	user, err := svc.Register(ctx, RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)

	issuedAt := time.Now()
	svc.now = func() time.Time { return issuedAt }
	token, err := svc.IssueToken(user)
	require.NoError(t, err)

	svc.now = func() time.Time { return issuedAt.Add(2 * time.Hour) }
	_, err = svc.Authenticate(ctx, token.AccessToken)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	svc.now = time.Now
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: user.ID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("some-other-secret-value"))
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, forged)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestInactiveUser(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	user, err := svc.Register(ctx, RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)
	token, err := svc.IssueToken(user)
	require.NoError(t, err)

	user.IsActive = false
	require.NoError(t, store.SaveUser(ctx, user))

	_, _, err = svc.Login(ctx, "alice", "secret1")
	assert.ErrorIs(t, err, models.ErrUserInactive)

	_, err = svc.Authenticate(ctx, token.AccessToken)
	assert.ErrorIs(t, err, models.ErrUserInactive)
}

func TestEnsureUser(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	admin, created, err := svc.EnsureUser(ctx, "admin", "admin@example.com", "admin123", models.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, admin.IsAdmin())

	again, created, err := svc.EnsureUser(ctx, "admin", "admin@example.com", "admin123", models.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, admin.ID, again.ID)

	users, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
