package auth

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pradum97/jsondeck-sub000/internal/domain/models"
	"github.com/pradum97/jsondeck-sub000/internal/lib/jwt"
	"github.com/pradum97/jsondeck-sub000/internal/lib/password"
	"github.com/pradum97/jsondeck-sub000/internal/storage"
)

type fakeStore struct {
	users      map[string]*models.User
	usersByID  map[int64]*models.User
	tokens     map[string]*models.RefreshToken
	nextUserID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[string]*models.User),
		usersByID: make(map[int64]*models.User),
		tokens:    make(map[string]*models.RefreshToken),
	}
}

func (f *fakeStore) SaveUser(_ context.Context, email string, passHash, passSalt []byte) (int64, error) {
	if _, ok := f.users[email]; ok {
		return 0, storage.ErrUserAlreadyExists
	}
	f.nextUserID++
	user := &models.User{
		ID:       f.nextUserID,
		Email:    email,
		PassHash: passHash,
		PassSalt: passSalt,
		Roles:    []string{"free"},
	}
	f.users[email] = user
	f.usersByID[user.ID] = user
	return user.ID, nil
}

func (f *fakeStore) User(_ context.Context, email string) (*models.User, error) {
	user, ok := f.users[email]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeStore) UserByID(_ context.Context, userID int64) (*models.User, error) {
	user, ok := f.usersByID[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return user, nil
}

func (f *fakeStore) SaveRefreshToken(_ context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	f.tokens[tokenHash] = &models.RefreshToken{
		TokenHash: tokenHash,
		UserID:    userID,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}
	return nil
}

func (f *fakeStore) RefreshToken(_ context.Context, tokenHash string) (*models.RefreshToken, error) {
	token, ok := f.tokens[tokenHash]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	copied := *token
	return &copied, nil
}

func (f *fakeStore) RevokeRefreshToken(_ context.Context, tokenHash string) error {
	token, ok := f.tokens[tokenHash]
	if !ok {
		return storage.ErrTokenNotFound
	}
	if token.RevokedAt != nil {
		return storage.ErrTokenRevoked
	}
	now := time.Now()
	token.RevokedAt = &now
	return nil
}

func (f *fakeStore) RotateRefreshToken(_ context.Context, oldHash, newHash string, userID int64, newExpiresAt time.Time) error {
	token, ok := f.tokens[oldHash]
	if !ok {
		return storage.ErrTokenNotFound
	}
	if token.RevokedAt != nil {
		return storage.ErrTokenRevoked
	}
	now := time.Now()
	token.RevokedAt = &now
	token.ReplacedByHash = &newHash
	f.tokens[newHash] = &models.RefreshToken{
		TokenHash: newHash,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: newExpiresAt,
	}
	return nil
}

func newTestAuth(store *fakeStore) *Auth {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := jwt.NewManager("service-test-secret", "jsondeck", "jsondeck-api")
	return New(logger, store, store, store, tokens, 15*time.Minute, 7*24*time.Hour, "service-test-pepper")
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := newTestAuth(store)

	_, err := a.Register(ctx, "real@example.com", "right-password")
	require.NoError(t, err)

	_, _, unknownErr := a.Login(ctx, "nobody@example.com", "any")
	_, _, wrongPassErr := a.Login(ctx, "real@example.com", "wrong")

	assert.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	assert.ErrorIs(t, wrongPassErr, ErrInvalidCredentials)
}

func TestLoginPersistsOnlyTokenHash(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := newTestAuth(store)

	_, err := a.Register(ctx, "user@example.com", "a-password")
	require.NoError(t, err)

	_, refreshToken, err := a.Login(ctx, "user@example.com", "a-password")
	require.NoError(t, err)

	_, rawStored := store.tokens[refreshToken]
	assert.False(t, rawStored, "the raw bearer string must never be persisted")
	assert.Len(t, store.tokens, 1)
}

func TestRefreshRejectsForeignRecord(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := newTestAuth(store)

	_, err := a.Register(ctx, "victim@example.com", "password-one")
	require.NoError(t, err)
	attackerID, err := a.Register(ctx, "attacker@example.com", "password-two")
	require.NoError(t, err)

	_, refreshToken, err := a.Login(ctx, "victim@example.com", "password-one")
	require.NoError(t, err)

	// Rebind the stored record to another user; the sub claim no
	// longer matches the record owner.
	for _, token := range store.tokens {
		token.UserID = attackerID
	}

	_, _, err = a.Refresh(ctx, refreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefreshFailureKinds(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := newTestAuth(store)

	_, err := a.Register(ctx, "user@example.com", "a-password")
	require.NoError(t, err)
	_, refreshToken, err := a.Login(ctx, "user@example.com", "a-password")
	require.NoError(t, err)

	t.Run("expired record", func(t *testing.T) {
		for _, token := range store.tokens {
			token.ExpiresAt = time.Now().Add(-time.Minute)
		}
		_, _, err := a.Refresh(ctx, refreshToken)
		assert.ErrorIs(t, err, ErrRefreshTokenExpired)
		for _, token := range store.tokens {
			token.ExpiresAt = time.Now().Add(time.Hour)
		}
	})

	t.Run("revoked record", func(t *testing.T) {
		require.NoError(t, a.Logout(ctx, refreshToken))
		_, _, err := a.Refresh(ctx, refreshToken)
		assert.ErrorIs(t, err, ErrRefreshTokenRevoked)
	})

	t.Run("unknown token", func(t *testing.T) {
		stray, err := jwt.NewManager("service-test-secret", "jsondeck", "jsondeck-api").
			NewRefreshToken(1, time.Hour)
		require.NoError(t, err)
		_, _, refreshErr := a.Refresh(ctx, stray)
		assert.ErrorIs(t, refreshErr, ErrRefreshTokenNotFound)
	})

	t.Run("unverifiable token", func(t *testing.T) {
		_, _, err := a.Refresh(ctx, "garbage")
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})
}

func TestLogoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := newTestAuth(store)

	_, err := a.Register(ctx, "user@example.com", "a-password")
	require.NoError(t, err)
	_, refreshToken, err := a.Login(ctx, "user@example.com", "a-password")
	require.NoError(t, err)

	require.NoError(t, a.Logout(ctx, refreshToken))
	require.NoError(t, a.Logout(ctx, refreshToken))
	require.NoError(t, a.Logout(ctx, "garbage"))
}

func TestRegisterStoresSaltedScryptHash(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	a := newTestAuth(store)

	_, err := a.Register(ctx, "User@Example.com ", "a-password")
	require.NoError(t, err)

	// Email is normalized before storage.
	user, ok := store.users["user@example.com"]
	require.True(t, ok)

	assert.NotEmpty(t, user.PassSalt)
	assert.True(t, password.Compare("a-password", user.PassSalt, user.PassHash))
	assert.False(t, password.Compare("other", user.PassSalt, user.PassHash))
}
