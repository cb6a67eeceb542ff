package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-chess-server/internal/auth"
	"github.com/park285/cheese-chess-server/internal/domain"
	"github.com/park285/cheese-chess-server/internal/store"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s := store.NewMemory()
	tokens, err := auth.NewTokens("test-secret", time.Hour)
	require.NoError(t, err)
	return NewService(s, tokens), s
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	cases := map[string]RegisterInput{
		"missing email":  {Username: "alice", Password: "secret1"},
		"short username": {Username: "al", Email: "al@example.com", Password: "secret1"},
		"short password": {Username: "alice", Email: "alice@example.com", Password: "12345"},
		"bad email":      {Username: "alice", Email: "alice.example.com", Password: "secret1"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), in)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, domain.DefaultRating, sess.User.Rating)
	assert.NotEqual(t, "secret1", sess.User.PasswordHash)

	_, err = svc.Register(ctx, RegisterInput{Username: "ALICE", Email: "other@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = svc.Register(ctx, RegisterInput{Username: "alice2", Email: "Alice@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	for _, login := range []string{"alice", "alice@example.com"} {
		got, err := svc.Login(ctx, login, "secret1")
		require.NoError(t, err, login)
		assert.Equal(t, sess.User.ID, got.User.ID)
	}

	_, err = svc.Login(ctx, "alice", "wrong-pass")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, "invalid_credentials", domain.Code(err))
	_, err = svc.Login(ctx, "nobody", "secret1")
	assert.Equal(t, "invalid_credentials", domain.Code(err))

	u, err := svc.Authenticate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	_, err = svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestEnsureTelegramUserIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, created, err := svc.EnsureTelegramUser(ctx, 4242, "@grandmaster")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "grandmaster", u.Username)

	again, created, err := svc.EnsureTelegramUser(ctx, 4242, "renamed")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.ID, again.ID)

	// name collision falls back to a synthetic handle
	other, created, err := svc.EnsureTelegramUser(ctx, 7, "grandmaster")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "tg_7", other.Username)

	_, err = svc.Login(ctx, "grandmaster", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestResolveOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess, err := svc.Register(ctx, RegisterInput{Username: "bob", Email: "bob@example.com", Password: "secret1"})
	require.NoError(t, err)

	for _, ref := range []string{"bob@example.com", "BOB", sess.User.ID} {
		u, err := svc.Resolve(ctx, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, sess.User.ID, u.ID)
	}
	_, err = svc.Resolve(ctx, "carol@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLeaderboard(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	for i, name := range []string{"amy", "ben", "cat"} {
		sess, err := svc.Register(ctx, RegisterInput{Username: name, Email: name + "@example.com", Password: "secret1"})
		require.NoError(t, err)
		_, err = s.UpdateUser(ctx, sess.User.ID, func(u *domain.User) error {
			u.Balance = int64(i * 100)
			return nil
		})
		require.NoError(t, err)
	}
	top, err := svc.Leaderboard(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "cat", top[0].Username)
	assert.Equal(t, "ben", top[1].Username)
}
