package account_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/papertrade/trading-engine/internal/account"
	"github.com/papertrade/trading-engine/internal/auth"
	"github.com/papertrade/trading-engine/internal/store"
)

func newDirectory(t *testing.T) (*account.Directory, *auth.Tokens, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	tokens := auth.NewTokens("test-secret", time.Hour)
	return account.NewDirectory(st, tokens, decimal.Zero, bcrypt.MinCost), tokens, st
}

func TestRegisterAndLogin(t *testing.T) {
	dir, tokens, _ := newDirectory(t)
	ctx := context.Background()

	acct, err := dir.Register(ctx, " alice ", "alice@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alice", acct.Username)
	assert.True(t, acct.Balance.Equal(account.DefaultInitialBalance))
	assert.NotEqual(t, "hunter2", acct.PasswordHash)

	token, got, err := dir.Login(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)

	id, err := tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, id)
}

func TestRegisterValidation(t *testing.T) {
	dir, _, _ := newDirectory(t)
	ctx := context.Background()

	_, err := dir.Register(ctx, "", "a@example.com", "pw")
	assert.ErrorIs(t, err, account.ErrMissingFields)
	_, err = dir.Register(ctx, "bob", "", "pw")
	assert.ErrorIs(t, err, account.ErrMissingFields)
	_, err = dir.Register(ctx, "bob", "b@example.com", "")
	assert.ErrorIs(t, err, account.ErrMissingFields)
	_, err = dir.Register(ctx, "bob", "not-an-email", "pw")
	assert.ErrorIs(t, err, account.ErrInvalidEmail)

	_, err = dir.Register(ctx, "bob", "bob@example.com", "pw")
	require.NoError(t, err)
	_, err = dir.Register(ctx, "bob", "bob2@example.com", "pw")
	assert.ErrorIs(t, err, account.ErrUsernameTaken)
	_, err = dir.Register(ctx, "bobby", "bob@example.com", "pw")
	assert.ErrorIs(t, err, account.ErrUsernameTaken)
}

func TestRegisterPasswordLength(t *testing.T) {
	dir, _, _ := newDirectory(t)
	ctx := context.Background()

	_, err := dir.Register(ctx, "bob", "bob@example.com", strings.Repeat("p", account.MaxPasswordBytes+8))
	assert.ErrorIs(t, err, account.ErrPasswordTooLong)

	max := strings.Repeat("p", account.MaxPasswordBytes)
	_, err = dir.Register(ctx, "bob", "bob@example.com", max)
	require.NoError(t, err)
	_, _, err = dir.Login(ctx, "bob", max)
	assert.NoError(t, err)
}

func TestCustomInitialBalance(t *testing.T) {
	st := store.NewMemoryStore()
	dir := account.NewDirectory(st, auth.NewTokens("k", 0), decimal.RequireFromString("2500.50"), bcrypt.MinCost)

	acct, err := dir.Register(context.Background(), "carol", "carol@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "2500.5", acct.Balance.String())
}

func TestLoginFailures(t *testing.T) {
	dir, _, _ := newDirectory(t)
	ctx := context.Background()
	_, err := dir.Register(ctx, "dave", "dave@example.com", "correct")
	require.NoError(t, err)

	_, _, err = dir.Login(ctx, "dave", "wrong")
	assert.ErrorIs(t, err, account.ErrInvalidCredentials)
	_, _, err = dir.Login(ctx, "nobody", "correct")
	assert.ErrorIs(t, err, account.ErrInvalidCredentials)
	_, _, err = dir.Login(ctx, "dave", "")
	assert.ErrorIs(t, err, account.ErrMissingFields)
}

func TestDelete(t *testing.T) {
	dir, _, _ := newDirectory(t)
	ctx := context.Background()
	acct, err := dir.Register(ctx, "erin", "erin@example.com", "pw")
	require.NoError(t, err)

	require.NoError(t, dir.Exists(ctx, acct.ID))
	require.NoError(t, dir.Delete(ctx, acct.ID))
	assert.ErrorIs(t, dir.Exists(ctx, acct.ID), store.ErrAccountNotFound)
	assert.ErrorIs(t, dir.Delete(ctx, acct.ID), store.ErrAccountNotFound)

	_, _, err = dir.Login(ctx, "erin", "pw")
	assert.ErrorIs(t, err, account.ErrInvalidCredentials)
}
