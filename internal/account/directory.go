// Package account manages registration, login and removal of trading
// accounts. Passwords are stored as bcrypt hashes; successful logins
// yield a bearer token from the auth package.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/papertrade/trading-engine/internal/auth"
	"github.com/papertrade/trading-engine/internal/id"
	"github.com/papertrade/trading-engine/internal/metrics"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/store"
)

var (
	// ErrMissingFields is returned when a required field is empty.
	ErrMissingFields = errors.New("missing required fields")

	// ErrInvalidEmail is returned for an unparseable email address.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrPasswordTooLong is returned for passwords bcrypt cannot hash.
	ErrPasswordTooLong = fmt.Errorf("password longer than %d bytes", MaxPasswordBytes)

	// ErrUsernameTaken is returned when the username or email is already registered.
	ErrUsernameTaken = errors.New("username already exists")

	// ErrInvalidCredentials is returned by Login for an unknown user or a
	// wrong password. The two cases are indistinguishable to callers.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// MaxPasswordBytes is bcrypt's input limit.
const MaxPasswordBytes = 72

// DefaultInitialBalance is the starting cash of a new account.
var DefaultInitialBalance = decimal.NewFromInt(10000)

// Directory is the account registry.
type Directory struct {
	store          store.Store
	tokens         *auth.Tokens
	initialBalance decimal.Decimal
	bcryptCost     int
}

// NewDirectory creates a directory. A non-positive initialBalance selects
// DefaultInitialBalance; bcryptCost 0 selects bcrypt.DefaultCost.
func NewDirectory(st store.Store, tokens *auth.Tokens, initialBalance decimal.Decimal, bcryptCost int) *Directory {
	if !initialBalance.IsPositive() {
		initialBalance = DefaultInitialBalance
	}
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Directory{
		store:          st,
		tokens:         tokens,
		initialBalance: initialBalance,
		bcryptCost:     bcryptCost,
	}
}

// Register creates an account funded with the initial balance.
func (d *Directory) Register(ctx context.Context, username, email, password string) (*model.Account, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return nil, ErrMissingFields
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	if len(password) > MaxPasswordBytes {
		return nil, ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	acct := &model.Account{
		ID:           id.NewAccountID(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Balance:      d.initialBalance,
		CreatedAt:    time.Now().UTC(),
	}
	if err := d.store.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, store.ErrDuplicateAccount) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	metrics.RegisteredAccounts.Inc()
	slog.Info("account registered", "id", acct.ID, "username", acct.Username)
	return acct, nil
}

// Login checks the password and returns a bearer token with the account.
func (d *Directory) Login(ctx context.Context, username, password string) (string, *model.Account, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", nil, ErrMissingFields
	}

	acct, err := d.store.GetAccountByUsername(ctx, username)
	if errors.Is(err, store.ErrAccountNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := d.tokens.Issue(acct.ID)
	if err != nil {
		return "", nil, err
	}
	return token, acct, nil
}

// Get returns the account with the given id.
func (d *Directory) Get(ctx context.Context, accountID string) (*model.Account, error) {
	return d.store.GetAccount(ctx, accountID)
}

// Exists reports store.ErrAccountNotFound for deleted accounts. It has the
// shape of auth.Resolver.
func (d *Directory) Exists(ctx context.Context, accountID string) error {
	_, err := d.store.GetAccount(ctx, accountID)
	return err
}

// Delete removes the account together with its positions and orders.
func (d *Directory) Delete(ctx context.Context, accountID string) error {
	if err := d.store.DeleteAccount(ctx, accountID); err != nil {
		return err
	}
	slog.Info("account deleted", "id", accountID)
	return nil
}
