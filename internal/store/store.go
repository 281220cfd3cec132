// Package store defines the persistence interface for accounts, positions
// and the order journal. Implementations include PostgreSQL (source of
// truth), SQLite (single node), Redis (read-through cache wrapper) and
// in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/position"
)

var (
	// ErrAccountNotFound is returned when no account has the given id or username.
	ErrAccountNotFound = errors.New("store: account not found")

	// ErrDuplicateAccount is returned when the username or email is taken.
	ErrDuplicateAccount = errors.New("store: username or email already registered")

	// ErrNegativeBalance is returned by AdjustBalance when the result would
	// drop below zero. The ledger checks funds first, so seeing this means
	// an invariant was violated.
	ErrNegativeBalance = errors.New("store: balance would become negative")

	// ErrNegativeQuantity is returned when a position change would leave
	// fewer than zero shares.
	ErrNegativeQuantity = position.ErrNegativeQuantity

	// ErrDuplicatePosition is returned when a second row would be inserted
	// for the same (account, symbol). Callers always upsert, so this is a
	// logic error rather than a user-facing condition.
	ErrDuplicatePosition = errors.New("store: position already exists")
)

// Store is the persistence interface.
type Store interface {
	// --- Account directory ---

	// CreateAccount persists a new account.
	CreateAccount(ctx context.Context, account *model.Account) error

	// GetAccount retrieves an account by id.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// GetAccountByUsername retrieves an account by its login name.
	GetAccountByUsername(ctx context.Context, username string) (*model.Account, error)

	// DeleteAccount removes an account together with its positions and
	// orders in one transaction.
	DeleteAccount(ctx context.Context, id string) error

	// --- Positions ---

	// GetPosition returns the account's position in symbol, if any.
	GetPosition(ctx context.Context, accountID, symbol string) (model.Position, bool, error)

	// ListPositions returns all positions held by an account, ordered by
	// symbol.
	ListPositions(ctx context.Context, accountID string) ([]model.Position, error)

	// --- Immutable order journal ---

	// ListOrders returns the account's most recent orders, newest first.
	// Orders created at the same instant are returned in reverse insertion
	// order. A limit <= 0 returns every order.
	ListOrders(ctx context.Context, accountID string, limit int) ([]model.Order, error)

	// --- Trading ---

	// InAccountTx runs fn with exclusive access to one account's balance,
	// positions and journal. Every change made through the AccountTx is
	// applied if fn returns nil and discarded otherwise.
	// Returns ErrAccountNotFound if the account does not exist.
	InAccountTx(ctx context.Context, accountID string, fn func(tx AccountTx) error) error
}

// AccountTx is the view of a single account inside InAccountTx.
type AccountTx interface {
	// Balance returns the current cash balance.
	Balance(ctx context.Context) (decimal.Decimal, error)

	// AdjustBalance credits (delta > 0) or debits (delta < 0) the cash
	// balance and returns the new balance. Fails with ErrNegativeBalance
	// if the result would be below zero.
	AdjustBalance(ctx context.Context, delta decimal.Decimal) (decimal.Decimal, error)

	// GetPosition returns the position in symbol, if held.
	GetPosition(ctx context.Context, symbol string) (model.Position, bool, error)

	// UpsertPosition applies a signed quantity change at price. Buys
	// (delta > 0) create the position or recompute its average price;
	// sells (delta < 0) decrement it without touching the average and
	// remove it when the quantity reaches zero. The returned position has
	// Quantity == 0 when it was removed.
	UpsertPosition(ctx context.Context, symbol string, delta int64, price decimal.Decimal) (model.Position, error)

	// RemovePosition deletes the position in symbol. Removing a position
	// that does not exist is not an error.
	RemovePosition(ctx context.Context, symbol string) error

	// ListPositions returns the positions as seen inside the transaction.
	ListPositions(ctx context.Context) ([]model.Position, error)

	// AppendOrder records a completed trade in the journal.
	AppendOrder(ctx context.Context, order *model.Order) error
}
