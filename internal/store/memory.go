package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/keylock"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/position"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Transactions take a per-account lock and stage their writes; staged
// writes are applied under the map lock only when the callback succeeds.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*model.Account
	positions map[string]map[string]model.Position // accountID → symbol → position
	orders    map[string][]model.Order             // accountID → orders in insertion order

	locks *keylock.Map
	now   func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*model.Account),
		positions: make(map[string]map[string]model.Position),
		orders:    make(map[string][]model.Order),
		locks:     keylock.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("%w: id %s", ErrDuplicateAccount, a.ID)
	}
	for _, existing := range s.accounts {
		if existing.Username == a.Username || existing.Email == a.Email {
			return ErrDuplicateAccount
		}
	}

	// Store a copy to avoid external mutation.
	copy := *a
	s.accounts[a.ID] = &copy
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) GetAccountByUsername(_ context.Context, username string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.Username == username {
			copy := *a
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, username)
}

// DeleteAccount waits for any in-flight transaction on the account, then
// removes the account, its positions and its orders together.
func (s *MemoryStore) DeleteAccount(ctx context.Context, id string) error {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	delete(s.accounts, id)
	delete(s.positions, id)
	delete(s.orders, id)
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, accountID, symbol string) (model.Position, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[accountID][symbol]
	return p, ok, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, accountID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sortedPositions(s.positions[accountID]), nil
}

func (s *MemoryStore) ListOrders(_ context.Context, accountID string, limit int) ([]model.Order, error) {
	s.mu.RLock()
	journal := s.orders[accountID]
	// Newest insertion first; the stable sort below keeps that order for
	// equal timestamps.
	out := make([]model.Order, len(journal))
	for i, o := range journal {
		out[len(journal)-1-i] = o
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) InAccountTx(ctx context.Context, accountID string, fn func(tx AccountTx) error) error {
	unlock, err := s.locks.Lock(ctx, accountID)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.RLock()
	acct, ok := s.accounts[accountID]
	if !ok {
		s.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	tx := &memoryTx{
		accountID: accountID,
		balance:   acct.Balance,
		positions: make(map[string]model.Position, len(s.positions[accountID])),
		now:       s.now,
	}
	for sym, p := range s.positions[accountID] {
		tx.positions[sym] = p
	}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}

	// Commit staged writes.
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok = s.accounts[accountID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	acct.Balance = tx.balance
	s.positions[accountID] = tx.positions
	s.orders[accountID] = append(s.orders[accountID], tx.orders...)
	return nil
}

// memoryTx stages a transaction's writes against a private copy of the
// account state.
type memoryTx struct {
	accountID string
	balance   decimal.Decimal
	positions map[string]model.Position
	orders    []model.Order
	now       func() time.Time
}

func (tx *memoryTx) Balance(context.Context) (decimal.Decimal, error) {
	return tx.balance, nil
}

func (tx *memoryTx) AdjustBalance(_ context.Context, delta decimal.Decimal) (decimal.Decimal, error) {
	next := tx.balance.Add(delta)
	if next.IsNegative() {
		return tx.balance, fmt.Errorf("%w: balance %s, delta %s", ErrNegativeBalance, tx.balance, delta)
	}
	tx.balance = next
	return next, nil
}

func (tx *memoryTx) GetPosition(_ context.Context, symbol string) (model.Position, bool, error) {
	p, ok := tx.positions[symbol]
	return p, ok, nil
}

func (tx *memoryTx) UpsertPosition(_ context.Context, symbol string, delta int64, price decimal.Decimal) (model.Position, error) {
	var existing *model.Position
	if p, ok := tx.positions[symbol]; ok {
		existing = &p
	}
	next, err := position.Apply(existing, tx.accountID, symbol, delta, price, tx.now())
	if err != nil {
		return model.Position{}, err
	}
	if next.Quantity == 0 {
		delete(tx.positions, symbol)
	} else {
		tx.positions[symbol] = next
	}
	return next, nil
}

func (tx *memoryTx) RemovePosition(_ context.Context, symbol string) error {
	delete(tx.positions, symbol)
	return nil
}

func (tx *memoryTx) ListPositions(context.Context) ([]model.Position, error) {
	return sortedPositions(tx.positions), nil
}

func (tx *memoryTx) AppendOrder(_ context.Context, o *model.Order) error {
	if o.AccountID != tx.accountID {
		return fmt.Errorf("store: order for account %s appended in transaction of %s", o.AccountID, tx.accountID)
	}
	tx.orders = append(tx.orders, *o)
	return nil
}

func sortedPositions(held map[string]model.Position) []model.Position {
	out := make([]model.Position, 0, len(held))
	for _, p := range held {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
