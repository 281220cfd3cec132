package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/trading-engine/internal/model"
)

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedSQLiteAccount(t *testing.T, s *SQLiteStore) *model.Account {
	t.Helper()
	a := &model.Account{
		ID:           "acct-1",
		Username:     "olga",
		Email:        "olga@example.com",
		PasswordHash: "x",
		Balance:      decimal.NewFromInt(1000),
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.CreateAccount(context.Background(), a))
	return a
}

func TestIsSQLiteDuplicate(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	a := seedSQLiteAccount(t, s)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, username, email, password_hash, balance, created_at)
		 VALUES ('acct-2', 'olga', 'other@example.com', 'x', '1', 0)`)
	require.Error(t, err)
	assert.True(t, isSQLiteDuplicate(err), "unique username")

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO positions (account_id, symbol, quantity, average_price, updated_at)
		 VALUES ('missing', 'AAPL', 1, '1', 0)`)
	require.Error(t, err)
	assert.False(t, isSQLiteDuplicate(err), "foreign key")

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (id, account_id, symbol, side, quantity, price, total_value, status, created_at)
		 VALUES ('o1', ?, 'AAPL', 'HOLD', 1, '1', '1', 'COMPLETED', 0)`, a.ID)
	require.Error(t, err)
	assert.False(t, isSQLiteDuplicate(err), "check constraint")

	assert.False(t, isSQLiteDuplicate(nil))
}

func TestSQLiteListsRejectCorruptDecimals(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	a := seedSQLiteAccount(t, s)

	require.NoError(t, s.InAccountTx(ctx, a.ID, func(tx AccountTx) error {
		if _, err := tx.UpsertPosition(ctx, "AAPL", 2, decimal.NewFromInt(150)); err != nil {
			return err
		}
		return tx.AppendOrder(ctx, &model.Order{
			ID: "o1", AccountID: a.ID, Symbol: "AAPL", Side: model.SideBuy, Quantity: 2,
			Price: decimal.NewFromInt(150), TotalValue: decimal.NewFromInt(300),
			Status: model.StatusCompleted, CreatedAt: time.Now().UTC(),
		})
	}))

	_, err := s.db.ExecContext(ctx, `UPDATE positions SET average_price = 'garbage'`)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE orders SET price = 'garbage'`)
	require.NoError(t, err)

	_, err = s.ListPositions(ctx, a.ID)
	assert.ErrorContains(t, err, "parse average price")
	_, err = s.ListOrders(ctx, a.ID, 10)
	assert.ErrorContains(t, err, "parse price")
}
