package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/store"
)

func TestCachedStoreInvalidatesOnTrade(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	primary := store.NewMemoryStore()
	s := store.NewCachedStore(primary, rdb, time.Minute)
	a := newAccount(t, s, "kate", "1000")

	positions, err := s.ListPositions(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, positions)
	_, err = s.ListOrders(ctx, a.ID, 10)
	require.NoError(t, err)
	assert.True(t, mr.Exists("positions:"+a.ID))
	assert.True(t, mr.Exists("orders:"+a.ID))

	require.NoError(t, s.InAccountTx(ctx, a.ID, func(tx store.AccountTx) error {
		if _, err := tx.UpsertPosition(ctx, "NVDA", 2, d("450.25")); err != nil {
			return err
		}
		return tx.AppendOrder(ctx, order(a.ID, "NVDA", model.SideBuy, 2, "450.25", time.Now().UTC()))
	}))
	assert.False(t, mr.Exists("positions:"+a.ID))
	assert.False(t, mr.Exists("orders:"+a.ID))

	// Miss, then hit: both must agree with the primary.
	for i := 0; i < 2; i++ {
		positions, err = s.ListPositions(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, positions, 1)
		assert.Equal(t, "NVDA", positions[0].Symbol)
		assert.Equal(t, a.ID, positions[0].AccountID)
		assert.True(t, positions[0].AveragePrice.Equal(d("450.25")))

		orders, err := s.ListOrders(ctx, a.ID, 10)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.True(t, orders[0].TotalValue.Equal(d("900.5")))
		assert.Equal(t, model.StatusCompleted, orders[0].Status)
	}
}

func TestCachedStoreFailedTxKeepsCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := store.NewCachedStore(store.NewMemoryStore(), rdb, time.Minute)
	a := newAccount(t, s, "liam", "10")

	_, err := s.ListPositions(ctx, a.ID)
	require.NoError(t, err)

	err = s.InAccountTx(ctx, a.ID, func(tx store.AccountTx) error {
		_, err := tx.AdjustBalance(ctx, d("-11"))
		return err
	})
	require.ErrorIs(t, err, store.ErrNegativeBalance)
	assert.True(t, mr.Exists("positions:"+a.ID))
}

func TestCachedStoreDoesNotCacheAccounts(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := store.NewCachedStore(store.NewMemoryStore(), rdb, time.Minute)
	a := newAccount(t, s, "mona", "10")

	_, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, mr.Keys())
}

// pausingStore signals after each list read from the primary, then waits
// for release before returning the snapshot it took. A nil read channel
// disables the pause.
type pausingStore struct {
	store.Store
	read    chan struct{}
	release chan struct{}
}

func (p *pausingStore) pause() {
	if p.read == nil {
		return
	}
	p.read <- struct{}{}
	<-p.release
}

func (p *pausingStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	positions, err := p.Store.ListPositions(ctx, accountID)
	p.pause()
	return positions, err
}

func (p *pausingStore) ListOrders(ctx context.Context, accountID string, limit int) ([]model.Order, error) {
	orders, err := p.Store.ListOrders(ctx, accountID, limit)
	p.pause()
	return orders, err
}

func TestCachedStoreDropsSnapshotTakenBeforeTrade(t *testing.T) {
	reads := map[string]func(ctx context.Context, s store.Store, accountID string) (int, error){
		"positions": func(ctx context.Context, s store.Store, accountID string) (int, error) {
			positions, err := s.ListPositions(ctx, accountID)
			return len(positions), err
		},
		"orders": func(ctx context.Context, s store.Store, accountID string) (int, error) {
			orders, err := s.ListOrders(ctx, accountID, 10)
			return len(orders), err
		},
	}

	for name, list := range reads {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			defer rdb.Close()

			primary := &pausingStore{
				Store:   store.NewMemoryStore(),
				read:    make(chan struct{}),
				release: make(chan struct{}),
			}
			s := store.NewCachedStore(primary, rdb, time.Minute)
			a := newAccount(t, s, "nora", "5000")

			done := make(chan int)
			go func() {
				n, err := list(ctx, s, a.ID)
				assert.NoError(t, err)
				done <- n
			}()

			// The snapshot is taken; commit a buy before it is cached.
			<-primary.read
			require.NoError(t, s.InAccountTx(ctx, a.ID, func(tx store.AccountTx) error {
				if _, err := tx.UpsertPosition(ctx, "AAPL", 10, d("150")); err != nil {
					return err
				}
				return tx.AppendOrder(ctx, order(a.ID, "AAPL", model.SideBuy, 10, "150", time.Now().UTC()))
			}))
			close(primary.release)
			assert.Equal(t, 0, <-done, "the in-flight read returns its own snapshot")

			// The next read must see the trade, not the stale snapshot.
			primary.read = nil
			n, err := list(ctx, s, a.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}
