package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL or SQLite) with a Redis
// read-through cache for the dashboard reads. Writes go to the primary
// store and invalidate the account's cache entries; reads check Redis
// first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InAccountTx(ctx context.Context, accountID string, fn func(tx AccountTx) error) error {
	if err := s.primary.InAccountTx(ctx, accountID, fn); err != nil {
		return err
	}
	s.invalidate(ctx, accountID)
	return nil
}

func (s *CachedStore) DeleteAccount(ctx context.Context, id string) error {
	if err := s.primary.DeleteAccount(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(accountID)).Bytes()
	if err == nil {
		var positions []cachedPosition
		if json.Unmarshal(data, &positions) == nil {
			out := make([]model.Position, len(positions))
			for i, p := range positions {
				out[i] = p.toModel(accountID)
			}
			return out, nil
		}
	}

	// Cache miss. The generation is read before the primary so a trade
	// committing during the read stops the stale snapshot being cached.
	gen, genErr := s.generation(ctx, accountID)
	positions, err := s.primary.ListPositions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		return positions, nil
	}

	cached := make([]cachedPosition, len(positions))
	for i, p := range positions {
		cached[i] = cachedPosition(p)
	}
	if data, err := json.Marshal(cached); err == nil {
		s.fill(ctx, accountID, gen, func(pipe redis.Pipeliner) {
			pipe.Set(ctx, positionsKey(accountID), data, s.ttl)
		})
	}
	return positions, nil
}

// ListOrders caches one entry per limit inside a hash so a single DEL
// invalidates every variant.
func (s *CachedStore) ListOrders(ctx context.Context, accountID string, limit int) ([]model.Order, error) {
	field := strconv.Itoa(limit)
	data, err := s.rdb.HGet(ctx, ordersKey(accountID), field).Bytes()
	if err == nil {
		var orders []cachedOrder
		if json.Unmarshal(data, &orders) == nil {
			out := make([]model.Order, len(orders))
			for i, o := range orders {
				out[i] = o.toModel(accountID)
			}
			return out, nil
		}
	}

	gen, genErr := s.generation(ctx, accountID)
	orders, err := s.primary.ListOrders(ctx, accountID, limit)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		return orders, nil
	}

	cached := make([]cachedOrder, len(orders))
	for i, o := range orders {
		cached[i] = cachedOrder(o)
	}
	if data, err := json.Marshal(cached); err == nil {
		s.fill(ctx, accountID, gen, func(pipe redis.Pipeliner) {
			pipe.HSet(ctx, ordersKey(accountID), field, data)
			pipe.Expire(ctx, ordersKey(accountID), s.ttl)
		})
	}
	return orders, nil
}

// --- Passthrough (not cached) ---

// Accounts carry the password hash, which is never written to the cache.

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return s.primary.CreateAccount(ctx, a)
}

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.primary.GetAccount(ctx, id)
}

func (s *CachedStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.primary.GetAccountByUsername(ctx, username)
}

func (s *CachedStore) GetPosition(ctx context.Context, accountID, symbol string) (model.Position, bool, error) {
	return s.primary.GetPosition(ctx, accountID, symbol)
}

// --- Cache helpers ---

// genTTL outlives any in-flight read by far; an expired generation only
// costs one skipped fill.
const genTTL = 24 * time.Hour

var errStaleFill = errors.New("cache generation changed")

// invalidate bumps the account's generation and drops its entries.
func (s *CachedStore) invalidate(ctx context.Context, accountID string) {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey(accountID))
		pipe.Expire(ctx, genKey(accountID), genTTL)
		pipe.Del(ctx, positionsKey(accountID), ordersKey(accountID))
		return nil
	})
	if err != nil {
		slog.Warn("cache invalidation failed", "account", accountID, "err", err)
	}
}

// generation returns the account's current cache generation, "" when none
// has been recorded yet.
func (s *CachedStore) generation(ctx context.Context, accountID string) (string, error) {
	gen, err := s.rdb.Get(ctx, genKey(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return gen, err
}

// fill runs write only while the generation still equals gen. WATCH aborts
// the write if an invalidation lands between the check and EXEC.
func (s *CachedStore) fill(ctx context.Context, accountID, gen string, write func(redis.Pipeliner)) {
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey(accountID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(pipe)
			return nil
		})
		return err
	}, genKey(accountID))

	switch {
	case err == nil, errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
	default:
		slog.Warn("cache fill failed", "account", accountID, "err", err)
	}
}

// cachedPosition and cachedOrder mirror the model types with every field
// serialized; the model's JSON tags hide AccountID from API responses.
type cachedPosition model.Position

func (p cachedPosition) MarshalJSON() ([]byte, error) {
	return json.Marshal(positionWire{
		Symbol: p.Symbol, Quantity: p.Quantity,
		AveragePrice: p.AveragePrice.String(), UpdatedAt: p.UpdatedAt,
	})
}

func (p *cachedPosition) UnmarshalJSON(b []byte) error {
	var w positionWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	avg, err := decimal.NewFromString(w.AveragePrice)
	if err != nil {
		return err
	}
	*p = cachedPosition{Symbol: w.Symbol, Quantity: w.Quantity, AveragePrice: avg, UpdatedAt: w.UpdatedAt}
	return nil
}

func (p cachedPosition) toModel(accountID string) model.Position {
	out := model.Position(p)
	out.AccountID = accountID
	return out
}

type positionWire struct {
	Symbol       string    `json:"s"`
	Quantity     int64     `json:"q"`
	AveragePrice string    `json:"a"`
	UpdatedAt    time.Time `json:"u"`
}

type cachedOrder model.Order

func (o cachedOrder) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderWire{
		ID: o.ID, Symbol: o.Symbol, Side: string(o.Side), Quantity: o.Quantity,
		Price: o.Price.String(), TotalValue: o.TotalValue.String(),
		Status: string(o.Status), CreatedAt: o.CreatedAt,
	})
}

func (o *cachedOrder) UnmarshalJSON(b []byte) error {
	var w orderWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	price, err := decimal.NewFromString(w.Price)
	if err != nil {
		return err
	}
	total, err := decimal.NewFromString(w.TotalValue)
	if err != nil {
		return err
	}
	*o = cachedOrder{
		ID: w.ID, Symbol: w.Symbol, Side: model.Side(w.Side), Quantity: w.Quantity,
		Price: price, TotalValue: total, Status: model.OrderStatus(w.Status), CreatedAt: w.CreatedAt,
	}
	return nil
}

func (o cachedOrder) toModel(accountID string) model.Order {
	out := model.Order(o)
	out.AccountID = accountID
	return out
}

type orderWire struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"s"`
	Side       string    `json:"d"`
	Quantity   int64     `json:"q"`
	Price      string    `json:"p"`
	TotalValue string    `json:"t"`
	Status     string    `json:"st"`
	CreatedAt  time.Time `json:"c"`
}

func positionsKey(accountID string) string { return fmt.Sprintf("positions:%s", accountID) }
func ordersKey(accountID string) string    { return fmt.Sprintf("orders:%s", accountID) }
func genKey(accountID string) string       { return fmt.Sprintf("gen:%s", accountID) }
