// Package ledger executes paper trades: it prices an order through the
// oracle, checks it against the account's cash and holdings, and applies
// the balance change, position change and journal entry as one unit.
//
// All monetary values use shopspring/decimal, never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/id"
	"github.com/papertrade/trading-engine/internal/keylock"
	"github.com/papertrade/trading-engine/internal/metrics"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/oracle"
	"github.com/papertrade/trading-engine/internal/store"
	"github.com/papertrade/trading-engine/internal/symbol"
)

var (
	// ErrInvalidInput is returned for an empty or malformed symbol or a
	// non-positive quantity. Nothing is touched.
	ErrInvalidInput = errors.New("invalid symbol or quantity")

	// ErrQuoteUnavailable is returned when the oracle has no price for
	// the symbol.
	ErrQuoteUnavailable = errors.New("stock not found")

	// ErrQuoteServiceError is returned when the oracle call itself fails
	// or does not answer within the quote timeout.
	ErrQuoteServiceError = errors.New("error fetching stock price")

	// ErrInsufficientFunds is returned when the balance does not cover a buy.
	ErrInsufficientFunds = errors.New("insufficient balance")

	// ErrNoPosition is returned when selling a symbol the account does not hold.
	ErrNoPosition = errors.New("no position in symbol")

	// ErrInsufficientShares is returned when selling more than is held.
	ErrInsufficientShares = errors.New("insufficient shares")
)

// DefaultQuoteTimeout bounds a single oracle call.
const DefaultQuoteTimeout = 5 * time.Second

// Engine executes buys and sells. Operations on one account are
// serialized; different accounts proceed in parallel.
type Engine struct {
	store        store.Store
	oracle       oracle.Oracle
	locks        *keylock.Map
	quoteTimeout time.Duration
	now          func() time.Time
}

// NewEngine creates a ledger engine. A quoteTimeout <= 0 selects
// DefaultQuoteTimeout.
func NewEngine(st store.Store, o oracle.Oracle, quoteTimeout time.Duration) *Engine {
	if quoteTimeout <= 0 {
		quoteTimeout = DefaultQuoteTimeout
	}
	return &Engine{
		store:        st,
		oracle:       o,
		locks:        keylock.New(),
		quoteTimeout: quoteTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Buy purchases quantity shares of sym at the current oracle price.
func (e *Engine) Buy(ctx context.Context, accountID, sym string, quantity int64) (model.Order, error) {
	start := time.Now()
	order, err := e.buy(ctx, accountID, sym, quantity)
	e.observe(model.SideBuy, order, err, start)
	return order, err
}

func (e *Engine) buy(ctx context.Context, accountID, sym string, quantity int64) (model.Order, error) {
	sym, err := validate(sym, quantity)
	if err != nil {
		return model.Order{}, err
	}

	unlock, err := e.locks.Lock(ctx, accountID)
	if err != nil {
		return model.Order{}, err
	}
	defer unlock()

	quote, err := e.quote(ctx, sym)
	if err != nil {
		return model.Order{}, err
	}
	total := quote.Price.Mul(decimal.NewFromInt(quantity))
	order, err := e.newOrder(accountID, sym, model.SideBuy, quantity, quote.Price, total)
	if err != nil {
		return model.Order{}, err
	}

	err = e.store.InAccountTx(ctx, accountID, func(tx store.AccountTx) error {
		balance, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		if balance.LessThan(total) {
			return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, total, balance)
		}
		if _, err := tx.AdjustBalance(ctx, total.Neg()); err != nil {
			return err
		}
		if _, err := tx.UpsertPosition(ctx, sym, quantity, quote.Price); err != nil {
			return err
		}
		return tx.AppendOrder(ctx, &order)
	})
	if err != nil {
		return model.Order{}, err
	}
	return order, nil
}

// Sell disposes of quantity shares of sym at the current oracle price.
// Holdings are checked before the oracle is queried.
func (e *Engine) Sell(ctx context.Context, accountID, sym string, quantity int64) (model.Order, error) {
	start := time.Now()
	order, err := e.sell(ctx, accountID, sym, quantity)
	e.observe(model.SideSell, order, err, start)
	return order, err
}

func (e *Engine) sell(ctx context.Context, accountID, sym string, quantity int64) (model.Order, error) {
	sym, err := validate(sym, quantity)
	if err != nil {
		return model.Order{}, err
	}

	unlock, err := e.locks.Lock(ctx, accountID)
	if err != nil {
		return model.Order{}, err
	}
	defer unlock()

	if _, err := e.store.GetAccount(ctx, accountID); err != nil {
		return model.Order{}, err
	}
	held, ok, err := e.store.GetPosition(ctx, accountID, sym)
	if err != nil {
		return model.Order{}, err
	}
	if err := checkHolding(sym, held, ok, quantity); err != nil {
		return model.Order{}, err
	}

	quote, err := e.quote(ctx, sym)
	if err != nil {
		return model.Order{}, err
	}
	total := quote.Price.Mul(decimal.NewFromInt(quantity))
	order, err := e.newOrder(accountID, sym, model.SideSell, quantity, quote.Price, total)
	if err != nil {
		return model.Order{}, err
	}

	err = e.store.InAccountTx(ctx, accountID, func(tx store.AccountTx) error {
		// Another instance sharing the database may have traded meanwhile.
		held, ok, err := tx.GetPosition(ctx, sym)
		if err != nil {
			return err
		}
		if err := checkHolding(sym, held, ok, quantity); err != nil {
			return err
		}
		if _, err := tx.AdjustBalance(ctx, total); err != nil {
			return err
		}
		if _, err := tx.UpsertPosition(ctx, sym, -quantity, quote.Price); err != nil {
			return err
		}
		return tx.AppendOrder(ctx, &order)
	})
	if err != nil {
		return model.Order{}, err
	}
	return order, nil
}

// Quote returns the oracle price for sym with the engine's timeout and
// error mapping applied.
func (e *Engine) Quote(ctx context.Context, sym string) (model.Quote, error) {
	sym, err := symbol.Normalize(sym)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return e.quote(ctx, sym)
}

// History returns daily bars for sym over period. An unsupported period
// yields oracle.ErrInvalidPeriod; provider failures map as for quotes.
func (e *Engine) History(ctx context.Context, sym, period string) ([]model.HistoryPoint, error) {
	sym, err := symbol.Normalize(sym)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if !oracle.ValidPeriod(period) {
		return nil, fmt.Errorf("%w: %q", oracle.ErrInvalidPeriod, period)
	}

	hctx, cancel := context.WithTimeout(ctx, e.quoteTimeout)
	defer cancel()

	start := time.Now()
	points, err := e.oracle.History(hctx, sym, period)
	metrics.OracleLatency.WithLabelValues("history").Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, oracle.ErrSymbolNotFound):
		metrics.OracleErrors.WithLabelValues("history", "not_found").Inc()
		return nil, fmt.Errorf("%w: %s", ErrQuoteUnavailable, sym)
	case err != nil:
		metrics.OracleErrors.WithLabelValues("history", "provider").Inc()
		slog.Warn("oracle history failed", "symbol", sym, "period", period, "err", err)
		return nil, fmt.Errorf("%w: %w", ErrQuoteServiceError, err)
	}
	return points, nil
}

func (e *Engine) quote(ctx context.Context, sym string) (model.Quote, error) {
	qctx, cancel := context.WithTimeout(ctx, e.quoteTimeout)
	defer cancel()

	start := time.Now()
	q, err := e.oracle.Quote(qctx, sym)
	metrics.OracleLatency.WithLabelValues("quote").Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, oracle.ErrSymbolNotFound):
		metrics.OracleErrors.WithLabelValues("quote", "not_found").Inc()
		return model.Quote{}, fmt.Errorf("%w: %s", ErrQuoteUnavailable, sym)
	case err != nil:
		kind := "provider"
		if errors.Is(err, context.DeadlineExceeded) {
			kind = "timeout"
		}
		metrics.OracleErrors.WithLabelValues("quote", kind).Inc()
		slog.Warn("oracle quote failed", "symbol", sym, "kind", kind, "err", err)
		return model.Quote{}, fmt.Errorf("%w: %w", ErrQuoteServiceError, err)
	case !q.Price.IsPositive():
		metrics.OracleErrors.WithLabelValues("quote", "not_found").Inc()
		return model.Quote{}, fmt.Errorf("%w: %s quoted at %s", ErrQuoteUnavailable, sym, q.Price)
	}
	return q, nil
}

func (e *Engine) newOrder(accountID, sym string, side model.Side, quantity int64, price, total decimal.Decimal) (model.Order, error) {
	orderID, err := id.NewOrderID()
	if err != nil {
		return model.Order{}, err
	}
	return model.Order{
		ID:         orderID,
		AccountID:  accountID,
		Symbol:     sym,
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		TotalValue: total,
		Status:     model.StatusCompleted,
		CreatedAt:  e.now(),
	}, nil
}

func (e *Engine) observe(side model.Side, order model.Order, err error, start time.Time) {
	s := string(side)
	if err != nil {
		metrics.TradeRejections.WithLabelValues(s, Reason(err)).Inc()
		if errors.Is(err, store.ErrNegativeBalance) || errors.Is(err, store.ErrNegativeQuantity) {
			slog.Error("ledger invariant violated", "side", s, "err", err)
		}
		return
	}
	metrics.TradesTotal.WithLabelValues(s).Inc()
	metrics.TradeLatency.WithLabelValues(s).Observe(time.Since(start).Seconds())
	metrics.TradedVolume.WithLabelValues(order.Symbol, s).Add(float64(order.Quantity))

	slog.Info("trade executed",
		"order_id", order.ID,
		"account", order.AccountID,
		"symbol", order.Symbol,
		"side", s,
		"qty", order.Quantity,
		"price", order.Price.String(),
		"total", order.TotalValue.String(),
	)
}

// Reason returns a short label for a ledger error, used for metrics and logs.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrQuoteUnavailable):
		return "quote_unavailable"
	case errors.Is(err, ErrQuoteServiceError):
		return "quote_service_error"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrNoPosition):
		return "no_position"
	case errors.Is(err, ErrInsufficientShares):
		return "insufficient_shares"
	case errors.Is(err, store.ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, store.ErrNegativeBalance), errors.Is(err, store.ErrNegativeQuantity):
		return "invariant"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}

func validate(raw string, quantity int64) (string, error) {
	sym, err := symbol.Normalize(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if quantity <= 0 {
		return "", fmt.Errorf("%w: quantity %d", ErrInvalidInput, quantity)
	}
	return sym, nil
}

func checkHolding(sym string, held model.Position, ok bool, quantity int64) error {
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPosition, sym)
	}
	if held.Quantity < quantity {
		return fmt.Errorf("%w: %s holds %d, selling %d", ErrInsufficientShares, sym, held.Quantity, quantity)
	}
	return nil
}
