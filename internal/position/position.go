// Package position implements the average-cost accounting applied to a
// holding on every fill.
//
// The cost basis is a quantity-weighted average recomputed only on buys:
//
//	avg' = (avg × qty + price × Δ) / (qty + Δ)
//
// Sells reduce the quantity and leave the average untouched. Lot-level
// (FIFO/LIFO) tracking is deliberately absent.
package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// PriceScale is the number of decimal places kept on the average price.
var PriceScale int32 = 8

var (
	// ErrZeroDelta is returned for a no-op quantity change.
	ErrZeroDelta = errors.New("position: quantity delta must be non-zero")

	// ErrNonPositivePrice is returned when a buy carries a price <= 0.
	ErrNonPositivePrice = errors.New("position: price must be positive")

	// ErrNegativeQuantity is returned when a sell would leave fewer than zero shares.
	ErrNegativeQuantity = errors.New("position: quantity would become negative")
)

// Apply returns the position that results from applying delta shares at
// price to existing (nil when the account holds none of the symbol).
//
// A result with Quantity == 0 means the position must be removed.
func Apply(existing *model.Position, accountID, symbol string, delta int64, price decimal.Decimal, now time.Time) (model.Position, error) {
	if delta == 0 {
		return model.Position{}, ErrZeroDelta
	}

	var cur model.Position
	if existing != nil {
		cur = *existing
	} else {
		cur = model.Position{AccountID: accountID, Symbol: symbol, AveragePrice: decimal.Zero}
	}

	if delta > 0 {
		if !price.IsPositive() {
			return model.Position{}, ErrNonPositivePrice
		}
		cur.AveragePrice = WeightedAverage(cur.AveragePrice, cur.Quantity, price, delta)
		cur.Quantity += delta
		cur.UpdatedAt = now
		return cur, nil
	}

	remaining := cur.Quantity + delta
	if remaining < 0 {
		return model.Position{}, fmt.Errorf("%w: %s holds %d, change %d", ErrNegativeQuantity, symbol, cur.Quantity, delta)
	}
	cur.Quantity = remaining
	cur.UpdatedAt = now
	return cur, nil
}

// WeightedAverage computes the average price after adding addQty shares at
// addPrice to oldQty shares held at oldAvg.
func WeightedAverage(oldAvg decimal.Decimal, oldQty int64, addPrice decimal.Decimal, addQty int64) decimal.Decimal {
	if oldQty <= 0 {
		return addPrice.Round(PriceScale)
	}
	total := oldQty + addQty
	if total <= 0 {
		return decimal.Zero
	}
	cost := oldAvg.Mul(decimal.NewFromInt(oldQty)).Add(addPrice.Mul(decimal.NewFromInt(addQty)))
	return cost.DivRound(decimal.NewFromInt(total), PriceScale)
}
