// Package model defines the core domain types shared across the trading service.
// All monetary values use shopspring/decimal, never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus is the lifecycle state of an order record. Orders are only
// written once a trade has fully settled, so COMPLETED is the only state
// the ledger currently produces.
type OrderStatus string

const StatusCompleted OrderStatus = "COMPLETED"

// Account is a registered user holding a simulated cash balance.
type Account struct {
	ID           string          `json:"id" db:"id"`
	Username     string          `json:"username" db:"username"`
	Email        string          `json:"email" db:"email"`
	PasswordHash string          `json:"-" db:"password_hash"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Position is an account's current holding in one symbol.
// At most one exists per (AccountID, Symbol); a zero quantity is never stored.
type Position struct {
	AccountID    string          `json:"-" db:"account_id"`
	Symbol       string          `json:"stock_symbol" db:"symbol"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price" db:"average_price"` // cost basis per share
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// CostBasis is Quantity × AveragePrice.
func (p Position) CostBasis() decimal.Decimal {
	return p.AveragePrice.Mul(decimal.NewFromInt(p.Quantity))
}

// Order is an immutable record of one completed trade.
// Once created, orders are never modified.
type Order struct {
	ID         string          `json:"id" db:"id"`
	AccountID  string          `json:"-" db:"account_id"`
	Symbol     string          `json:"stock_symbol" db:"symbol"`
	Side       Side            `json:"order_type" db:"side"`
	Quantity   int64           `json:"quantity" db:"quantity"`
	Price      decimal.Decimal `json:"price" db:"price"`             // execution price
	TotalValue decimal.Decimal `json:"total_value" db:"total_value"` // quantity × price
	Status     OrderStatus     `json:"status" db:"status"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Quote is a point-in-time price for a symbol as reported by the oracle.
type Quote struct {
	Symbol   string          `json:"symbol"`
	Price    decimal.Decimal `json:"price"`
	Name     string          `json:"name"`
	Currency string          `json:"currency"`
	AsOf     time.Time       `json:"as_of"`
}

// HistoryPoint is one OHLC bar of a symbol's price history.
type HistoryPoint struct {
	Time   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}
