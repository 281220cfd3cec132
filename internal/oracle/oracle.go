// Package oracle supplies market prices to the ledger. Prices come from an
// external provider and are never cached: every trade executes at the
// price reported at that moment.
package oracle

import (
	"context"
	"errors"

	"github.com/papertrade/trading-engine/internal/model"
)

var (
	// ErrSymbolNotFound is returned when the provider has no price for the
	// symbol. Any other error means the provider itself failed.
	ErrSymbolNotFound = errors.New("oracle: symbol not found")

	// ErrInvalidPeriod is returned by History for an unsupported period.
	ErrInvalidPeriod = errors.New("oracle: invalid period")
)

// Oracle reports current and historical prices.
type Oracle interface {
	// Quote returns the current price of symbol. The price is always
	// positive; a provider reporting zero or less yields ErrSymbolNotFound.
	Quote(ctx context.Context, symbol string) (model.Quote, error)

	// History returns daily OHLC bars covering period, oldest first.
	History(ctx context.Context, symbol, period string) ([]model.HistoryPoint, error)
}

// DefaultPeriod is used by the HTTP layer when no period is given.
const DefaultPeriod = "1mo"

// periods lists the accepted history ranges and their length in days.
// ytd and max are resolved by the provider.
var periods = map[string]int{
	"1d":  1,
	"5d":  5,
	"1mo": 30,
	"3mo": 91,
	"6mo": 182,
	"1y":  365,
	"2y":  730,
	"5y":  1826,
	"10y": 3652,
	"ytd": -1,
	"max": -1,
}

// ValidPeriod reports whether period is an accepted history range.
func ValidPeriod(period string) bool {
	_, ok := periods[period]
	return ok
}
