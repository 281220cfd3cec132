package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// Static serves fixed prices. It backs development setups without network
// access and the tests of every package that needs an oracle.
type Static struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	errs   map[string]error
	delay  time.Duration
	calls  int
	now    func() time.Time
}

// NewStatic creates an oracle quoting the given prices.
func NewStatic(prices map[string]decimal.Decimal) *Static {
	s := &Static{
		prices: make(map[string]decimal.Decimal, len(prices)),
		errs:   make(map[string]error),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for sym, p := range prices {
		s.prices[sym] = p
	}
	return s
}

// SetPrice sets the quoted price for symbol and clears any injected error.
func (s *Static) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
	delete(s.errs, symbol)
}

// SetError makes every lookup of symbol fail with err.
func (s *Static) SetError(symbol string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[symbol] = err
}

// SetDelay makes every lookup wait d (or until ctx is done) before answering.
func (s *Static) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Calls returns how many Quote calls have been made.
func (s *Static) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}

func (s *Static) lookup(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	price, ok := s.prices[symbol]
	err := s.errs[symbol]
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		case <-t.C:
		}
	}
	if err != nil {
		return decimal.Zero, err
	}
	if !ok || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	return price, nil
}

func (s *Static) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	price, err := s.lookup(ctx, symbol)
	if err != nil {
		return model.Quote{}, err
	}
	return model.Quote{
		Symbol:   symbol,
		Price:    price,
		Name:     symbol,
		Currency: "USD",
		AsOf:     s.now(),
	}, nil
}

// History returns one flat daily bar per day of period at the static price.
func (s *Static) History(ctx context.Context, symbol, period string) ([]model.HistoryPoint, error) {
	days, ok := periods[period]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	price, err := s.lookup(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if days < 0 {
		days = 365
	}

	today := s.now().Truncate(24 * time.Hour)
	points := make([]model.HistoryPoint, 0, days)
	for i := days - 1; i >= 0; i-- {
		points = append(points, model.HistoryPoint{
			Time:  today.AddDate(0, 0, -i),
			Open:  price,
			High:  price,
			Low:   price,
			Close: price,
		})
	}
	return points, nil
}
