package position

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// d is a test helper for creating decimals from strings.
func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var now = time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC)

func TestApply_FirstBuyCreates(t *testing.T) {
	p, err := Apply(nil, "acct-1", "AAPL", 10, d("150"), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.AccountID != "acct-1" || p.Symbol != "AAPL" {
		t.Errorf("unexpected identity: %+v", p)
	}
	if p.Quantity != 10 {
		t.Errorf("expected qty=10, got %d", p.Quantity)
	}
	if !p.AveragePrice.Equal(d("150")) {
		t.Errorf("expected avg=150, got %s", p.AveragePrice)
	}
	if !p.UpdatedAt.Equal(now) {
		t.Errorf("expected updated_at=%v, got %v", now, p.UpdatedAt)
	}
}

func TestApply_SecondBuyAverages(t *testing.T) {
	first, _ := Apply(nil, "acct-1", "AAPL", 10, d("150"), now)
	p, err := Apply(&first, "acct-1", "AAPL", 5, d("180"), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Quantity != 15 {
		t.Errorf("expected qty=15, got %d", p.Quantity)
	}
	// (10*150 + 5*180) / 15 = 160
	if !p.AveragePrice.Equal(d("160")) {
		t.Errorf("expected avg=160, got %s", p.AveragePrice)
	}
}

func TestApply_DoesNotMutateExisting(t *testing.T) {
	first, _ := Apply(nil, "acct-1", "AAPL", 10, d("150"), now)
	snapshot := first
	if _, err := Apply(&first, "acct-1", "AAPL", 5, d("180"), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Quantity != snapshot.Quantity || !first.AveragePrice.Equal(snapshot.AveragePrice) {
		t.Errorf("existing position was mutated: %+v", first)
	}
}

func TestApply_SellKeepsAverage(t *testing.T) {
	held := model.Position{AccountID: "a", Symbol: "MSFT", Quantity: 15, AveragePrice: d("160")}
	p, err := Apply(&held, "a", "MSFT", -4, d("999"), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Quantity != 11 {
		t.Errorf("expected qty=11, got %d", p.Quantity)
	}
	if !p.AveragePrice.Equal(d("160")) {
		t.Errorf("sell must not change avg, got %s", p.AveragePrice)
	}
}

func TestApply_SellToZero(t *testing.T) {
	held := model.Position{Symbol: "MSFT", Quantity: 15, AveragePrice: d("160")}
	p, err := Apply(&held, "a", "MSFT", -15, d("170"), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Quantity != 0 {
		t.Errorf("expected qty=0, got %d", p.Quantity)
	}
}

func TestApply_SellBelowZero(t *testing.T) {
	held := model.Position{Symbol: "MSFT", Quantity: 3, AveragePrice: d("160")}
	_, err := Apply(&held, "a", "MSFT", -4, d("170"), now)
	if !errors.Is(err, ErrNegativeQuantity) {
		t.Errorf("expected ErrNegativeQuantity, got %v", err)
	}

	_, err = Apply(nil, "a", "MSFT", -1, d("170"), now)
	if !errors.Is(err, ErrNegativeQuantity) {
		t.Errorf("expected ErrNegativeQuantity for missing position, got %v", err)
	}
}

func TestApply_ZeroDelta(t *testing.T) {
	if _, err := Apply(nil, "a", "MSFT", 0, d("1"), now); !errors.Is(err, ErrZeroDelta) {
		t.Errorf("expected ErrZeroDelta, got %v", err)
	}
}

func TestApply_BuyNonPositivePrice(t *testing.T) {
	for _, price := range []string{"0", "-1.5"} {
		if _, err := Apply(nil, "a", "MSFT", 1, d(price), now); !errors.Is(err, ErrNonPositivePrice) {
			t.Errorf("price %s: expected ErrNonPositivePrice, got %v", price, err)
		}
	}
}

// --- WeightedAverage ---

func TestWeightedAverage_Formula(t *testing.T) {
	tests := []struct {
		oldAvg   string
		oldQty   int64
		addPrice string
		addQty   int64
		want     string
	}{
		{"0", 0, "123.45", 7, "123.45"},
		{"150", 10, "180", 5, "160"},
		{"10", 1, "20", 1, "15"},
		{"100", 3, "101", 1, "100.25"},
		// 1/3 rounds at PriceScale.
		{"1", 2, "2", 1, "1.33333333"},
		{"0.1", 1, "0.2", 2, "0.16666667"},
	}
	for _, tt := range tests {
		got := WeightedAverage(d(tt.oldAvg), tt.oldQty, d(tt.addPrice), tt.addQty)
		if !got.Equal(d(tt.want)) {
			t.Errorf("WeightedAverage(%s×%d + %s×%d) = %s, want %s",
				tt.oldAvg, tt.oldQty, tt.addPrice, tt.addQty, got, tt.want)
		}
	}
}

func TestWeightedAverage_BoundedByInputs(t *testing.T) {
	// The average always lies between the old average and the fill price.
	lo, hi := d("95.5"), d("130.25")
	for qty := int64(1); qty <= 50; qty += 7 {
		got := WeightedAverage(lo, 13, hi, qty)
		if got.LessThan(lo) || got.GreaterThan(hi) {
			t.Errorf("qty=%d: avg %s outside [%s, %s]", qty, got, lo, hi)
		}
	}
}
