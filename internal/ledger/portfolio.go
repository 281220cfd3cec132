package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
)

// DashboardOrders is the number of recent orders shown on the dashboard.
const DashboardOrders = 10

// Portfolio is an account's cash, holdings and recent activity.
type Portfolio struct {
	Account      model.Account
	Positions    []model.Position
	RecentOrders []model.Order
	CostBasis    decimal.Decimal // sum of quantity × average price
}

// Portfolio loads the account with its positions and the last recent
// orders, newest first.
func (e *Engine) Portfolio(ctx context.Context, accountID string, recent int) (Portfolio, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return Portfolio{}, err
	}
	positions, err := e.store.ListPositions(ctx, accountID)
	if err != nil {
		return Portfolio{}, err
	}
	orders, err := e.store.ListOrders(ctx, accountID, recent)
	if err != nil {
		return Portfolio{}, err
	}

	basis := decimal.Zero
	for _, p := range positions {
		basis = basis.Add(p.CostBasis())
	}
	return Portfolio{
		Account:      *acct,
		Positions:    positions,
		RecentOrders: orders,
		CostBasis:    basis,
	}, nil
}
