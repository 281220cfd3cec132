// Package trade provides the HTTP handlers for registration, trading,
// the account dashboard and stock quotes.
//
// All monetary values use shopspring/decimal, never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/account"
	"github.com/papertrade/trading-engine/internal/auth"
	"github.com/papertrade/trading-engine/internal/ledger"
	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/oracle"
	"github.com/papertrade/trading-engine/internal/store"
	"github.com/papertrade/trading-engine/internal/symbol"
)

// Version is reported by GET /.
const Version = "1.0.0"

// Service wires the ledger engine and account directory to HTTP.
type Service struct {
	engine   *ledger.Engine
	accounts *account.Directory
	tokens   *auth.Tokens
	wsHub    *WSHub // optional WebSocket hub for order notifications
	currency string
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket notifications are not needed.
func NewService(engine *ledger.Engine, accounts *account.Directory, tokens *auth.Tokens, hub *WSHub, currency string) *Service {
	if currency == "" {
		currency = money.USD
	}
	return &Service{
		engine:   engine,
		accounts: accounts,
		tokens:   tokens,
		wsHub:    hub,
		currency: currency,
	}
}

// Routes mounts every API route on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/", s.Home)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", s.Register)
		r.Post("/login", s.Login)
		r.With(s.tokens.Middleware(s.accounts.Exists)).Delete("/account", s.DeleteAccount)
	})

	r.Route("/api/trading", func(r chi.Router) {
		r.Use(s.tokens.Middleware(s.accounts.Exists))
		r.Get("/dashboard", s.Dashboard)
		r.Post("/buy", s.Buy)
		r.Post("/sell", s.Sell)
		if s.wsHub != nil {
			r.Get("/ws", s.wsHub.HandleWS)
		}
	})

	r.Route("/api/stock", func(r chi.Router) {
		r.Get("/price/{symbol}", s.GetPrice)
		r.Get("/history/{symbol}", s.GetHistory)
	})
}

// --- Request/Response types ---

// RegisterRequest is the JSON body for POST /api/auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the JSON body for POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// OrderRequest is the JSON body for POST /api/trading/buy and /sell.
type OrderRequest struct {
	Symbol   string `json:"stock_symbol"`
	Quantity int64  `json:"quantity"`
}

// UserView is the public representation of an account.
type UserView struct {
	ID             string          `json:"id"`
	Username       string          `json:"username"`
	Email          string          `json:"email"`
	Balance        decimal.Decimal `json:"balance"`
	BalanceDisplay string          `json:"balance_display"`
	Currency       string          `json:"currency"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PositionView is a holding as shown on the dashboard.
type PositionView struct {
	Symbol       string          `json:"stock_symbol"`
	Quantity     int64           `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	TotalValue   decimal.Decimal `json:"total_value"` // quantity × average price
	UpdatedAt    time.Time       `json:"updated_at"`
}

// DashboardResponse is the JSON body returned from GET /api/trading/dashboard.
type DashboardResponse struct {
	User           UserView        `json:"user"`
	Portfolio      []PositionView  `json:"portfolio"`
	RecentOrders   []model.Order   `json:"recent_orders"`
	TotalCostBasis decimal.Decimal `json:"total_cost_basis"`
}

// OrderResponse is the JSON body returned from a successful buy or sell.
type OrderResponse struct {
	Message string      `json:"message"`
	Order   model.Order `json:"order"`
}

// QuoteResponse is the JSON body returned from GET /api/stock/price/{symbol}.
type QuoteResponse struct {
	Symbol   string          `json:"symbol"`
	Price    decimal.Decimal `json:"price"`
	Name     string          `json:"name"`
	Currency string          `json:"currency"`
}

// HistoryResponse is the JSON body returned from GET /api/stock/history/{symbol}.
type HistoryResponse struct {
	Symbol string               `json:"symbol"`
	Period string               `json:"period"`
	Data   []model.HistoryPoint `json:"data"`
}

// --- HTTP Handlers ---

// Home handles GET /
func (s *Service) Home(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Stock Trading App API",
		"version": Version,
	})
}

// Register handles POST /api/auth/register
func (s *Service) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	acct, err := s.accounts.Register(r.Context(), req.Username, req.Email, req.Password)
	switch {
	case errors.Is(err, account.ErrMissingFields):
		writeError(w, "Missing required fields", http.StatusBadRequest)
		return
	case errors.Is(err, account.ErrInvalidEmail):
		writeError(w, "Invalid email address", http.StatusBadRequest)
		return
	case errors.Is(err, account.ErrPasswordTooLong):
		writeError(w, "Password too long", http.StatusBadRequest)
		return
	case errors.Is(err, account.ErrUsernameTaken):
		writeError(w, "Username already exists", http.StatusBadRequest)
		return
	case err != nil:
		slog.Error("register failed", "username", req.Username, "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "User registered successfully",
		"user":    s.userView(acct),
	})
}

// Login handles POST /api/auth/login
func (s *Service) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	token, acct, err := s.accounts.Login(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, account.ErrMissingFields):
		writeError(w, "Missing username or password", http.StatusBadRequest)
		return
	case errors.Is(err, account.ErrInvalidCredentials):
		writeError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	case err != nil:
		slog.Error("login failed", "username", req.Username, "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"token":   token,
		"user":    s.userView(acct),
	})
}

// DeleteAccount handles DELETE /api/auth/account
// Removes the caller's account, positions and orders.
func (s *Service) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountID(r.Context())

	if err := s.accounts.Delete(r.Context(), accountID); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Account deleted"})
}

// Dashboard handles GET /api/trading/dashboard
// Returns the balance, every position and the ten most recent orders.
func (s *Service) Dashboard(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountID(r.Context())

	p, err := s.engine.Portfolio(r.Context(), accountID, ledger.DashboardOrders)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	positions := make([]PositionView, 0, len(p.Positions))
	for _, pos := range p.Positions {
		positions = append(positions, PositionView{
			Symbol:       pos.Symbol,
			Quantity:     pos.Quantity,
			AveragePrice: pos.AveragePrice,
			TotalValue:   pos.CostBasis(),
			UpdatedAt:    pos.UpdatedAt,
		})
	}

	writeJSON(w, http.StatusOK, DashboardResponse{
		User:           s.userView(&p.Account),
		Portfolio:      positions,
		RecentOrders:   p.RecentOrders,
		TotalCostBasis: p.CostBasis,
	})
}

// Buy handles POST /api/trading/buy
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	s.executeOrder(w, r, model.SideBuy)
}

// Sell handles POST /api/trading/sell
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	s.executeOrder(w, r, model.SideSell)
}

func (s *Service) executeOrder(w http.ResponseWriter, r *http.Request, side model.Side) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid symbol or quantity", http.StatusBadRequest)
		return
	}
	accountID, _ := auth.AccountID(r.Context())

	var order model.Order
	var err error
	var message string
	if side == model.SideBuy {
		order, err = s.engine.Buy(r.Context(), accountID, req.Symbol, req.Quantity)
		message = "Buy order successful"
	} else {
		order, err = s.engine.Sell(r.Context(), accountID, req.Symbol, req.Quantity)
		message = "Sell order successful"
	}
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}

	// Notify the account's open WebSocket connections.
	if s.wsHub != nil {
		s.wsHub.Publish(accountID, WSMessage{Type: "order_executed", Order: &order})
	}

	writeJSON(w, http.StatusCreated, OrderResponse{Message: message, Order: order})
}

// GetPrice handles GET /api/stock/price/{symbol}
func (s *Service) GetPrice(w http.ResponseWriter, r *http.Request) {
	q, err := s.engine.Quote(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QuoteResponse{
		Symbol:   q.Symbol,
		Price:    q.Price,
		Name:     q.Name,
		Currency: q.Currency,
	})
}

// GetHistory handles GET /api/stock/history/{symbol}?period=1mo
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = oracle.DefaultPeriod
	}

	points, err := s.engine.History(r.Context(), chi.URLParam(r, "symbol"), period)
	if errors.Is(err, oracle.ErrInvalidPeriod) {
		writeError(w, "invalid period: "+period, http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	if points == nil {
		points = []model.HistoryPoint{}
	}

	sym, _ := symbol.Normalize(chi.URLParam(r, "symbol"))
	writeJSON(w, http.StatusOK, HistoryResponse{Symbol: sym, Period: period, Data: points})
}

// --- Helpers ---

// writeLedgerError maps a domain error to its HTTP status.
func (s *Service) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		writeError(w, "Invalid symbol or quantity", http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, "Insufficient balance", http.StatusBadRequest)
	case errors.Is(err, ledger.ErrNoPosition), errors.Is(err, ledger.ErrInsufficientShares):
		writeError(w, "Insufficient shares", http.StatusBadRequest)
	case errors.Is(err, ledger.ErrQuoteUnavailable):
		writeError(w, "Stock not found", http.StatusNotFound)
	case errors.Is(err, ledger.ErrQuoteServiceError):
		writeError(w, "Error fetching stock price", http.StatusInternalServerError)
	case errors.Is(err, store.ErrAccountNotFound):
		writeError(w, "account not found", http.StatusNotFound)
	default:
		slog.Error("request failed", "reason", ledger.Reason(err), "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Service) userView(a *model.Account) UserView {
	return UserView{
		ID:             a.ID,
		Username:       a.Username,
		Email:          a.Email,
		Balance:        a.Balance,
		BalanceDisplay: formatMoney(a.Balance, s.currency),
		Currency:       s.currency,
		CreatedAt:      a.CreatedAt,
	}
}

// formatMoney renders amount in the currency's display format, for
// example $10,150.00.
func formatMoney(amount decimal.Decimal, code string) string {
	// money.GetCurrency returns nil for unknown codes; the Currency of a
	// Money built by money.New never is.
	cur := money.New(0, code).Currency()
	minor := amount.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(minor.IntPart())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
