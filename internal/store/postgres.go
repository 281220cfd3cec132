package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/position"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, username, email, password_hash, balance, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6)`,
		a.ID, a.Username, a.Email, a.PasswordHash, a.Balance.String(), a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateAccount
	}
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.getAccount(ctx, `WHERE id = $1`, id)
}

func (s *PostgresStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.getAccount(ctx, `WHERE username = $1`, username)
}

func (s *PostgresStore) getAccount(ctx context.Context, where string, arg string) (*model.Account, error) {
	var a model.Account
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, balance::TEXT, created_at
		 FROM accounts `+where, arg).
		Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &balance, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", arg, err)
	}
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	return &a, nil
}

// DeleteAccount relies on ON DELETE CASCADE for positions and orders; the
// three deletions commit as one statement.
func (s *PostgresStore) DeleteAccount(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, accountID, symbol string) (model.Position, bool, error) {
	return getPosition(ctx, s.pool, accountID, symbol, "")
}

func (s *PostgresStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	return listPositions(ctx, s.pool, accountID)
}

func (s *PostgresStore) ListOrders(ctx context.Context, accountID string, limit int) ([]model.Order, error) {
	query := `SELECT id, account_id, symbol, side, quantity, price::TEXT, total_value::TEXT, status, created_at
		 FROM orders WHERE account_id = $1
		 ORDER BY created_at DESC, seq DESC`
	args := []any{accountID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanOrders(rows)
}

// InAccountTx locks the account row FOR UPDATE so concurrent transactions
// on the same account, from any process, queue behind each other.
func (s *PostgresStore) InAccountTx(ctx context.Context, accountID string, fn func(tx AccountTx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var balance string
	err = tx.QueryRow(ctx,
		`SELECT balance::TEXT FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return fmt.Errorf("lock account %s: %w", accountID, err)
	}

	ptx := &pgAccountTx{tx: tx, accountID: accountID, now: s.now}
	if ptx.balance, err = decimal.NewFromString(balance); err != nil {
		return fmt.Errorf("parse balance: %w", err)
	}

	if err = fn(ptx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// pgAccountTx implements AccountTx on a pgx transaction holding the
// account row lock.
type pgAccountTx struct {
	tx        pgx.Tx
	accountID string
	balance   decimal.Decimal
	now       func() time.Time
}

func (t *pgAccountTx) Balance(context.Context) (decimal.Decimal, error) {
	return t.balance, nil
}

func (t *pgAccountTx) AdjustBalance(ctx context.Context, delta decimal.Decimal) (decimal.Decimal, error) {
	next := t.balance.Add(delta)
	if next.IsNegative() {
		return t.balance, fmt.Errorf("%w: balance %s, delta %s", ErrNegativeBalance, t.balance, delta)
	}
	if _, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC WHERE id = $1`,
		t.accountID, next.String()); err != nil {
		return t.balance, fmt.Errorf("update balance: %w", err)
	}
	t.balance = next
	return next, nil
}

func (t *pgAccountTx) GetPosition(ctx context.Context, symbol string) (model.Position, bool, error) {
	return getPosition(ctx, t.tx, t.accountID, symbol, " FOR UPDATE")
}

func (t *pgAccountTx) UpsertPosition(ctx context.Context, symbol string, delta int64, price decimal.Decimal) (model.Position, error) {
	cur, ok, err := t.GetPosition(ctx, symbol)
	if err != nil {
		return model.Position{}, err
	}
	var existing *model.Position
	if ok {
		existing = &cur
	}

	next, err := position.Apply(existing, t.accountID, symbol, delta, price, t.now())
	if err != nil {
		return model.Position{}, err
	}

	switch {
	case next.Quantity == 0:
		err = t.RemovePosition(ctx, symbol)
	case existing == nil:
		_, err = t.tx.Exec(ctx,
			`INSERT INTO positions (account_id, symbol, quantity, average_price, updated_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5)`,
			t.accountID, symbol, next.Quantity, next.AveragePrice.String(), next.UpdatedAt)
		if isUniqueViolation(err) {
			err = fmt.Errorf("%w: %s/%s", ErrDuplicatePosition, t.accountID, symbol)
		}
	default:
		_, err = t.tx.Exec(ctx,
			`UPDATE positions SET quantity = $3, average_price = $4::NUMERIC, updated_at = $5
			 WHERE account_id = $1 AND symbol = $2`,
			t.accountID, symbol, next.Quantity, next.AveragePrice.String(), next.UpdatedAt)
	}
	if err != nil {
		return model.Position{}, fmt.Errorf("write position %s: %w", symbol, err)
	}
	return next, nil
}

func (t *pgAccountTx) RemovePosition(ctx context.Context, symbol string) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM positions WHERE account_id = $1 AND symbol = $2`, t.accountID, symbol)
	return err
}

func (t *pgAccountTx) ListPositions(ctx context.Context) ([]model.Position, error) {
	return listPositions(ctx, t.tx, t.accountID)
}

func (t *pgAccountTx) AppendOrder(ctx context.Context, o *model.Order) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO orders (id, account_id, symbol, side, quantity, price, total_value, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
		o.ID, o.AccountID, o.Symbol, string(o.Side), o.Quantity,
		o.Price.String(), o.TotalValue.String(), string(o.Status), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getPosition(ctx context.Context, q pgQuerier, accountID, symbol, suffix string) (model.Position, bool, error) {
	var p model.Position
	var avg string
	err := q.QueryRow(ctx,
		`SELECT account_id, symbol, quantity, average_price::TEXT, updated_at
		 FROM positions WHERE account_id = $1 AND symbol = $2`+suffix, accountID, symbol).
		Scan(&p.AccountID, &p.Symbol, &p.Quantity, &avg, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Position{}, false, nil
	}
	if err != nil {
		return model.Position{}, false, fmt.Errorf("get position %s: %w", symbol, err)
	}
	if p.AveragePrice, err = decimal.NewFromString(avg); err != nil {
		return model.Position{}, false, fmt.Errorf("parse average price: %w", err)
	}
	return p, true, nil
}

func listPositions(ctx context.Context, q pgQuerier, accountID string) ([]model.Position, error) {
	rows, err := q.Query(ctx,
		`SELECT account_id, symbol, quantity, average_price::TEXT, updated_at
		 FROM positions WHERE account_id = $1 ORDER BY symbol`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := []model.Position{}
	for rows.Next() {
		var p model.Position
		var avg string
		if err := rows.Scan(&p.AccountID, &p.Symbol, &p.Quantity, &avg, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if p.AveragePrice, err = decimal.NewFromString(avg); err != nil {
			return nil, fmt.Errorf("parse average price of %s: %w", p.Symbol, err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// pgxRows is the subset of pgx.Rows used by scanOrders.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanOrders(rows pgxRows) ([]model.Order, error) {
	orders := []model.Order{}
	for rows.Next() {
		var o model.Order
		var side, status, priceS, totalS string

		if err := rows.Scan(&o.ID, &o.AccountID, &o.Symbol, &side, &o.Quantity,
			&priceS, &totalS, &status, &o.CreatedAt); err != nil {
			return nil, err
		}

		o.Side = model.Side(side)
		o.Status = model.OrderStatus(status)
		var err error
		if o.Price, err = decimal.NewFromString(priceS); err != nil {
			return nil, fmt.Errorf("parse price of order %s: %w", o.ID, err)
		}
		if o.TotalValue, err = decimal.NewFromString(totalS); err != nil {
			return nil, fmt.Errorf("parse total of order %s: %w", o.ID, err)
		}

		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
