package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/papertrade/trading-engine/internal/model"
	"github.com/papertrade/trading-engine/internal/position"
)

// SQLiteStore implements Store on a single SQLite file. Intended for
// single-node deployments; SQLite allows one writer at a time, so
// transactions begin IMMEDIATE and stay short.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path and
// applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_txlock=immediate&_busy_timeout=10000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(SQLiteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, username, email, password_hash, balance, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Username, a.Email, a.PasswordHash, a.Balance.String(), a.CreatedAt.UnixNano(),
	)
	if isSQLiteDuplicate(err) {
		return ErrDuplicateAccount
	}
	return err
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.getAccount(ctx, `WHERE id = ?`, id)
}

func (s *SQLiteStore) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.getAccount(ctx, `WHERE username = ?`, username)
}

func (s *SQLiteStore) getAccount(ctx context.Context, where, arg string) (*model.Account, error) {
	var a model.Account
	var balance string
	var created int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, balance, created_at FROM accounts `+where, arg).
		Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &balance, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", arg, err)
	}
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("parse balance: %w", err)
	}
	a.CreatedAt = time.Unix(0, created).UTC()
	return &a, nil
}

// DeleteAccount relies on ON DELETE CASCADE (foreign keys are enabled in
// the DSN) to remove positions and orders with the account.
func (s *SQLiteStore) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) GetPosition(ctx context.Context, accountID, symbol string) (model.Position, bool, error) {
	return sqliteGetPosition(ctx, s.db, accountID, symbol)
}

func (s *SQLiteStore) ListPositions(ctx context.Context, accountID string) ([]model.Position, error) {
	return sqliteListPositions(ctx, s.db, accountID)
}

func (s *SQLiteStore) ListOrders(ctx context.Context, accountID string, limit int) ([]model.Order, error) {
	query := `SELECT id, account_id, symbol, side, quantity, price, total_value, status, created_at
		FROM orders WHERE account_id = ?
		ORDER BY created_at DESC, rowid DESC`
	args := []any{accountID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []model.Order{}
	for rows.Next() {
		var o model.Order
		var side, status, priceS, totalS string
		var created int64
		if err := rows.Scan(&o.ID, &o.AccountID, &o.Symbol, &side, &o.Quantity,
			&priceS, &totalS, &status, &created); err != nil {
			return nil, err
		}
		o.Side = model.Side(side)
		o.Status = model.OrderStatus(status)
		if o.Price, err = decimal.NewFromString(priceS); err != nil {
			return nil, fmt.Errorf("parse price of order %s: %w", o.ID, err)
		}
		if o.TotalValue, err = decimal.NewFromString(totalS); err != nil {
			return nil, fmt.Errorf("parse total of order %s: %w", o.ID, err)
		}
		o.CreatedAt = time.Unix(0, created).UTC()
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) InAccountTx(ctx context.Context, accountID string, fn func(tx AccountTx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var balance string
	err = tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = ?`, accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return fmt.Errorf("load account %s: %w", accountID, err)
	}

	stx := &sqliteAccountTx{tx: tx, accountID: accountID, now: s.now}
	if stx.balance, err = decimal.NewFromString(balance); err != nil {
		return fmt.Errorf("parse balance: %w", err)
	}

	if err = fn(stx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type sqliteAccountTx struct {
	tx        *sql.Tx
	accountID string
	balance   decimal.Decimal
	now       func() time.Time
}

func (t *sqliteAccountTx) Balance(context.Context) (decimal.Decimal, error) {
	return t.balance, nil
}

func (t *sqliteAccountTx) AdjustBalance(ctx context.Context, delta decimal.Decimal) (decimal.Decimal, error) {
	next := t.balance.Add(delta)
	if next.IsNegative() {
		return t.balance, fmt.Errorf("%w: balance %s, delta %s", ErrNegativeBalance, t.balance, delta)
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET balance = ? WHERE id = ?`, next.String(), t.accountID); err != nil {
		return t.balance, fmt.Errorf("update balance: %w", err)
	}
	t.balance = next
	return next, nil
}

func (t *sqliteAccountTx) GetPosition(ctx context.Context, symbol string) (model.Position, bool, error) {
	return sqliteGetPosition(ctx, t.tx, t.accountID, symbol)
}

func (t *sqliteAccountTx) UpsertPosition(ctx context.Context, symbol string, delta int64, price decimal.Decimal) (model.Position, error) {
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
		_, err = t.tx.ExecContext(ctx,
			`INSERT INTO positions (account_id, symbol, quantity, average_price, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			t.accountID, symbol, next.Quantity, next.AveragePrice.String(), next.UpdatedAt.UnixNano())
		if isSQLiteDuplicate(err) {
			err = fmt.Errorf("%w: %s/%s", ErrDuplicatePosition, t.accountID, symbol)
		}
	default:
		_, err = t.tx.ExecContext(ctx,
			`UPDATE positions SET quantity = ?, average_price = ?, updated_at = ?
			 WHERE account_id = ? AND symbol = ?`,
			next.Quantity, next.AveragePrice.String(), next.UpdatedAt.UnixNano(), t.accountID, symbol)
	}
	if err != nil {
		return model.Position{}, fmt.Errorf("write position %s: %w", symbol, err)
	}
	return next, nil
}

func (t *sqliteAccountTx) RemovePosition(ctx context.Context, symbol string) error {
	_, err := t.tx.ExecContext(ctx,
		`DELETE FROM positions WHERE account_id = ? AND symbol = ?`, t.accountID, symbol)
	return err
}

func (t *sqliteAccountTx) ListPositions(ctx context.Context) ([]model.Position, error) {
	return sqliteListPositions(ctx, t.tx, t.accountID)
}

func (t *sqliteAccountTx) AppendOrder(ctx context.Context, o *model.Order) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO orders (id, account_id, symbol, side, quantity, price, total_value, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.AccountID, o.Symbol, string(o.Side), o.Quantity,
		o.Price.String(), o.TotalValue.String(), string(o.Status), o.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteGetPosition(ctx context.Context, q sqlQuerier, accountID, symbol string) (model.Position, bool, error) {
	var p model.Position
	var avg string
	var updated int64
	err := q.QueryRowContext(ctx,
		`SELECT account_id, symbol, quantity, average_price, updated_at
		 FROM positions WHERE account_id = ? AND symbol = ?`, accountID, symbol).
		Scan(&p.AccountID, &p.Symbol, &p.Quantity, &avg, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Position{}, false, nil
	}
	if err != nil {
		return model.Position{}, false, fmt.Errorf("get position %s: %w", symbol, err)
	}
	if p.AveragePrice, err = decimal.NewFromString(avg); err != nil {
		return model.Position{}, false, fmt.Errorf("parse average price: %w", err)
	}
	p.UpdatedAt = time.Unix(0, updated).UTC()
	return p, true, nil
}

func sqliteListPositions(ctx context.Context, q sqlQuerier, accountID string) ([]model.Position, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT account_id, symbol, quantity, average_price, updated_at
		 FROM positions WHERE account_id = ? ORDER BY symbol`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := []model.Position{}
	for rows.Next() {
		var p model.Position
		var avg string
		var updated int64
		if err := rows.Scan(&p.AccountID, &p.Symbol, &p.Quantity, &avg, &updated); err != nil {
			return nil, err
		}
		if p.AveragePrice, err = decimal.NewFromString(avg); err != nil {
			return nil, fmt.Errorf("parse average price of %s: %w", p.Symbol, err)
		}
		p.UpdatedAt = time.Unix(0, updated).UTC()
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// isSQLiteDuplicate reports a UNIQUE or PRIMARY KEY violation. CHECK,
// NOT NULL and FOREIGN KEY failures are not duplicates.
func isSQLiteDuplicate(err error) bool {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	return sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
