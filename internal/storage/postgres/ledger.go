package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/gamehub/internal/ledger"
)

const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
)

// LedgerRepository implements ledger.Store on PostgreSQL. Every balance change
// is a single conditional statement or a row-locking transaction.
type LedgerRepository struct {
	db *pgxpool.Pool
}

// NewLedgerRepository creates a LedgerRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool with the ledger schema applied.
func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

var _ ledger.Store = (*LedgerRepository)(nil)

// CreateCurrency inserts a currency.
//
// Postcondition: Returns ledger.ErrCurrencyExists if the name is taken.
func (r *LedgerRepository) CreateCurrency(ctx context.Context, c ledger.Currency) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO currencies (name, manage_key) VALUES ($1, $2)`,
		c.Name, c.Key,
	)
	if err != nil {
		if hasSQLState(err, sqlStateUniqueViolation) {
			return fmt.Errorf("currency %q: %w", c.Name, ledger.ErrCurrencyExists)
		}
		return fmt.Errorf("creating currency: %w", err)
	}
	return nil
}

// lockCurrency locks the currency row and checks its key.
func lockCurrency(ctx context.Context, tx pgx.Tx, c ledger.Currency) error {
	var key string
	err := tx.QueryRow(ctx,
		`SELECT manage_key FROM currencies WHERE name = $1 FOR UPDATE`,
		c.Name,
	).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("currency %q: %w", c.Name, ledger.ErrCurrencyNotFound)
	}
	if err != nil {
		return fmt.Errorf("locking currency: %w", err)
	}
	if key != c.Key {
		return fmt.Errorf("currency %q: %w", c.Name, ledger.ErrKeyMismatch)
	}
	return nil
}

// DeleteCurrency removes a currency; balances cascade.
//
// Postcondition: Returns ledger.ErrCurrencyNotFound or ledger.ErrKeyMismatch without deleting.
func (r *LedgerRepository) DeleteCurrency(ctx context.Context, c ledger.Currency) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockCurrency(ctx, tx, c); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM currencies WHERE name = $1`, c.Name); err != nil {
			return fmt.Errorf("deleting currency: %w", err)
		}
		return nil
	})
}

// RenameCurrency renames a currency; balances follow through ON UPDATE CASCADE.
func (r *LedgerRepository) RenameCurrency(ctx context.Context, c ledger.Currency, newName string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := lockCurrency(ctx, tx, c); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE currencies SET name = $2 WHERE name = $1`, c.Name, newName)
		if err != nil {
			if hasSQLState(err, sqlStateUniqueViolation) {
				return fmt.Errorf("currency %q: %w", newName, ledger.ErrCurrencyExists)
			}
			return fmt.Errorf("renaming currency: %w", err)
		}
		return nil
	})
}

// CurrencyExists reports whether name is registered.
func (r *LedgerRepository) CurrencyExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM currencies WHERE name = $1)`, name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking currency: %w", err)
	}
	return exists, nil
}

// ListCurrencies returns every currency name in ascending order.
func (r *LedgerRepository) ListCurrencies(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT name FROM currencies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing currencies: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning currencies: %w", err)
	}
	return names, nil
}

// OpenAccount inserts an account with its opening balance.
//
// Postcondition: Returns ledger.ErrAccountExists or ledger.ErrCurrencyNotFound on conflict.
func (r *LedgerRepository) OpenAccount(ctx context.Context, a ledger.Account) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO balances (player, currency, balance) VALUES ($1, $2, $3)`,
		a.Player, a.Currency, a.Balance,
	)
	switch {
	case err == nil:
		return nil
	case hasSQLState(err, sqlStateUniqueViolation):
		return fmt.Errorf("%s/%s: %w", a.Player, a.Currency, ledger.ErrAccountExists)
	case hasSQLState(err, sqlStateForeignKeyViolation):
		return fmt.Errorf("currency %q: %w", a.Currency, ledger.ErrCurrencyNotFound)
	default:
		return fmt.Errorf("opening account: %w", err)
	}
}

// Balance returns the current balance.
func (r *LedgerRepository) Balance(ctx context.Context, player, currency string) (int64, error) {
	var bal int64
	err := r.db.QueryRow(ctx,
		`SELECT balance FROM balances WHERE player = $1 AND currency = $2`,
		player, currency,
	).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%s/%s: %w", player, currency, ledger.ErrAccountNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("querying balance: %w", err)
	}
	return bal, nil
}

// SetBalance overwrites an existing balance.
func (r *LedgerRepository) SetBalance(ctx context.Context, a ledger.Account) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE balances SET balance = $3, updated_at = NOW()
		 WHERE player = $1 AND currency = $2`,
		a.Player, a.Currency, a.Balance,
	)
	if err != nil {
		return fmt.Errorf("setting balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", a.Player, a.Currency, ledger.ErrAccountNotFound)
	}
	return nil
}

// Adjust applies delta in one statement guarded by the floor, so concurrent
// adjustments can never jointly cross it. The guard is evaluated in numeric so
// a result outside BIGINT fails the match instead of raising.
func (r *LedgerRepository) Adjust(ctx context.Context, player, currency string, delta, floor int64) (int64, error) {
	var bal int64
	err := r.db.QueryRow(ctx,
		`UPDATE balances SET balance = balance + $3, updated_at = NOW()
		 WHERE player = $1 AND currency = $2
		   AND balance::numeric + $3::bigint >= $4::bigint
		   AND balance::numeric + $3::bigint <= $5::bigint
		 RETURNING balance`,
		player, currency, delta, floor, int64(math.MaxInt64),
	).Scan(&bal)
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("adjusting balance: %w", err)
	}

	// No row matched: the account is missing or a bound blocked the change.
	current, err := r.Balance(ctx, player, currency)
	if err != nil {
		return 0, err
	}
	reason := ledger.ErrInsufficientFunds
	if _, err := ledger.ApplyDelta(current, delta, floor); err != nil {
		reason = err
	}
	return current, fmt.Errorf("%s/%s: %w", player, currency, reason)
}

// Transfer locks both rows in player order and moves amount between them.
func (r *LedgerRepository) Transfer(ctx context.Context, from, to, currency string, amount, floor int64) (int64, int64, error) {
	var fromBal, toBal int64
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT player, balance FROM balances
			 WHERE currency = $1 AND player IN ($2, $3)
			 ORDER BY player
			 FOR UPDATE`,
			currency, from, to,
		)
		if err != nil {
			return fmt.Errorf("locking balances: %w", err)
		}
		locked := make(map[string]int64, 2)
		var player string
		var bal int64
		_, err = pgx.ForEachRow(rows, []any{&player, &bal}, func() error {
			locked[player] = bal
			return nil
		})
		if err != nil {
			return fmt.Errorf("scanning balances: %w", err)
		}

		var ok bool
		if fromBal, ok = locked[from]; !ok {
			return fmt.Errorf("%s/%s: %w", from, currency, ledger.ErrAccountNotFound)
		}
		if toBal, ok = locked[to]; !ok {
			return fmt.Errorf("%s/%s: %w", to, currency, ledger.ErrAccountNotFound)
		}
		nextFrom, err := ledger.Debit(fromBal, amount, floor)
		if err != nil {
			return fmt.Errorf("%s/%s: %w", from, currency, err)
		}
		nextTo, err := ledger.Credit(toBal, amount)
		if err != nil {
			return fmt.Errorf("%s/%s: %w", to, currency, err)
		}

		fromBal, toBal = nextFrom, nextTo
		for p, b := range map[string]int64{from: fromBal, to: toBal} {
			if _, err := tx.Exec(ctx,
				`UPDATE balances SET balance = $3, updated_at = NOW()
				 WHERE player = $1 AND currency = $2`,
				p, currency, b,
			); err != nil {
				return fmt.Errorf("updating balance: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return fromBal, toBal, nil
}

func hasSQLState(err error, state string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == state
	}
	return false
}
