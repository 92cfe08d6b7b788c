// Package ledger manages per-player balances in named currencies.
//
// The Service validates requests and applies the configured debt limit; a Store
// performs each operation atomically.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrCurrencyNotFound is returned when a currency does not exist.
	ErrCurrencyNotFound = errors.New("currency not found")
	// ErrCurrencyExists is returned when creating or renaming onto a taken name.
	ErrCurrencyExists = errors.New("currency already exists")
	// ErrKeyMismatch is returned when the management key for a currency is wrong.
	ErrKeyMismatch = errors.New("currency key mismatch")
	// ErrAccountNotFound is returned when a player has no balance in a currency.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned when opening an account twice.
	ErrAccountExists = errors.New("account already exists")
	// ErrInsufficientFunds is returned when a debit would cross the debt limit.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrBalanceOverflow is returned when a credit would exceed the largest
	// representable balance.
	ErrBalanceOverflow = errors.New("balance overflow")
	// ErrInvalidRequest is returned for empty names, non-positive amounts and
	// similar caller mistakes.
	ErrInvalidRequest = errors.New("invalid request")
)

// NoFloor disables the lower bound in Store.Adjust.
const NoFloor int64 = math.MinInt64

// Debit returns bal-amount. It fails with ErrInsufficientFunds if the result
// would fall below floor, without computing an overflowing difference.
//
// Precondition: amount must be non-negative.
func Debit(bal, amount, floor int64) (int64, error) {
	if amount < 0 {
		return bal, invalid("debit amount must not be negative, got %d", amount)
	}
	if bal < floor {
		return bal, ErrInsufficientFunds
	}
	// bal-floor only overflows when it exceeds MaxInt64, and then any amount fits.
	if floor >= 0 || bal <= math.MaxInt64+floor {
		if amount > bal-floor {
			return bal, ErrInsufficientFunds
		}
	}
	return bal - amount, nil
}

// Credit returns bal+amount, or ErrBalanceOverflow if that exceeds MaxInt64.
//
// Precondition: amount must be non-negative.
func Credit(bal, amount int64) (int64, error) {
	if amount < 0 {
		return bal, invalid("credit amount must not be negative, got %d", amount)
	}
	if bal > math.MaxInt64-amount {
		return bal, ErrBalanceOverflow
	}
	return bal + amount, nil
}

// ApplyDelta adds delta to bal with the same bounds Store.Adjust enforces:
// the result must stay within int64 and at or above floor.
func ApplyDelta(bal, delta, floor int64) (int64, error) {
	if delta >= 0 {
		next, err := Credit(bal, delta)
		if err != nil {
			return bal, err
		}
		if next < floor {
			return bal, ErrInsufficientFunds
		}
		return next, nil
	}
	if delta == math.MinInt64 {
		return bal, invalid("delta %d cannot be negated", delta)
	}
	return Debit(bal, -delta, floor)
}

// Currency is a named economy. Key authorises rename and delete.
type Currency struct {
	Name string `json:"name"`
	Key  string `json:"key,omitempty"`
}

// Account is one player's balance in one currency.
type Account struct {
	Player   string `json:"player"`
	Currency string `json:"currency"`
	Balance  int64  `json:"balance"`
}

// Store persists currencies and accounts. Every method is atomic.
type Store interface {
	CreateCurrency(ctx context.Context, c Currency) error
	DeleteCurrency(ctx context.Context, c Currency) error
	RenameCurrency(ctx context.Context, c Currency, newName string) error
	CurrencyExists(ctx context.Context, name string) (bool, error)
	ListCurrencies(ctx context.Context) ([]string, error)

	OpenAccount(ctx context.Context, a Account) error
	Balance(ctx context.Context, player, currency string) (int64, error)
	SetBalance(ctx context.Context, a Account) error
	// Adjust adds delta to the balance unless the result would fall below floor.
	Adjust(ctx context.Context, player, currency string, delta, floor int64) (int64, error)
	// Transfer moves amount from one player to another unless the sender's
	// result would fall below floor. Returns both resulting balances.
	Transfer(ctx context.Context, from, to, currency string, amount, floor int64) (int64, int64, error)
}

// Service applies validation and the debt limit on top of a Store.
type Service struct {
	store     Store
	debtLimit int64
}

// NewService creates a Service.
//
// Precondition: store must be non-nil.
func NewService(store Store, debtLimit int64) *Service {
	return &Service{store: store, debtLimit: debtLimit}
}

// DebtLimit returns the lowest balance a withdrawal or transfer may leave.
func (s *Service) DebtLimit() int64 {
	return s.debtLimit
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func requireNames(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return invalid("%s must not be empty", pairs[i])
		}
	}
	return nil
}

// CreateCurrency registers a new currency.
func (s *Service) CreateCurrency(ctx context.Context, c Currency) error {
	if err := requireNames("name", c.Name, "key", c.Key); err != nil {
		return err
	}
	return s.store.CreateCurrency(ctx, c)
}

// EnsureCurrency creates c unless a currency of that name already exists.
// An existing currency keeps its own key.
//
// Postcondition: Returns true when the currency was created by this call.
func (s *Service) EnsureCurrency(ctx context.Context, c Currency) (bool, error) {
	err := s.CreateCurrency(ctx, c)
	if errors.Is(err, ErrCurrencyExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteCurrency removes a currency and every balance held in it.
func (s *Service) DeleteCurrency(ctx context.Context, c Currency) error {
	if err := requireNames("name", c.Name, "key", c.Key); err != nil {
		return err
	}
	return s.store.DeleteCurrency(ctx, c)
}

// RenameCurrency renames a currency, carrying its balances over.
func (s *Service) RenameCurrency(ctx context.Context, c Currency, newName string) error {
	if err := requireNames("name", c.Name, "key", c.Key, "new name", newName); err != nil {
		return err
	}
	if c.Name == newName {
		return nil
	}
	return s.store.RenameCurrency(ctx, c, newName)
}

// CurrencyExists reports whether name is a registered currency.
func (s *Service) CurrencyExists(ctx context.Context, name string) (bool, error) {
	if err := requireNames("name", name); err != nil {
		return false, err
	}
	return s.store.CurrencyExists(ctx, name)
}

// ListCurrencies returns every currency name, sorted.
func (s *Service) ListCurrencies(ctx context.Context) ([]string, error) {
	return s.store.ListCurrencies(ctx)
}

// OpenAccount creates a player's balance in a currency.
func (s *Service) OpenAccount(ctx context.Context, a Account) error {
	if err := requireNames("player", a.Player, "currency", a.Currency); err != nil {
		return err
	}
	if a.Balance < s.debtLimit {
		return invalid("opening balance %d is below the debt limit %d", a.Balance, s.debtLimit)
	}
	return s.store.OpenAccount(ctx, a)
}

// Balance returns a player's balance in a currency.
func (s *Service) Balance(ctx context.Context, player, currency string) (int64, error) {
	if err := requireNames("player", player, "currency", currency); err != nil {
		return 0, err
	}
	return s.store.Balance(ctx, player, currency)
}

// SetBalance overwrites a player's balance.
func (s *Service) SetBalance(ctx context.Context, a Account) error {
	if err := requireNames("player", a.Player, "currency", a.Currency); err != nil {
		return err
	}
	if a.Balance < s.debtLimit {
		return invalid("balance %d is below the debt limit %d", a.Balance, s.debtLimit)
	}
	return s.store.SetBalance(ctx, a)
}

// Deposit adds a positive amount and returns the new balance.
func (s *Service) Deposit(ctx context.Context, player, currency string, amount int64) (int64, error) {
	if err := requireNames("player", player, "currency", currency); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, invalid("amount must be positive, got %d", amount)
	}
	return s.store.Adjust(ctx, player, currency, amount, NoFloor)
}

// Withdraw subtracts a positive amount and returns the new balance. It fails
// with ErrInsufficientFunds if the balance would fall below the debt limit.
func (s *Service) Withdraw(ctx context.Context, player, currency string, amount int64) (int64, error) {
	if err := requireNames("player", player, "currency", currency); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, invalid("amount must be positive, got %d", amount)
	}
	return s.store.Adjust(ctx, player, currency, -amount, s.debtLimit)
}

// Transfer moves a positive amount between two distinct players atomically.
func (s *Service) Transfer(ctx context.Context, from, to, currency string, amount int64) (int64, int64, error) {
	if err := requireNames("from", from, "to", to, "currency", currency); err != nil {
		return 0, 0, err
	}
	if from == to {
		return 0, 0, invalid("cannot transfer to the same player")
	}
	if amount <= 0 {
		return 0, 0, invalid("amount must be positive, got %d", amount)
	}
	return s.store.Transfer(ctx, from, to, currency, amount, s.debtLimit)
}
