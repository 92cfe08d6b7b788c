package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type accountKey struct {
	player   string
	currency string
}

// MemoryStore is a process-local Store. Balances do not survive a restart.
type MemoryStore struct {
	mu         sync.Mutex
	currencies map[string]string // name -> key
	balances   map[accountKey]int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		currencies: make(map[string]string),
		balances:   make(map[accountKey]int64),
	}
}

// checkKey reports ErrCurrencyNotFound or ErrKeyMismatch. Caller holds mu.
func (m *MemoryStore) checkKey(c Currency) error {
	key, ok := m.currencies[c.Name]
	if !ok {
		return fmt.Errorf("currency %q: %w", c.Name, ErrCurrencyNotFound)
	}
	if key != c.Key {
		return fmt.Errorf("currency %q: %w", c.Name, ErrKeyMismatch)
	}
	return nil
}

func (m *MemoryStore) CreateCurrency(_ context.Context, c Currency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.currencies[c.Name]; ok {
		return fmt.Errorf("currency %q: %w", c.Name, ErrCurrencyExists)
	}
	m.currencies[c.Name] = c.Key
	return nil
}

func (m *MemoryStore) DeleteCurrency(_ context.Context, c Currency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkKey(c); err != nil {
		return err
	}
	delete(m.currencies, c.Name)
	for k := range m.balances {
		if k.currency == c.Name {
			delete(m.balances, k)
		}
	}
	return nil
}

func (m *MemoryStore) RenameCurrency(_ context.Context, c Currency, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkKey(c); err != nil {
		return err
	}
	if _, ok := m.currencies[newName]; ok {
		return fmt.Errorf("currency %q: %w", newName, ErrCurrencyExists)
	}
	m.currencies[newName] = m.currencies[c.Name]
	delete(m.currencies, c.Name)
	for k, v := range m.balances {
		if k.currency == c.Name {
			delete(m.balances, k)
			m.balances[accountKey{player: k.player, currency: newName}] = v
		}
	}
	return nil
}

func (m *MemoryStore) CurrencyExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.currencies[name]
	return ok, nil
}

func (m *MemoryStore) ListCurrencies(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.currencies))
	for name := range m.currencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStore) OpenAccount(_ context.Context, a Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.currencies[a.Currency]; !ok {
		return fmt.Errorf("currency %q: %w", a.Currency, ErrCurrencyNotFound)
	}
	k := accountKey{player: a.Player, currency: a.Currency}
	if _, ok := m.balances[k]; ok {
		return fmt.Errorf("%s/%s: %w", a.Player, a.Currency, ErrAccountExists)
	}
	m.balances[k] = a.Balance
	return nil
}

// lookup returns the balance for an existing account. Caller holds mu.
func (m *MemoryStore) lookup(player, currency string) (int64, error) {
	bal, ok := m.balances[accountKey{player: player, currency: currency}]
	if !ok {
		return 0, fmt.Errorf("%s/%s: %w", player, currency, ErrAccountNotFound)
	}
	return bal, nil
}

func (m *MemoryStore) Balance(_ context.Context, player, currency string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookup(player, currency)
}

func (m *MemoryStore) SetBalance(_ context.Context, a Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(a.Player, a.Currency); err != nil {
		return err
	}
	m.balances[accountKey{player: a.Player, currency: a.Currency}] = a.Balance
	return nil
}

func (m *MemoryStore) Adjust(_ context.Context, player, currency string, delta, floor int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, err := m.lookup(player, currency)
	if err != nil {
		return 0, err
	}
	next, err := ApplyDelta(bal, delta, floor)
	if err != nil {
		return bal, fmt.Errorf("%s/%s: %w", player, currency, err)
	}
	m.balances[accountKey{player: player, currency: currency}] = next
	return next, nil
}

func (m *MemoryStore) Transfer(_ context.Context, from, to, currency string, amount, floor int64) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fromBal, err := m.lookup(from, currency)
	if err != nil {
		return 0, 0, err
	}
	toBal, err := m.lookup(to, currency)
	if err != nil {
		return 0, 0, err
	}
	nextFrom, err := Debit(fromBal, amount, floor)
	if err != nil {
		return fromBal, toBal, fmt.Errorf("%s/%s: %w", from, currency, err)
	}
	nextTo, err := Credit(toBal, amount)
	if err != nil {
		return fromBal, toBal, fmt.Errorf("%s/%s: %w", to, currency, err)
	}
	fromBal, toBal = nextFrom, nextTo
	m.balances[accountKey{player: from, currency: currency}] = fromBal
	m.balances[accountKey{player: to, currency: currency}] = toBal
	return fromBal, toBal, nil
}
