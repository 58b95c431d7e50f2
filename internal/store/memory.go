package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/merchantops/internal/domain"
)

// Memory is an in-process store with the same consistency guarantees as
// Store: WithinTx serialises work per external id and undoes every change
// made through the scope when it fails.
type Memory struct {
	mu       sync.Mutex
	nextTxID int64
	nextAcc  int64
	txs      map[string]*domain.Transaction
	accounts map[int64]*domain.Account

	locksMu sync.Mutex
	locks   map[string]*idLock
}

// idLock is held by one WithinTx scope at a time. refs counts the holder and
// waiters so the entry can be dropped once nobody needs it.
type idLock struct {
	mu   sync.Mutex
	refs int
}

func NewMemory() *Memory {
	return &Memory{
		txs:      make(map[string]*domain.Transaction),
		accounts: make(map[int64]*domain.Account),
		locks:    make(map[string]*idLock),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

// CreateAccount adds an account with the given opening balance.
func (m *Memory) CreateAccount(_ context.Context, balance int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAcc++
	id := m.nextAcc
	m.accounts[id] = &domain.Account{ID: id, Balance: balance, CreatedAt: time.Now()}
	return id, nil
}

func (m *Memory) GetAccount(_ context.Context, id int64) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	c := *a
	return &c, nil
}

func (m *Memory) Exists(_ context.Context, accountID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.accounts[accountID]
	return ok, nil
}

func (m *Memory) Find(_ context.Context, externalID string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(externalID)
}

func (m *Memory) Insert(_ context.Context, t *domain.Transaction) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(t)
}

func (m *Memory) ListCreatedBetween(_ context.Context, from, to int64) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, t := range m.txs {
		if t.CreateTime >= from && t.CreateTime <= to {
			out = append(out, copyTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreateTime != out[j].CreateTime {
			return out[i].CreateTime < out[j].CreateTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) WithinTx(ctx context.Context, externalID string, fn func(ctx context.Context, tx domain.Tx) error) error {
	l := m.acquire(externalID)
	defer m.release(externalID, l)

	tx := &memTx{m: m}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (m *Memory) acquire(externalID string) *idLock {
	m.locksMu.Lock()
	l, ok := m.locks[externalID]
	if !ok {
		l = &idLock{}
		m.locks[externalID] = l
	}
	l.refs++
	m.locksMu.Unlock()

	l.mu.Lock()
	return l
}

func (m *Memory) release(externalID string, l *idLock) {
	l.mu.Unlock()

	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, externalID)
	}
}

func (m *Memory) findLocked(externalID string) (*domain.Transaction, error) {
	t, ok := m.txs[externalID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := copyTransaction(t)
	return &c, nil
}

func (m *Memory) insertLocked(t *domain.Transaction) (int64, error) {
	if _, ok := m.txs[t.ExternalID]; ok {
		return 0, domain.ErrDuplicate
	}
	m.nextTxID++
	t.ID = m.nextTxID
	c := copyTransaction(t)
	m.txs[t.ExternalID] = &c
	return t.ID, nil
}

// memTx applies changes immediately and keeps undo steps for rollback.
// Balance undos are deltas so concurrent scopes on other ids stay correct.
type memTx struct {
	m    *Memory
	undo []func()
}

func (t *memTx) rollback() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) Find(_ context.Context, externalID string) (*domain.Transaction, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.m.findLocked(externalID)
}

func (t *memTx) Insert(_ context.Context, tr *domain.Transaction) (int64, error) {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	id, err := t.m.insertLocked(tr)
	if err != nil {
		return 0, err
	}
	key := tr.ExternalID
	t.undo = append(t.undo, func() { delete(t.m.txs, key) })
	return id, nil
}

func (t *memTx) Update(_ context.Context, externalID string, expected domain.State, p domain.Patch) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	cur, ok := t.m.txs[externalID]
	if !ok || cur.State != expected {
		return domain.ErrStateChanged
	}
	prev := copyTransaction(cur)
	p.Apply(cur)
	t.undo = append(t.undo, func() { *t.m.txs[externalID] = prev })
	return nil
}

func (t *memTx) Credit(_ context.Context, accountID, amount int64) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	a, ok := t.m.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	a.Balance += amount
	t.undo = append(t.undo, func() { a.Balance -= amount })
	return nil
}

func (t *memTx) Debit(_ context.Context, accountID, amount int64) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	a, ok := t.m.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if a.Balance < amount {
		return domain.ErrInsufficientFunds
	}
	a.Balance -= amount
	t.undo = append(t.undo, func() { a.Balance += amount })
	return nil
}

func copyTransaction(t *domain.Transaction) domain.Transaction {
	c := *t
	if t.Reason != nil {
		r := *t.Reason
		c.Reason = &r
	}
	return c
}
