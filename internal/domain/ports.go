package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("transaction not found")
	ErrDuplicate         = errors.New("transaction already exists")
	ErrStateChanged      = errors.New("transaction state changed concurrently")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// TransactionRepository stores provider transactions keyed by external id.
type TransactionRepository interface {
	// Find returns ErrNotFound when no record carries externalID.
	Find(ctx context.Context, externalID string) (*Transaction, error)
	// Insert returns the internal id, or ErrDuplicate if externalID is taken.
	Insert(ctx context.Context, t *Transaction) (int64, error)
	// Update applies p only while the stored state still equals expected,
	// returning ErrStateChanged otherwise.
	Update(ctx context.Context, externalID string, expected State, p Patch) error
}

// Ledger moves funds on a single balance field per account. Both calls are
// atomic read-modify-write operations.
type Ledger interface {
	Credit(ctx context.Context, accountID, amount int64) error
	// Debit returns ErrInsufficientFunds without touching the balance when
	// the account cannot cover amount.
	Debit(ctx context.Context, accountID, amount int64) error
}

// AccountResolver answers whether an owner account exists.
type AccountResolver interface {
	Exists(ctx context.Context, accountID int64) (bool, error)
}

// Tx is the unit of work handed out by a store's per-transaction scope.
// Everything done through it commits or rolls back together.
type Tx interface {
	TransactionRepository
	Ledger
}
