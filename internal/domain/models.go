package domain

import (
	"time"
)

// State is the lifecycle position of a provider transaction.
type State int

const (
	StatePending            State = 1
	StateCompleted          State = 2
	StateCancelledPending   State = -1
	StateCancelledCompleted State = -2
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateCancelledPending:
		return "cancelled_pending"
	case StateCancelledCompleted:
		return "cancelled_completed"
	default:
		return "unknown"
	}
}

// IsCancelled reports whether s is one of the two terminal cancellation states.
func (s State) IsCancelled() bool {
	return s == StateCancelledPending || s == StateCancelledCompleted
}

// Reason is the provider's cancellation code.
type Reason int

const (
	ReasonReceiverNotFound Reason = 1
	ReasonDebitFailed      Reason = 2
	ReasonExecutionFailed  Reason = 3
	ReasonTimeout          Reason = 4
	ReasonRefund           Reason = 5
	ReasonUnknown          Reason = 10
)

// Valid reports whether r is one of the provider's cancellation codes.
func (r Reason) Valid() bool {
	switch r {
	case ReasonReceiverNotFound, ReasonDebitFailed, ReasonExecutionFailed,
		ReasonTimeout, ReasonRefund, ReasonUnknown:
		return true
	}
	return false
}

// Account represents a merchant user's balance.
type Account struct {
	ID        int64     `json:"id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// Transaction is the merchant-side record of one provider transaction.
// Times are millisecond epochs; zero means the transition has not happened.
type Transaction struct {
	ID          int64   `json:"id"`
	ExternalID  string  `json:"external_id"`
	OwnerID     int64   `json:"owner_id"`
	Amount      int64   `json:"amount"`
	State       State   `json:"state"`
	RequestTime int64   `json:"request_time"`
	CreateTime  int64   `json:"create_time"`
	PerformTime int64   `json:"perform_time"`
	CancelTime  int64   `json:"cancel_time"`
	Reason      *Reason `json:"reason"`
}

// Patch is a partial update applied to a Transaction. Zero time fields and a
// nil Reason leave the stored values untouched.
type Patch struct {
	State       State
	PerformTime int64
	CancelTime  int64
	Reason      *Reason
}

// Apply writes the non-zero fields of p onto t.
func (p Patch) Apply(t *Transaction) {
	t.State = p.State
	if p.PerformTime != 0 {
		t.PerformTime = p.PerformTime
	}
	if p.CancelTime != 0 {
		t.CancelTime = p.CancelTime
	}
	if p.Reason != nil {
		r := *p.Reason
		t.Reason = &r
	}
}
