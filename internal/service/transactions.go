package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/punchamoorthee/merchantops/internal/domain"
	"go.uber.org/zap"
)

type CheckPerformResult struct {
	Allow bool `json:"allow"`
}

type CreateResult struct {
	CreateTime  int64        `json:"create_time"`
	Transaction string       `json:"transaction"`
	State       domain.State `json:"state"`
}

type PerformResult struct {
	Transaction string       `json:"transaction"`
	PerformTime int64        `json:"perform_time"`
	State       domain.State `json:"state"`
}

type CheckResult struct {
	CreateTime  int64          `json:"create_time"`
	PerformTime int64          `json:"perform_time"`
	CancelTime  int64          `json:"cancel_time"`
	Transaction string         `json:"transaction"`
	State       domain.State   `json:"state"`
	Reason      *domain.Reason `json:"reason"`
}

type CancelResult struct {
	Transaction string       `json:"transaction"`
	CancelTime  int64        `json:"cancel_time"`
	State       domain.State `json:"state"`
}

type StatementEntry struct {
	ID          string            `json:"id"`
	Time        int64             `json:"time"`
	Amount      int64             `json:"amount"`
	Account     map[string]string `json:"account"`
	CreateTime  int64             `json:"create_time"`
	PerformTime int64             `json:"perform_time"`
	CancelTime  int64             `json:"cancel_time"`
	Transaction string            `json:"transaction"`
	State       domain.State      `json:"state"`
	Reason      *domain.Reason    `json:"reason"`
}

type StatementResult struct {
	Transactions []StatementEntry `json:"transactions"`
}

func internalID(t *domain.Transaction) string {
	return strconv.FormatInt(t.ID, 10)
}

// CheckPerformTransaction probes whether a payment could be accepted. It
// never writes.
func (s *MerchantService) CheckPerformTransaction(ctx context.Context, p Params) (*CheckPerformResult, error) {
	if !p.HasAccount(s.cfg.Accounts) || !p.Has("amount") {
		return nil, ErrMalformedRequest
	}
	amount, err := p.Int64("amount")
	if err != nil {
		return nil, ErrMalformedRequest.WithData("amount")
	}

	if _, err := s.resolveOwner(ctx, p); err != nil {
		return nil, err
	}
	if err := s.checkAmount(amount); err != nil {
		return nil, err
	}

	return &CheckPerformResult{Allow: true}, nil
}

// CreateTransaction registers a pending transaction. Repeating the call with
// the same id replays the stored record.
func (s *MerchantService) CreateTransaction(ctx context.Context, p Params) (*CreateResult, error) {
	if !p.HasAccount(s.cfg.Accounts) || !p.Has("amount", "time", "id") {
		return nil, ErrMalformedRequest
	}
	amount, err := p.Int64("amount")
	if err != nil {
		return nil, ErrMalformedRequest.WithData("amount")
	}
	requestTime, err := p.Int64("time")
	if err != nil {
		return nil, ErrMalformedRequest.WithData("time")
	}
	externalID, err := p.String("id")
	if err != nil {
		return nil, ErrMalformedRequest.WithData("id")
	}

	if err := s.checkAmount(amount); err != nil {
		return nil, err
	}
	owner, err := s.resolveOwner(ctx, p)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.Find(ctx, externalID)
	if err == nil {
		return replayCreate(existing)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.log.Error("transaction lookup failed", zap.String("external_id", externalID), zap.Error(err))
		return nil, ErrSystem
	}

	t := &domain.Transaction{
		ExternalID:  externalID,
		OwnerID:     owner,
		Amount:      amount,
		State:       domain.StatePending,
		RequestTime: requestTime,
		CreateTime:  s.nowMillis(),
	}
	if _, err := s.store.Insert(ctx, t); err != nil {
		// A concurrent create for the same id won the insert.
		if errors.Is(err, domain.ErrDuplicate) {
			if existing, ferr := s.store.Find(ctx, externalID); ferr == nil {
				return replayCreate(existing)
			}
		}
		s.log.Error("transaction insert failed", zap.String("external_id", externalID), zap.Error(err))
		return nil, ErrSystem
	}

	stored, err := s.store.Find(ctx, externalID)
	if err != nil {
		s.log.Error("created transaction unreadable", zap.String("external_id", externalID), zap.Error(err))
		return nil, ErrSystem
	}
	s.log.Info("transaction created",
		zap.String("external_id", externalID),
		zap.Int64("owner_id", owner),
		zap.Int64("amount", amount),
	)

	return &CreateResult{CreateTime: stored.CreateTime, Transaction: internalID(stored), State: stored.State}, nil
}

func replayCreate(t *domain.Transaction) (*CreateResult, error) {
	if t.State != domain.StatePending {
		return nil, ErrCannotPerformTransaction
	}
	return &CreateResult{CreateTime: t.CreateTime, Transaction: internalID(t), State: t.State}, nil
}

// PerformTransaction credits the owner and completes the transaction, at
// most once per transaction.
func (s *MerchantService) PerformTransaction(ctx context.Context, p Params) (*PerformResult, error) {
	if !p.Has("id") {
		return nil, ErrMalformedRequest
	}
	externalID, err := p.String("id")
	if err != nil {
		return nil, ErrMalformedRequest.WithData("id")
	}

	var (
		res      *PerformResult
		timedOut bool
	)
	err = s.store.WithinTx(ctx, externalID, func(ctx context.Context, tx domain.Tx) error {
		t, err := tx.Find(ctx, externalID)
		if errors.Is(err, domain.ErrNotFound) {
			return ErrTransactionNotFound
		}
		if err != nil {
			return err
		}

		if t.State != domain.StatePending {
			if t.State == domain.StateCompleted {
				res = &PerformResult{Transaction: internalID(t), PerformTime: t.PerformTime, State: t.State}
				return nil
			}
			return ErrCannotPerformTransaction
		}

		now := s.nowMillis()
		if now > t.CreateTime+s.cfg.Timeout.Milliseconds() {
			reason := domain.ReasonTimeout
			patch := domain.Patch{State: domain.StateCancelledPending, CancelTime: now, Reason: &reason}
			if err := tx.Update(ctx, externalID, domain.StatePending, patch); err != nil {
				return err
			}
			s.recordTransition(externalID, domain.StatePending, domain.StateCancelledPending)
			// Commit the cancellation; the caller still gets an error.
			timedOut = true
			return nil
		}

		if err := tx.Credit(ctx, t.OwnerID, t.Amount); err != nil {
			return err
		}
		if err := tx.Update(ctx, externalID, domain.StatePending, domain.Patch{State: domain.StateCompleted, PerformTime: now}); err != nil {
			return err
		}
		ledgerMovementsTotal.WithLabelValues("credit").Inc()
		s.recordTransition(externalID, domain.StatePending, domain.StateCompleted)

		res = &PerformResult{Transaction: internalID(t), PerformTime: now, State: domain.StateCompleted}
		return nil
	})
	if err != nil {
		return nil, s.failure("perform", externalID, err, ErrCannotPerformTransaction)
	}
	if timedOut {
		return nil, ErrTransactionTimeout
	}
	return res, nil
}

// CheckTransaction returns the stored snapshot verbatim.
func (s *MerchantService) CheckTransaction(ctx context.Context, p Params) (*CheckResult, error) {
	if !p.Has("id") {
		return nil, ErrMalformedRequest
	}
	externalID, err := p.String("id")
	if err != nil {
		return nil, ErrMalformedRequest.WithData("id")
	}

	t, err := s.store.Find(ctx, externalID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		s.log.Error("transaction lookup failed", zap.String("external_id", externalID), zap.Error(err))
		return nil, ErrSystem
	}

	return &CheckResult{
		CreateTime:  t.CreateTime,
		PerformTime: t.PerformTime,
		CancelTime:  t.CancelTime,
		Transaction: internalID(t),
		State:       t.State,
		Reason:      t.Reason,
	}, nil
}

// CancelTransaction reverses a transaction. A pending one is closed without
// moving funds; a completed one is debited back first.
func (s *MerchantService) CancelTransaction(ctx context.Context, p Params) (*CancelResult, error) {
	if !p.Has("id", "reason") {
		return nil, ErrMalformedRequest
	}
	externalID, err := p.String("id")
	if err != nil {
		return nil, ErrMalformedRequest.WithData("id")
	}
	code, err := p.Int64("reason")
	if err != nil {
		return nil, ErrMalformedRequest.WithData("reason")
	}
	reason := domain.Reason(code)
	if code != int64(reason) || !reason.Valid() {
		return nil, ErrMalformedRequest.WithData("reason")
	}

	var res *CancelResult
	err = s.store.WithinTx(ctx, externalID, func(ctx context.Context, tx domain.Tx) error {
		t, err := tx.Find(ctx, externalID)
		if errors.Is(err, domain.ErrNotFound) {
			return ErrTransactionNotFound
		}
		if err != nil {
			return err
		}

		now := s.nowMillis()
		switch t.State {
		case domain.StatePending:
			patch := domain.Patch{State: domain.StateCancelledPending, CancelTime: now, Reason: &reason}
			if err := tx.Update(ctx, externalID, domain.StatePending, patch); err != nil {
				return err
			}
			s.recordTransition(externalID, domain.StatePending, domain.StateCancelledPending)
			res = &CancelResult{Transaction: internalID(t), CancelTime: now, State: domain.StateCancelledPending}
			return nil

		case domain.StateCompleted:
			if !s.cfg.CanCancelCompleted {
				return ErrCannotCancelTransaction
			}
			if err := tx.Debit(ctx, t.OwnerID, t.Amount); err != nil {
				return err
			}
			patch := domain.Patch{State: domain.StateCancelledCompleted, CancelTime: now, Reason: &reason}
			if err := tx.Update(ctx, externalID, domain.StateCompleted, patch); err != nil {
				return err
			}
			ledgerMovementsTotal.WithLabelValues("debit").Inc()
			s.recordTransition(externalID, domain.StateCompleted, domain.StateCancelledCompleted)
			res = &CancelResult{Transaction: internalID(t), CancelTime: now, State: domain.StateCancelledCompleted}
			return nil

		default:
			res = &CancelResult{Transaction: internalID(t), CancelTime: t.CancelTime, State: t.State}
			return nil
		}
	})
	if err != nil {
		return nil, s.failure("cancel", externalID, err, ErrCannotCancelTransaction)
	}
	return res, nil
}

// GetStatement lists transactions created within [from, to].
func (s *MerchantService) GetStatement(ctx context.Context, p Params) (*StatementResult, error) {
	if !p.Has("from", "to") {
		return nil, ErrMalformedRequest
	}
	from, err := p.Int64("from")
	if err != nil {
		return nil, ErrMalformedRequest.WithData("from")
	}
	to, err := p.Int64("to")
	if err != nil {
		return nil, ErrMalformedRequest.WithData("to")
	}

	out := &StatementResult{Transactions: []StatementEntry{}}
	if from > to {
		return out, nil
	}

	list, err := s.store.ListCreatedBetween(ctx, from, to)
	if err != nil {
		s.log.Error("statement query failed", zap.Int64("from", from), zap.Int64("to", to), zap.Error(err))
		return nil, ErrSystem
	}
	for i := range list {
		t := &list[i]
		out.Transactions = append(out.Transactions, StatementEntry{
			ID:          t.ExternalID,
			Time:        t.RequestTime,
			Amount:      t.Amount,
			Account:     map[string]string{s.cfg.UserKey: strconv.FormatInt(t.OwnerID, 10)},
			CreateTime:  t.CreateTime,
			PerformTime: t.PerformTime,
			CancelTime:  t.CancelTime,
			Transaction: internalID(t),
			State:       t.State,
			Reason:      t.Reason,
		})
	}
	return out, nil
}

// failure converts an error escaping a tx scope into a typed error. Business
// errors pass through; anything else is logged and mapped to fallback.
func (s *MerchantService) failure(op, externalID string, err error, fallback *Error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	fields := []zap.Field{zap.String("op", op), zap.String("external_id", externalID), zap.Error(err)}
	if isLedgerRefusal(err) {
		s.log.Warn("ledger refused mutation", fields...)
	} else {
		s.log.Error("transaction scope failed", fields...)
	}
	return fallback
}
