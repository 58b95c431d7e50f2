package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/merchantops/internal/domain"
	"go.uber.org/zap"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merchant_transitions_total",
		Help: "Transaction state transitions, labeled by source and target state",
	}, []string{"from", "to"})

	ledgerMovementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "merchant_ledger_movements_total",
		Help: "Balance mutations issued to the ledger",
	}, []string{"direction"})
)

// Store is everything the merchant service needs from persistence.
type Store interface {
	domain.AccountResolver

	Find(ctx context.Context, externalID string) (*domain.Transaction, error)
	Insert(ctx context.Context, t *domain.Transaction) (int64, error)
	ListCreatedBetween(ctx context.Context, from, to int64) ([]domain.Transaction, error)

	// WithinTx runs fn under a mutual-exclusion scope for externalID. The
	// scope commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, externalID string, fn func(ctx context.Context, tx domain.Tx) error) error
}

// Config holds the merchant's business rules.
type Config struct {
	// Accounts lists the sub-fields required under params.account.
	Accounts []string
	// UserKey is the account sub-field that carries the owner account id.
	UserKey            string
	MinSum             int64
	MaxSum             int64
	Timeout            time.Duration
	CanCancelCompleted bool
}

// MerchantService is the transaction state machine.
type MerchantService struct {
	cfg   Config
	store Store
	log   *zap.Logger
	now   func() time.Time
}

type Option func(*MerchantService)

// WithClock overrides the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *MerchantService) { s.now = now }
}

func NewMerchantService(cfg Config, store Store, log *zap.Logger, opts ...Option) *MerchantService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &MerchantService{cfg: cfg, store: store, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch routes a provider method name onto its operation.
func (s *MerchantService) Dispatch(ctx context.Context, method string, p Params) (interface{}, error) {
	switch method {
	case "CheckPerformTransaction":
		return s.CheckPerformTransaction(ctx, p)
	case "CreateTransaction":
		return s.CreateTransaction(ctx, p)
	case "PerformTransaction":
		return s.PerformTransaction(ctx, p)
	case "CheckTransaction":
		return s.CheckTransaction(ctx, p)
	case "CancelTransaction":
		return s.CancelTransaction(ctx, p)
	case "GetStatement":
		return s.GetStatement(ctx, p)
	default:
		return nil, ErrMethodNotFound.WithData(method)
	}
}

func (s *MerchantService) nowMillis() int64 {
	return s.now().UnixMilli()
}

func (s *MerchantService) checkAmount(amount int64) error {
	if amount < s.cfg.MinSum || amount > s.cfg.MaxSum {
		return ErrInvalidAmount.WithData("amount")
	}
	return nil
}

// resolveOwner maps params.account[UserKey] onto an existing account id.
func (s *MerchantService) resolveOwner(ctx context.Context, p Params) (int64, error) {
	raw, ok := p.AccountField(s.cfg.UserKey)
	if !ok {
		return 0, ErrAccountNotFound.WithData(s.cfg.UserKey)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrAccountNotFound.WithData(s.cfg.UserKey)
	}
	exists, err := s.store.Exists(ctx, id)
	if err != nil {
		s.log.Error("account lookup failed", zap.Int64("account_id", id), zap.Error(err))
		return 0, ErrSystem
	}
	if !exists {
		return 0, ErrAccountNotFound.WithData(s.cfg.UserKey)
	}
	return id, nil
}

func (s *MerchantService) recordTransition(externalID string, from, to domain.State) {
	transitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	s.log.Info("transaction state changed",
		zap.String("external_id", externalID),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
}

func isLedgerRefusal(err error) bool {
	return errors.Is(err, domain.ErrInsufficientFunds) || errors.Is(err, domain.ErrAccountNotFound)
}
