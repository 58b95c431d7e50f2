package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/merchantops/internal/domain"
)

const transactionColumns = `id, external_id, owner_id, amount, state, request_time, create_time, perform_time, cancel_time, reason`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Db.Ping(ctx)
}

// Exists reports whether the account row is present.
func (s *Store) Exists(ctx context.Context, accountID int64) (bool, error) {
	var exists bool
	err := s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", accountID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("account lookup failed: %w", err)
	}
	return exists, nil
}

// GetAccount retrieves a single account by ID.
func (s *Store) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	var a domain.Account
	err := s.Db.QueryRow(ctx, "SELECT id, balance, created_at FROM accounts WHERE id = $1", id).
		Scan(&a.ID, &a.Balance, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount creates a new account with the given opening balance.
func (s *Store) CreateAccount(ctx context.Context, balance int64) (int64, error) {
	var id int64
	err := s.Db.QueryRow(ctx, "INSERT INTO accounts (balance) VALUES ($1) RETURNING id", balance).Scan(&id)
	return id, err
}

func (s *Store) Find(ctx context.Context, externalID string) (*domain.Transaction, error) {
	return findTransaction(ctx, s.Db, externalID, false)
}

func (s *Store) Insert(ctx context.Context, t *domain.Transaction) (int64, error) {
	return insertTransaction(ctx, s.Db, t)
}

// ListCreatedBetween returns transactions by creation time, oldest first.
func (s *Store) ListCreatedBetween(ctx context.Context, from, to int64) ([]domain.Transaction, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+transactionColumns+" FROM payme_transactions WHERE create_time BETWEEN $1 AND $2 ORDER BY create_time, id",
		from, to)
	if err != nil {
		return nil, fmt.Errorf("statement query failed: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// WithinTx opens a database transaction and row-locks the record for
// externalID (if it exists) on the first Find made through tx.
func (s *Store) WithinTx(ctx context.Context, externalID string, fn func(ctx context.Context, tx domain.Tx) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// pgTx implements domain.Tx on top of a live pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Find(ctx context.Context, externalID string) (*domain.Transaction, error) {
	return findTransaction(ctx, t.tx, externalID, true)
}

func (t *pgTx) Insert(ctx context.Context, tr *domain.Transaction) (int64, error) {
	return insertTransaction(ctx, t.tx, tr)
}

func (t *pgTx) Update(ctx context.Context, externalID string, expected domain.State, p domain.Patch) error {
	var reason *int16
	if p.Reason != nil {
		if *p.Reason < math.MinInt16 || *p.Reason > math.MaxInt16 {
			return fmt.Errorf("reason %d does not fit the reason column", *p.Reason)
		}
		r := int16(*p.Reason)
		reason = &r
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE payme_transactions
		 SET state = $1,
		     perform_time = COALESCE($2, perform_time),
		     cancel_time = COALESCE($3, cancel_time),
		     reason = COALESCE($4, reason)
		 WHERE external_id = $5 AND state = $6`,
		int16(p.State), nullableMillis(p.PerformTime), nullableMillis(p.CancelTime), reason,
		externalID, int16(expected),
	)
	if err != nil {
		return fmt.Errorf("transaction update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStateChanged
	}
	return nil
}

func (t *pgTx) Credit(ctx context.Context, accountID, amount int64) error {
	tag, err := t.tx.Exec(ctx, "UPDATE accounts SET balance = balance + $1 WHERE id = $2", amount, accountID)
	if err != nil {
		return fmt.Errorf("credit failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (t *pgTx) Debit(ctx context.Context, accountID, amount int64) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE accounts SET balance = balance - $1 WHERE id = $2 AND balance >= $1",
		amount, accountID)
	if err != nil {
		return fmt.Errorf("debit failed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := t.tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)", accountID).Scan(&exists); err != nil {
		return fmt.Errorf("debit failed: %w", err)
	}
	if !exists {
		return domain.ErrAccountNotFound
	}
	return domain.ErrInsufficientFunds
}

func findTransaction(ctx context.Context, q querier, externalID string, lock bool) (*domain.Transaction, error) {
	sql := "SELECT " + transactionColumns + " FROM payme_transactions WHERE external_id = $1"
	if lock {
		sql += " FOR UPDATE"
	}
	rows, err := q.Query(ctx, sql, externalID)
	if err != nil {
		return nil, fmt.Errorf("transaction lookup failed: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("transaction lookup failed: %w", err)
		}
		return nil, domain.ErrNotFound
	}
	return scanTransaction(rows)
}

func insertTransaction(ctx context.Context, q querier, t *domain.Transaction) (int64, error) {
	var id int64
	err := q.QueryRow(ctx,
		`INSERT INTO payme_transactions (external_id, owner_id, amount, state, request_time, create_time)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		t.ExternalID, t.OwnerID, t.Amount, int16(t.State), t.RequestTime, t.CreateTime,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, domain.ErrDuplicate
		}
		return 0, fmt.Errorf("transaction insert failed: %w", err)
	}
	t.ID = id
	return id, nil
}

// scanTransaction normalises nullable columns: absent times become 0, an
// absent reason stays nil.
func scanTransaction(rows pgx.Rows) (*domain.Transaction, error) {
	var (
		t           domain.Transaction
		state       int16
		performTime *int64
		cancelTime  *int64
		reason      *int16
	)
	if err := rows.Scan(&t.ID, &t.ExternalID, &t.OwnerID, &t.Amount, &state,
		&t.RequestTime, &t.CreateTime, &performTime, &cancelTime, &reason); err != nil {
		return nil, fmt.Errorf("transaction scan failed: %w", err)
	}
	t.State = domain.State(state)
	if performTime != nil {
		t.PerformTime = *performTime
	}
	if cancelTime != nil {
		t.CancelTime = *cancelTime
	}
	if reason != nil {
		r := domain.Reason(*reason)
		t.Reason = &r
	}
	return &t, nil
}

func nullableMillis(ms int64) *int64 {
	if ms == 0 {
		return nil
	}
	return &ms
}
