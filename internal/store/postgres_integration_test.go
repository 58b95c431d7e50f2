//go:build integration

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/merchantops/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// setupStore starts a disposable PostgreSQL container, migrates it and
// returns a connected Store.
func setupStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("merchant"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	st, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	require.NoError(t, st.Migrate(zap.NewNop()))
	// A second run is a no-op.
	require.NoError(t, st.Migrate(zap.NewNop()))
	return st
}

func TestIntegration_Postgres_TransactionRoundTrip(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	owner, err := st.CreateAccount(ctx, 0)
	require.NoError(t, err)

	exists, err := st.Exists(ctx, owner)
	require.NoError(t, err)
	assert.True(t, exists)

	tr := &domain.Transaction{
		ExternalID: "T1", OwnerID: owner, Amount: 5000,
		State: domain.StatePending, RequestTime: 1000, CreateTime: 2000,
	}
	id, err := st.Insert(ctx, tr)
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = st.Insert(ctx, &domain.Transaction{ExternalID: "T1", OwnerID: owner, State: domain.StatePending})
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	got, err := st.Find(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Zero(t, got.PerformTime)
	assert.Zero(t, got.CancelTime)
	assert.Nil(t, got.Reason)

	_, err = st.Find(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := st.ListCreatedBetween(ctx, 0, 3000)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestIntegration_Postgres_WithinTxAtomicity(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	owner, err := st.CreateAccount(ctx, 0)
	require.NoError(t, err)
	_, err = st.Insert(ctx, &domain.Transaction{ExternalID: "T1", OwnerID: owner, Amount: 5000, State: domain.StatePending, CreateTime: 1})
	require.NoError(t, err)

	// Credit then fail the conditional update: both must roll back.
	err = st.WithinTx(ctx, "T1", func(ctx context.Context, tx domain.Tx) error {
		require.NoError(t, tx.Credit(ctx, owner, 5000))
		return tx.Update(ctx, "T1", domain.StateCompleted, domain.Patch{State: domain.StateCancelledCompleted})
	})
	assert.ErrorIs(t, err, domain.ErrStateChanged)

	acc, err := st.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Zero(t, acc.Balance)

	err = st.WithinTx(ctx, "T1", func(ctx context.Context, tx domain.Tx) error {
		return tx.Debit(ctx, owner, 1)
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	wide := domain.Reason(-70003)
	err = st.WithinTx(ctx, "T1", func(ctx context.Context, tx domain.Tx) error {
		return tx.Update(ctx, "T1", domain.StatePending, domain.Patch{State: domain.StateCancelledPending, CancelTime: 5, Reason: &wide})
	})
	assert.ErrorContains(t, err, "reason")

	tr, err := st.Find(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, tr.State)
	assert.Nil(t, tr.Reason)
}

func TestIntegration_Postgres_ConcurrentPerformCreditsOnce(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	owner, err := st.CreateAccount(ctx, 0)
	require.NoError(t, err)
	_, err = st.Insert(ctx, &domain.Transaction{ExternalID: "T1", OwnerID: owner, Amount: 5000, State: domain.StatePending, CreateTime: 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = st.WithinTx(ctx, "T1", func(ctx context.Context, tx domain.Tx) error {
				tr, err := tx.Find(ctx, "T1")
				if err != nil || tr.State != domain.StatePending {
					return err
				}
				if err := tx.Credit(ctx, owner, tr.Amount); err != nil {
					return err
				}
				return tx.Update(ctx, "T1", domain.StatePending, domain.Patch{State: domain.StateCompleted, PerformTime: 2})
			})
		}()
	}
	wg.Wait()

	acc, err := st.GetAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), acc.Balance)

	tr, err := st.Find(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, tr.State)
	assert.Equal(t, int64(2), tr.PerformTime)
}
