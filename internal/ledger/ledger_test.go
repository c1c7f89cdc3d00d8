package ledger

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velora-app/velora/internal/fault"
	"github.com/velora-app/velora/internal/model"
	"github.com/velora-app/velora/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.Store) {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	st, err := store.Open(model.StoreConfig{
		Path:     filepath.Join(t.TempDir(), "ledger_test.db"),
		PoolSize: 8,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, logger), st
}

func seedAccount(t *testing.T, st *store.Store, id string, balance int64) {
	t.Helper()
	require.NoError(t, st.CreateAccount(context.Background(), &model.Account{
		ID:        id,
		Tier:      model.TierBasic,
		Balance:   balance,
		CreatedAt: time.Now().UTC(),
	}))
}

func TestCheckAndDeduct_Success(t *testing.T) {
	l, st := newTestLedger(t)
	seedAccount(t, st, "usr_a", 10)

	newBalance, err := l.CheckAndDeduct(context.Background(), "usr_a", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(7), newBalance)
}

func TestCheckAndDeduct_Insufficient(t *testing.T) {
	l, st := newTestLedger(t)
	seedAccount(t, st, "usr_a", 2)

	_, err := l.CheckAndDeduct(context.Background(), "usr_a", 5)

	var insufficient *fault.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(5), insufficient.Required)
	assert.Equal(t, int64(2), insufficient.Available)

	// Nothing was mutated.
	balance, err := l.Balance(context.Background(), "usr_a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)
}

func TestCheckAndDeduct_UnknownAccount(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.CheckAndDeduct(context.Background(), "usr_missing", 1)

	var notFound *fault.UserNotFoundError
	require.ErrorAs(t, err, &notFound)
}

// 100 concurrent callers each deducting 1 credit from a 50-credit
// account: exactly 50 succeed, 50 fail, final balance is zero and no
// update is lost.
func TestCheckAndDeduct_ConcurrentNoDoubleSpend(t *testing.T) {
	l, st := newTestLedger(t)
	seedAccount(t, st, "usr_hot", 50)

	const callers = 100
	var wg sync.WaitGroup
	results := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.CheckAndDeduct(context.Background(), "usr_hot", 1)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, failed := 0, 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var insufficient *fault.InsufficientCreditsError
		require.ErrorAs(t, err, &insufficient, "unexpected error kind: %v", err)
		failed++
	}

	assert.Equal(t, 50, succeeded)
	assert.Equal(t, 50, failed)

	balance, err := l.Balance(context.Background(), "usr_hot")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestCheckAndDeduct_IndependentAccounts(t *testing.T) {
	l, st := newTestLedger(t)
	seedAccount(t, st, "usr_a", 5)
	seedAccount(t, st, "usr_b", 5)

	var wg sync.WaitGroup
	for _, id := range []string{"usr_a", "usr_b"} {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(account string) {
				defer wg.Done()
				_, err := l.CheckAndDeduct(context.Background(), account, 1)
				assert.NoError(t, err)
			}(id)
		}
	}
	wg.Wait()

	for _, id := range []string{"usr_a", "usr_b"} {
		balance, err := l.Balance(context.Background(), id)
		require.NoError(t, err)
		assert.Zero(t, balance, "account %s", id)
	}
}

func TestCredit_RefundRestoresBalance(t *testing.T) {
	l, st := newTestLedger(t)
	seedAccount(t, st, "usr_a", 10)

	_, err := l.CheckAndDeduct(context.Background(), "usr_a", 4)
	require.NoError(t, err)

	newBalance, err := l.Credit(context.Background(), "usr_a", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(10), newBalance)
}

func TestCredit_UnknownAccount(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Credit(context.Background(), "usr_missing", 1)
	var notFound *fault.UserNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestDeduct_NegativeAmountRejected(t *testing.T) {
	l, st := newTestLedger(t)
	seedAccount(t, st, "usr_a", 10)

	_, err := l.CheckAndDeduct(context.Background(), "usr_a", -1)
	require.Error(t, err)

	balance, err := l.Balance(context.Background(), "usr_a")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
}
