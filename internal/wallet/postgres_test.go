package wallet

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/matheusmosca/gym-wallet-ledger/internal/storage"
)

// testPostgresURLEnv points the Postgres tests at a disposable database. The
// tests truncate the wallet and transaction tables.
const testPostgresURLEnv = "LEDGER_TEST_DATABASE_URL"

func newTestPostgresPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv(testPostgresURLEnv)
	if url == "" {
		t.Skipf("%s not set", testPostgresURLEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := storage.OpenPostgres(ctx, storage.PostgresConfig{URL: url, MaxConns: 20}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `TRUNCATE transactions, wallets`)
	require.NoError(t, err)
	return pool
}

func newTestPostgresRepository(t *testing.T, lockTimeout time.Duration) *PostgresRepository {
	return NewPostgresRepository(newTestPostgresPool(t), lockTimeout)
}

func TestPostgresLedger_ConcurrentSettlementsNeverOverdraw(t *testing.T) {
	testConcurrentSettlementsNeverOverdraw(t, newTestPostgresRepository(t, 2*time.Second))
}

func TestPostgresLedger_DepositIsIdempotent(t *testing.T) {
	testDepositIsIdempotent(t, newTestPostgresRepository(t, 2*time.Second))
}

func TestPostgresLedger_RepeatedReferenceReturnsCommittedLegs(t *testing.T) {
	// Arrange
	ctx := context.Background()
	l := newTestLedger(t, newTestPostgresRepository(t, 2*time.Second), StaticPlatformAccount(platformUser), nil)
	_, err := l.Deposit(ctx, DepositRequest{UserID: "member", Amount: amount("1000"), Gateway: "UPI", Reference: "R1"})
	require.NoError(t, err)
	req := SettlementRequest{PayerID: "member", PayeeID: "trainer", Amount: amount("200"), Reference: "booking-1"}

	// Act
	first, err := l.SettleBooking(ctx, req)
	require.NoError(t, err)
	second, err := l.SettleBooking(ctx, req)
	require.NoError(t, err)

	// Assert
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Debit.ID, second.Debit.ID)
	assertBalance(t, l, "member", "800")
	assertBalance(t, l, "trainer", "170")
	assertBalance(t, l, platformUser, "30")
}

func TestPostgresRepository_ConcurrentFirstAccessCreatesOneWallet(t *testing.T) {
	ctx := context.Background()
	repo := newTestPostgresRepository(t, 0)

	const n = 8
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			w, err := repo.GetOrCreateWallet(ctx, "member")
			if err != nil {
				ids <- "error: " + err.Error()
				return
			}
			ids <- w.ID
		}()
	}

	first := <-ids
	for i := 1; i < n; i++ {
		assert.Equal(t, first, <-ids)
	}
}

func TestPostgresRepository_LockTimeoutIsStorageTimeout(t *testing.T) {
	// Arrange
	ctx := context.Background()
	repo := newTestPostgresRepository(t, 100*time.Millisecond)
	l := newTestLedger(t, repo, StaticPlatformAccount(platformUser), nil)
	_, err := repo.GetOrCreateWallet(ctx, "member")
	require.NoError(t, err)

	holder, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	defer holder.Rollback()
	_, err = repo.LockWallets(ctx, holder, []string{"member"})
	require.NoError(t, err)

	// Act
	_, err = l.Deposit(ctx, DepositRequest{UserID: "member", Amount: amount("10"), Gateway: "UPI", Reference: "R1"})

	// Assert
	assert.ErrorIs(t, err, ErrStorageTimeout)
	assert.True(t, IsRetryable(err))

	require.NoError(t, holder.Rollback())
	_, err = l.Deposit(ctx, DepositRequest{UserID: "member", Amount: amount("10"), Gateway: "UPI", Reference: "R1"})
	require.NoError(t, err)
	assertBalance(t, l, "member", "10")
}
