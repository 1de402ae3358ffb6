package database

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/miniexchange/internal/apperr"
	"github.com/user/miniexchange/internal/models"
)

var testStore *Store

func TestMain(m *testing.M) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "TEST_DATABASE_URL not set, skipping database tests")
		os.Exit(0)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	ctx := context.Background()
	store, err := New(ctx, dsn, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.InitSchema(ctx, "../../migrations/001_init.sql"); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to apply migration: %v\n", err)
		os.Exit(1)
	}

	_, err = store.Pool.Exec(ctx,
		`TRUNCATE TABLE transactions, orders, balances, users RESTART IDENTITY CASCADE`)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to truncate tables: %v\n", err)
		os.Exit(1)
	}
	_, err = store.Pool.Exec(ctx,
		`INSERT INTO instruments (ticker, name) VALUES ('MEMCOIN', 'Meme Coin') ON CONFLICT (ticker) DO NOTHING`)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to seed instrument: %v\n", err)
		os.Exit(1)
	}

	testStore = store
	os.Exit(m.Run())
}

func newTestUser(t *testing.T) *models.User {
	t.Helper()
	username := "user-" + uuid.NewString()[:8]
	user, err := testStore.CreateUser(context.Background(), username, "hash", models.RoleUser)
	require.NoError(t, err)
	return user
}

// inTx runs fn inside a committed transaction.
func inTx(t *testing.T, fn func(tx pgx.Tx) error) {
	t.Helper()
	ctx := context.Background()
	tx, err := testStore.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	require.NoError(t, fn(tx))
	require.NoError(t, tx.Commit(ctx))
}

func balanceOf(t *testing.T, userID uuid.UUID, ticker string) models.Balance {
	t.Helper()
	balances, err := testStore.UserBalances(context.Background(), userID)
	require.NoError(t, err)
	for _, b := range balances {
		if b.Ticker == ticker {
			return b
		}
	}
	return models.Balance{UserID: userID, Ticker: ticker}
}

func TestDepositWithdraw(t *testing.T) {
	ctx := context.Background()
	user := newTestUser(t)

	inTx(t, func(tx pgx.Tx) error {
		return testStore.Deposit(ctx, tx, user.ID, "RUB", 100)
	})
	inTx(t, func(tx pgx.Tx) error {
		return testStore.Withdraw(ctx, tx, user.ID, "RUB", 40)
	})

	bal := balanceOf(t, user.ID, "RUB")
	assert.Equal(t, int64(60), bal.Amount)
	assert.Zero(t, bal.Blocked)

	// Overdraft is a typed failure and leaves the row untouched.
	tx, err := testStore.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	err = testStore.Withdraw(ctx, tx, user.ID, "RUB", 100)
	assert.True(t, apperr.Is(err, apperr.CodeInsufficientFunds))
}

func TestDepositRejectsNonPositive(t *testing.T) {
	ctx := context.Background()
	user := newTestUser(t)

	tx, err := testStore.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	assert.True(t, apperr.Is(testStore.Deposit(ctx, tx, user.ID, "RUB", 0), apperr.CodeInvalidInput))
	assert.True(t, apperr.Is(testStore.Deposit(ctx, tx, user.ID, "RUB", -5), apperr.CodeInvalidInput))
}

func TestBlockedFundsAreNotSpendable(t *testing.T) {
	ctx := context.Background()
	user := newTestUser(t)

	inTx(t, func(tx pgx.Tx) error {
		return testStore.Deposit(ctx, tx, user.ID, "RUB", 100)
	})
	inTx(t, func(tx pgx.Tx) error {
		return testStore.Block(ctx, tx, user.ID, "RUB", 60)
	})

	// Only 40 remains available.
	tx, err := testStore.Begin(ctx)
	require.NoError(t, err)
	err = testStore.Withdraw(ctx, tx, user.ID, "RUB", 50)
	assert.True(t, apperr.Is(err, apperr.CodeInsufficientFunds))
	err = testStore.Block(ctx, tx, user.ID, "RUB", 50)
	assert.True(t, apperr.Is(err, apperr.CodeInsufficientFunds))
	tx.Rollback(ctx)

	inTx(t, func(tx pgx.Tx) error {
		return testStore.Withdraw(ctx, tx, user.ID, "RUB", 40)
	})
	bal := balanceOf(t, user.ID, "RUB")
	assert.Equal(t, int64(60), bal.Amount)
	assert.Equal(t, int64(60), bal.Blocked)
}

func TestUnblockClampsToBlocked(t *testing.T) {
	ctx := context.Background()
	user := newTestUser(t)

	inTx(t, func(tx pgx.Tx) error {
		return testStore.Deposit(ctx, tx, user.ID, "RUB", 100)
	})
	inTx(t, func(tx pgx.Tx) error {
		return testStore.Block(ctx, tx, user.ID, "RUB", 30)
	})
	// Releasing more than is blocked succeeds and clamps.
	inTx(t, func(tx pgx.Tx) error {
		return testStore.Unblock(ctx, tx, user.ID, "RUB", 500)
	})

	bal := balanceOf(t, user.ID, "RUB")
	assert.Equal(t, int64(100), bal.Amount)
	assert.Zero(t, bal.Blocked)
}

func TestDebitClampsAtZero(t *testing.T) {
	ctx := context.Background()
	user := newTestUser(t)

	inTx(t, func(tx pgx.Tx) error {
		return testStore.Deposit(ctx, tx, user.ID, "RUB", 10)
	})
	inTx(t, func(tx pgx.Tx) error {
		return testStore.Debit(ctx, tx, user.ID, "RUB", 25)
	})

	bal := balanceOf(t, user.ID, "RUB")
	assert.Zero(t, bal.Amount)
	assert.Zero(t, bal.Blocked)
}

func TestAvailableMissingRowIsZero(t *testing.T) {
	ctx := context.Background()
	user := newTestUser(t)

	available, err := testStore.Available(ctx, nil, user.ID, "MEMCOIN")
	require.NoError(t, err)
	assert.Zero(t, available)
}

func TestCreateUserDuplicate(t *testing.T) {
	ctx := context.Background()
	username := "dup-" + uuid.NewString()[:8]

	_, err := testStore.CreateUser(ctx, username, "hash", models.RoleUser)
	require.NoError(t, err)

	_, err = testStore.CreateUser(ctx, username, "hash", models.RoleUser)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidInput))
}

func TestSoftDeleteUser(t *testing.T) {
	ctx := context.Background()
	user := newTestUser(t)

	require.NoError(t, testStore.SoftDeleteUser(ctx, user.ID))

	got, err := testStore.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Deleted)

	// Second delete finds nothing to do.
	err = testStore.SoftDeleteUser(ctx, user.ID)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

// newTestInstrument lists a fresh instrument so each test gets an empty book.
func newTestInstrument(t *testing.T) string {
	t.Helper()
	ticker := strings.ToUpper("T" + strings.ReplaceAll(uuid.NewString()[:13], "-", ""))
	err := testStore.CreateInstrument(context.Background(), &models.Instrument{Ticker: ticker, Name: "Test Coin " + ticker})
	require.NoError(t, err)
	return ticker
}

func placeOrder(t *testing.T, user *models.User, ticker string, direction models.OrderDirection, price *int64, qty int64, status models.OrderStatus) *models.Order {
	t.Helper()
	ctx := context.Background()
	o := &models.Order{
		UserID:    user.ID,
		Direction: direction,
		Ticker:    ticker,
		Qty:       qty,
		Price:     price,
		Status:    status,
	}
	inTx(t, func(tx pgx.Tx) error {
		return testStore.CreateOrder(ctx, tx, o)
	})
	return o
}

func ptr(v int64) *int64 { return &v }

func TestMatchCandidatesPriceTimeOrder(t *testing.T) {
	ctx := context.Background()
	maker := newTestUser(t)
	ticker := newTestInstrument(t)

	cheapFirst := placeOrder(t, maker, ticker, models.DirectionSell, ptr(100), 5, models.StatusNew)
	expensive := placeOrder(t, maker, ticker, models.DirectionSell, ptr(105), 5, models.StatusNew)
	cheapSecond := placeOrder(t, maker, ticker, models.DirectionSell, ptr(100), 5, models.StatusNew)
	placeOrder(t, maker, ticker, models.DirectionSell, ptr(200), 5, models.StatusNew)      // out of range
	placeOrder(t, maker, ticker, models.DirectionSell, ptr(90), 5, models.StatusCancelled) // not open

	tx, err := testStore.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	// Candidates for an incoming BUY limited at 105: lowest ask first,
	// ties broken by insertion order.
	candidates, err := testStore.MatchCandidates(ctx, tx, ticker, models.DirectionSell, ptr(105))
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.Equal(t, cheapFirst.ID, candidates[0].ID)
	assert.Equal(t, cheapSecond.ID, candidates[1].ID)
	assert.Equal(t, expensive.ID, candidates[2].ID)
}

func TestMatchCandidatesBuySide(t *testing.T) {
	ctx := context.Background()
	maker := newTestUser(t)
	ticker := newTestInstrument(t)

	low := placeOrder(t, maker, ticker, models.DirectionBuy, ptr(300), 1, models.StatusNew)
	high := placeOrder(t, maker, ticker, models.DirectionBuy, ptr(310), 1, models.StatusNew)

	tx, err := testStore.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	// Candidates for an incoming SELL limited at 300: highest bid first.
	candidates, err := testStore.MatchCandidates(ctx, tx, ticker, models.DirectionBuy, ptr(300))
	require.NoError(t, err)

	var ids []int64
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	require.Contains(t, ids, low.ID)
	require.Contains(t, ids, high.ID)
	assert.True(t, indexOf(ids, high.ID) < indexOf(ids, low.ID), "higher bid must come first")

	// A market candidate scan (no limit) sees every open bid.
	all, err := testStore.MatchCandidates(ctx, tx, ticker, models.DirectionBuy, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(all), len(candidates))
}

func indexOf(ids []int64, id int64) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func TestSetOrderStatusEnforcesStateMachine(t *testing.T) {
	ctx := context.Background()
	user := newTestUser(t)

	order := placeOrder(t, user, "MEMCOIN", models.DirectionSell, ptr(100), 5, models.StatusNew)

	inTx(t, func(tx pgx.Tx) error {
		return testStore.SetOrderStatus(ctx, tx, order, models.StatusCancelled)
	})
	assert.Equal(t, models.StatusCancelled, order.Status)

	// Terminal orders are frozen.
	tx, err := testStore.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	err = testStore.SetOrderStatus(ctx, tx, order, models.StatusExecuted)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidOrderState))
}

func TestListOrdersFiltersByUser(t *testing.T) {
	ctx := context.Background()
	alice := newTestUser(t)
	bob := newTestUser(t)

	placeOrder(t, alice, "MEMCOIN", models.DirectionSell, ptr(100), 1, models.StatusNew)
	placeOrder(t, bob, "MEMCOIN", models.DirectionSell, ptr(100), 1, models.StatusNew)

	orders, err := testStore.ListOrders(ctx, &alice.ID, 100, 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, alice.ID, orders[0].UserID)
}

func TestCreateInstrumentDuplicate(t *testing.T) {
	ctx := context.Background()

	err := testStore.CreateInstrument(ctx, &models.Instrument{Ticker: "MEMCOIN", Name: "Meme Coin"})
	assert.True(t, apperr.Is(err, apperr.CodeInvalidInput))
}
