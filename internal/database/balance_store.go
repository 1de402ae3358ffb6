package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/user/miniexchange/internal/apperr"
	"github.com/user/miniexchange/internal/models"
)

// The balance ledger. Every operation takes the caller's transaction, locks
// the (user, ticker) row and applies its delta there, so concurrent
// transactions serialize per row. A missing row is created with zero
// amounts before the first mutation.

// LockBalance acquires the row lock for (user, ticker), creating the row if
// absent. Callers use it to take balance locks in the canonical order
// (quote currency first, then instrument) before mixed-order settlement.
func (s *Store) LockBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, ticker string) (*models.Balance, error) {
	return s.balanceForUpdate(ctx, tx, userID, ticker)
}

func (s *Store) balanceForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, ticker string) (*models.Balance, error) {
	bal, err := s.scanBalanceForUpdate(ctx, tx, userID, ticker)
	if err != nil || bal != nil {
		return bal, err
	}

	// No row yet: create it, then re-acquire the lock. ON CONFLICT covers
	// the race with a concurrent creator.
	_, err = tx.Exec(ctx,
		`INSERT INTO balances (user_id, ticker, amount, blocked_amount) VALUES ($1, $2, 0, 0)
		 ON CONFLICT (user_id, ticker) DO NOTHING`,
		userID, ticker)
	if err != nil {
		return nil, apperr.Internal(err, "create balance row")
	}

	bal, err = s.scanBalanceForUpdate(ctx, tx, userID, ticker)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return nil, apperr.New(apperr.CodeInternal, "balance row vanished for user %s ticker %s", userID, ticker)
	}
	return bal, nil
}

func (s *Store) scanBalanceForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, ticker string) (*models.Balance, error) {
	bal := &models.Balance{}
	err := tx.QueryRow(ctx,
		`SELECT user_id, ticker, amount, blocked_amount, updated_at
		 FROM balances WHERE user_id = $1 AND ticker = $2 FOR UPDATE`,
		userID, ticker).
		Scan(&bal.UserID, &bal.Ticker, &bal.Amount, &bal.Blocked, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Internal(err, "lock balance row")
	}
	return bal, nil
}

func (s *Store) writeBalance(ctx context.Context, tx pgx.Tx, bal *models.Balance) error {
	_, err := tx.Exec(ctx,
		`UPDATE balances SET amount = $3, blocked_amount = $4, updated_at = NOW()
		 WHERE user_id = $1 AND ticker = $2`,
		bal.UserID, bal.Ticker, bal.Amount, bal.Blocked)
	if err != nil {
		return apperr.Internal(err, "update balance row")
	}
	return nil
}

// Deposit increases the total held amount.
func (s *Store) Deposit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, ticker string, amount int64) error {
	if amount <= 0 {
		return apperr.New(apperr.CodeInvalidInput, "deposit amount must be positive")
	}
	bal, err := s.balanceForUpdate(ctx, tx, userID, ticker)
	if err != nil {
		return err
	}
	bal.Amount += amount
	return s.writeBalance(ctx, tx, bal)
}

// Withdraw decreases the total held amount. Only the unblocked portion may
// be withdrawn.
func (s *Store) Withdraw(ctx context.Context, tx pgx.Tx, userID uuid.UUID, ticker string, amount int64) error {
	if amount <= 0 {
		return apperr.New(apperr.CodeInvalidInput, "withdraw amount must be positive")
	}
	bal, err := s.balanceForUpdate(ctx, tx, userID, ticker)
	if err != nil {
		return err
	}
	if bal.Available() < amount {
		return apperr.New(apperr.CodeInsufficientFunds,
			"insufficient %s balance: available %d, requested %d", ticker, bal.Available(), amount)
	}
	bal.Amount -= amount
	return s.writeBalance(ctx, tx, bal)
}

// Block reserves part of the available balance against a resting order.
func (s *Store) Block(ctx context.Context, tx pgx.Tx, userID uuid.UUID, ticker string, amount int64) error {
	if amount <= 0 {
		return apperr.New(apperr.CodeInvalidInput, "block amount must be positive")
	}
	bal, err := s.balanceForUpdate(ctx, tx, userID, ticker)
	if err != nil {
		return err
	}
	if bal.Available() < amount {
		return apperr.New(apperr.CodeInsufficientFunds,
			"insufficient %s balance to reserve: available %d, requested %d", ticker, bal.Available(), amount)
	}
	bal.Blocked += amount
	return s.writeBalance(ctx, tx, bal)
}

// Unblock releases a reservation. Releasing more than is currently blocked
// clamps to the blocked amount; the excess is logged, not an error, so
// repeated releases stay idempotent.
func (s *Store) Unblock(ctx context.Context, tx pgx.Tx, userID uuid.UUID, ticker string, amount int64) error {
	if amount < 0 {
		return apperr.New(apperr.CodeInvalidInput, "unblock amount must not be negative")
	}
	if amount == 0 {
		return nil
	}
	bal, err := s.balanceForUpdate(ctx, tx, userID, ticker)
	if err != nil {
		return err
	}
	release := amount
	if release > bal.Blocked {
		s.Log.WithFields(logrus.Fields{
			"user_id":   userID,
			"ticker":    ticker,
			"requested": amount,
			"blocked":   bal.Blocked,
		}).Warn("unblock exceeds blocked amount, clamping")
		release = bal.Blocked
	}
	bal.Blocked -= release
	return s.writeBalance(ctx, tx, bal)
}

// Credit is a direct settlement adjustment: increases the total amount
// without touching the reservation.
func (s *Store) Credit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, ticker string, amount int64) error {
	if amount < 0 {
		return apperr.New(apperr.CodeInvalidInput, "credit amount must not be negative")
	}
	if amount == 0 {
		return nil
	}
	bal, err := s.balanceForUpdate(ctx, tx, userID, ticker)
	if err != nil {
		return err
	}
	bal.Amount += amount
	return s.writeBalance(ctx, tx, bal)
}

// Debit is a direct settlement adjustment: decreases the total amount. It
// never drives the amount negative; a clamp here means the caller's
// bookkeeping under-counted and is logged loudly.
func (s *Store) Debit(ctx context.Context, tx pgx.Tx, userID uuid.UUID, ticker string, amount int64) error {
	if amount < 0 {
		return apperr.New(apperr.CodeInvalidInput, "debit amount must not be negative")
	}
	if amount == 0 {
		return nil
	}
	bal, err := s.balanceForUpdate(ctx, tx, userID, ticker)
	if err != nil {
		return err
	}
	next := bal.Amount - amount
	if next < 0 {
		s.Log.WithFields(logrus.Fields{
			"user_id": userID,
			"ticker":  ticker,
			"amount":  bal.Amount,
			"debit":   amount,
		}).Warn("debit exceeds held amount, clamping to zero")
		next = 0
	}
	bal.Amount = next
	if bal.Blocked > bal.Amount {
		bal.Blocked = bal.Amount
	}
	return s.writeBalance(ctx, tx, bal)
}

// Available returns amount - blocked_amount, treating a missing row as zero.
func (s *Store) Available(ctx context.Context, tx pgx.Tx, userID uuid.UUID, ticker string) (int64, error) {
	var available int64
	err := s.q(tx).QueryRow(ctx,
		`SELECT amount - blocked_amount FROM balances WHERE user_id = $1 AND ticker = $2`,
		userID, ticker).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, apperr.Internal(err, "read available balance")
	}
	return available, nil
}

// UserBalances returns all balances held by a user, ordered by ticker.
func (s *Store) UserBalances(ctx context.Context, userID uuid.UUID) ([]models.Balance, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT user_id, ticker, amount, blocked_amount, updated_at
		 FROM balances WHERE user_id = $1 ORDER BY ticker`,
		userID)
	if err != nil {
		return nil, apperr.Internal(err, "query balances")
	}
	defer rows.Close()

	balances := make([]models.Balance, 0)
	for rows.Next() {
		var bal models.Balance
		if err := rows.Scan(&bal.UserID, &bal.Ticker, &bal.Amount, &bal.Blocked, &bal.UpdatedAt); err != nil {
			return nil, apperr.Internal(err, "scan balance row")
		}
		balances = append(balances, bal)
	}
	if rows.Err() != nil {
		return nil, apperr.Internal(rows.Err(), "iterate balance rows")
	}
	return balances, nil
}
