package database

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/user/miniexchange/internal/apperr"
	"github.com/user/miniexchange/internal/models"
)

// CreateTransaction appends one fill event to the trade log. Rows are
// immutable historical facts; nothing ever updates or deletes them.
func (s *Store) CreateTransaction(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	err := tx.QueryRow(ctx,
		`INSERT INTO transactions (user_id, ticker, amount, price)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		t.UserID, t.Ticker, t.Amount, t.Price).
		Scan(&t.ID, &t.Timestamp)
	if err != nil {
		return apperr.Internal(err, "create transaction")
	}
	return nil
}

// TransactionsByTicker returns the trade history for a ticker, newest first.
func (s *Store) TransactionsByTicker(ctx context.Context, ticker string, limit int) ([]models.Transaction, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, user_id, ticker, amount, price, created_at
		 FROM transactions WHERE ticker = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		ticker, limit)
	if err != nil {
		return nil, apperr.Internal(err, "query transactions")
	}
	defer rows.Close()

	txs := make([]models.Transaction, 0)
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Ticker, &t.Amount, &t.Price, &t.Timestamp); err != nil {
			return nil, apperr.Internal(err, "scan transaction row")
		}
		txs = append(txs, t)
	}
	if rows.Err() != nil {
		return nil, apperr.Internal(rows.Err(), "iterate transaction rows")
	}
	return txs, nil
}
