package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/user/miniexchange/internal/apperr"
	"github.com/user/miniexchange/internal/models"
)

const orderColumns = `id, user_id, direction, ticker, qty, price, filled, status, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	o := &models.Order{}
	err := row.Scan(&o.ID, &o.UserID, &o.Direction, &o.Ticker, &o.Qty, &o.Price,
		&o.Filled, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// CreateOrder inserts a new order. Balance checks and reservations are the
// orchestrator's job and must have happened inside the same transaction.
// A nil tx writes straight to the pool, which is only sound for terminal
// audit records that reserve nothing.
func (s *Store) CreateOrder(ctx context.Context, tx pgx.Tx, o *models.Order) error {
	err := s.q(tx).QueryRow(ctx,
		`INSERT INTO orders (user_id, direction, ticker, qty, price, filled, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at, updated_at`,
		o.UserID, o.Direction, o.Ticker, o.Qty, o.Price, o.Filled, o.Status).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return apperr.Internal(err, "create order")
	}
	return nil
}

// GetOrder retrieves one order, or nil if it does not exist.
func (s *Store) GetOrder(ctx context.Context, tx pgx.Tx, id int64) (*models.Order, error) {
	o, err := scanOrder(s.q(tx).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Internal(err, "get order")
	}
	return o, nil
}

// GetOrderForUpdate retrieves one order holding its row lock until commit,
// or nil if it does not exist.
func (s *Store) GetOrderForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*models.Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Internal(err, "lock order")
	}
	return o, nil
}

// ListOrders returns orders newest first. A nil userID lists all orders.
func (s *Store) ListOrders(ctx context.Context, userID *uuid.UUID, limit, offset int) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	args := []interface{}{limit, offset}
	if userID != nil {
		query += ` WHERE user_id = $3`
		args = append(args, *userID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Internal(err, "list orders")
	}
	defer rows.Close()

	orders := make([]models.Order, 0)
	for rows.Next() {
		o := models.Order{}
		if err := rows.Scan(&o.ID, &o.UserID, &o.Direction, &o.Ticker, &o.Qty, &o.Price,
			&o.Filled, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, apperr.Internal(err, "scan order row")
		}
		orders = append(orders, o)
	}
	if rows.Err() != nil {
		return nil, apperr.Internal(rows.Err(), "iterate order rows")
	}
	return orders, nil
}

// MatchCandidates selects resting contra-side orders in price/time priority:
// cheapest first for SELL candidates, highest bid first for BUY candidates,
// ties broken by ascending id (oldest first). limitPrice narrows the scan
// for limit takers; market takers pass nil. Rows already locked by another
// matching transaction are skipped rather than waited on, so concurrent
// matching against the same book cannot deadlock.
func (s *Store) MatchCandidates(ctx context.Context, tx pgx.Tx, ticker string, side models.OrderDirection, limitPrice *int64) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		 WHERE ticker = $1 AND direction = $2
		   AND status IN ('NEW', 'PARTIALLY_EXECUTED')
		   AND filled < qty AND price IS NOT NULL`
	args := []interface{}{ticker, side}

	if limitPrice != nil {
		if side == models.DirectionSell {
			query += ` AND price <= $3`
		} else {
			query += ` AND price >= $3`
		}
		args = append(args, *limitPrice)
	}

	if side == models.DirectionSell {
		query += ` ORDER BY price ASC, id ASC`
	} else {
		query += ` ORDER BY price DESC, id ASC`
	}
	query += ` FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Internal(err, "select match candidates")
	}
	defer rows.Close()

	var candidates []models.Order
	for rows.Next() {
		o := models.Order{}
		if err := rows.Scan(&o.ID, &o.UserID, &o.Direction, &o.Ticker, &o.Qty, &o.Price,
			&o.Filled, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, apperr.Internal(err, "scan candidate row")
		}
		candidates = append(candidates, o)
	}
	if rows.Err() != nil {
		return nil, apperr.Internal(rows.Err(), "iterate candidate rows")
	}
	return candidates, nil
}

// UpdateOrderFill persists a matched order's new filled quantity and status.
func (s *Store) UpdateOrderFill(ctx context.Context, tx pgx.Tx, id int64, filled int64, status models.OrderStatus) error {
	tag, err := tx.Exec(ctx,
		`UPDATE orders SET filled = $2, status = $3, updated_at = NOW() WHERE id = $1`,
		id, filled, status)
	if err != nil {
		return apperr.Internal(err, "update order fill")
	}
	if tag.RowsAffected() != 1 {
		return apperr.New(apperr.CodeInternal, "order %d missing during fill update", id)
	}
	return nil
}

// SetOrderStatus moves an order through the state machine, rejecting
// transitions out of terminal states.
func (s *Store) SetOrderStatus(ctx context.Context, tx pgx.Tx, o *models.Order, status models.OrderStatus) error {
	if o.Status != status && !models.CanTransition(o.Status, status) {
		return apperr.New(apperr.CodeInvalidOrderState,
			"order %d cannot move from %s to %s", o.ID, o.Status, status)
	}
	_, err := tx.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`,
		o.ID, status)
	if err != nil {
		return apperr.Internal(err, "update order status")
	}
	o.Status = status
	return nil
}
