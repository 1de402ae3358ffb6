// Package exchange is the transactional coordinator of the order flow. It
// owns every unit of work in which money or assets move: order creation
// with reservation and matching, settlement of both sides of each fill,
// cancellation with release of the unfilled reservation, and
// deposit/withdraw. Each public operation is one database transaction;
// any failure aborts the whole unit.
package exchange

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/user/miniexchange/internal/apperr"
	"github.com/user/miniexchange/internal/database"
	"github.com/user/miniexchange/internal/engine"
	"github.com/user/miniexchange/internal/marketdata"
	"github.com/user/miniexchange/internal/models"
)

type Exchange struct {
	store  *database.Store
	engine *engine.Engine
	view   *marketdata.View
	log    *logrus.Logger
	quote  string
}

// New wires the orchestrator. quote is the universal settlement currency
// ticker; every trade settles in it regardless of the instrument traded.
func New(store *database.Store, log *logrus.Logger, quote string) *Exchange {
	return &Exchange{
		store:  store,
		engine: engine.New(store, log),
		view:   marketdata.New(store, log),
		log:    log,
		quote:  quote,
	}
}

// QuoteTicker returns the settlement currency ticker.
func (x *Exchange) QuoteTicker() string { return x.quote }

// CreateOrder validates, reserves, matches and settles a new order as one
// atomic unit. Balance-row locks are always taken in the canonical order,
// quote currency before instrument, for the taker first and then for each
// matched maker; order rows are locked after balances via the skip-locked
// candidate scan. Every code path in the package follows the same order.
func (x *Exchange) CreateOrder(ctx context.Context, userID uuid.UUID, direction models.OrderDirection, ticker string, qty int64, price *int64) (*models.Order, error) {
	if qty <= 0 {
		return nil, apperr.New(apperr.CodeInvalidInput, "qty must be positive")
	}
	if price != nil && *price <= 0 {
		return nil, apperr.New(apperr.CodeInvalidInput, "price must be positive")
	}
	if direction != models.DirectionBuy && direction != models.DirectionSell {
		return nil, apperr.New(apperr.CodeInvalidInput, "direction must be BUY or SELL")
	}
	if ticker == x.quote {
		return nil, apperr.New(apperr.CodeInvalidInput, "cannot trade the settlement currency against itself")
	}
	instrument, err := x.store.GetInstrument(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if instrument == nil {
		return nil, apperr.New(apperr.CodeNotFound, "instrument %s not found", ticker)
	}

	tx, err := x.store.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	quoteBal, err := x.store.LockBalance(ctx, tx, userID, x.quote)
	if err != nil {
		return nil, err
	}
	baseBal, err := x.store.LockBalance(ctx, tx, userID, ticker)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		UserID:    userID,
		Direction: direction,
		Ticker:    ticker,
		Qty:       qty,
		Price:     price,
		Status:    models.StatusNew,
	}

	// Availability check. A market BUY cannot know its cost up front, so it
	// only needs a positive quote balance here; the matched cost is checked
	// again before settlement.
	switch {
	case direction == models.DirectionBuy && price != nil:
		if required := qty * *price; quoteBal.Available() < required {
			return x.rejectInsufficient(ctx, tx, order,
				"insufficient %s balance: available %d, required %d", x.quote, quoteBal.Available(), required)
		}
	case direction == models.DirectionBuy:
		if quoteBal.Available() <= 0 {
			return x.rejectInsufficient(ctx, tx, order,
				"insufficient %s balance for market buy", x.quote)
		}
	default:
		if baseBal.Available() < qty {
			return x.rejectInsufficient(ctx, tx, order,
				"insufficient %s balance: available %d, required %d", ticker, baseBal.Available(), qty)
		}
	}

	if err := x.store.CreateOrder(ctx, tx, order); err != nil {
		return nil, err
	}

	// Limit orders reserve the full worst-case amount before matching;
	// market orders never rest and never reserve.
	if order.IsLimit() {
		if direction == models.DirectionBuy {
			err = x.store.Block(ctx, tx, userID, x.quote, qty**price)
		} else {
			err = x.store.Block(ctx, tx, userID, ticker, qty)
		}
		if err != nil {
			return nil, err
		}
	}

	res, err := x.engine.Match(ctx, tx, order)
	if err != nil {
		return nil, err
	}

	for _, ex := range res.Executions {
		if err := x.settleMaker(ctx, tx, order, ex); err != nil {
			return nil, err
		}
	}

	if res.FilledQty > 0 {
		if err := x.settleTaker(ctx, tx, order, res); err != nil {
			if apperr.Is(err, apperr.CodeInsufficientFunds) {
				// Matched cost exceeded the market buyer's funds: abort the
				// whole unit, keep only an audit record of the rejection.
				tx.Rollback(ctx)
				x.auditCancelled(ctx, order)
			}
			return nil, err
		}
	}

	order.Filled = res.FilledQty
	order.Status = finalStatus(order, res.FilledQty)
	if err := x.store.UpdateOrderFill(ctx, tx, order.ID, order.Filled, order.Status); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Internal(err, "commit order creation")
	}

	x.log.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"user_id":   userID,
		"direction": direction,
		"ticker":    ticker,
		"qty":       qty,
		"filled":    order.Filled,
		"status":    order.Status,
	}).Info("order created")
	return order, nil
}

// settleMaker moves money and assets for one matched resting order: the
// matched portion of the maker's reservation is released, then the maker's
// side of the trade is applied and the fill is appended to the trade log.
func (x *Exchange) settleMaker(ctx context.Context, tx pgx.Tx, taker *models.Order, ex engine.Execution) error {
	cost := ex.Qty * ex.Price

	// Canonical lock order for the maker's rows as well.
	if _, err := x.store.LockBalance(ctx, tx, ex.Counterparty, x.quote); err != nil {
		return err
	}
	if _, err := x.store.LockBalance(ctx, tx, ex.Counterparty, taker.Ticker); err != nil {
		return err
	}

	if taker.Direction == models.DirectionBuy {
		// Maker sold: release and hand over the asset, receive the money.
		if err := x.store.Unblock(ctx, tx, ex.Counterparty, taker.Ticker, ex.Qty); err != nil {
			return err
		}
		if err := x.store.Debit(ctx, tx, ex.Counterparty, taker.Ticker, ex.Qty); err != nil {
			return err
		}
		if err := x.store.Credit(ctx, tx, ex.Counterparty, x.quote, cost); err != nil {
			return err
		}
	} else {
		// Maker bought: release and pay the money, receive the asset.
		if err := x.store.Unblock(ctx, tx, ex.Counterparty, x.quote, cost); err != nil {
			return err
		}
		if err := x.store.Debit(ctx, tx, ex.Counterparty, x.quote, cost); err != nil {
			return err
		}
		if err := x.store.Credit(ctx, tx, ex.Counterparty, taker.Ticker, ex.Qty); err != nil {
			return err
		}
	}

	return x.store.CreateTransaction(ctx, tx, &models.Transaction{
		UserID: ex.Counterparty,
		Ticker: taker.Ticker,
		Amount: ex.Qty,
		Price:  ex.Price,
	})
}

// settleTaker applies the aggregate of all fills to the incoming order's
// owner. For limit takers the matched portion of the reservation is
// released at the taker's own limit rate, leaving exactly the unmatched
// remainder reserved.
func (x *Exchange) settleTaker(ctx context.Context, tx pgx.Tx, order *models.Order, res engine.Result) error {
	if order.Direction == models.DirectionBuy {
		if order.IsLimit() {
			if err := x.store.Unblock(ctx, tx, order.UserID, x.quote, res.FilledQty**order.Price); err != nil {
				return err
			}
		} else {
			available, err := x.store.Available(ctx, tx, order.UserID, x.quote)
			if err != nil {
				return err
			}
			if available < res.Notional {
				return apperr.New(apperr.CodeInsufficientFunds,
					"market buy cost %d exceeds available %s balance %d", res.Notional, x.quote, available)
			}
		}
		if err := x.store.Debit(ctx, tx, order.UserID, x.quote, res.Notional); err != nil {
			return err
		}
		return x.store.Credit(ctx, tx, order.UserID, order.Ticker, res.FilledQty)
	}

	if order.IsLimit() {
		if err := x.store.Unblock(ctx, tx, order.UserID, order.Ticker, res.FilledQty); err != nil {
			return err
		}
	}
	if err := x.store.Debit(ctx, tx, order.UserID, order.Ticker, res.FilledQty); err != nil {
		return err
	}
	return x.store.Credit(ctx, tx, order.UserID, x.quote, res.Notional)
}

// finalStatus applies the terminal-status rules: market orders never rest,
// limit orders rest with whatever reservation remains.
func finalStatus(order *models.Order, filled int64) models.OrderStatus {
	switch {
	case filled == order.Qty:
		return models.StatusExecuted
	case filled > 0:
		return models.StatusPartiallyExecuted
	case order.IsLimit():
		return models.StatusNew
	default:
		return models.StatusCancelled
	}
}

// rejectInsufficient records an auditable CANCELLED order for a balance
// check failure and commits only that record. No funds are reserved or
// moved. Applies to both directions.
func (x *Exchange) rejectInsufficient(ctx context.Context, tx pgx.Tx, order *models.Order, format string, args ...interface{}) (*models.Order, error) {
	rejErr := apperr.New(apperr.CodeInsufficientFunds, format, args...)

	order.Filled = 0
	order.Status = models.StatusCancelled
	if err := x.store.CreateOrder(ctx, tx, order); err != nil {
		x.log.WithError(err).Error("failed to record rejected order")
		return nil, rejErr
	}
	if err := tx.Commit(ctx); err != nil {
		x.log.WithError(err).Error("failed to commit rejected order")
		return nil, rejErr
	}

	x.log.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"user_id":   order.UserID,
		"direction": order.Direction,
		"ticker":    order.Ticker,
	}).Info("order rejected: insufficient funds")
	return nil, rejErr
}

// auditCancelled records a CANCELLED order outside any aborted transaction.
func (x *Exchange) auditCancelled(ctx context.Context, order *models.Order) {
	audit := &models.Order{
		UserID:    order.UserID,
		Direction: order.Direction,
		Ticker:    order.Ticker,
		Qty:       order.Qty,
		Price:     order.Price,
		Status:    models.StatusCancelled,
	}
	if err := x.store.CreateOrder(ctx, nil, audit); err != nil {
		x.log.WithError(err).Error("failed to record audit order")
	}
}

// CancelOrder cancels an order on behalf of a requester, releasing the
// unfilled remainder's reservation. Only the owner or an admin may cancel.
func (x *Exchange) CancelOrder(ctx context.Context, orderID int64, requester *models.User) (*models.Order, error) {
	tx, err := x.store.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	order, err := x.store.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperr.New(apperr.CodeNotFound, "order %d not found", orderID)
	}
	if requester != nil && order.UserID != requester.ID && requester.Role != models.RoleAdmin {
		return nil, apperr.New(apperr.CodeForbidden, "order %d belongs to another user", orderID)
	}

	if err := x.releaseAndTransition(ctx, tx, order, models.StatusCancelled); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Internal(err, "commit cancellation")
	}

	x.log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"user_id":  order.UserID,
	}).Info("order cancelled")
	return order, nil
}

// UpdateOrderStatus moves an order to a new status under the state machine,
// releasing the unfilled reservation when the order becomes terminal.
func (x *Exchange) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error) {
	tx, err := x.store.Begin(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	order, err := x.store.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperr.New(apperr.CodeNotFound, "order %d not found", orderID)
	}
	if order.Status == status {
		return order, nil
	}

	if err := x.releaseAndTransition(ctx, tx, order, status); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Internal(err, "commit status update")
	}
	return order, nil
}

// releaseAndTransition enforces the state machine and, on a transition into
// a terminal state, releases the unfilled remainder's reservation. The
// order row lock is already held.
func (x *Exchange) releaseAndTransition(ctx context.Context, tx pgx.Tx, order *models.Order, status models.OrderStatus) error {
	if order.Status.Terminal() {
		return apperr.New(apperr.CodeInvalidOrderState,
			"order %d is already %s", order.ID, order.Status)
	}
	if status == models.StatusCancelled && order.Filled == order.Qty {
		return apperr.New(apperr.CodeInvalidOrderState,
			"order %d is fully filled and cannot be cancelled", order.ID)
	}
	if !models.CanTransition(order.Status, status) {
		return apperr.New(apperr.CodeInvalidOrderState,
			"order %d cannot move from %s to %s", order.ID, order.Status, status)
	}

	if status.Terminal() {
		remaining := order.Remaining()
		// Only resting limit orders hold a reservation.
		if remaining > 0 && order.IsLimit() {
			// Canonical lock order: quote row before instrument row.
			if _, err := x.store.LockBalance(ctx, tx, order.UserID, x.quote); err != nil {
				return err
			}
			if _, err := x.store.LockBalance(ctx, tx, order.UserID, order.Ticker); err != nil {
				return err
			}
			var err error
			if order.Direction == models.DirectionBuy {
				err = x.store.Unblock(ctx, tx, order.UserID, x.quote, remaining**order.Price)
			} else {
				err = x.store.Unblock(ctx, tx, order.UserID, order.Ticker, remaining)
			}
			if err != nil {
				return err
			}
		}
	}

	return x.store.SetOrderStatus(ctx, tx, order, status)
}

// GetOrder returns one order or a typed NotFound failure.
func (x *Exchange) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := x.store.GetOrder(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperr.New(apperr.CodeNotFound, "order %d not found", orderID)
	}
	return order, nil
}

// ListOrders returns orders newest first, optionally filtered by user.
func (x *Exchange) ListOrders(ctx context.Context, userID *uuid.UUID, limit, offset int) ([]models.Order, error) {
	return x.store.ListOrders(ctx, userID, limit, offset)
}

// Orderbook delegates to the market data view.
func (x *Exchange) Orderbook(ctx context.Context, ticker string, limit int) (*models.OrderBook, error) {
	return x.view.Orderbook(ctx, ticker, limit)
}

// Transactions delegates to the market data view.
func (x *Exchange) Transactions(ctx context.Context, ticker string, limit int) ([]models.Transaction, error) {
	return x.view.Transactions(ctx, ticker, limit)
}

// Deposit credits a user's balance in its own transaction.
func (x *Exchange) Deposit(ctx context.Context, userID uuid.UUID, ticker string, amount int64) error {
	if err := x.requireInstrument(ctx, ticker); err != nil {
		return err
	}
	tx, err := x.store.Begin(ctx)
	if err != nil {
		return apperr.Internal(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := x.store.Deposit(ctx, tx, userID, ticker, amount); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Internal(err, "commit deposit")
	}
	return nil
}

// Withdraw debits a user's unblocked balance in its own transaction.
func (x *Exchange) Withdraw(ctx context.Context, userID uuid.UUID, ticker string, amount int64) error {
	if err := x.requireInstrument(ctx, ticker); err != nil {
		return err
	}
	tx, err := x.store.Begin(ctx)
	if err != nil {
		return apperr.Internal(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := x.store.Withdraw(ctx, tx, userID, ticker, amount); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Internal(err, "commit withdrawal")
	}
	return nil
}

func (x *Exchange) requireInstrument(ctx context.Context, ticker string) error {
	instrument, err := x.store.GetInstrument(ctx, ticker)
	if err != nil {
		return err
	}
	if instrument == nil {
		return apperr.New(apperr.CodeNotFound, "instrument %s not found", ticker)
	}
	return nil
}
