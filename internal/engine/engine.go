// Package engine implements the matching step of order execution: given an
// incoming aggressive order it finds resting contra-side orders in
// price/time priority, computes fills and advances the matched orders'
// filled/status fields. It never moves balances and never writes trade
// records; settlement stays in one auditable place, the orchestrator.
package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/user/miniexchange/internal/database"
	"github.com/user/miniexchange/internal/models"
)

// Execution is one fill against a resting order, reported back for
// settlement. Price is always the maker's price.
type Execution struct {
	OrderID      int64
	Counterparty uuid.UUID
	Qty          int64
	Price        int64
}

// Result summarizes one matching pass.
type Result struct {
	// FilledQty is the total quantity matched for the incoming order.
	FilledQty int64
	// Notional is the total quote-currency value of all fills
	// (sum of qty*price at maker prices).
	Notional int64
	// Executions lists fills in match order, one per counterparty order.
	Executions []Execution
	// Touched holds the matched resting orders with their updated
	// filled/status values.
	Touched []models.Order
}

type Engine struct {
	store *database.Store
	log   *logrus.Logger
}

func New(store *database.Store, log *logrus.Logger) *Engine {
	return &Engine{store: store, log: log}
}

// Match runs one matching pass for the incoming order inside the caller's
// transaction. Candidates are scanned with a skip-already-locked read, so a
// concurrent matcher holding some rows costs fills, not a deadlock. Locked
// candidates stay exclusively owned by this transaction until commit.
func (e *Engine) Match(ctx context.Context, tx pgx.Tx, incoming *models.Order) (Result, error) {
	candidates, err := e.store.MatchCandidates(ctx, tx, incoming.Ticker, incoming.Direction.Contra(), incoming.Price)
	if err != nil {
		return Result{}, err
	}

	res := Fill(candidates, incoming.Qty)

	for i := range res.Touched {
		t := &res.Touched[i]
		if err := e.store.UpdateOrderFill(ctx, tx, t.ID, t.Filled, t.Status); err != nil {
			return Result{}, err
		}
	}

	if res.FilledQty > 0 {
		e.log.WithFields(logrus.Fields{
			"order_id":   incoming.ID,
			"ticker":     incoming.Ticker,
			"direction":  incoming.Direction,
			"filled_qty": res.FilledQty,
			"notional":   res.Notional,
			"fills":      len(res.Executions),
		}).Info("order matched")
	}
	return res, nil
}

// Fill walks candidates in the order given (already price/time sorted) and
// computes fills until qty is exhausted. Candidates are resting limit
// orders, so every one carries a price; each fill executes at that maker
// price regardless of how aggressive the taker's limit is.
func Fill(candidates []models.Order, qty int64) Result {
	var res Result
	for i := range candidates {
		c := &candidates[i]
		toFill := min(qty-res.FilledQty, c.Remaining())
		if toFill <= 0 {
			continue
		}

		c.Filled += toFill
		if c.Filled == c.Qty {
			c.Status = models.StatusExecuted
		} else {
			c.Status = models.StatusPartiallyExecuted
		}

		res.FilledQty += toFill
		res.Notional += toFill * *c.Price
		res.Executions = append(res.Executions, Execution{
			OrderID:      c.ID,
			Counterparty: c.UserID,
			Qty:          toFill,
			Price:        *c.Price,
		})
		res.Touched = append(res.Touched, *c)

		if res.FilledQty == qty {
			break
		}
	}
	return res
}

func min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
