// Package marketdata serves the public read-only views of the book and the
// trade log. It never takes row locks; aggregates are computed directly in
// SQL over the open orders.
package marketdata

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/user/miniexchange/internal/apperr"
	"github.com/user/miniexchange/internal/database"
	"github.com/user/miniexchange/internal/models"
)

const (
	DefaultLimit = 10
	MaxLimit     = 1000
)

type View struct {
	store *database.Store
	log   *logrus.Logger
}

func New(store *database.Store, log *logrus.Logger) *View {
	return &View{store: store, log: log}
}

// ClampLimit normalizes a requested depth into [1, MaxLimit], using
// DefaultLimit when none is given.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

const orderbookSideQuery = `
	SELECT price, SUM(qty - filled)
	FROM orders
	WHERE ticker = $1
	  AND direction = $2
	  AND status IN ('NEW', 'PARTIALLY_EXECUTED')
	  AND price IS NOT NULL
	  AND filled < qty
	GROUP BY price`

// Orderbook aggregates open limit orders into price levels: bids from best
// (highest) price down, asks from best (lowest) price up, at most limit
// levels per side. An instrument with no open orders yields empty sides.
func (v *View) Orderbook(ctx context.Context, ticker string, limit int) (*models.OrderBook, error) {
	instrument, err := v.store.GetInstrument(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if instrument == nil {
		return nil, apperr.New(apperr.CodeNotFound, "instrument %s not found", ticker)
	}

	limit = ClampLimit(limit)

	bids, err := v.side(ctx, ticker, models.DirectionBuy, "ORDER BY price DESC", limit)
	if err != nil {
		return nil, err
	}
	asks, err := v.side(ctx, ticker, models.DirectionSell, "ORDER BY price ASC", limit)
	if err != nil {
		return nil, err
	}

	return &models.OrderBook{BidLevels: bids, AskLevels: asks}, nil
}

func (v *View) side(ctx context.Context, ticker string, direction models.OrderDirection, order string, limit int) ([]models.PriceLevel, error) {
	rows, err := v.store.Pool.Query(ctx, orderbookSideQuery+" "+order+" LIMIT $3", ticker, direction, limit)
	if err != nil {
		return nil, apperr.Internal(err, "query orderbook side")
	}
	defer rows.Close()

	levels := make([]models.PriceLevel, 0, limit)
	for rows.Next() {
		var lvl models.PriceLevel
		if err := rows.Scan(&lvl.Price, &lvl.Qty); err != nil {
			return nil, apperr.Internal(err, "scan price level")
		}
		levels = append(levels, lvl)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal(err, "iterate price levels")
	}
	return levels, nil
}

// Transactions returns the most recent executed trades for an instrument,
// newest first.
func (v *View) Transactions(ctx context.Context, ticker string, limit int) ([]models.Transaction, error) {
	instrument, err := v.store.GetInstrument(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if instrument == nil {
		return nil, apperr.New(apperr.CodeNotFound, "instrument %s not found", ticker)
	}
	return v.store.TransactionsByTicker(ctx, ticker, ClampLimit(limit))
}
