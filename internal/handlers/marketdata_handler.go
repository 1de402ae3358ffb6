package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/user/miniexchange/internal/marketdata"
)

// GetOrderbook returns aggregated price levels for an instrument. Public.
func (h *Handler) GetOrderbook(c *fiber.Ctx) error {
	ticker := c.Params("ticker")
	limit := c.QueryInt("limit", marketdata.DefaultLimit)
	if limit < 1 || limit > marketdata.MaxLimit {
		return badRequest(c, "limit must be in 1..1000")
	}

	book, err := h.exchange.Orderbook(c.Context(), ticker, limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(book)
}

// GetTransactions returns recent trades for an instrument. Public.
func (h *Handler) GetTransactions(c *fiber.Ctx) error {
	ticker := c.Params("ticker")
	limit := c.QueryInt("limit", marketdata.DefaultLimit)
	if limit < 1 || limit > marketdata.MaxLimit {
		return badRequest(c, "limit must be in 1..1000")
	}

	trades, err := h.exchange.Transactions(c.Context(), ticker, limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(trades)
}
