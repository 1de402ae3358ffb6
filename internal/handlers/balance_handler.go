package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// BalanceChangeRequest is the admin body for deposits and withdrawals.
type BalanceChangeRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	Ticker string    `json:"ticker" validate:"required"`
	Amount int64     `json:"amount" validate:"required,gt=0"`
}

// GetBalances returns the caller's balances keyed by ticker.
func (h *Handler) GetBalances(c *fiber.Ctx) error {
	user, err := requester(c)
	if err != nil {
		return h.fail(c, err)
	}

	balances, err := h.store.UserBalances(c.Context(), user.ID)
	if err != nil {
		return h.fail(c, err)
	}

	out := make(map[string]int64, len(balances))
	for _, b := range balances {
		out[b.Ticker] = b.Amount
	}
	return c.JSON(out)
}

// Deposit credits a user's balance. Admin only.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	req := new(BalanceChangeRequest)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "Cannot parse request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, "user_id, ticker and a positive amount are required")
	}

	if err := h.exchange.Deposit(c.Context(), req.UserID, req.Ticker, req.Amount); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// Withdraw debits a user's unblocked balance. Admin only.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	req := new(BalanceChangeRequest)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "Cannot parse request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, "user_id, ticker and a positive amount are required")
	}

	if err := h.exchange.Withdraw(c.Context(), req.UserID, req.Ticker, req.Amount); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
