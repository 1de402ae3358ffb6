package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/user/miniexchange/internal/models"
)

// CreateInstrumentRequest is the admin body for listing a new instrument.
type CreateInstrumentRequest struct {
	Ticker string `json:"ticker" validate:"required,uppercase,alphanum,min=1,max=16"`
	Name   string `json:"name" validate:"required,min=1,max=128"`
}

// ListInstruments returns all tradable instruments.
func (h *Handler) ListInstruments(c *fiber.Ctx) error {
	instruments, err := h.store.ListInstruments(c.Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(instruments)
}

// CreateInstrument lists a new instrument. Admin only.
func (h *Handler) CreateInstrument(c *fiber.Ctx) error {
	req := new(CreateInstrumentRequest)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "Cannot parse request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, "ticker must be 1-16 uppercase alphanumeric characters and name non-empty")
	}

	instrument := &models.Instrument{Ticker: req.Ticker, Name: req.Name}
	if err := h.store.CreateInstrument(c.Context(), instrument); err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(instrument)
}

// DeleteInstrument delists an instrument. Admin only. Balances and orders
// referencing it are removed by the schema's cascade rules.
func (h *Handler) DeleteInstrument(c *fiber.Ctx) error {
	ticker := c.Params("ticker")
	if ticker == "" {
		return badRequest(c, "Missing ticker")
	}
	if ticker == h.exchange.QuoteTicker() {
		return badRequest(c, "Cannot delist the settlement currency")
	}

	if err := h.store.DeleteInstrument(c.Context(), ticker); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}
