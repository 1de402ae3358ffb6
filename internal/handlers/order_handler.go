package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/user/miniexchange/internal/models"
)

// CreateOrderRequest is the body for order placement. A nil price makes a
// market order.
type CreateOrderRequest struct {
	Direction models.OrderDirection `json:"direction" validate:"required,oneof=BUY SELL"`
	Ticker    string                `json:"ticker" validate:"required"`
	Qty       int64                 `json:"qty" validate:"required,gt=0"`
	Price     *int64                `json:"price" validate:"omitempty,gt=0"`
}

// CreateOrder places a limit or market order for the caller.
func (h *Handler) CreateOrder(c *fiber.Ctx) error {
	user, err := requester(c)
	if err != nil {
		return h.fail(c, err)
	}

	req := new(CreateOrderRequest)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "Cannot parse request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, "direction, ticker and a positive qty are required; price, if given, must be positive")
	}

	order, err := h.exchange.CreateOrder(c.Context(), user.ID, req.Direction, req.Ticker, req.Qty, req.Price)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(order)
}

// ListOrders returns the caller's orders, newest first.
func (h *Handler) ListOrders(c *fiber.Ctx) error {
	user, err := requester(c)
	if err != nil {
		return h.fail(c, err)
	}

	limit := c.QueryInt("limit", 100)
	offset := c.QueryInt("offset", 0)
	if limit <= 0 || limit > 1000 || offset < 0 {
		return badRequest(c, "limit must be in 1..1000 and offset non-negative")
	}

	orders, err := h.exchange.ListOrders(c.Context(), &user.ID, limit, offset)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(orders)
}

// GetOrder returns one of the caller's orders by id.
func (h *Handler) GetOrder(c *fiber.Ctx) error {
	user, err := requester(c)
	if err != nil {
		return h.fail(c, err)
	}

	orderID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return badRequest(c, "Invalid order id")
	}

	order, err := h.exchange.GetOrder(c.Context(), orderID)
	if err != nil {
		return h.fail(c, err)
	}
	if order.UserID != user.ID && user.Role != models.RoleAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Order belongs to another user"})
	}
	return c.JSON(order)
}

// CancelOrder cancels one of the caller's orders and releases its
// remaining reservation.
func (h *Handler) CancelOrder(c *fiber.Ctx) error {
	user, err := requester(c)
	if err != nil {
		return h.fail(c, err)
	}

	orderID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return badRequest(c, "Invalid order id")
	}

	order, err := h.exchange.CancelOrder(c.Context(), orderID, user)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(order)
}
