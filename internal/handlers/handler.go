// Package handlers contains the HTTP layer: request parsing, validation,
// identity extraction and translation of domain failures into status codes.
// No business logic lives here.
package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/user/miniexchange/internal/apperr"
	"github.com/user/miniexchange/internal/auth"
	"github.com/user/miniexchange/internal/database"
	"github.com/user/miniexchange/internal/exchange"
	"github.com/user/miniexchange/internal/models"
)

type Handler struct {
	store    *database.Store
	exchange *exchange.Exchange
	tokens   *auth.Tokens
	validate *validator.Validate
	log      *logrus.Logger
}

func New(store *database.Store, ex *exchange.Exchange, tokens *auth.Tokens, log *logrus.Logger) *Handler {
	return &Handler{
		store:    store,
		exchange: ex,
		tokens:   tokens,
		validate: validator.New(),
		log:      log,
	}
}

// fail translates a domain error into an HTTP response. Internal failures
// are logged with detail but reported generically.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status := apperr.HTTPStatus(err)
	if status == fiber.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.Path()).Error("request failed")
		return c.Status(status).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// requester rebuilds the caller's identity from the token claims stored by
// the auth middleware.
func requester(c *fiber.Ctx) (*models.User, error) {
	userID, ok := c.Locals("userID").(uuid.UUID)
	username, ok2 := c.Locals("username").(string)
	role, ok3 := c.Locals("role").(models.UserRole)
	if !ok || !ok2 || !ok3 {
		return nil, apperr.New(apperr.CodeInternal, "missing identity in request context")
	}
	return &models.User{ID: userID, Username: username, Role: role}, nil
}

// Health reports liveness.
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
