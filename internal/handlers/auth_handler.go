package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/user/miniexchange/internal/apperr"
	"github.com/user/miniexchange/internal/auth"
	"github.com/user/miniexchange/internal/models"
)

// SignupRequest defines the expected JSON body for signup
type SignupRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

// LoginRequest defines the expected JSON body for login
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse defines the JSON response for successful auth
type AuthResponse struct {
	Token    string       `json:"token"`
	User     *models.User `json:"user"`
	IssuedAt time.Time    `json:"issued_at"`
}

// Signup handles user registration.
func (h *Handler) Signup(c *fiber.Ctx) error {
	req := new(SignupRequest)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "Cannot parse request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, "Username must be 3-64 characters and password 6-128 characters")
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		return h.fail(c, apperr.Internal(err, "hash password"))
	}

	user, err := h.store.CreateUser(c.Context(), req.Username, hashedPassword, models.RoleUser)
	if err != nil {
		if apperr.Is(err, apperr.CodeInvalidInput) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Username already taken"})
		}
		return h.fail(c, err)
	}

	token, err := h.tokens.Generate(user)
	if err != nil {
		return h.fail(c, apperr.Internal(err, "generate token"))
	}

	return c.Status(fiber.StatusCreated).JSON(AuthResponse{
		Token:    token,
		User:     user,
		IssuedAt: time.Now(),
	})
}

// Login handles user authentication. Soft-deleted users cannot log in.
func (h *Handler) Login(c *fiber.Ctx) error {
	req := new(LoginRequest)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "Cannot parse request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, "Username and password cannot be empty")
	}

	user, err := h.store.GetUserByUsername(c.Context(), req.Username)
	if err != nil {
		return h.fail(c, err)
	}
	if user == nil || user.Deleted || !auth.CheckPasswordHash(req.Password, user.Password) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid username or password"})
	}

	token, err := h.tokens.Generate(user)
	if err != nil {
		return h.fail(c, apperr.Internal(err, "generate token"))
	}

	return c.JSON(AuthResponse{
		Token:    token,
		User:     user,
		IssuedAt: time.Now(),
	})
}

// Me returns the authenticated caller's identity.
func (h *Handler) Me(c *fiber.Ctx) error {
	user, err := requester(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(user)
}

// DeleteUser soft-deletes a user account. Admin only. Balances and order
// history are retained; the account can no longer authenticate.
func (h *Handler) DeleteUser(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid user id")
	}

	user, err := h.store.GetUserByID(c.Context(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	if user == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	}

	if err := h.store.SoftDeleteUser(c.Context(), userID); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(user)
}
