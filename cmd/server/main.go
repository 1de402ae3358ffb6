package main

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/user/miniexchange/internal/auth"
	"github.com/user/miniexchange/internal/config"
	"github.com/user/miniexchange/internal/database"
	"github.com/user/miniexchange/internal/exchange"
	"github.com/user/miniexchange/internal/handlers"
	"github.com/user/miniexchange/internal/middleware"
	"github.com/user/miniexchange/internal/models"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := database.New(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer store.Close()

	if err := store.InitSchema(ctx, "migrations/001_init.sql"); err != nil {
		log.WithError(err).Fatal("failed to apply schema")
	}

	if err := bootstrapAdmin(ctx, store, cfg, log); err != nil {
		log.WithError(err).Fatal("failed to bootstrap admin user")
	}

	tokens := auth.NewTokens(cfg.JWTSecret)
	ex := exchange.New(store, log, cfg.QuoteTicker)
	h := handlers.New(store, ex, tokens, log)

	app := fiber.New()
	registerRoutes(app, h, tokens)

	log.WithField("addr", cfg.ListenAddr).Info("starting server")
	if err := app.Listen(cfg.ListenAddr); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func registerRoutes(app *fiber.App, h *handlers.Handler, tokens *auth.Tokens) {
	api := app.Group("/api/v1")

	// Public
	api.Get("/health", h.Health)
	api.Post("/public/register", h.Signup)
	api.Post("/public/login", h.Login)
	api.Get("/public/instrument", h.ListInstruments)
	api.Get("/public/orderbook/:ticker", h.GetOrderbook)
	api.Get("/public/transactions/:ticker", h.GetTransactions)

	// Authenticated
	api.Use(middleware.Protected(tokens))
	api.Get("/me", h.Me)
	api.Get("/balance", h.GetBalances)
	api.Post("/order", h.CreateOrder)
	api.Get("/order", h.ListOrders)
	api.Get("/order/:id", h.GetOrder)
	api.Delete("/order/:id", h.CancelOrder)

	// Admin
	admin := api.Group("/admin", middleware.AdminOnly())
	admin.Delete("/user/:id", h.DeleteUser)
	admin.Post("/instrument", h.CreateInstrument)
	admin.Delete("/instrument/:ticker", h.DeleteInstrument)
	admin.Post("/balance/deposit", h.Deposit)
	admin.Post("/balance/withdraw", h.Withdraw)
}

// bootstrapAdmin creates the initial admin account from the environment on
// first start. Does nothing if the account already exists or no credentials
// are configured.
func bootstrapAdmin(ctx context.Context, store *database.Store, cfg *config.Config, log *logrus.Logger) error {
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		log.Warn("no admin credentials configured, skipping admin bootstrap")
		return nil
	}

	existing, err := store.GetUserByUsername(ctx, cfg.AdminUsername)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}
	if _, err := store.CreateUser(ctx, cfg.AdminUsername, hash, models.RoleAdmin); err != nil {
		return err
	}
	log.WithField("username", cfg.AdminUsername).Info("admin user created")
	return nil
}
