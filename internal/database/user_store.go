package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/user/miniexchange/internal/apperr"
	"github.com/user/miniexchange/internal/models"
)

// CreateUser inserts a new user with the given bcrypt hash and role.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string, role models.UserRole) (*models.User, error) {
	user := &models.User{
		Username: username,
		Password: passwordHash,
		Role:     role,
	}
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, role) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		username, passwordHash, role).
		Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, apperr.New(apperr.CodeInvalidInput, "username %q already taken", username)
		}
		return nil, apperr.Internal(err, "create user")
	}
	return user, nil
}

// GetUserByUsername retrieves a user by name, or nil if absent. Soft-deleted
// users are included; callers decide whether they may authenticate.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := s.Pool.QueryRow(ctx,
		`SELECT id, username, password_hash, role, deleted, created_at
		 FROM users WHERE username = $1`,
		username).
		Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.Deleted, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Internal(err, "get user by username")
	}
	return user, nil
}

// GetUserByID retrieves a user by id, or nil if absent.
func (s *Store) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := s.Pool.QueryRow(ctx,
		`SELECT id, username, password_hash, role, deleted, created_at
		 FROM users WHERE id = $1`,
		userID).
		Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.Deleted, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Internal(err, "get user by id")
	}
	return user, nil
}

// SoftDeleteUser flags the account; balances, orders and history survive.
func (s *Store) SoftDeleteUser(ctx context.Context, userID uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE users SET deleted = TRUE WHERE id = $1 AND NOT deleted`, userID)
	if err != nil {
		return apperr.Internal(err, "soft delete user")
	}
	if tag.RowsAffected() != 1 {
		return apperr.New(apperr.CodeNotFound, "user %s not found", userID)
	}
	return nil
}
