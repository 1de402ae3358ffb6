package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/user/miniexchange/internal/apperr"
	"github.com/user/miniexchange/internal/models"
)

// ListInstruments returns the full catalog ordered by ticker.
func (s *Store) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT ticker, name, created_at FROM instruments ORDER BY ticker`)
	if err != nil {
		return nil, apperr.Internal(err, "query instruments")
	}
	defer rows.Close()

	instruments := make([]models.Instrument, 0)
	for rows.Next() {
		var in models.Instrument
		if err := rows.Scan(&in.Ticker, &in.Name, &in.CreatedAt); err != nil {
			return nil, apperr.Internal(err, "scan instrument row")
		}
		instruments = append(instruments, in)
	}
	if rows.Err() != nil {
		return nil, apperr.Internal(rows.Err(), "iterate instrument rows")
	}
	return instruments, nil
}

// GetInstrument retrieves one instrument by ticker, or nil if absent.
func (s *Store) GetInstrument(ctx context.Context, ticker string) (*models.Instrument, error) {
	in := &models.Instrument{}
	err := s.Pool.QueryRow(ctx,
		`SELECT ticker, name, created_at FROM instruments WHERE ticker = $1`, ticker).
		Scan(&in.Ticker, &in.Name, &in.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Internal(err, "get instrument")
	}
	return in, nil
}

// CreateInstrument adds a ticker to the catalog. Duplicates are rejected.
func (s *Store) CreateInstrument(ctx context.Context, in *models.Instrument) error {
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO instruments (ticker, name) VALUES ($1, $2) RETURNING created_at`,
		in.Ticker, in.Name).Scan(&in.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.New(apperr.CodeInvalidInput, "instrument %s already exists", in.Ticker)
		}
		return apperr.Internal(err, "create instrument")
	}
	return nil
}

// DeleteInstrument removes a ticker. Dependent balances, orders and
// transactions cascade away with it, per catalog policy.
func (s *Store) DeleteInstrument(ctx context.Context, ticker string) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM instruments WHERE ticker = $1`, ticker)
	if err != nil {
		return apperr.Internal(err, "delete instrument")
	}
	if tag.RowsAffected() != 1 {
		return apperr.New(apperr.CodeNotFound, "instrument %s not found", ticker)
	}
	return nil
}
