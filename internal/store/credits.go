package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetCreditBalance returns the organisation's current credit balance.
func (s *Store) GetCreditBalance(ctx context.Context, organisationID string) (float64, error) {
	var balance float64
	err := s.pool.QueryRow(ctx, `
		SELECT credit_balance FROM organisation_credit_balance WHERE organisation_id = $1
	`, organisationID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("credit balance for %s: %w", organisationID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("read credit balance: %w", err)
	}
	return balance, nil
}
