// internal/database/sale.go
package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SaleRecorder is the persistence sink for auction outcomes. The session
// calls it fire-and-forget; errors here are logged by the caller and never
// fed back into the state machine.
type SaleRecorder struct {
	Pool *pgxpool.Pool
}

func NewSaleRecorder(pool *pgxpool.Pool) *SaleRecorder {
	return &SaleRecorder{Pool: pool}
}

// RecordSale appends one historical sale row.
func (r *SaleRecorder) RecordSale(ctx context.Context, itemID, winnerID string, price int64) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO sales (player_id, team_id, price, sold_at)
		VALUES ($1, $2, $3, now())
	`, itemID, winnerID, price)
	if err != nil {
		return fmt.Errorf("record sale of %s: %w", itemID, err)
	}
	return nil
}

// RecordBudget upserts a team's remaining budget.
func (r *SaleRecorder) RecordBudget(ctx context.Context, teamID string, newBudget int64) error {
	_, err := r.Pool.Exec(ctx, `
		INSERT INTO team_budgets (team_id, budget, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (team_id) DO UPDATE SET budget = $2, updated_at = now()
	`, teamID, newBudget)
	if err != nil {
		return fmt.Errorf("record budget for %s: %w", teamID, err)
	}
	return nil
}
