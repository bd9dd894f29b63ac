package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rewired-gh/boxoracle/internal/models"
)

// AddCalculation records a calculation and trims the pack's history to maxHistory entries.
func (s *Storage) AddCalculation(ctx context.Context, calc *models.Calculation) error {
	breakdownJSON, err := json.Marshal(calc.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal breakdown: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	r := calc.Result
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO calculations
			(id, pack_id, user_id, method, expected_value, profit_probability, box_price,
			 total_cards, prices_entered, std_dev, breakdown, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`),
		calc.ID, calc.PackID, calc.UserID, calc.Method,
		r.ExpectedValue, r.ProfitProbability, r.BoxPrice, r.TotalCards, r.PricesEntered,
		calc.StdDev, string(breakdownJSON), calc.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert calculation: %w", err)
	}

	if _, err = tx.ExecContext(ctx, s.rebind(`
		DELETE FROM calculations WHERE pack_id = ? AND id NOT IN (
			SELECT id FROM calculations WHERE pack_id = ? ORDER BY created_at DESC LIMIT ?
		)`), calc.PackID, calc.PackID, s.maxHistory); err != nil {
		return fmt.Errorf("failed to enforce history cap: %w", err)
	}

	return tx.Commit()
}

// ListCalculations returns the newest calculations of a pack, newest first.
func (s *Storage) ListCalculations(ctx context.Context, packID string, limit int) ([]models.Calculation, error) {
	rows, err := s.query(ctx, `
		SELECT id, pack_id, user_id, method, expected_value, profit_probability, box_price,
		       total_cards, prices_entered, std_dev, breakdown, created_at
		FROM calculations WHERE pack_id = ? ORDER BY created_at DESC LIMIT ?`, packID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query calculations: %w", err)
	}
	defer rows.Close()

	calcs := []models.Calculation{}
	for rows.Next() {
		var c models.Calculation
		var breakdownJSON string
		var createdAtNano int64

		err := rows.Scan(
			&c.ID, &c.PackID, &c.UserID, &c.Method,
			&c.Result.ExpectedValue, &c.Result.ProfitProbability, &c.Result.BoxPrice,
			&c.Result.TotalCards, &c.Result.PricesEntered, &c.StdDev,
			&breakdownJSON, &createdAtNano,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan calculation: %w", err)
		}
		if err := json.Unmarshal([]byte(breakdownJSON), &c.Breakdown); err != nil {
			return nil, fmt.Errorf("failed to unmarshal breakdown: %w", err)
		}
		c.CreatedAt = time.Unix(0, createdAtNano)
		calcs = append(calcs, c)
	}
	return calcs, rows.Err()
}

// RotateCalculations drops history older than maxAge across all packs.
func (s *Storage) RotateCalculations(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixNano()
	res, err := s.exec(ctx, `DELETE FROM calculations WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to rotate calculations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
