package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/andrey-berenda/paysettle/internal/pkg/models"
)

const selectSweepCursor = `
SELECT created_at, order_id
FROM sweep_cursors
WHERE merchant_id = $1;
`

const upsertSweepCursor = `
INSERT INTO sweep_cursors (merchant_id, created_at, order_id) VALUES ($1, $2, $3)
ON CONFLICT (merchant_id) DO UPDATE SET created_at = $2, order_id = $3, updated_at = now();
`

const deleteSweepCursor = `
DELETE FROM sweep_cursors
WHERE merchant_id = $1;
`

// SweepCursor returns where the last sweep stopped for the merchant. A merchant
// that was never swept gets the zero cursor.
func (s *Store) SweepCursor(ctx context.Context, merchantID string) (models.OrderCursor, error) {
	var c models.OrderCursor
	err := s.conn.QueryRow(ctx, selectSweepCursor, merchantID).Scan(&c.CreatedAt, &c.OrderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.OrderCursor{}, nil
	}
	if err != nil {
		return models.OrderCursor{}, fmt.Errorf("conn.QueryRow: %w", err)
	}
	return c, nil
}

// SweepCursorSave stores the cursor. Saving the zero cursor rewinds the merchant
// to its oldest unpaid order.
func (s *Store) SweepCursorSave(ctx context.Context, merchantID string, c models.OrderCursor) error {
	var err error
	if c.IsZero() {
		_, err = s.conn.Exec(ctx, deleteSweepCursor, merchantID)
	} else {
		_, err = s.conn.Exec(ctx, upsertSweepCursor, merchantID, c.CreatedAt, c.OrderID)
	}
	if err != nil {
		return fmt.Errorf("conn.Exec: %w", err)
	}
	return nil
}
