package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/shopspring/decimal"

	"github.com/andrey-berenda/paysettle/internal/pkg/models"
)

const orderColumns = `merchant_id, id, items, total::text, currency, status, reconciled_at, created_at, updated_at`

const orderCreate = `
INSERT INTO orders (merchant_id, id, items, total, currency, status)
VALUES ($1, $2, $3, $4::numeric, $5, $6)
ON CONFLICT (merchant_id, id) DO NOTHING
RETURNING ` + orderColumns + `;
`

const orderGet = `
SELECT ` + orderColumns + `
FROM orders
WHERE merchant_id = $1 AND id = $2;
`

const ordersUnpaid = `
SELECT ` + orderColumns + `
FROM orders
WHERE merchant_id = $1 AND status <> 'paid' AND (created_at, id) > ($2, $3)
ORDER BY created_at, id
LIMIT $4;
`

const orderMarkPaid = `
UPDATE orders
SET status = 'paid', reconciled_at = COALESCE($3, reconciled_at), updated_at = now()
WHERE merchant_id = $1 AND id = $2 AND status <> 'paid';
`

func (s *Store) OrderCreate(ctx context.Context, o models.Order) (*models.Order, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal(items): %w", err)
	}
	rows, err := s.conn.Query(
		ctx,
		orderCreate,
		o.MerchantID,
		o.ID,
		items,
		o.Total.String(),
		o.Currency,
		o.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("conn.Query: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err = rows.Err(); err != nil {
			return nil, fmt.Errorf("rows.Next: %w", err)
		}
		return nil, ErrConflict
	}
	return scanOrder(rows)
}

func (s *Store) OrderGet(ctx context.Context, merchantID string, orderID string) (*models.Order, error) {
	rows, err := s.conn.Query(ctx, orderGet, merchantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("conn.Query: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanOrder(rows)
}

// OrdersUnpaid returns up to limit unpaid orders positioned strictly after the
// cursor.
func (s *Store) OrdersUnpaid(ctx context.Context, merchantID string, after models.OrderCursor, limit int) ([]models.Order, error) {
	rows, err := s.conn.Query(ctx, ordersUnpaid, merchantID, after.CreatedAt, after.OrderID, limit)
	if err != nil {
		return nil, fmt.Errorf("conn.Query: %w", err)
	}
	defer rows.Close()

	var result []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

// OrderMarkPaid moves the order to paid. It reports false when the order was
// already paid.
func (s *Store) OrderMarkPaid(ctx context.Context, merchantID string, orderID string, reconciledAt *time.Time) (bool, error) {
	result, err := s.conn.Exec(ctx, orderMarkPaid, merchantID, orderID, reconciledAt)
	if err != nil {
		return false, fmt.Errorf("conn.Exec: %w", err)
	}
	if result.RowsAffected() == 1 {
		return true, nil
	}
	if _, err = s.OrderGet(ctx, merchantID, orderID); err != nil {
		return false, err
	}
	return false, nil
}

func scanOrder(rows pgx.Rows) (*models.Order, error) {
	o := &models.Order{}
	var (
		items []byte
		total string
	)
	err := rows.Scan(
		&o.MerchantID,
		&o.ID,
		&items,
		&total,
		&o.Currency,
		&o.Status,
		&o.ReconciledAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("rows.Scan: %w", err)
	}
	if err = json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("json.Unmarshal(items): %w", err)
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("decimal.NewFromString(total): %w", err)
	}
	return o, nil
}

