package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/shopspring/decimal"

	"github.com/andrey-berenda/paysettle/internal/pkg/models"
)

const paymentColumns = `id, merchant_id, order_id, provider, provider_ref, status, amount::text, checkout_url, raw_payload, received_at, created_at`

const insertPayment = `
INSERT INTO payments (
	id,
	merchant_id,
	order_id,
	provider,
	provider_ref,
	status,
	amount,
	checkout_url,
	raw_payload,
	received_at
) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10);
`

const selectPaymentByID = `
SELECT ` + paymentColumns + `
FROM payments
WHERE id = $1;
`

const selectLatestPaymentByRef = `
SELECT ` + paymentColumns + `
FROM payments
WHERE provider = $1 AND provider_ref = $2
ORDER BY created_at DESC
LIMIT 1;
`

const selectLatestOpenPaymentByRef = `
SELECT ` + paymentColumns + `
FROM payments
WHERE provider = $1 AND provider_ref = $2 AND status = 'pending'
ORDER BY created_at DESC
LIMIT 1;
`

const selectPaymentsByOrder = `
SELECT ` + paymentColumns + `
FROM payments
WHERE merchant_id = $1 AND order_id = $2
ORDER BY created_at;
`

const transitionPayment = `
UPDATE payments
SET status = $2, raw_payload = COALESCE($3, raw_payload), received_at = COALESCE($4, received_at)
WHERE id = $1 AND status = 'pending';
`

func (s *Store) PaymentCreate(ctx context.Context, p models.Payment) error {
	_, err := s.conn.Exec(
		ctx,
		insertPayment,
		p.ID,
		p.MerchantID,
		p.OrderID,
		p.Provider,
		p.ProviderRef,
		p.Status,
		p.Amount.String(),
		p.CheckoutURL,
		nullableJSON(p.RawPayload),
		p.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("conn.Exec: %w", err)
	}
	return nil
}

// PaymentTransition moves a pending payment to status. Payments already in a
// terminal state are left untouched and false is returned.
func (s *Store) PaymentTransition(
	ctx context.Context,
	paymentID uuid.UUID,
	status models.PaymentStatus,
	payload json.RawMessage,
	receivedAt *time.Time,
) (bool, error) {
	result, err := s.conn.Exec(
		ctx,
		transitionPayment,
		paymentID,
		status,
		nullableJSON(payload),
		receivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("conn.Exec: %w", err)
	}
	if result.RowsAffected() == 1 {
		return true, nil
	}
	if _, err = s.PaymentGet(ctx, paymentID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) PaymentGet(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	return s.paymentQueryOne(ctx, selectPaymentByID, paymentID)
}

func (s *Store) PaymentLatestByRef(ctx context.Context, provider models.Provider, ref string) (*models.Payment, error) {
	return s.paymentQueryOne(ctx, selectLatestPaymentByRef, provider, ref)
}

func (s *Store) PaymentLatestOpenByRef(ctx context.Context, provider models.Provider, ref string) (*models.Payment, error) {
	return s.paymentQueryOne(ctx, selectLatestOpenPaymentByRef, provider, ref)
}

func (s *Store) PaymentsByOrder(ctx context.Context, merchantID string, orderID string) ([]models.Payment, error) {
	rows, err := s.conn.Query(ctx, selectPaymentsByOrder, merchantID, orderID)
	if err != nil {
		return nil, fmt.Errorf("conn.Query: %w", err)
	}
	defer rows.Close()

	var result []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) paymentQueryOne(ctx context.Context, query string, args ...interface{}) (*models.Payment, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conn.Query: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, ErrNotFound
	}
	p, err := scanPayment(rows)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPayment(rows pgx.Rows) (models.Payment, error) {
	p := models.Payment{}
	var (
		amount  string
		payload []byte
	)
	err := rows.Scan(
		&p.ID,
		&p.MerchantID,
		&p.OrderID,
		&p.Provider,
		&p.ProviderRef,
		&p.Status,
		&amount,
		&p.CheckoutURL,
		&payload,
		&p.ReceivedAt,
		&p.CreatedAt,
	)
	if err != nil {
		return p, fmt.Errorf("rows.Scan: %w", err)
	}
	if len(payload) > 0 {
		p.RawPayload = payload
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return p, fmt.Errorf("decimal.NewFromString(amount): %w", err)
	}
	return p, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
