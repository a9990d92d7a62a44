package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/andrey-berenda/paysettle/internal/pkg/models"
)

const upsertMerchant = `
INSERT INTO merchants (id, name, telegram_chat_id) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = $2, telegram_chat_id = $3
RETURNING id, name, telegram_chat_id;
`

const selectMerchant = `
SELECT id, name, telegram_chat_id
FROM merchants
WHERE id = $1;
`

const selectMerchantsWithUnpaidOrders = `
SELECT DISTINCT merchant_id
FROM orders
WHERE status <> 'paid'
ORDER BY merchant_id;
`

func (s *Store) MerchantUpsert(ctx context.Context, m models.Merchant) (*models.Merchant, error) {
	u := &models.Merchant{}
	err := s.conn.QueryRow(ctx, upsertMerchant, m.ID, m.Name, m.TelegramChatID).Scan(
		&u.ID,
		&u.Name,
		&u.TelegramChatID,
	)
	if err != nil {
		return nil, fmt.Errorf("conn.QueryRow: %w", err)
	}
	return u, nil
}

func (s *Store) MerchantGet(ctx context.Context, merchantID string) (*models.Merchant, error) {
	u := &models.Merchant{}
	err := s.conn.QueryRow(ctx, selectMerchant, merchantID).Scan(
		&u.ID,
		&u.Name,
		&u.TelegramChatID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conn.QueryRow: %w", err)
	}
	return u, nil
}

func (s *Store) MerchantsWithUnpaidOrders(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx, selectMerchantsWithUnpaidOrders)
	if err != nil {
		return nil, fmt.Errorf("conn.Query: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		result = append(result, id)
	}
	return result, rows.Err()
}
