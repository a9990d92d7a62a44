package storage

import (
	"context"
	"fmt"

	"github.com/andrey-berenda/paysettle/internal/pkg/models"
)

const insertWebhookEvent = `
INSERT INTO webhook_events (id, provider, event_id, payload, verified, error, received_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`

const claimWebhook = `
INSERT INTO processed_webhooks (provider, event_id) VALUES ($1, $2)
ON CONFLICT (provider, event_id) DO NOTHING;
`

const releaseWebhook = `
DELETE FROM processed_webhooks WHERE provider = $1 AND event_id = $2;
`

func (s *Store) WebhookEventCreate(ctx context.Context, e models.WebhookEvent) error {
	_, err := s.conn.Exec(
		ctx,
		insertWebhookEvent,
		e.ID,
		e.Provider,
		e.EventID,
		e.Payload,
		e.Verified,
		e.Error,
		e.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("conn.Exec: %w", err)
	}
	return nil
}

// WebhookClaim records (provider, eventID) as processed. It returns false when
// another delivery already claimed it.
func (s *Store) WebhookClaim(ctx context.Context, provider models.Provider, eventID string) (bool, error) {
	result, err := s.conn.Exec(ctx, claimWebhook, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("conn.Exec: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// WebhookRelease drops a claim so a redelivery of the event is applied again.
func (s *Store) WebhookRelease(ctx context.Context, provider models.Provider, eventID string) error {
	_, err := s.conn.Exec(ctx, releaseWebhook, provider, eventID)
	if err != nil {
		return fmt.Errorf("conn.Exec: %w", err)
	}
	return nil
}
