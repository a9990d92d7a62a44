package storage

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andrey-berenda/paysettle/internal/pkg/models"
)

// newTestStore connects to TEST_DATABASE_URL; the tests are skipped without it.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	ctx := context.Background()
	s, err := New(ctx, url, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestStoreSettlementFlow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	merchantID := "m" + uuid.NewString()[:8]
	order, err := s.OrderCreate(ctx, models.Order{
		ID:         "ORD-1",
		MerchantID: merchantID,
		Items: []models.LineItem{
			{Name: "Vetkoek", UnitPrice: decimal.RequireFromString("25.00"), Quantity: 6},
		},
		Total:    decimal.RequireFromString("150.00"),
		Currency: "ZAR",
		Status:   models.OrderStatusPending,
	})
	require.NoError(t, err)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("150")))
	require.Len(t, order.Items, 1)

	_, err = s.OrderCreate(ctx, *order)
	assert.ErrorIs(t, err, ErrConflict)

	payment := models.Payment{
		ID:          uuid.New(),
		MerchantID:  merchantID,
		OrderID:     "ORD-1",
		Provider:    models.ProviderPayFast,
		ProviderRef: models.PaymentReference(merchantID, "ORD-1"),
		Status:      models.PaymentStatusPending,
		Amount:      order.Total,
	}
	require.NoError(t, s.PaymentCreate(ctx, payment))

	open, err := s.PaymentLatestOpenByRef(ctx, models.ProviderPayFast, payment.ProviderRef)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, open.ID)

	now := time.Now().UTC()
	ok, err := s.PaymentTransition(ctx, payment.ID, models.PaymentStatusComplete, json.RawMessage(`{"payment_status":"COMPLETE"}`), &now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.PaymentTransition(ctx, payment.ID, models.PaymentStatusFailed, nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	unpaid, err := s.OrdersUnpaid(ctx, merchantID, models.OrderCursor{}, 50)
	require.NoError(t, err)
	require.Len(t, unpaid, 1)

	unpaid, err = s.OrdersUnpaid(ctx, merchantID, models.CursorAt(unpaid[0]), 50)
	require.NoError(t, err)
	assert.Empty(t, unpaid)

	changed, err := s.OrderMarkPaid(ctx, merchantID, "ORD-1", &now)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.OrderMarkPaid(ctx, merchantID, "ORD-1", &now)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.OrderMarkPaid(ctx, merchantID, "ORD-404", nil)
	assert.ErrorIs(t, err, ErrNotFound)

	payments, err := s.PaymentsByOrder(ctx, merchantID, "ORD-1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.True(t, payments[0].Succeeded())
}

func TestStoreWebhookClaim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	eventID := uuid.NewString()
	require.NoError(t, s.WebhookEventCreate(ctx, models.WebhookEvent{
		ID:         uuid.New(),
		Provider:   models.ProviderYoco,
		EventID:    eventID,
		Payload:    []byte(`{}`),
		ReceivedAt: time.Now(),
	}))

	ok, err := s.WebhookClaim(ctx, models.ProviderYoco, eventID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.WebhookClaim(ctx, models.ProviderYoco, eventID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.WebhookRelease(ctx, models.ProviderYoco, eventID))
	ok, err = s.WebhookClaim(ctx, models.ProviderYoco, eventID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoreSweepCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	merchantID := "m" + uuid.NewString()[:8]

	cursor, err := s.SweepCursor(ctx, merchantID)
	require.NoError(t, err)
	assert.True(t, cursor.IsZero())

	saved := models.OrderCursor{CreatedAt: time.Date(2026, 10, 1, 3, 15, 0, 0, time.UTC), OrderID: "ORD-9"}
	require.NoError(t, s.SweepCursorSave(ctx, merchantID, saved))
	cursor, err = s.SweepCursor(ctx, merchantID)
	require.NoError(t, err)
	assert.True(t, saved.CreatedAt.Equal(cursor.CreatedAt))
	assert.Equal(t, "ORD-9", cursor.OrderID)

	require.NoError(t, s.SweepCursorSave(ctx, merchantID, models.OrderCursor{}))
	cursor, err = s.SweepCursor(ctx, merchantID)
	require.NoError(t, err)
	assert.True(t, cursor.IsZero())
}
