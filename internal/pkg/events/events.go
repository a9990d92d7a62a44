// Package events carries the order-paid notification to downstream consumers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/andrey-berenda/paysettle/internal/pkg/models"
)

type Source string

const (
	SourceWebhook        Source = "webhook"
	SourceReconciliation Source = "reconciliation"
)

type OrderPaid struct {
	EventID    uuid.UUID       `json:"eventId"`
	MerchantID string          `json:"merchantId"`
	OrderID    string          `json:"orderId"`
	Provider   models.Provider `json:"provider"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Source     Source          `json:"source"`
	PaidAt     time.Time       `json:"paidAt"`
}

func NewOrderPaid(order models.Order, payment models.Payment, source Source, at time.Time) OrderPaid {
	return OrderPaid{
		EventID:    uuid.New(),
		MerchantID: order.MerchantID,
		OrderID:    order.ID,
		Provider:   payment.Provider,
		Amount:     order.Total,
		Currency:   order.Currency,
		Source:     source,
		PaidAt:     at,
	}
}

type Listener interface {
	OrderPaid(ctx context.Context, e OrderPaid) error
}

// Listeners fans an event out to every listener and joins their errors.
type Listeners []Listener

func (l Listeners) OrderPaid(ctx context.Context, e OrderPaid) error {
	var errs []error
	for _, listener := range l {
		if err := listener.OrderPaid(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
