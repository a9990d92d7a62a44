package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type LineItem struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

type Order struct {
	ID           string          `json:"id"`
	MerchantID   string          `json:"merchantId"`
	Items        []LineItem      `json:"items"`
	Total        decimal.Decimal `json:"total"`
	Currency     string          `json:"currency"`
	Status       OrderStatus     `json:"status"`
	ReconciledAt *time.Time      `json:"reconciledAt,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// ItemsTotal sums unit price times quantity over the line items.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

// PaymentReference is the composite m_payment_id sent to PayFast.
func (o *Order) PaymentReference() string {
	return PaymentReference(o.MerchantID, o.ID)
}

func (o *Order) String() string {
	return fmt.Sprintf("%s/%s", o.MerchantID, o.ID)
}

// OrderCursor marks a position in the (created_at, id) ordering of a
// merchant's orders. The zero value points before the first order.
type OrderCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	OrderID   string    `json:"orderId"`
}

func (c OrderCursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.OrderID == ""
}

// CursorAt returns the cursor positioned on the given order.
func CursorAt(o Order) OrderCursor {
	return OrderCursor{CreatedAt: o.CreatedAt, OrderID: o.ID}
}
