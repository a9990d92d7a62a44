package processing

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/andrey-berenda/paysettle/internal/pkg/models"
	"github.com/andrey-berenda/paysettle/internal/pkg/payerr"
)

type Processor interface {
	Provider() models.Provider
	CreatePayment(ctx context.Context, req Request) (*Checkout, error)
}

type Store interface {
	PaymentCreate(ctx context.Context, p models.Payment) error
}

type Request struct {
	MerchantID  string
	OrderID     string
	Amount      decimal.Decimal
	Description string
}

type Checkout struct {
	PaymentID   uuid.UUID
	Provider    models.Provider
	ProviderRef string
	URL         string
}

func (r Request) validate() error {
	if r.MerchantID == "" || r.OrderID == "" {
		return payerr.Invalid("merchantId and orderId are required")
	}
	// m_payment_id is split on the first "-", so the merchant part must not contain one.
	if strings.Contains(r.MerchantID, "-") {
		return payerr.Invalid("merchantId %q must not contain '-'", r.MerchantID)
	}
	if !r.Amount.IsPositive() {
		return payerr.Invalid("amount must be positive")
	}
	return nil
}

func (r Request) description() string {
	if r.Description != "" {
		return r.Description
	}
	return "Order " + r.OrderID
}
