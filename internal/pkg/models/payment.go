package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/andrey-berenda/paysettle/internal/pkg/money"
)

type Provider string

const (
	ProviderPayFast Provider = "payfast"
	ProviderYoco    Provider = "yoco"
	ProviderDemo    Provider = "demo-psp"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderPayFast, ProviderYoco, ProviderDemo:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusComplete  PaymentStatus = "complete"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusComplete || s == PaymentStatusFailed || s == PaymentStatusCancelled
}

type Payment struct {
	ID          uuid.UUID       `json:"id"`
	MerchantID  string          `json:"merchantId"`
	OrderID     string          `json:"orderId"`
	Provider    Provider        `json:"provider"`
	ProviderRef string          `json:"providerRef"`
	Status      PaymentStatus   `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	CheckoutURL string          `json:"checkoutUrl,omitempty"`
	RawPayload  json.RawMessage `json:"rawPayload,omitempty"`
	ReceivedAt  *time.Time      `json:"receivedAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Succeeded reports whether the record carries a success signal, either in its
// status or in the last provider payload stored with it.
func (p *Payment) Succeeded() bool {
	if p.Status == PaymentStatusComplete {
		return true
	}
	return PayloadStatus(p.Provider, p.RawPayload) == PaymentStatusComplete
}

// ProviderStatus maps a provider's status vocabulary onto PaymentStatus.
// Unknown values map to pending so they never settle an order.
func ProviderStatus(provider Provider, status string) PaymentStatus {
	s := strings.ToLower(strings.TrimSpace(status))
	switch provider {
	case ProviderPayFast:
		switch s {
		case "complete":
			return PaymentStatusComplete
		case "failed":
			return PaymentStatusFailed
		case "cancelled":
			return PaymentStatusCancelled
		}
	case ProviderYoco:
		switch s {
		case "succeeded", "successful", "completed", "complete":
			return PaymentStatusComplete
		case "failed":
			return PaymentStatusFailed
		case "cancelled", "canceled", "expired":
			return PaymentStatusCancelled
		}
	case ProviderDemo:
		switch s {
		case "success":
			return PaymentStatusComplete
		case "failure":
			return PaymentStatusFailed
		}
	}
	return PaymentStatusPending
}

// PayloadStatus reads the provider status out of a stored JSON payload.
func PayloadStatus(provider Provider, raw json.RawMessage) PaymentStatus {
	if len(raw) == 0 {
		return PaymentStatusPending
	}
	fields := map[string]interface{}{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return PaymentStatusPending
	}
	key := "status"
	if provider == ProviderPayFast {
		key = "payment_status"
	}
	s, _ := fields[key].(string)
	return ProviderStatus(provider, s)
}

func PaymentReference(merchantID, orderID string) string {
	return merchantID + "-" + orderID
}

// SplitPaymentReference splits m_payment_id on the first "-".
func SplitPaymentReference(ref string) (merchantID string, orderID string, ok bool) {
	merchantID, orderID, ok = strings.Cut(ref, "-")
	if !ok || merchantID == "" || orderID == "" {
		return "", "", false
	}
	return merchantID, orderID, true
}

// PayloadAmount reads the settled amount out of a stored provider payload.
// PayFast reports rand in amount_gross, Yoco reports cents in amount.
func PayloadAmount(provider Provider, raw json.RawMessage) (decimal.Decimal, bool) {
	if len(raw) == 0 {
		return decimal.Zero, false
	}
	switch provider {
	case ProviderPayFast:
		fields := struct {
			AmountGross string `json:"amount_gross"`
		}{}
		if err := json.Unmarshal(raw, &fields); err != nil || fields.AmountGross == "" {
			return decimal.Zero, false
		}
		amount, err := decimal.NewFromString(fields.AmountGross)
		if err != nil {
			return decimal.Zero, false
		}
		return amount, true
	case ProviderYoco:
		fields := struct {
			Amount int64 `json:"amount"`
		}{}
		if err := json.Unmarshal(raw, &fields); err != nil || fields.Amount <= 0 {
			return decimal.Zero, false
		}
		return money.FromCents(fields.Amount), true
	}
	return decimal.Zero, false
}

// Covers reports whether the payment settles total. The amount the provider
// reported wins over the amount the record was created with.
func (p *Payment) Covers(total decimal.Decimal) bool {
	amount, ok := PayloadAmount(p.Provider, p.RawPayload)
	if !ok {
		amount = p.Amount
	}
	return amount.GreaterThanOrEqual(total)
}
