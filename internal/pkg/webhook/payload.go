package webhook

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/andrey-berenda/paysettle/internal/pkg/models"
	"github.com/andrey-berenda/paysettle/internal/pkg/money"
	"github.com/andrey-berenda/paysettle/internal/pkg/payerr"
)

// Payload is a parsed provider callback. The set of implementations is closed:
// PayFastPayload and YocoPayload.
type Payload interface {
	Provider() models.Provider
	// EventID identifies one delivery of one provider event for deduplication.
	EventID() string
	Status() models.PaymentStatus
	Amount() (decimal.Decimal, bool)
	// JSON is the payload as stored on the payment record.
	JSON() json.RawMessage

	sealed()
}

type PayFastPayload struct {
	Fields        url.Values
	MPaymentID    string
	PFPaymentID   string
	PaymentStatus string
	MerchantID    string
	OrderID       string
}

// ParsePayFast reads a form-encoded ITN body. m_payment_id must be
// "{merchantId}-{orderId}" and payment_status must be present.
func ParsePayFast(body []byte) (*PayFastPayload, error) {
	fields, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, payerr.Invalid("payfast body: %v", err)
	}
	p := &PayFastPayload{
		Fields:        fields,
		MPaymentID:    strings.TrimSpace(fields.Get("m_payment_id")),
		PFPaymentID:   strings.TrimSpace(fields.Get("pf_payment_id")),
		PaymentStatus: strings.TrimSpace(fields.Get("payment_status")),
	}
	if p.PaymentStatus == "" {
		return nil, payerr.Invalid("payfast payment_status is missing")
	}
	var ok bool
	p.MerchantID, p.OrderID, ok = models.SplitPaymentReference(p.MPaymentID)
	if !ok {
		return nil, payerr.Invalid("payfast m_payment_id %q is not merchant-order", p.MPaymentID)
	}
	return p, nil
}

func (p *PayFastPayload) Provider() models.Provider {
	return models.ProviderPayFast
}

func (p *PayFastPayload) EventID() string {
	id := p.PFPaymentID
	if id == "" {
		id = p.MPaymentID
	}
	return id + ":" + strings.ToUpper(p.PaymentStatus)
}

func (p *PayFastPayload) Status() models.PaymentStatus {
	return models.ProviderStatus(models.ProviderPayFast, p.PaymentStatus)
}

func (p *PayFastPayload) Amount() (decimal.Decimal, bool) {
	amount, err := decimal.NewFromString(p.Fields.Get("amount_gross"))
	if err != nil {
		return decimal.Zero, false
	}
	return amount, true
}

func (p *PayFastPayload) JSON() json.RawMessage {
	flat := make(map[string]string, len(p.Fields))
	for k := range p.Fields {
		flat[k] = p.Fields.Get(k)
	}
	data, _ := json.Marshal(flat)
	return data
}

func (*PayFastPayload) sealed() {}

type YocoPayload struct {
	ID          string `json:"id"`
	PaymentID   string `json:"payment_id"`
	AmountCents int64  `json:"amount"`
	Currency    string `json:"currency"`
	RawStatus   string `json:"status"`
	Reference   string `json:"reference"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`

	raw        []byte
	deliveryID string
}

// ParseYoco reads a JSON webhook body. deliveryID is the provider's delivery
// header, if any.
func ParseYoco(body []byte, deliveryID string) (*YocoPayload, error) {
	p := &YocoPayload{}
	if err := json.Unmarshal(body, p); err != nil {
		return nil, payerr.Invalid("yoco body: %v", err)
	}
	if p.ID == "" && p.PaymentID == "" {
		return nil, payerr.Invalid("yoco id is missing")
	}
	if p.RawStatus == "" {
		return nil, payerr.Invalid("yoco status is missing")
	}
	p.raw = append([]byte(nil), body...)
	p.deliveryID = strings.TrimSpace(deliveryID)
	return p, nil
}

// References lists the identifiers a stored payment may be keyed by.
func (p *YocoPayload) References() []string {
	var refs []string
	for _, ref := range []string{p.ID, p.PaymentID} {
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

func (p *YocoPayload) Provider() models.Provider {
	return models.ProviderYoco
}

func (p *YocoPayload) EventID() string {
	if p.deliveryID != "" {
		return p.deliveryID
	}
	return p.References()[0] + ":" + strings.ToLower(p.RawStatus)
}

func (p *YocoPayload) Status() models.PaymentStatus {
	return models.ProviderStatus(models.ProviderYoco, p.RawStatus)
}

// Amount converts Yoco's minor units back to rand.
func (p *YocoPayload) Amount() (decimal.Decimal, bool) {
	if p.AmountCents <= 0 {
		return decimal.Zero, false
	}
	return money.FromCents(p.AmountCents), true
}

func (p *YocoPayload) JSON() json.RawMessage {
	return p.raw
}

func (*YocoPayload) sealed() {}
