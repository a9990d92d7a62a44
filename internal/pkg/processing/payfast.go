package processing

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/andrey-berenda/paysettle/internal/pkg/config"
	"github.com/andrey-berenda/paysettle/internal/pkg/models"
	"github.com/andrey-berenda/paysettle/internal/pkg/money"
	"github.com/andrey-berenda/paysettle/internal/pkg/payerr"
	"github.com/andrey-berenda/paysettle/internal/pkg/signature"
)

type payFastProcessor struct {
	store Store
	cfg   config.PayFastConfig
}

func NewPayFast(store Store, cfg config.PayFastConfig) Processor {
	return &payFastProcessor{
		store: store,
		cfg:   cfg,
	}
}

func (p *payFastProcessor) Provider() models.Provider {
	return models.ProviderPayFast
}

// CreatePayment builds the signed redirect to PayFast's hosted checkout. No
// request goes to PayFast until the customer follows the URL.
func (p *payFastProcessor) CreatePayment(ctx context.Context, req Request) (*Checkout, error) {
	if p.cfg.MerchantID == "" || p.cfg.MerchantKey == "" || p.cfg.ProcessURL == "" {
		return nil, payerr.Configuration("payfast merchant id, merchant key and process url are required")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	ref := models.PaymentReference(req.MerchantID, req.OrderID)
	fields := url.Values{}
	fields.Set("merchant_id", p.cfg.MerchantID)
	fields.Set("merchant_key", p.cfg.MerchantKey)
	fields.Set("return_url", p.cfg.ReturnURL)
	fields.Set("cancel_url", p.cfg.CancelURL)
	fields.Set("notify_url", p.cfg.NotifyURL)
	fields.Set("m_payment_id", ref)
	fields.Set("amount", money.Format(req.Amount))
	fields.Set("item_name", req.description())
	for k, v := range fields {
		if len(v) == 0 || v[0] == "" {
			delete(fields, k)
		}
	}
	fields.Set(signature.PayFastField, signature.PayFast(fields, p.cfg.Passphrase))

	checkoutURL := p.cfg.ProcessURL + "?" + fields.Encode()
	payment := models.Payment{
		ID:          uuid.New(),
		MerchantID:  req.MerchantID,
		OrderID:     req.OrderID,
		Provider:    models.ProviderPayFast,
		ProviderRef: ref,
		Status:      models.PaymentStatusPending,
		Amount:      req.Amount,
		CheckoutURL: checkoutURL,
	}
	if err := p.store.PaymentCreate(ctx, payment); err != nil {
		return nil, fmt.Errorf("store.PaymentCreate: %w", err)
	}

	return &Checkout{
		PaymentID:   payment.ID,
		Provider:    models.ProviderPayFast,
		ProviderRef: ref,
		URL:         checkoutURL,
	}, nil
}
