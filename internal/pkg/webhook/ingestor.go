// Package webhook verifies provider callbacks and applies them to payments and orders.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andrey-berenda/paysettle/internal/pkg/config"
	"github.com/andrey-berenda/paysettle/internal/pkg/events"
	"github.com/andrey-berenda/paysettle/internal/pkg/log"
	"github.com/andrey-berenda/paysettle/internal/pkg/metrics"
	"github.com/andrey-berenda/paysettle/internal/pkg/models"
	"github.com/andrey-berenda/paysettle/internal/pkg/payerr"
	"github.com/andrey-berenda/paysettle/internal/pkg/signature"
)

type Store interface {
	WebhookEventCreate(ctx context.Context, e models.WebhookEvent) error
	WebhookClaim(ctx context.Context, provider models.Provider, eventID string) (bool, error)
	WebhookRelease(ctx context.Context, provider models.Provider, eventID string) error
	OrderGet(ctx context.Context, merchantID string, orderID string) (*models.Order, error)
	OrderMarkPaid(ctx context.Context, merchantID string, orderID string, reconciledAt *time.Time) (bool, error)
	PaymentLatestByRef(ctx context.Context, provider models.Provider, ref string) (*models.Payment, error)
	PaymentLatestOpenByRef(ctx context.Context, provider models.Provider, ref string) (*models.Payment, error)
	PaymentCreate(ctx context.Context, p models.Payment) error
	PaymentTransition(
		ctx context.Context,
		paymentID uuid.UUID,
		status models.PaymentStatus,
		payload json.RawMessage,
		receivedAt *time.Time,
	) (bool, error)
}

// Delivery is one HTTP callback as received.
type Delivery struct {
	Provider  models.Provider
	Body      []byte
	Signature string
	// EventID is the provider's delivery id header, when it sends one.
	EventID string
}

type Result struct {
	Provider   models.Provider
	EventID    string
	Verified   bool
	Duplicate  bool
	MerchantID string
	OrderID    string
	Status     models.PaymentStatus
	OrderPaid  bool
	// Underpaid is set when a success was recorded for less than the order
	// total.
	Underpaid  bool
}

type Ingestor struct {
	store    Store
	payfast  config.PayFastConfig
	yoco     config.YocoConfig
	listener events.Listener
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func New(
	store Store,
	payfast config.PayFastConfig,
	yoco config.YocoConfig,
	listener events.Listener,
	m *metrics.Metrics,
	logger *zap.SugaredLogger,
) *Ingestor {
	return &Ingestor{
		store:    store,
		payfast:  payfast,
		yoco:     yoco,
		listener: listener,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Ingest parses, verifies, records and applies a delivery. Every delivery is
// appended to the audit log whatever the outcome. Unverified deliveries return
// payerr.ErrVerification and change nothing else. A delivery whose event was
// already applied returns a Result with Duplicate set.
func (i *Ingestor) Ingest(ctx context.Context, d Delivery) (*Result, error) {
	receivedAt := i.now()
	payload, err := parse(d)
	if err != nil {
		i.audit(ctx, d, "", false, err, receivedAt)
		i.metrics.Webhook(d.Provider, "invalid")
		return nil, err
	}

	result := &Result{
		Provider: payload.Provider(),
		EventID:  payload.EventID(),
		Status:   payload.Status(),
	}

	verified, err := i.verify(d, payload)
	if err != nil {
		i.audit(ctx, d, result.EventID, false, err, receivedAt)
		i.metrics.Webhook(d.Provider, "error")
		return nil, err
	}
	if !verified {
		i.audit(ctx, d, result.EventID, false, payerr.ErrVerification, receivedAt)
		i.metrics.Webhook(d.Provider, "unverified")
		i.logger.Warnw("webhook signature mismatch", log.Provider(d.Provider), zap.String("event_id", result.EventID))
		return result, payerr.ErrVerification
	}
	result.Verified = true
	if err = i.audit(ctx, d, result.EventID, true, nil, receivedAt); err != nil {
		i.metrics.Webhook(d.Provider, "error")
		return result, err
	}

	order, open, err := i.correlate(ctx, payload)
	if err != nil {
		i.metrics.Webhook(d.Provider, "not_found")
		return result, err
	}
	result.MerchantID = order.MerchantID
	result.OrderID = order.ID

	claimed, err := i.store.WebhookClaim(ctx, result.Provider, result.EventID)
	if err != nil {
		i.metrics.Webhook(d.Provider, "error")
		return result, fmt.Errorf("store.WebhookClaim: %w", err)
	}
	if !claimed {
		result.Duplicate = true
		result.OrderPaid = order.Status == models.OrderStatusPaid
		i.metrics.Webhook(d.Provider, "duplicate")
		return result, nil
	}

	if err = i.apply(ctx, result, payload, order, open, receivedAt); err != nil {
		if releaseErr := i.store.WebhookRelease(ctx, result.Provider, result.EventID); releaseErr != nil {
			i.logger.Errorf("store.WebhookRelease: %v", releaseErr)
		}
		i.metrics.Webhook(d.Provider, "error")
		return result, err
	}
	if result.Underpaid {
		i.metrics.Webhook(d.Provider, "underpaid")
		return result, nil
	}
	i.metrics.Webhook(d.Provider, string(result.Status))
	return result, nil
}

func parse(d Delivery) (Payload, error) {
	switch d.Provider {
	case models.ProviderPayFast:
		return ParsePayFast(d.Body)
	case models.ProviderYoco:
		return ParseYoco(d.Body, d.EventID)
	default:
		return nil, payerr.Invalid("webhook provider %q is not supported", d.Provider)
	}
}

func (i *Ingestor) verify(d Delivery, payload Payload) (bool, error) {
	switch p := payload.(type) {
	case *PayFastPayload:
		if i.payfast.MerchantID != "" && p.Fields.Get("merchant_id") != i.payfast.MerchantID {
			return false, nil
		}
		return signature.VerifyPayFast(p.Fields, i.payfast.Passphrase), nil
	case *YocoPayload:
		if i.yoco.WebhookSecret == "" {
			return false, payerr.Configuration("yoco webhook secret is not configured")
		}
		return signature.VerifyYoco(d.Body, i.yoco.WebhookSecret, d.Signature), nil
	default:
		return false, payerr.Invalid("unknown payload %T", payload)
	}
}

func (i *Ingestor) audit(
	ctx context.Context,
	d Delivery,
	eventID string,
	verified bool,
	cause error,
	receivedAt time.Time,
) error {
	event := models.WebhookEvent{
		ID:         uuid.New(),
		Provider:   d.Provider,
		EventID:    eventID,
		Payload:    d.Body,
		Verified:   verified,
		ReceivedAt: receivedAt,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if err := i.store.WebhookEventCreate(ctx, event); err != nil {
		i.logger.Errorf("store.WebhookEventCreate: %v", err)
		return fmt.Errorf("store.WebhookEventCreate: %w", err)
	}
	return nil
}

// correlate finds the order a payload settles and the open payment record
// awaiting it, if any.
func (i *Ingestor) correlate(ctx context.Context, payload Payload) (*models.Order, *models.Payment, error) {
	var merchantID, orderID string
	var refs []string
	switch p := payload.(type) {
	case *PayFastPayload:
		merchantID, orderID = p.MerchantID, p.OrderID
		refs = []string{p.MPaymentID}
	case *YocoPayload:
		refs = p.References()
	}

	open, known, err := i.findPayment(ctx, payload.Provider(), refs)
	if err != nil {
		return nil, nil, err
	}
	if merchantID == "" {
		if known == nil {
			return nil, nil, fmt.Errorf("payment %v: %w", refs, payerr.ErrNotFound)
		}
		merchantID, orderID = known.MerchantID, known.OrderID
	}

	order, err := i.store.OrderGet(ctx, merchantID, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("store.OrderGet: %w", err)
	}
	return order, open, nil
}

// findPayment returns the open record for the first matching reference and
// the latest record of any status.
func (i *Ingestor) findPayment(
	ctx context.Context,
	provider models.Provider,
	refs []string,
) (*models.Payment, *models.Payment, error) {
	var known *models.Payment
	for _, ref := range refs {
		open, err := i.store.PaymentLatestOpenByRef(ctx, provider, ref)
		if err == nil {
			return open, open, nil
		}
		if !errors.Is(err, payerr.ErrNotFound) {
			return nil, nil, fmt.Errorf("store.PaymentLatestOpenByRef: %w", err)
		}
		if known != nil {
			continue
		}
		known, err = i.store.PaymentLatestByRef(ctx, provider, ref)
		if err != nil && !errors.Is(err, payerr.ErrNotFound) {
			return nil, nil, fmt.Errorf("store.PaymentLatestByRef: %w", err)
		}
	}
	return nil, known, nil
}

// apply records the payload's outcome and fills in whether the order is paid
// afterwards. A success that does not cover the order total is recorded but
// leaves the order unpaid.
func (i *Ingestor) apply(
	ctx context.Context,
	result *Result,
	payload Payload,
	order *models.Order,
	open *models.Payment,
	receivedAt time.Time,
) error {
	result.OrderPaid = order.Status == models.OrderStatusPaid
	status := payload.Status()
	if status == models.PaymentStatusPending {
		return nil
	}

	payment, err := i.recordPayment(ctx, payload, order, open, receivedAt)
	if err != nil {
		return err
	}
	if status != models.PaymentStatusComplete {
		i.logger.Infow(
			"payment not successful",
			log.MerchantID(order.MerchantID),
			log.OrderID(order.ID),
			log.Provider(payment.Provider),
			zap.String("status", string(status)),
		)
		return nil
	}

	if !payment.Covers(order.Total) {
		amount, _ := models.PayloadAmount(payment.Provider, payment.RawPayload)
		i.logger.Warnw(
			"payment does not cover order total",
			log.MerchantID(order.MerchantID),
			log.OrderID(order.ID),
			log.PaymentID(payment.ID),
			zap.String("amount", amount.StringFixed(2)),
			zap.String("total", order.Total.StringFixed(2)),
		)
		result.Underpaid = true
		return nil
	}

	changed, err := i.store.OrderMarkPaid(ctx, order.MerchantID, order.ID, nil)
	if err != nil {
		return fmt.Errorf("store.OrderMarkPaid: %w", err)
	}
	if changed {
		i.logger.Infow("order paid", log.MerchantID(order.MerchantID), log.OrderID(order.ID), log.PaymentID(payment.ID))
		i.notify(ctx, *order, *payment, receivedAt)
	}
	result.OrderPaid = true
	return nil
}

// recordPayment moves the open record to the payload's status, or appends a
// new record when there is none or it was settled concurrently.
func (i *Ingestor) recordPayment(
	ctx context.Context,
	payload Payload,
	order *models.Order,
	open *models.Payment,
	receivedAt time.Time,
) (*models.Payment, error) {
	status := payload.Status()
	if open != nil {
		ok, err := i.store.PaymentTransition(ctx, open.ID, status, payload.JSON(), &receivedAt)
		if err != nil {
			return nil, fmt.Errorf("store.PaymentTransition: %w", err)
		}
		if ok {
			open.Status = status
			open.RawPayload = payload.JSON()
			open.ReceivedAt = &receivedAt
			return open, nil
		}
	}

	amount, ok := payload.Amount()
	if !ok {
		amount = order.Total
	}
	payment := &models.Payment{
		ID:          uuid.New(),
		MerchantID:  order.MerchantID,
		OrderID:     order.ID,
		Provider:    payload.Provider(),
		ProviderRef: providerRef(payload),
		Status:      status,
		Amount:      amount,
		RawPayload:  payload.JSON(),
		ReceivedAt:  &receivedAt,
		CreatedAt:   receivedAt,
	}
	if err := i.store.PaymentCreate(ctx, *payment); err != nil {
		return nil, fmt.Errorf("store.PaymentCreate: %w", err)
	}
	return payment, nil
}

func providerRef(payload Payload) string {
	switch p := payload.(type) {
	case *PayFastPayload:
		return p.MPaymentID
	case *YocoPayload:
		return p.References()[0]
	}
	return ""
}

func (i *Ingestor) notify(ctx context.Context, order models.Order, payment models.Payment, at time.Time) {
	if i.listener == nil {
		return
	}
	order.Status = models.OrderStatusPaid
	err := i.listener.OrderPaid(ctx, events.NewOrderPaid(order, payment, events.SourceWebhook, at))
	if err != nil {
		i.logger.Errorf("listener.OrderPaid: %v", err)
	}
}

