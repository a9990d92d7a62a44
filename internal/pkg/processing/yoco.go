package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/andrey-berenda/paysettle/internal/pkg/config"
	"github.com/andrey-berenda/paysettle/internal/pkg/models"
	"github.com/andrey-berenda/paysettle/internal/pkg/money"
	"github.com/andrey-berenda/paysettle/internal/pkg/payerr"
)

type checkoutRequest struct {
	Amount     int64             `json:"amount"`
	Currency   string            `json:"currency"`
	SuccessURL string            `json:"successUrl,omitempty"`
	CancelURL  string            `json:"cancelUrl,omitempty"`
	FailureURL string            `json:"failureUrl,omitempty"`
	Metadata   map[string]string `json:"metadata"`
}

type checkoutResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RedirectURL string `json:"redirectUrl"`
	PaymentID   string `json:"paymentId"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// Yoco creates hosted checkouts through the Yoco Checkout API and can look
// their status up again for reconciliation.
type Yoco struct {
	store      Store
	httpClient *http.Client
	cfg        config.YocoConfig
}

func NewYoco(store Store, httpClient *http.Client, cfg config.YocoConfig) *Yoco {
	return &Yoco{
		store:      store,
		httpClient: httpClient,
		cfg:        cfg,
	}
}

func (y *Yoco) Provider() models.Provider {
	return models.ProviderYoco
}

func (y *Yoco) CreatePayment(ctx context.Context, req Request) (*Checkout, error) {
	if y.cfg.SecretKey == "" || y.cfg.BaseURL == "" {
		return nil, payerr.Configuration("yoco secret key and base url are required")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	paymentID := uuid.New()
	body, err := json.Marshal(checkoutRequest{
		Amount:     money.ToCents(req.Amount),
		Currency:   money.Currency,
		SuccessURL: y.cfg.SuccessURL,
		CancelURL:  y.cfg.CancelURL,
		FailureURL: y.cfg.FailureURL,
		Metadata: map[string]string{
			"merchantId":  req.MerchantID,
			"orderId":     req.OrderID,
			"paymentId":   paymentID.String(),
			"description": req.description(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		y.endpoint("checkouts"),
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("http.NewRequestWithContext: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Idempotency-Key", paymentID.String())
	httpRequest.Header.Set("Authorization", "Bearer "+y.cfg.SecretKey)

	responseBody, statusCode, err := y.do(httpRequest)
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode > 299 {
		return nil, &payerr.ProviderError{Provider: string(models.ProviderYoco), StatusCode: statusCode, Body: string(responseBody)}
	}

	resp := checkoutResponse{}
	if err = json.Unmarshal(responseBody, &resp); err != nil {
		return nil, &payerr.ProviderError{Provider: string(models.ProviderYoco), StatusCode: statusCode, Err: fmt.Errorf("json.Unmarshal(responseBody): %w", err)}
	}
	if resp.ID == "" || resp.RedirectURL == "" {
		return nil, &payerr.ProviderError{Provider: string(models.ProviderYoco), StatusCode: statusCode, Body: "checkout id or redirect url missing"}
	}

	payment := models.Payment{
		ID:          paymentID,
		MerchantID:  req.MerchantID,
		OrderID:     req.OrderID,
		Provider:    models.ProviderYoco,
		ProviderRef: resp.ID,
		Status:      models.PaymentStatusPending,
		Amount:      req.Amount,
		CheckoutURL: resp.RedirectURL,
	}
	if err = y.store.PaymentCreate(ctx, payment); err != nil {
		return nil, fmt.Errorf("store.PaymentCreate: %w", err)
	}

	return &Checkout{
		PaymentID:   paymentID,
		Provider:    models.ProviderYoco,
		ProviderRef: resp.ID,
		URL:         resp.RedirectURL,
	}, nil
}

// CheckStatus asks Yoco for the checkout behind payment. A checkout Yoco no
// longer knows is reported as cancelled.
func (y *Yoco) CheckStatus(ctx context.Context, payment models.Payment) (models.PaymentStatus, json.RawMessage, error) {
	if y.cfg.SecretKey == "" || y.cfg.BaseURL == "" {
		return "", nil, payerr.Configuration("yoco secret key and base url are required")
	}
	httpRequest, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		y.endpoint("checkouts", payment.ProviderRef),
		nil,
	)
	if err != nil {
		return "", nil, fmt.Errorf("http.NewRequestWithContext: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+y.cfg.SecretKey)

	responseBody, statusCode, err := y.do(httpRequest)
	if err != nil {
		return "", nil, err
	}
	if statusCode == http.StatusNotFound {
		return models.PaymentStatusCancelled, nil, nil
	}
	if statusCode != http.StatusOK {
		return "", nil, &payerr.ProviderError{Provider: string(models.ProviderYoco), StatusCode: statusCode, Body: string(responseBody)}
	}

	resp := checkoutResponse{}
	if err = json.Unmarshal(responseBody, &resp); err != nil {
		return "", nil, &payerr.ProviderError{Provider: string(models.ProviderYoco), StatusCode: statusCode, Err: fmt.Errorf("json.Unmarshal(responseBody): %w", err)}
	}
	return models.ProviderStatus(models.ProviderYoco, resp.Status), responseBody, nil
}

func (y *Yoco) endpoint(parts ...string) string {
	escaped := make([]string, 0, len(parts)+1)
	escaped = append(escaped, strings.TrimRight(y.cfg.BaseURL, "/"))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return strings.Join(escaped, "/")
}

func (y *Yoco) do(httpRequest *http.Request) ([]byte, int, error) {
	response, err := y.httpClient.Do(httpRequest)
	if err != nil {
		return nil, 0, &payerr.ProviderError{Provider: string(models.ProviderYoco), Err: fmt.Errorf("httpClient.Do: %w", err)}
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, 0, &payerr.ProviderError{Provider: string(models.ProviderYoco), Err: fmt.Errorf("io.ReadAll(response.Body): %w", err)}
	}
	return responseBody, response.StatusCode, nil
}
