package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/andrey-berenda/paysettle/internal/pkg/log"
	"github.com/andrey-berenda/paysettle/internal/pkg/models"
	"github.com/andrey-berenda/paysettle/internal/pkg/payerr"
	"github.com/andrey-berenda/paysettle/internal/pkg/processing"
)

type createPaymentRequest struct {
	MerchantID  string          `json:"merchantId"`
	OrderID     string          `json:"orderId"`
	Amount      decimal.Decimal `json:"amount"`
	ItemName    string          `json:"itemName"`
	Description string          `json:"description"`
}

type payFastResponse struct {
	Success    bool   `json:"success"`
	PaymentURL string `json:"paymentUrl"`
}

type yocoResponse struct {
	Success   bool   `json:"success"`
	Link      string `json:"link"`
	PaymentID string `json:"paymentId"`
}

// createPayment starts a checkout for an unpaid order. The amount defaults to
// the order total.
func (s *Server) createPayment(provider models.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		processor, ok := s.processors[provider]
		if !ok {
			s.writeError(w, payerr.Configuration("%s is not configured", provider))
			return
		}

		var req createPaymentRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			s.writeError(w, payerr.Invalid("body: %v", err))
			return
		}
		if req.MerchantID == "" || req.OrderID == "" {
			s.writeError(w, payerr.Invalid("merchantId and orderId are required"))
			return
		}

		order, err := s.store.OrderGet(r.Context(), req.MerchantID, req.OrderID)
		if err != nil {
			s.writeError(w, fmt.Errorf("store.OrderGet: %w", err))
			return
		}
		if order.Status == models.OrderStatusPaid {
			s.writeError(w, fmt.Errorf("order %s is already paid: %w", order, payerr.ErrConflict))
			return
		}
		amount := order.Total
		if !req.Amount.IsZero() && !req.Amount.Equal(order.Total) {
			s.writeError(w, payerr.Invalid("amount %s does not match order total %s", req.Amount.StringFixed(2), order.Total.StringFixed(2)))
			return
		}
		description := req.Description
		if description == "" {
			description = req.ItemName
		}

		checkout, err := processor.CreatePayment(r.Context(), processing.Request{
			MerchantID:  order.MerchantID,
			OrderID:     order.ID,
			Amount:      amount,
			Description: description,
		})
		if err != nil {
			s.logger.Warnw(
				"create payment failed",
				log.MerchantID(order.MerchantID),
				log.OrderID(order.ID),
				log.Provider(provider),
				"error", err,
			)
			s.writeError(w, err)
			return
		}

		if provider == models.ProviderYoco {
			writeJSON(w, http.StatusOK, yocoResponse{
				Success:   true,
				Link:      checkout.URL,
				PaymentID: checkout.ProviderRef,
			})
			return
		}
		writeJSON(w, http.StatusOK, payFastResponse{Success: true, PaymentURL: checkout.URL})
	}
}
