package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/andrey-berenda/paysettle/internal/pkg/models"
	"github.com/andrey-berenda/paysettle/internal/pkg/money"
	"github.com/andrey-berenda/paysettle/internal/pkg/payerr"
)

type createOrderRequest struct {
	MerchantID string            `json:"merchantId"`
	OrderID    string            `json:"orderId"`
	Items      []models.LineItem `json:"items"`
	Total      decimal.Decimal   `json:"total"`
}

type orderResponse struct {
	Order    *models.Order    `json:"order"`
	Payments []models.Payment `json:"payments"`
}

func (req createOrderRequest) order() (models.Order, error) {
	o := models.Order{
		ID:         strings.TrimSpace(req.OrderID),
		MerchantID: strings.TrimSpace(req.MerchantID),
		Items:      req.Items,
		Total:      req.Total,
		Currency:   money.Currency,
		Status:     models.OrderStatusPending,
	}
	if o.ID == "" || o.MerchantID == "" {
		return o, payerr.Invalid("merchantId and orderId are required")
	}
	if strings.Contains(o.MerchantID, "-") {
		return o, payerr.Invalid("merchantId %q must not contain '-'", o.MerchantID)
	}
	for _, item := range o.Items {
		if item.Quantity <= 0 || item.UnitPrice.IsNegative() {
			return o, payerr.Invalid("item %q has an invalid price or quantity", item.Name)
		}
	}
	if len(o.Items) > 0 {
		o.Total = o.ItemsTotal()
	}
	if !o.Total.IsPositive() {
		return o, payerr.Invalid("order total must be positive")
	}
	return o, nil
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, payerr.Invalid("body: %v", err))
		return
	}
	o, err := req.order()
	if err != nil {
		s.writeError(w, err)
		return
	}
	created, err := s.store.OrderCreate(r.Context(), o)
	if err != nil {
		s.writeError(w, fmt.Errorf("store.OrderCreate: %w", err))
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantId")
	orderID := chi.URLParam(r, "orderId")

	o, err := s.store.OrderGet(r.Context(), merchantID, orderID)
	if err != nil {
		s.writeError(w, fmt.Errorf("store.OrderGet: %w", err))
		return
	}
	payments, err := s.store.PaymentsByOrder(r.Context(), merchantID, orderID)
	if err != nil {
		s.writeError(w, fmt.Errorf("store.PaymentsByOrder: %w", err))
		return
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	writeJSON(w, http.StatusOK, orderResponse{Order: o, Payments: payments})
}
