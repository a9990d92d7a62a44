// Package memstore is an in-memory implementation of the storage methods used
// by the payment components. It backs the --memory mode and component tests.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andrey-berenda/paysettle/internal/pkg/models"
	"github.com/andrey-berenda/paysettle/internal/pkg/payerr"
)

type orderKey struct {
	merchantID string
	orderID    string
}

type claimKey struct {
	provider models.Provider
	eventID  string
}

type Store struct {
	mu        sync.Mutex
	now       func() time.Time
	merchants map[string]models.Merchant
	orders    map[orderKey]models.Order
	payments  []models.Payment
	events    []models.WebhookEvent
	claims    map[claimKey]time.Time
	cursors   map[string]models.OrderCursor
}

func New() *Store {
	return &Store{
		now:       time.Now,
		merchants: map[string]models.Merchant{},
		orders:    map[orderKey]models.Order{},
		claims:    map[claimKey]time.Time{},
		cursors:   map[string]models.OrderCursor{},
	}
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) MerchantUpsert(_ context.Context, m models.Merchant) (*models.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merchants[m.ID] = m
	return &m, nil
}

func (s *Store) MerchantGet(_ context.Context, merchantID string) (*models.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[merchantID]
	if !ok {
		return nil, payerr.ErrNotFound
	}
	return &m, nil
}

func (s *Store) MerchantsWithUnpaidOrders(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var result []string
	for k, o := range s.orders {
		if o.Status != models.OrderStatusPaid && !seen[k.merchantID] {
			seen[k.merchantID] = true
			result = append(result, k.merchantID)
		}
	}
	sort.Strings(result)
	return result, nil
}

func (s *Store) OrderCreate(_ context.Context, o models.Order) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := orderKey{o.MerchantID, o.ID}
	if _, ok := s.orders[key]; ok {
		return nil, payerr.ErrConflict
	}
	now := s.now()
	o.CreatedAt = now
	o.UpdatedAt = now
	o.Items = append([]models.LineItem(nil), o.Items...)
	s.orders[key] = o
	return &o, nil
}

func (s *Store) OrderGet(_ context.Context, merchantID string, orderID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderKey{merchantID, orderID}]
	if !ok {
		return nil, payerr.ErrNotFound
	}
	return &o, nil
}

func (s *Store) OrdersUnpaid(_ context.Context, merchantID string, after models.OrderCursor, limit int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Order
	for k, o := range s.orders {
		if k.merchantID == merchantID && o.Status != models.OrderStatusPaid && cursorLess(after, models.CursorAt(o)) {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return cursorLess(models.CursorAt(result[i]), models.CursorAt(result[j]))
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cursorLess(a, b models.OrderCursor) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.OrderID < b.OrderID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (s *Store) SweepCursor(_ context.Context, merchantID string) (models.OrderCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[merchantID], nil
}

func (s *Store) SweepCursorSave(_ context.Context, merchantID string, c models.OrderCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.IsZero() {
		delete(s.cursors, merchantID)
		return nil
	}
	s.cursors[merchantID] = c
	return nil
}

func (s *Store) OrderMarkPaid(_ context.Context, merchantID string, orderID string, reconciledAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := orderKey{merchantID, orderID}
	o, ok := s.orders[key]
	if !ok {
		return false, payerr.ErrNotFound
	}
	if o.Status == models.OrderStatusPaid {
		return false, nil
	}
	o.Status = models.OrderStatusPaid
	if reconciledAt != nil {
		t := *reconciledAt
		o.ReconciledAt = &t
	}
	o.UpdatedAt = s.now()
	s.orders[key] = o
	return true, nil
}

func (s *Store) PaymentCreate(_ context.Context, p models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[orderKey{p.MerchantID, p.OrderID}]; !ok {
		return payerr.ErrNotFound
	}
	for _, existing := range s.payments {
		if existing.ID == p.ID {
			return payerr.ErrConflict
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.payments = append(s.payments, p)
	return nil
}

func (s *Store) PaymentTransition(
	_ context.Context,
	paymentID uuid.UUID,
	status models.PaymentStatus,
	payload json.RawMessage,
	receivedAt *time.Time,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.payments {
		p := &s.payments[i]
		if p.ID != paymentID {
			continue
		}
		if p.Status != models.PaymentStatusPending {
			return false, nil
		}
		p.Status = status
		if len(payload) > 0 {
			p.RawPayload = append(json.RawMessage(nil), payload...)
		}
		if receivedAt != nil {
			t := *receivedAt
			p.ReceivedAt = &t
		}
		return true, nil
	}
	return false, payerr.ErrNotFound
}

func (s *Store) PaymentGet(_ context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ID == paymentID {
			return &p, nil
		}
	}
	return nil, payerr.ErrNotFound
}

func (s *Store) PaymentLatestByRef(_ context.Context, provider models.Provider, ref string) (*models.Payment, error) {
	return s.latest(func(p models.Payment) bool {
		return p.Provider == provider && p.ProviderRef == ref
	})
}

func (s *Store) PaymentLatestOpenByRef(_ context.Context, provider models.Provider, ref string) (*models.Payment, error) {
	return s.latest(func(p models.Payment) bool {
		return p.Provider == provider && p.ProviderRef == ref && p.Status == models.PaymentStatusPending
	})
}

func (s *Store) latest(match func(models.Payment) bool) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.payments) - 1; i >= 0; i-- {
		if match(s.payments[i]) {
			p := s.payments[i]
			return &p, nil
		}
	}
	return nil, payerr.ErrNotFound
}

func (s *Store) PaymentsByOrder(_ context.Context, merchantID string, orderID string) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Payment
	for _, p := range s.payments {
		if p.MerchantID == merchantID && p.OrderID == orderID {
			result = append(result, p)
		}
	}
	return result, nil
}

func (s *Store) WebhookEventCreate(_ context.Context, e models.WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Payload = append([]byte(nil), e.Payload...)
	s.events = append(s.events, e)
	return nil
}

func (s *Store) WebhookClaim(_ context.Context, provider models.Provider, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := claimKey{provider, eventID}
	if _, ok := s.claims[key]; ok {
		return false, nil
	}
	s.claims[key] = s.now()
	return true, nil
}

func (s *Store) WebhookRelease(_ context.Context, provider models.Provider, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, claimKey{provider, eventID})
	return nil
}

// WebhookEvents returns a copy of the audit log.
func (s *Store) WebhookEvents() []models.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.WebhookEvent(nil), s.events...)
}
