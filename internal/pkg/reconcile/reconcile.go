// Package reconcile settles orders whose success webhook never arrived.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andrey-berenda/paysettle/internal/pkg/events"
	"github.com/andrey-berenda/paysettle/internal/pkg/log"
	"github.com/andrey-berenda/paysettle/internal/pkg/metrics"
	"github.com/andrey-berenda/paysettle/internal/pkg/models"
)

const DefaultPageSize = 50

type Store interface {
	MerchantsWithUnpaidOrders(ctx context.Context) ([]string, error)
	OrdersUnpaid(ctx context.Context, merchantID string, after models.OrderCursor, limit int) ([]models.Order, error)
	SweepCursor(ctx context.Context, merchantID string) (models.OrderCursor, error)
	SweepCursorSave(ctx context.Context, merchantID string, c models.OrderCursor) error
	PaymentsByOrder(ctx context.Context, merchantID string, orderID string) ([]models.Payment, error)
	PaymentTransition(
		ctx context.Context,
		paymentID uuid.UUID,
		status models.PaymentStatus,
		payload json.RawMessage,
		receivedAt *time.Time,
	) (bool, error)
	OrderMarkPaid(ctx context.Context, merchantID string, orderID string, reconciledAt *time.Time) (bool, error)
}

// StatusChecker asks a provider for the current status of an open payment.
type StatusChecker interface {
	CheckStatus(ctx context.Context, payment models.Payment) (models.PaymentStatus, json.RawMessage, error)
}

type Result struct {
	MerchantID string `json:"merchantId"`
	OrderID    string `json:"orderId"`
	Reconciled bool   `json:"reconciled"`
}

type Report struct {
	Results []Result `json:"results"`
	Count   int      `json:"count"`
}

type Sweeper struct {
	store    Store
	checkers map[models.Provider]StatusChecker
	listener events.Listener
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
	pageSize int
	now      func() time.Time
}

func New(
	store Store,
	listener events.Listener,
	m *metrics.Metrics,
	logger *zap.SugaredLogger,
	pageSize int,
) *Sweeper {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Sweeper{
		store:    store,
		checkers: map[models.Provider]StatusChecker{},
		listener: listener,
		metrics:  m,
		logger:   logger,
		pageSize: pageSize,
		now:      time.Now,
	}
}

// WithChecker makes the sweep refresh open payments of provider before
// evaluating them.
func (s *Sweeper) WithChecker(provider models.Provider, checker StatusChecker) *Sweeper {
	s.checkers[provider] = checker
	return s
}

// Sweep visits the next page of up to pageSize unpaid orders per merchant and
// marks paid every order with a payment that carries a success signal and
// covers the order total. Each merchant's position is persisted so consecutive
// sweeps walk its whole backlog, starting over after a short page. Running it
// again without new payment data marks nothing paid.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	report, err := s.sweep(ctx)
	s.metrics.Sweep(err)
	if err != nil {
		return nil, err
	}
	s.metrics.Reconciled(report.Count)
	return report, nil
}

func (s *Sweeper) sweep(ctx context.Context) (*Report, error) {
	merchants, err := s.store.MerchantsWithUnpaidOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("store.MerchantsWithUnpaidOrders: %w", err)
	}

	report := &Report{Results: []Result{}}
	for _, merchantID := range merchants {
		if err = ctx.Err(); err != nil {
			return report, err
		}
		orders, err := s.page(ctx, merchantID)
		if err != nil {
			s.logger.Errorw("sweep page", log.MerchantID(merchantID), zap.Error(err))
			continue
		}
		for _, order := range orders {
			reconciled, err := s.reconcileOrder(ctx, order)
			if err != nil {
				s.logger.Errorw("reconcile order", log.MerchantID(order.MerchantID), log.OrderID(order.ID), zap.Error(err))
			}
			report.Results = append(report.Results, Result{
				MerchantID: order.MerchantID,
				OrderID:    order.ID,
				Reconciled: reconciled,
			})
			if reconciled {
				report.Count++
			}
		}
	}
	return report, nil
}

// page loads the merchant's next unpaid orders and moves its cursor past them.
// A short page rewinds the cursor for the next sweep.
func (s *Sweeper) page(ctx context.Context, merchantID string) ([]models.Order, error) {
	cursor, err := s.store.SweepCursor(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("store.SweepCursor: %w", err)
	}
	orders, err := s.store.OrdersUnpaid(ctx, merchantID, cursor, s.pageSize)
	if err != nil {
		return nil, fmt.Errorf("store.OrdersUnpaid: %w", err)
	}
	if len(orders) == 0 && !cursor.IsZero() {
		cursor = models.OrderCursor{}
		orders, err = s.store.OrdersUnpaid(ctx, merchantID, cursor, s.pageSize)
		if err != nil {
			return nil, fmt.Errorf("store.OrdersUnpaid: %w", err)
		}
	}

	next := models.OrderCursor{}
	if len(orders) == s.pageSize {
		next = models.CursorAt(orders[len(orders)-1])
	}
	if next != cursor {
		if err = s.store.SweepCursorSave(ctx, merchantID, next); err != nil {
			return nil, fmt.Errorf("store.SweepCursorSave: %w", err)
		}
	}
	return orders, nil
}

func (s *Sweeper) reconcileOrder(ctx context.Context, order models.Order) (bool, error) {
	payments, err := s.store.PaymentsByOrder(ctx, order.MerchantID, order.ID)
	if err != nil {
		return false, fmt.Errorf("store.PaymentsByOrder: %w", err)
	}

	var paid *models.Payment
	for i := range payments {
		p := &payments[i]
		if err = s.refresh(ctx, p); err != nil {
			s.logger.Warnw("status check failed", log.PaymentID(p.ID), log.Provider(p.Provider), zap.Error(err))
		}
		if paid == nil && p.Succeeded() {
			if p.Covers(order.Total) {
				paid = p
				continue
			}
			s.logger.Warnw("payment does not cover order total", log.MerchantID(order.MerchantID), log.OrderID(order.ID), log.PaymentID(p.ID))
		}
	}
	if paid == nil {
		return false, nil
	}

	now := s.now()
	if paid.Status == models.PaymentStatusPending {
		if _, err = s.store.PaymentTransition(ctx, paid.ID, models.PaymentStatusComplete, nil, nil); err != nil {
			return false, fmt.Errorf("store.PaymentTransition: %w", err)
		}
	}
	changed, err := s.store.OrderMarkPaid(ctx, order.MerchantID, order.ID, &now)
	if err != nil {
		return false, fmt.Errorf("store.OrderMarkPaid: %w", err)
	}
	if !changed {
		return false, nil
	}

	s.logger.Infow("order reconciled", log.MerchantID(order.MerchantID), log.OrderID(order.ID), log.PaymentID(paid.ID))
	if s.listener != nil {
		order.Status = models.OrderStatusPaid
		e := events.NewOrderPaid(order, *paid, events.SourceReconciliation, now)
		if err = s.listener.OrderPaid(ctx, e); err != nil {
			s.logger.Errorf("listener.OrderPaid: %v", err)
		}
	}
	return true, nil
}

// refresh asks the provider about a payment still open and records any
// terminal answer.
func (s *Sweeper) refresh(ctx context.Context, p *models.Payment) error {
	if p.Status != models.PaymentStatusPending || p.Succeeded() {
		return nil
	}
	checker, ok := s.checkers[p.Provider]
	if !ok {
		return nil
	}
	status, payload, err := checker.CheckStatus(ctx, *p)
	if err != nil {
		return fmt.Errorf("checker.CheckStatus: %w", err)
	}
	if !status.Terminal() {
		return nil
	}
	now := s.now()
	ok, err = s.store.PaymentTransition(ctx, p.ID, status, payload, &now)
	if err != nil {
		return fmt.Errorf("store.PaymentTransition: %w", err)
	}
	if ok {
		p.Status = status
		p.RawPayload = payload
		p.ReceivedAt = &now
	}
	return nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
		report, err := s.Sweep(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Errorf("Sweep: %v", err)
			continue
		}
		if report.Count > 0 {
			s.logger.Infow("reconciliation sweep", zap.Int("reconciled", report.Count), zap.Int("visited", len(report.Results)))
		}
	}
}
