package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/andrey-berenda/paysettle/internal/pkg/events"
	"github.com/andrey-berenda/paysettle/internal/pkg/metrics"
	"github.com/andrey-berenda/paysettle/internal/pkg/models"
	"github.com/andrey-berenda/paysettle/internal/pkg/storage/memstore"
)

var sweepTime = time.Date(2026, 10, 1, 3, 15, 0, 0, time.UTC)

type recordingListener struct {
	events []events.OrderPaid
}

func (l *recordingListener) OrderPaid(_ context.Context, e events.OrderPaid) error {
	l.events = append(l.events, e)
	return nil
}

type checkerFunc func(ctx context.Context, payment models.Payment) (models.PaymentStatus, json.RawMessage, error)

func (f checkerFunc) CheckStatus(ctx context.Context, payment models.Payment) (models.PaymentStatus, json.RawMessage, error) {
	return f(ctx, payment)
}

func createOrder(t *testing.T, store *memstore.Store, merchantID string, orderID string) {
	t.Helper()
	_, err := store.OrderCreate(context.Background(), models.Order{
		ID:         orderID,
		MerchantID: merchantID,
		Total:      decimal.RequireFromString("150.00"),
		Currency:   "ZAR",
		Status:     models.OrderStatusPending,
	})
	require.NoError(t, err)
}

func createPayment(t *testing.T, store *memstore.Store, orderID string, p models.Payment) models.Payment {
	t.Helper()
	p.ID = uuid.New()
	p.MerchantID = "merchant1"
	p.OrderID = orderID
	p.Amount = decimal.RequireFromString("150.00")
	require.NoError(t, store.PaymentCreate(context.Background(), p))
	return p
}

func newSweeper(store Store, listener events.Listener, m *metrics.Metrics) *Sweeper {
	s := New(store, listener, m, zap.NewNop().Sugar(), 0)
	s.now = func() time.Time { return sweepTime }
	return s
}

func TestSweepReconcilesMissedWebhook(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	createOrder(t, store, "merchant1", "ORD-1")
	createOrder(t, store, "merchant1", "ORD-2")
	createOrder(t, store, "merchant1", "ORD-3")

	createPayment(t, store, "ORD-1", models.Payment{
		Provider:    models.ProviderPayFast,
		ProviderRef: "merchant1-ORD-1",
		Status:      models.PaymentStatusComplete,
	})
	pending := createPayment(t, store, "ORD-2", models.Payment{
		Provider:    models.ProviderYoco,
		ProviderRef: "ch_2",
		Status:      models.PaymentStatusPending,
		RawPayload:  json.RawMessage(`{"id":"ch_2","status":"succeeded"}`),
	})
	createPayment(t, store, "ORD-3", models.Payment{
		Provider:    models.ProviderPayFast,
		ProviderRef: "merchant1-ORD-3",
		Status:      models.PaymentStatusFailed,
	})

	listener := &recordingListener{}
	m := metrics.New()
	sweeper := newSweeper(store, listener, m)

	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count)
	assert.ElementsMatch(t, []Result{
		{MerchantID: "merchant1", OrderID: "ORD-1", Reconciled: true},
		{MerchantID: "merchant1", OrderID: "ORD-2", Reconciled: true},
		{MerchantID: "merchant1", OrderID: "ORD-3", Reconciled: false},
	}, report.Results)

	o, err := store.OrderGet(ctx, "merchant1", "ORD-2")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, o.Status)
	require.NotNil(t, o.ReconciledAt)
	assert.Equal(t, sweepTime, *o.ReconciledAt)

	p, err := store.PaymentGet(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusComplete, p.Status)

	o, err = store.OrderGet(ctx, "merchant1", "ORD-3")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, o.Status)

	require.Len(t, listener.events, 2)
	assert.Equal(t, events.SourceReconciliation, listener.events[0].Source)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "paysettle_reconciled_orders_total 2")
}

func TestSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	createOrder(t, store, "merchant1", "ORD-1")
	createPayment(t, store, "ORD-1", models.Payment{
		Provider:    models.ProviderPayFast,
		ProviderRef: "merchant1-ORD-1",
		Status:      models.PaymentStatusComplete,
	})
	listener := &recordingListener{}
	sweeper := newSweeper(store, listener, nil)

	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count)

	report, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Count)
	assert.Empty(t, report.Results)
	assert.Len(t, listener.events, 1)
}

func TestSweepNothingToDo(t *testing.T) {
	report, err := newSweeper(memstore.New(), nil, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Count)
	assert.Empty(t, report.Results)
}

func TestSweepRespectsPageSize(t *testing.T) {
	store := memstore.New()
	for i := 0; i < 5; i++ {
		createOrder(t, store, "merchant1", fmt.Sprintf("ORD-%d", i))
	}
	sweeper := New(store, nil, nil, zap.NewNop().Sugar(), 2)

	visited := func() []string {
		report, err := sweeper.Sweep(context.Background())
		require.NoError(t, err)
		ids := make([]string, 0, len(report.Results))
		for _, r := range report.Results {
			ids = append(ids, r.OrderID)
		}
		return ids
	}
	assert.Equal(t, []string{"ORD-0", "ORD-1"}, visited())
	assert.Equal(t, []string{"ORD-2", "ORD-3"}, visited())
	assert.Equal(t, []string{"ORD-4"}, visited())
	assert.Equal(t, []string{"ORD-0", "ORD-1"}, visited())
}

func TestSweepReachesOrdersBeyondFirstPage(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	for i := 0; i < DefaultPageSize; i++ {
		createOrder(t, store, "merchant1", fmt.Sprintf("A%03d", i))
	}
	createOrder(t, store, "merchant1", "Z-LATE")
	createPayment(t, store, "Z-LATE", models.Payment{
		Provider:    models.ProviderPayFast,
		ProviderRef: "merchant1-Z-LATE",
		Status:      models.PaymentStatusComplete,
	})
	sweeper := newSweeper(store, nil, nil)

	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Len(t, report.Results, DefaultPageSize)
	assert.Equal(t, 0, report.Count)

	report, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Result{{MerchantID: "merchant1", OrderID: "Z-LATE", Reconciled: true}}, report.Results)

	o, err := store.OrderGet(ctx, "merchant1", "Z-LATE")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, o.Status)

	cursor, err := store.SweepCursor(ctx, "merchant1")
	require.NoError(t, err)
	assert.True(t, cursor.IsZero())
}

func TestSweepSkipsUnderpaidPayment(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	createOrder(t, store, "merchant1", "ORD-1")
	createPayment(t, store, "ORD-1", models.Payment{
		Provider:    models.ProviderPayFast,
		ProviderRef: "merchant1-ORD-1",
		Status:      models.PaymentStatusComplete,
		RawPayload:  json.RawMessage(`{"payment_status":"COMPLETE","amount_gross":"0.01"}`),
	})
	listener := &recordingListener{}

	report, err := newSweeper(store, listener, nil).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Count)
	assert.Equal(t, []Result{{MerchantID: "merchant1", OrderID: "ORD-1", Reconciled: false}}, report.Results)

	o, err := store.OrderGet(ctx, "merchant1", "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.Empty(t, listener.events)
}

func TestSweepRefreshesOpenPayments(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	createOrder(t, store, "merchant1", "ORD-1")
	createOrder(t, store, "merchant1", "ORD-2")
	paid := createPayment(t, store, "ORD-1", models.Payment{
		Provider:    models.ProviderYoco,
		ProviderRef: "ch_1",
		Status:      models.PaymentStatusPending,
	})
	broken := createPayment(t, store, "ORD-2", models.Payment{
		Provider:    models.ProviderYoco,
		ProviderRef: "ch_2",
		Status:      models.PaymentStatusPending,
	})

	checker := checkerFunc(func(_ context.Context, p models.Payment) (models.PaymentStatus, json.RawMessage, error) {
		if p.ID == broken.ID {
			return "", nil, errors.New("connection refused")
		}
		return models.PaymentStatusComplete, json.RawMessage(`{"id":"ch_1","status":"completed"}`), nil
	})
	sweeper := newSweeper(store, nil, nil).WithChecker(models.ProviderYoco, checker)

	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count)

	p, err := store.PaymentGet(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusComplete, p.Status)
	assert.JSONEq(t, `{"id":"ch_1","status":"completed"}`, string(p.RawPayload))

	p, err = store.PaymentGet(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		newSweeper(memstore.New(), nil, nil).Run(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
