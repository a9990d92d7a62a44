// Package api exposes payment creation, provider webhooks, orders and the
// reconciliation trigger over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/andrey-berenda/paysettle/internal/pkg/metrics"
	"github.com/andrey-berenda/paysettle/internal/pkg/models"
	"github.com/andrey-berenda/paysettle/internal/pkg/processing"
	"github.com/andrey-berenda/paysettle/internal/pkg/reconcile"
	"github.com/andrey-berenda/paysettle/internal/pkg/webhook"
)

const maxBodyBytes = 1 << 16

type Store interface {
	Ping(ctx context.Context) error
	OrderCreate(ctx context.Context, o models.Order) (*models.Order, error)
	OrderGet(ctx context.Context, merchantID string, orderID string) (*models.Order, error)
	PaymentsByOrder(ctx context.Context, merchantID string, orderID string) ([]models.Payment, error)
}

type Ingestor interface {
	Ingest(ctx context.Context, d webhook.Delivery) (*webhook.Result, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (*reconcile.Report, error)
}

type Server struct {
	store      Store
	processors map[models.Provider]processing.Processor
	ingestor   Ingestor
	sweeper    Sweeper
	metrics    *metrics.Metrics
	logger     *zap.SugaredLogger
	adminToken string
}

func New(
	store Store,
	processors []processing.Processor,
	ingestor Ingestor,
	sweeper Sweeper,
	m *metrics.Metrics,
	logger *zap.SugaredLogger,
	adminToken string,
) *Server {
	s := &Server{
		store:      store,
		processors: map[models.Provider]processing.Processor{},
		ingestor:   ingestor,
		sweeper:    sweeper,
		metrics:    m,
		logger:     logger,
		adminToken: adminToken,
	}
	for _, p := range processors {
		s.processors[p.Provider()] = p
	}
	return s
}

func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/payments", func(r chi.Router) {
		r.Post("/payfast/create", s.createPayment(models.ProviderPayFast))
		r.Post("/yoco/create-link", s.createPayment(models.ProviderYoco))
		r.Post("/payfast/webhook", s.payfastWebhook)
		r.Post("/yoco/webhook", s.yocoWebhook)
	})

	r.Post("/orders", s.createOrder)
	r.Get("/orders/{merchantId}/{orderId}", s.getOrder)

	r.With(s.requireAdmin).Post("/admin/reconcile-payments", s.reconcilePayments)
	return r
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRequest(route, status, time.Since(start))
	})
}

// requireAdmin checks the bearer token when one is configured.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Errorf("store.Ping: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) reconcilePayments(w http.ResponseWriter, r *http.Request) {
	report, err := s.sweeper.Sweep(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
