// Package app wires the payment components from a Config.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/andrey-berenda/paysettle/internal/pkg/api"
	"github.com/andrey-berenda/paysettle/internal/pkg/config"
	"github.com/andrey-berenda/paysettle/internal/pkg/events"
	"github.com/andrey-berenda/paysettle/internal/pkg/metrics"
	"github.com/andrey-berenda/paysettle/internal/pkg/models"
	"github.com/andrey-berenda/paysettle/internal/pkg/notify"
	"github.com/andrey-berenda/paysettle/internal/pkg/processing"
	"github.com/andrey-berenda/paysettle/internal/pkg/reconcile"
	"github.com/andrey-berenda/paysettle/internal/pkg/storage"
	"github.com/andrey-berenda/paysettle/internal/pkg/storage/memstore"
	"github.com/andrey-berenda/paysettle/internal/pkg/webhook"
)

// Store is everything the components need from persistence. Both
// storage.Store and memstore.Store implement it.
type Store interface {
	api.Store
	webhook.Store
	reconcile.Store
	notify.MerchantStore
	MerchantUpsert(ctx context.Context, m models.Merchant) (*models.Merchant, error)
}

type App struct {
	Store   Store
	Sweeper *reconcile.Sweeper
	Server  *api.Server
	Metrics *metrics.Metrics

	logger  *zap.SugaredLogger
	closers []func() error
}

// New connects the store (or an in-memory one when memory is set) and builds
// the processors, ingestor, sweeper and HTTP server on top of it.
func New(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger, memory bool) (*App, error) {
	a := &App{Metrics: metrics.New(), logger: logger}

	if memory {
		a.Store = memstore.New()
	} else {
		store, err := storage.New(ctx, cfg.Database.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("storage.New: %w", err)
		}
		a.Store = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	}

	listeners := events.Listeners{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewPublisher(cfg.Kafka)
		listeners = append(listeners, publisher)
		a.closers = append(a.closers, publisher.Close)
	}
	if cfg.Telegram.Token != "" {
		telegram, err := notify.NewTelegram(cfg.Telegram.Token, a.Store, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("notify.NewTelegram: %w", err)
		}
		listeners = append(listeners, telegram)
	}

	httpClient := &http.Client{Timeout: cfg.HTTP.Timeout}
	yoco := processing.NewYoco(a.Store, httpClient, cfg.Yoco)
	processors := []processing.Processor{
		processing.NewPayFast(a.Store, cfg.PayFast),
		yoco,
	}

	a.Sweeper = reconcile.New(a.Store, listeners, a.Metrics, logger, cfg.Reconcile.PageSize)
	if cfg.Yoco.SecretKey != "" {
		a.Sweeper.WithChecker(models.ProviderYoco, yoco)
	}

	ingestor := webhook.New(a.Store, cfg.PayFast, cfg.Yoco, listeners, a.Metrics, logger)
	a.Server = api.New(a.Store, processors, ingestor, a.Sweeper, a.Metrics, logger, cfg.Admin.Token)
	return a, nil
}

// Migrate applies the schema when the app runs on Postgres.
func (a *App) Migrate(ctx context.Context) error {
	store, ok := a.Store.(*storage.Store)
	if !ok {
		return nil
	}
	return store.Migrate(ctx)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Errorf("close: %v", err)
		}
	}
	a.closers = nil
}
