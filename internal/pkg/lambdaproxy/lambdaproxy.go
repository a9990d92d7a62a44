// Package lambdaproxy serves API Gateway proxy events with the HTTP API and
// runs the reconciliation sweep for scheduled events.
package lambdaproxy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/andrey-berenda/paysettle/internal/pkg/reconcile"
)

const scheduledSource = "aws.events"

type Sweeper interface {
	Sweep(ctx context.Context) (*reconcile.Report, error)
}

// Handler implements lambda.Handler.
type Handler struct {
	proxy   *chiadapter.ChiLambda
	sweeper Sweeper
	logger  *zap.SugaredLogger
}

func New(router *chi.Mux, sweeper Sweeper, logger *zap.SugaredLogger) *Handler {
	return &Handler{proxy: chiadapter.New(router), sweeper: sweeper, logger: logger}
}

func (h *Handler) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	scheduled := events.CloudWatchEvent{}
	if err := json.Unmarshal(payload, &scheduled); err == nil && scheduled.Source == scheduledSource {
		return h.sweep(ctx, scheduled)
	}

	request := events.APIGatewayProxyRequest{}
	if err := json.Unmarshal(payload, &request); err != nil {
		return nil, fmt.Errorf("json.Unmarshal: %w", err)
	}
	response, err := h.proxy.ProxyWithContext(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("proxy.ProxyWithContext: %w", err)
	}
	return json.Marshal(response)
}

func (h *Handler) sweep(ctx context.Context, e events.CloudWatchEvent) ([]byte, error) {
	report, err := h.sweeper.Sweep(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweeper.Sweep: %w", err)
	}
	h.logger.Infow("scheduled sweep", "event_id", e.ID, "reconciled", report.Count, "visited", len(report.Results))
	return json.Marshal(report)
}
