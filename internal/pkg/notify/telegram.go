package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/mymmrac/telego"
	"go.uber.org/zap"

	"github.com/andrey-berenda/paysettle/internal/pkg/events"
	"github.com/andrey-berenda/paysettle/internal/pkg/log"
	"github.com/andrey-berenda/paysettle/internal/pkg/models"
	"github.com/andrey-berenda/paysettle/internal/pkg/money"
	"github.com/andrey-berenda/paysettle/internal/pkg/payerr"
)

type sender interface {
	SendMessage(params *telego.SendMessageParams) (*telego.Message, error)
}

type MerchantStore interface {
	MerchantGet(ctx context.Context, merchantID string) (*models.Merchant, error)
}

// Telegram tells a merchant's chat that one of their orders was paid.
// Merchants without a chat id are skipped.
type Telegram struct {
	bot    sender
	store  MerchantStore
	logger *zap.SugaredLogger
}

func NewTelegram(token string, store MerchantStore, logger *zap.SugaredLogger) (*Telegram, error) {
	bot, err := telego.NewBot(token, telego.WithLogger(log.NewBotLogger(logger)))
	if err != nil {
		return nil, fmt.Errorf("telego.NewBot: %w", err)
	}
	return &Telegram{bot: bot, store: store, logger: logger}, nil
}

func (t *Telegram) OrderPaid(ctx context.Context, e events.OrderPaid) error {
	merchant, err := t.store.MerchantGet(ctx, e.MerchantID)
	switch {
	case err == nil:
	case errors.Is(err, payerr.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("store.MerchantGet: %w", err)
	}
	if merchant.TelegramChatID == 0 {
		return nil
	}

	_, err = t.bot.SendMessage(&telego.SendMessageParams{
		ChatID: telego.ChatID{ID: merchant.TelegramChatID},
		Text:   paidText(e),
	})
	if err != nil {
		return fmt.Errorf("bot.SendMessage: %w", err)
	}
	t.logger.Desugar().Debug("merchant notified", log.MerchantID(e.MerchantID), log.OrderID(e.OrderID))
	return nil
}

func paidText(e events.OrderPaid) string {
	text := fmt.Sprintf(`Order paid
Order: %s
Amount: R%s
Provider: %s`, e.OrderID, money.Format(e.Amount), e.Provider)
	if e.Source == events.SourceReconciliation {
		text += "\nConfirmed by reconciliation"
	}
	return text
}
