package log

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/andrey-berenda/paysettle/internal/pkg/config"
	"github.com/andrey-berenda/paysettle/internal/pkg/models"
)

var commitID string

func MerchantID(merchantID string) zap.Field {
	return zap.String("merchant_id", merchantID)
}

func OrderID(orderID string) zap.Field {
	return zap.String("order_id", orderID)
}

func PaymentID(paymentID uuid.UUID) zap.Field {
	return zap.String("payment_id", paymentID.String())
}

func Provider(provider models.Provider) zap.Field {
	return zap.String("provider", string(provider))
}

type botLogger struct {
	logger *zap.SugaredLogger
}

func NewBotLogger(logger *zap.SugaredLogger) telego.Logger {
	return botLogger{logger: logger.Named("telegram")}
}

func (b botLogger) Debugf(format string, v ...any) {
	b.logger.Debugf(format, v...)
}

func (b botLogger) Errorf(format string, v ...any) {
	b.logger.Errorf(format, v...)
}

func NewLogger(cfg config.LogConfig) (*zap.SugaredLogger, error) {
	logPath := cfg.Path
	if logPath == "" {
		logPath = "stdout"
	}
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		var err error
		level, err = zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("zapcore.ParseLevel: %w", err)
		}
	}

	zapConfig := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.999999Z07:00"),
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	}

	l, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("zapConfig.Build: %w", err)
	}
	return l.Sugar().With(zap.String("commit_id", commitID)), nil
}
