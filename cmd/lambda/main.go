package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/andrey-berenda/paysettle/internal/pkg/app"
	"github.com/andrey-berenda/paysettle/internal/pkg/config"
	"github.com/andrey-berenda/paysettle/internal/pkg/lambdaproxy"
	"github.com/andrey-berenda/paysettle/internal/pkg/log"
)

func main() {
	time.Local = time.UTC
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("PAYSETTLE_CONFIG"), os.LookupEnv)
	if err != nil {
		panic(err)
	}
	logger, err := log.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	a, err := app.New(ctx, cfg, logger, false)
	if err != nil {
		logger.Fatalf("app.New: %v", err)
	}
	if err = a.Migrate(ctx); err != nil {
		logger.Fatalf("Migrate: %v", err)
	}

	var h lambda.Handler = lambdaproxy.New(a.Server.Routes(), a.Sweeper, logger)
	lambda.Start(h)
}
