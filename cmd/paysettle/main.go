package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andrey-berenda/paysettle/internal/pkg/app"
	"github.com/andrey-berenda/paysettle/internal/pkg/config"
	"github.com/andrey-berenda/paysettle/internal/pkg/log"
	"github.com/andrey-berenda/paysettle/internal/pkg/models"
)

func main() {
	time.Local = time.UTC
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	memory     bool
}

func rootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "paysettle",
		Short:         "PayFast and Yoco payments with webhook verification and reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().BoolVar(&opts.memory, "memory", false, "Keep state in memory instead of Postgres (serve only)")

	cmd.AddCommand(serveCmd(opts), reconcileCmd(opts), migrateCmd(opts), merchantCmd(opts))
	return cmd
}

// setup loads config and builds the app. The returned cleanup syncs the logger
// and closes connections.
func setup(ctx context.Context, opts *options) (*app.App, *config.Config, *zap.SugaredLogger, func(), error) {
	cfg, err := config.Load(opts.configPath, os.LookupEnv)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("config.Load: %w", err)
	}
	logger, err := log.NewLogger(cfg.Log)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("log.NewLogger: %w", err)
	}
	a, err := app.New(ctx, cfg, logger, opts.memory)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, nil, fmt.Errorf("app.New: %w", err)
	}
	cleanup := func() {
		a.Close()
		_ = logger.Sync()
	}
	return a, cfg, logger, cleanup, nil
}

// requirePersistent rejects --memory for commands that would only touch a
// throwaway store.
func requirePersistent(cmd *cobra.Command, opts *options) error {
	if opts.memory {
		return fmt.Errorf("%s does not support --memory: the in-memory store starts empty and is discarded on exit", cmd.Name())
	}
	return nil
}

func serveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the periodic reconciliation sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, cfg, logger, cleanup, err := setup(ctx, opts)
			if err != nil {
				return err
			}
			defer cleanup()
			if err = a.Migrate(ctx); err != nil {
				return fmt.Errorf("Migrate: %w", err)
			}

			server := &http.Server{
				Addr:              cfg.HTTP.Addr,
				Handler:           a.Server.Routes(),
				ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
			}
			wg := &sync.WaitGroup{}

			if cfg.Reconcile.Interval > 0 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					logger.Infow("Starting reconciliation sweep", "interval", cfg.Reconcile.Interval.String())
					a.Sweeper.Run(ctx, cfg.Reconcile.Interval)
					logger.Info("Reconciliation sweep stopped")
				}()
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Infow("Starting HTTP server", "addr", cfg.HTTP.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
			case err = <-errCh:
				cancel()
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
				logger.Errorf("server.Shutdown: %v", shutdownErr)
			}
			wg.Wait()
			logger.Info("Server gracefully stopped")
			if err != nil {
				return fmt.Errorf("server.ListenAndServe: %w", err)
			}
			return nil
		},
	}
}

func reconcileCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation sweep and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePersistent(cmd, opts); err != nil {
				return err
			}
			a, _, _, cleanup, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := a.Sweeper.Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("Sweep: %w", err)
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(report)
		},
	}
}

func migrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePersistent(cmd, opts); err != nil {
				return err
			}
			a, _, logger, cleanup, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			if err = a.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("Migrate: %w", err)
			}
			logger.Info("Schema applied")
			return nil
		},
	}
}

func merchantCmd(opts *options) *cobra.Command {
	var merchant models.Merchant
	cmd := &cobra.Command{
		Use:   "merchant",
		Short: "Create or update a merchant and its Telegram chat for paid-order notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePersistent(cmd, opts); err != nil {
				return err
			}
			if strings.Contains(merchant.ID, "-") {
				return fmt.Errorf("merchant id %q must not contain '-'", merchant.ID)
			}
			a, _, logger, cleanup, err := setup(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			saved, err := a.Store.MerchantUpsert(cmd.Context(), merchant)
			if err != nil {
				return fmt.Errorf("store.MerchantUpsert: %w", err)
			}
			logger.Infow("Merchant saved", log.MerchantID(saved.ID), "telegram_chat_id", saved.TelegramChatID)
			return nil
		},
	}
	cmd.Flags().StringVar(&merchant.ID, "merchant", "", "Merchant id (must not contain '-')")
	cmd.Flags().StringVar(&merchant.Name, "name", "", "Merchant display name")
	cmd.Flags().Int64Var(&merchant.TelegramChatID, "chat", 0, "Telegram chat id, 0 disables notifications")
	_ = cmd.MarkFlagRequired("merchant")
	return cmd
}
