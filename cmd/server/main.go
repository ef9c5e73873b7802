package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Schera-ole/vmwatch/internal/analysis"
	"github.com/Schera-ole/vmwatch/internal/auth"
	"github.com/Schera-ole/vmwatch/internal/cache"
	"github.com/Schera-ole/vmwatch/internal/codec"
	"github.com/Schera-ole/vmwatch/internal/config"
	"github.com/Schera-ole/vmwatch/internal/events"
	"github.com/Schera-ole/vmwatch/internal/handler"
	"github.com/Schera-ole/vmwatch/internal/migration"
	"github.com/Schera-ole/vmwatch/internal/notify"
	"github.com/Schera-ole/vmwatch/internal/repository"
	"github.com/Schera-ole/vmwatch/internal/service"
)

const (
	shutdownTimeout = 10 * time.Second
	eventBuffer     = 100
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "server",
		Short:         "vmwatch server: audit ingestion, analysis, alerting and the admin API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load[config.ServerConfig](cmd, config.ServerDefaults(), cfgFile)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			logger, err := config.NewLogger(cfg.LogLevel)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := run(ctx, cfg, logger); err != nil {
				logger.Errorw("server stopped", "error", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "YAML configuration file")
	cmd.Flags().StringP("address", "a", "localhost:8080", "listen address")
	cmd.Flags().StringP("database-dsn", "d", "", "PostgreSQL DSN; in-memory storage when empty")
	cmd.Flags().String("migrations-path", "migrations", "directory of SQL migrations")
	cmd.Flags().StringP("encryption-key", "k", "", "base64 shared encryption key")
	cmd.Flags().String("jwt-secret", "", "bearer token signing secret")
	cmd.Flags().String("log-level", "info", "log level")
	return cmd
}

// openStorage picks PostgreSQL when a DSN is configured and memory otherwise.
func openStorage(ctx context.Context, cfg config.ServerConfig, logger *zap.SugaredLogger) (repository.Repository, error) {
	if cfg.DatabaseDSN == "" {
		logger.Info("no database configured, using in-memory storage")
		return repository.NewMemStorage(), nil
	}
	if err := migration.RunMigrations(ctx, cfg.DatabaseDSN, cfg.MigrationsPath, logger); err != nil {
		return nil, err
	}
	storage, err := repository.NewDBStorage(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := migration.WaitForDatabase(ctx, migration.PingFunc(storage.Ping), logger); err != nil {
		storage.Close()
		return nil, err
	}
	return storage, nil
}

func newMailer(cfg notify.SMTPConfig, logger *zap.SugaredLogger) (notify.Mailer, error) {
	if !cfg.Enabled() {
		logger.Info("smtp not configured, alert mail disabled")
		return notify.NopMailer{}, nil
	}
	return notify.NewSMTPMailer(cfg)
}

// startEventBus wires the alert subscribers and returns the publisher, the
// source channel to close on shutdown and the group to wait on.
func startEventBus(ctx context.Context, cfg config.ServerConfig, gate *notify.Gate, logger *zap.SugaredLogger) (events.Publisher, chan events.Event, *errgroup.Group) {
	source := make(chan events.Event, eventBuffer)
	var bus errgroup.Group

	notifications := events.NewSubscription("notify", eventBuffer)
	subs := []events.Subscription{notifications}
	bus.Go(func() error {
		events.NotifySubscriber(ctx, notifications.C, gate, cfg.AlertRecipient, cfg.MinimumImportance())
		return nil
	})
	if cfg.AlertFile != "" {
		file := events.NewSubscription("file", eventBuffer)
		subs = append(subs, file)
		bus.Go(func() error {
			events.FileSubscriber(file.C, cfg.AlertFile, logger)
			return nil
		})
	}
	if cfg.AlertURL != "" {
		webhook := events.NewSubscription("url", eventBuffer)
		subs = append(subs, webhook)
		bus.Go(func() error {
			events.URLSubscriber(ctx, webhook.C, cfg.AlertURL, nil, logger)
			return nil
		})
	}
	bus.Go(func() error {
		events.Broadcaster(source, logger, subs...)
		return nil
	})
	return events.NewPublisher(source, logger), source, &bus
}

func run(ctx context.Context, cfg config.ServerConfig, logger *zap.SugaredLogger) error {
	c, err := codec.NewFromBase64(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	storage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	caches := cache.NewFacade(cfg.CacheSettings(), cache.ExpiringLRUFactory)
	repo := repository.NewCachedStorage(storage, caches)

	admins := service.NewAdminService(repo, logger)
	if err := admins.Bootstrap(ctx, cfg.DefaultAdminUsername, cfg.DefaultAdminPassword); err != nil {
		return err
	}

	gateway, err := auth.NewGateway(repo, caches, auth.Options{Secret: cfg.JWTSecret, TokenTTL: cfg.TokenTTL}, logger)
	if err != nil {
		return err
	}

	mailer, err := newMailer(cfg.SMTP, logger)
	if err != nil {
		return err
	}

	// Subscribers outlive the request context so queued alerts still go out.
	publisher, source, bus := startEventBus(context.WithoutCancel(ctx), cfg, notify.NewGate(mailer, logger), logger)

	services := handler.Services{
		Gateway:  gateway,
		Audits:   service.NewAuditService(repo, c, analysis.NewEngine(logger), publisher, logger),
		Admins:   admins,
		Agents:   service.NewAgentService(repo),
		Commands: service.NewCommandService(repo, c, nil, logger),
	}
	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           handler.Router(services, logger, &cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infow("server listening", "address", cfg.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			// handlers may still publish; leave the bus open
			return fmt.Errorf("shutting down http server: %w", err)
		}
		close(source)
		return bus.Wait()
	})
	return g.Wait()
}
