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

	"github.com/Schera-ole/vmwatch/internal/agent"
	"github.com/Schera-ole/vmwatch/internal/codec"
	"github.com/Schera-ole/vmwatch/internal/command"
	"github.com/Schera-ole/vmwatch/internal/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "agent",
		Short:         "vmwatch agent: collects host telemetry and runs commands from the server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load[agent.Config](cmd, agent.Defaults(), cfgFile)
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
				logger.Errorw("agent stopped", "error", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "YAML configuration file")
	cmd.Flags().StringP("address", "a", "localhost:8080", "server address")
	cmd.Flags().StringP("agent-id", "i", "", "agent id issued at registration")
	cmd.Flags().StringP("api-key", "k", "", "API key issued for this agent")
	cmd.Flags().StringP("encryption-key", "e", "", "base64 shared encryption key")
	cmd.Flags().DurationP("poll-interval", "p", 10*time.Second, "collection interval")
	cmd.Flags().IntP("rate-limit", "l", 5, "concurrent audit senders")
	cmd.Flags().String("listen", ":8081", "command endpoint listen address")
	cmd.Flags().String("command-aliases", "", "YAML command alias table; built-in table when empty")
	cmd.Flags().String("log-level", "info", "log level")
	return cmd
}

func run(ctx context.Context, cfg agent.Config, logger *zap.SugaredLogger) error {
	c, err := codec.NewFromBase64(cfg.EncryptionKey)
	if err != nil {
		return err
	}
	aliases, err := command.LoadAliases(cfg.CommandAliases)
	if err != nil {
		return err
	}
	collectors, err := agent.BuildCollectors(cfg)
	if err != nil {
		return err
	}

	ch := command.NewChannel(c, cfg.AgentID, aliases, cfg.CommandTimeout, logger)
	a := agent.New(cfg, collectors, agent.NewSender(cfg, c, nil, logger), logger)
	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           agent.Router(ch, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infow("agent started", "agent", cfg.AgentID, "vm", cfg.VMID, "server", cfg.WriteURL(), "collectors", len(collectors))
		return a.Run(gctx)
	})
	g.Go(func() error {
		logger.Infow("command endpoint listening", "address", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("command endpoint: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
