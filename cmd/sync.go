package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/mailferry/internal/config"
	"github.com/teemow/mailferry/internal/gmail"
	"github.com/teemow/mailferry/internal/google"
	"github.com/teemow/mailferry/internal/instrumentation"
	"github.com/teemow/mailferry/internal/logging"
	"github.com/teemow/mailferry/internal/mailbox"
	"github.com/teemow/mailferry/internal/server"
	"github.com/teemow/mailferry/internal/stats"
	"github.com/teemow/mailferry/internal/syncer"
)

const shutdownTimeout = 10 * time.Second

func newSyncCmd() *cobra.Command {
	var (
		configFile string
		httpAddr   string
		interval   time.Duration
		once       bool
		debugMode  bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run the mail transfer daemon",
		Long: `Run the transfer loop: every interval, drain each configured POP3
mailbox and import the messages into Gmail. Also serves the HTTP
status page and the Google OAuth callback.

On first start (or when the stored token can no longer be refreshed)
the daemon logs an authorization URL. Open it in a browser, grant
access, and the daemon resumes on its own; no restart is needed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			// Flags override the file.
			if cmd.Flags().Changed("http-addr") {
				cfg.HTTP.Addr = httpAddr
			}
			if cmd.Flags().Changed("interval") {
				cfg.Interval = interval
			}

			return runSync(cfg, once, debugMode)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "mailferry.toml", "Path to the TOML configuration file")
	cmd.Flags().StringVar(&httpAddr, "http-addr", config.DefaultHTTPAddr, "Status server listen address")
	cmd.Flags().DurationVar(&interval, "interval", config.DefaultInterval, "Delay between sync cycles")
	cmd.Flags().BoolVar(&once, "once", false, "Run a single sync cycle and exit")
	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	return cmd
}

func runSync(cfg *config.Config, once, debugMode bool) error {
	logger := logging.Setup(debugMode)

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("creating instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()

	conf, err := google.LoadClientCredential(cfg.Google.CredentialsFile,
		cfg.HTTP.BaseURL+cfg.Google.CallbackPath)
	if err != nil {
		return err
	}

	registry := google.NewHandoffRegistry()
	tokens := google.NewTokenStore(cfg.Google.TokenFile)
	session := google.NewSessionManager(conf, tokens, registry,
		cfg.Google.CallbackPath, logger, metrics)

	statsStore, err := stats.Open(cfg.Stats.File, logger)
	if err != nil {
		return err
	}

	statusServer := server.New(server.Config{
		Addr:     cfg.HTTP.Addr,
		Registry: registry,
		Auth:     session,
		Stats:    statsStore,
		Logger:   logger,
		Metrics:  metrics,
	})

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := statusServer.Start(); err != nil {
			serverDone <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown failed", logging.Err(err))
		}
	}()

	worker := syncer.NewWorker(&mailbox.POP3Dialer{}, statsStore, logger, metrics)
	scheduler := syncer.NewScheduler(cfg.Accounts, cfg.Interval, session,
		func(ctx context.Context, client *http.Client) (syncer.Deliverer, error) {
			return gmail.NewClient(ctx, client)
		},
		worker, logger, metrics)

	logger.Info("mailferry started",
		slog.String("version", version),
		slog.Int("accounts", len(cfg.Accounts)),
		slog.Duration("interval", cfg.Interval),
		slog.String("http_addr", cfg.HTTP.Addr))

	loopDone := make(chan error, 1)
	go func() {
		defer close(loopDone)
		if once {
			loopDone <- scheduler.RunOnce(ctx)
			return
		}
		loopDone <- scheduler.Run(ctx)
	}()

	select {
	case err := <-serverDone:
		cancel()
		<-loopDone
		return fmt.Errorf("status server stopped: %w", err)
	case err := <-loopDone:
		if err != nil && ctx.Err() == nil {
			return err
		}
		if ctx.Err() != nil {
			logger.Info("shutdown signal received")
		}
		return nil
	}
}
