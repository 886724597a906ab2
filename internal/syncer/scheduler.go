package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/teemow/mailferry/internal/config"
	"github.com/teemow/mailferry/internal/instrumentation"
	"github.com/teemow/mailferry/internal/logging"
)

// TokenClientSource provides an authorized HTTP client, blocking while
// an interactive authorization is pending.
type TokenClientSource interface {
	Client(ctx context.Context) (*http.Client, error)
}

// DelivererFactory builds the target-side client for a cycle from an
// authorized HTTP client.
type DelivererFactory func(ctx context.Context, client *http.Client) (Deliverer, error)

// Scheduler drives sync cycles: one pass over all configured accounts,
// then sleep, repeat until the context is canceled.
type Scheduler struct {
	accounts     []config.Account
	interval     time.Duration
	source       TokenClientSource
	newDeliverer DelivererFactory
	worker       *Worker
	logger       *slog.Logger
	metrics      *instrumentation.Metrics
}

// NewScheduler creates a scheduler over the configured accounts.
func NewScheduler(accounts []config.Account, interval time.Duration, source TokenClientSource, factory DelivererFactory, worker *Worker, logger *slog.Logger, metrics *instrumentation.Metrics) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		accounts:     accounts,
		interval:     interval,
		source:       source,
		newDeliverer: factory,
		worker:       worker,
		logger:       logging.WithOperation(logger, "schedule"),
		metrics:      metrics,
	}
}

// Run executes cycles until ctx is canceled. The first cycle starts
// immediately; a cycle that fails (for example because authorization
// is still pending) is retried after the regular interval.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := s.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("sync cycle failed", logging.Err(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.interval):
		}
	}
}

// RunOnce runs a single cycle: obtain an authorized client, then sync
// every account in configuration order. Per-account failures are
// already recorded by the worker; the cycle continues with the next
// account.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	client, err := s.source.Client(ctx)
	if err != nil {
		err = fmt.Errorf("obtaining authorized client: %w", err)
		s.metrics.RecordSyncCycle(ctx, err)
		return err
	}

	deliverer, err := s.newDeliverer(ctx, client)
	if err != nil {
		err = fmt.Errorf("building target client: %w", err)
		s.metrics.RecordSyncCycle(ctx, err)
		return err
	}

	var failed int
	for _, account := range s.accounts {
		if err := s.worker.SyncAccount(ctx, account, deliverer); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.metrics.RecordSyncCycle(ctx, err)
				return err
			}
			failed++
		}
	}

	s.metrics.RecordSyncCycle(ctx, nil)
	s.logger.Info("sync cycle finished",
		slog.Int("accounts", len(s.accounts)),
		slog.Int("failed", failed),
		slog.Duration("duration", time.Since(start)))
	return nil
}
