// Package syncer is the transfer engine: the per-account pipeline that
// moves messages from a POP3 mailbox into Gmail, and the scheduler
// that runs every account once per cycle.
package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/teemow/mailferry/internal/config"
	"github.com/teemow/mailferry/internal/instrumentation"
	"github.com/teemow/mailferry/internal/logging"
	"github.com/teemow/mailferry/internal/mailbox"
	"github.com/teemow/mailferry/internal/stats"
)

// Deliverer is the target-side collaborator: label management and raw
// message ingestion. Import must return the target-assigned message id;
// an empty id means the message was not accepted.
type Deliverer interface {
	EnsureLabel(name string) (string, error)
	Import(raw []byte, labelID string) (string, error)
}

// Worker runs the per-account transfer pipeline.
type Worker struct {
	dialer  mailbox.Dialer
	stats   *stats.Store
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewWorker creates a worker.
func NewWorker(dialer mailbox.Dialer, st *stats.Store, logger *slog.Logger, metrics *instrumentation.Metrics) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		dialer:  dialer,
		stats:   st,
		logger:  logging.WithOperation(logger, "sync"),
		metrics: metrics,
	}
}

// SyncAccount moves every message currently in the account's mailbox
// into Gmail. The invariant protecting against data loss: a message is
// deleted from the source only after Gmail acknowledged it with a
// message id. A crash between import and delete re-delivers the
// message next cycle (at-least-once, never loss).
//
// A single message's failure never aborts the remaining messages, and
// does not flip the account's status: only account-level failures
// (connect, auth, label bootstrap) are recorded as "fail".
func (w *Worker) SyncAccount(ctx context.Context, account config.Account, deliverer Deliverer) error {
	logger := logging.WithAccount(w.logger, account.Name)
	w.stats.RecordSyncStatus(account.Name, stats.StatusStarted, "")

	labelID, err := deliverer.EnsureLabel(account.Label)
	if err != nil {
		return w.fail(logger, account.Name, fmt.Errorf("ensuring label %q: %w", account.Label, err))
	}

	session, err := w.dialer.Dial(ctx, account)
	if err != nil {
		return w.fail(logger, account.Name, err)
	}
	defer func() {
		// Best-effort: a close failure is logged, not propagated.
		if err := session.Quit(); err != nil {
			logger.Warn("closing mailbox session failed", logging.Err(err))
		}
	}()

	count, err := session.Count()
	if err != nil {
		return w.fail(logger, account.Name, fmt.Errorf("counting messages: %w", err))
	}

	logger.Info("mailbox opened", slog.Int("messages", count))

	imported := 0
	for i := 1; i <= count; i++ {
		if err := ctx.Err(); err != nil {
			// Shutdown: leave the rest for next time, the cycle's
			// "started" record stands until the next run.
			return err
		}
		if w.transferMessage(ctx, logger, account, session, deliverer, labelID, i) {
			imported++
		}
	}

	w.stats.RecordSyncStatus(account.Name, stats.StatusSuccess,
		fmt.Sprintf("imported %d of %d messages", imported, count))
	logger.Info("account synced", logging.Status(logging.StatusSuccess),
		slog.Int("imported", imported), slog.Int("messages", count))
	return nil
}

// transferMessage runs fetch → import → delete for one message and
// reports whether the message was imported and deleted. Failures leave
// the message in the mailbox for the next cycle.
func (w *Worker) transferMessage(ctx context.Context, logger *slog.Logger, account config.Account, session mailbox.Session, deliverer Deliverer, labelID string, i int) bool {
	raw, err := session.Retr(i)
	if err != nil {
		logger.Warn("fetching message failed", logging.MessageIndex(i), logging.Err(err))
		w.metrics.RecordMessageFailed(ctx, account.Name)
		return false
	}
	w.metrics.RecordMessageFetched(ctx, account.Name)

	id, err := deliverer.Import(raw, labelID)
	if err != nil {
		logger.Warn("importing message failed, retained at source", logging.MessageIndex(i), logging.Err(err))
		w.metrics.RecordMessageFailed(ctx, account.Name)
		return false
	}
	if id == "" {
		// No target-assigned identifier means no confirmed delivery;
		// deleting now could lose the message.
		logger.Warn("import returned no message id, retained at source", logging.MessageIndex(i))
		w.metrics.RecordMessageFailed(ctx, account.Name)
		return false
	}
	w.metrics.RecordMessageImported(ctx, account.Name)

	if err := session.Dele(i); err != nil {
		// The message was delivered but stays in the mailbox; the next
		// cycle delivers it again. Accepted duplicate, never a loss.
		logger.Warn("deleting source message failed", logging.MessageIndex(i), logging.Err(err))
		w.metrics.RecordMessageFailed(ctx, account.Name)
		return false
	}
	w.metrics.RecordSourceDelete(ctx, account.Name)
	w.stats.RecordImport(account.Name)

	logger.Debug("message transferred", logging.MessageIndex(i), slog.String("gmail_id", id))
	return true
}

func (w *Worker) fail(logger *slog.Logger, account string, err error) error {
	w.stats.RecordSyncStatus(account, stats.StatusFail, err.Error())
	logger.Error("account sync failed", logging.Status(logging.StatusError), logging.Err(err))
	return err
}
