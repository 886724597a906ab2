package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys - using constants for consistency
const (
	attrAccount = "account"
	attrResult  = "result"
	attrMethod  = "method"
	attrPath    = "path"
	attrStatus  = "status"
)

// Result values for the result attribute.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics provides methods for recording observability metrics.
// The zero value is a safe no-op recorder.
type Metrics struct {
	// Sync engine metrics
	syncCyclesTotal       metric.Int64Counter
	messagesFetchedTotal  metric.Int64Counter
	messagesImportedTotal metric.Int64Counter
	messagesFailedTotal   metric.Int64Counter
	sourceDeletesTotal    metric.Int64Counter

	// OAuth metrics
	oauthRefreshTotal  metric.Int64Counter
	oauthExchangeTotal metric.Int64Counter

	// HTTP metrics
	httpRequestsTotal metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.syncCyclesTotal, err = meter.Int64Counter(
		"sync_cycles_total",
		metric.WithDescription("Total number of sync cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync_cycles_total counter: %w", err)
	}

	m.messagesFetchedTotal, err = meter.Int64Counter(
		"messages_fetched_total",
		metric.WithDescription("Total number of messages fetched from POP3 mailboxes"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messages_fetched_total counter: %w", err)
	}

	m.messagesImportedTotal, err = meter.Int64Counter(
		"messages_imported_total",
		metric.WithDescription("Total number of messages imported into Gmail"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messages_imported_total counter: %w", err)
	}

	m.messagesFailedTotal, err = meter.Int64Counter(
		"messages_failed_total",
		metric.WithDescription("Total number of per-message failures (fetch, import or delete)"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messages_failed_total counter: %w", err)
	}

	m.sourceDeletesTotal, err = meter.Int64Counter(
		"source_deletes_total",
		metric.WithDescription("Total number of messages deleted from source mailboxes after confirmed import"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create source_deletes_total counter: %w", err)
	}

	m.oauthRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	m.oauthExchangeTotal, err = meter.Int64Counter(
		"oauth_code_exchange_total",
		metric.WithDescription("Total number of OAuth authorization code exchanges"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_code_exchange_total counter: %w", err)
	}

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	return m, nil
}

func resultAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String(attrResult, ResultError)
	}
	return attribute.String(attrResult, ResultSuccess)
}

// RecordSyncCycle records one completed (or skipped) sync cycle.
func (m *Metrics) RecordSyncCycle(ctx context.Context, err error) {
	if m == nil || m.syncCyclesTotal == nil {
		return
	}
	m.syncCyclesTotal.Add(ctx, 1, metric.WithAttributes(resultAttr(err)))
}

// RecordMessageFetched records a message fetched from a source mailbox.
func (m *Metrics) RecordMessageFetched(ctx context.Context, account string) {
	if m == nil || m.messagesFetchedTotal == nil {
		return
	}
	m.messagesFetchedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrAccount, account),
	))
}

// RecordMessageImported records a message accepted by Gmail.
func (m *Metrics) RecordMessageImported(ctx context.Context, account string) {
	if m == nil || m.messagesImportedTotal == nil {
		return
	}
	m.messagesImportedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrAccount, account),
	))
}

// RecordMessageFailed records a per-message failure.
func (m *Metrics) RecordMessageFailed(ctx context.Context, account string) {
	if m == nil || m.messagesFailedTotal == nil {
		return
	}
	m.messagesFailedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrAccount, account),
	))
}

// RecordSourceDelete records a message deleted from a source mailbox.
func (m *Metrics) RecordSourceDelete(ctx context.Context, account string) {
	if m == nil || m.sourceDeletesTotal == nil {
		return
	}
	m.sourceDeletesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrAccount, account),
	))
}

// RecordTokenRefresh records an OAuth token refresh attempt.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, err error) {
	if m == nil || m.oauthRefreshTotal == nil {
		return
	}
	m.oauthRefreshTotal.Add(ctx, 1, metric.WithAttributes(resultAttr(err)))
}

// RecordCodeExchange records an OAuth authorization code exchange attempt.
func (m *Metrics) RecordCodeExchange(ctx context.Context, err error) {
	if m == nil || m.oauthExchangeTotal == nil {
		return
	}
	m.oauthExchangeTotal.Add(ctx, 1, metric.WithAttributes(resultAttr(err)))
}

// RecordHTTPRequest records an inbound HTTP request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int) {
	if m == nil || m.httpRequestsTotal == nil {
		return
	}
	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.Int(attrStatus, status),
	))
}
