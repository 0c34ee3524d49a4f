package sqlbridge

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricsInstrumentationName = "github.com/sqlbridge/sqlbridge"

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool
}

// Metrics holds all the metric instruments
type Metrics struct {
	// Connection metrics
	connectionsActive  metric.Int64UpDownCounter
	connectionsTotal   metric.Int64Counter
	connectionDuration metric.Float64Histogram

	// Query metrics
	queriesTotal  metric.Int64Counter
	queryDuration metric.Float64Histogram

	// Transaction metrics
	transactionsTotal   metric.Int64Counter
	transactionDuration metric.Float64Histogram

	// Statement cache metrics
	stmtCacheHits   metric.Int64Counter
	stmtCacheMisses metric.Int64Counter

	// Slow query counter
	slowQueriesTotal metric.Int64Counter
}

var defaultMeter = otel.Meter(metricsInstrumentationName)

// EnableMetrics enables or disables metrics collection for this pool
func (p *Pool) EnableMetrics(enabled bool) {
	if p == nil { return }
	p.metricsEnabled = enabled
	if enabled && p.metrics == nil {
		p.initMetrics()
	}
}

// SetMeterProvider sets a custom meter provider for metrics
func (p *Pool) SetMeterProvider(provider metric.MeterProvider) {
	if p == nil { return }
	p.meterProvider = provider
	if p.metricsEnabled {
		p.initMetrics()
	}
}

// initMetrics initializes all metric instruments
func (p *Pool) initMetrics() {
	if p == nil { return }

	var meter metric.Meter
	if p.meterProvider != nil {
		meter = p.meterProvider.Meter(metricsInstrumentationName)
	} else {
		meter = defaultMeter
	}

	p.metrics = &Metrics{}

	p.metrics.connectionsActive, _ = meter.Int64UpDownCounter(
		"sqlbridge_connections_active",
		metric.WithDescription("Number of borrowed pool connections"),
	)

	p.metrics.connectionsTotal, _ = meter.Int64Counter(
		"sqlbridge_connections_total",
		metric.WithDescription("Total number of connections pinned by the pool"),
	)

	p.metrics.connectionDuration, _ = meter.Float64Histogram(
		"sqlbridge_connection_hold_seconds",
		metric.WithDescription("Time connections spend borrowed from the pool"),
		metric.WithUnit("s"),
	)

	p.metrics.queriesTotal, _ = meter.Int64Counter(
		"sqlbridge_queries_total",
		metric.WithDescription("Total number of executed statements"),
	)

	p.metrics.queryDuration, _ = meter.Float64Histogram(
		"sqlbridge_query_duration_seconds",
		metric.WithDescription("Statement execution duration"),
		metric.WithUnit("s"),
	)

	p.metrics.transactionsTotal, _ = meter.Int64Counter(
		"sqlbridge_transactions_total",
		metric.WithDescription("Total number of transactions"),
	)

	p.metrics.transactionDuration, _ = meter.Float64Histogram(
		"sqlbridge_transaction_duration_seconds",
		metric.WithDescription("Transaction duration"),
		metric.WithUnit("s"),
	)

	p.metrics.stmtCacheHits, _ = meter.Int64Counter(
		"sqlbridge_stmt_cache_hits_total",
		metric.WithDescription("Prepared statement cache hits"),
	)

	p.metrics.stmtCacheMisses, _ = meter.Int64Counter(
		"sqlbridge_stmt_cache_misses_total",
		metric.WithDescription("Prepared statement cache misses"),
	)

	p.metrics.slowQueriesTotal, _ = meter.Int64Counter(
		"sqlbridge_slow_queries_total",
		metric.WithDescription("Statements slower than the configured threshold"),
	)
}

// recordConnectionOpened counts a freshly pinned slot.
func (p *Pool) recordConnectionOpened(ctx context.Context) {
	if p == nil || !p.metricsEnabled || p.metrics == nil { return }
	p.metrics.connectionsTotal.Add(ctx, 1)
}

// recordConnectionAcquired records when a connection is borrowed
func (p *Pool) recordConnectionAcquired(ctx context.Context) {
	if p == nil || !p.metricsEnabled || p.metrics == nil { return }
	p.metrics.connectionsActive.Add(ctx, 1)
}

// recordConnectionReleased records when a connection is returned
func (p *Pool) recordConnectionReleased(ctx context.Context, duration time.Duration) {
	if p == nil || !p.metricsEnabled || p.metrics == nil { return }
	p.metrics.connectionsActive.Add(ctx, -1)
	p.metrics.connectionDuration.Record(ctx, duration.Seconds())
}

// recordQuery records statement execution metrics
func (p *Pool) recordQuery(ctx context.Context, operation string, duration time.Duration, err error) {
	if p == nil || !p.metricsEnabled || p.metrics == nil { return }

	status := "success"
	if err != nil {
		status = "error"
	}

	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("status", status),
	}

	p.metrics.queriesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	p.metrics.queryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// recordTransaction records transaction metrics
func (p *Pool) recordTransaction(ctx context.Context, duration time.Duration, err error) {
	if p == nil || !p.metricsEnabled || p.metrics == nil { return }

	status := "success"
	if err != nil {
		status = "error"
	}

	attrs := []attribute.KeyValue{
		attribute.String("status", status),
	}

	p.metrics.transactionsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	p.metrics.transactionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// recordStmtCache counts a cache lookup outcome.
func (p *Pool) recordStmtCache(ctx context.Context, hit bool) {
	if p == nil || !p.metricsEnabled || p.metrics == nil { return }
	if hit {
		p.metrics.stmtCacheHits.Add(ctx, 1)
	} else {
		p.metrics.stmtCacheMisses.Add(ctx, 1)
	}
}

// recordSlowQuery counts a statement that crossed the threshold.
func (p *Pool) recordSlowQuery(ctx context.Context) {
	if p == nil || !p.metricsEnabled || p.metrics == nil { return }
	p.metrics.slowQueriesTotal.Add(ctx, 1)
}
