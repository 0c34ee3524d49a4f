package sqlbridge

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	mysql "github.com/go-sql-driver/mysql"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Enabled bool
	Level   slog.Level
}

var defaultLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// EnableLogging enables or disables structured logging for this pool.
// Configure before traffic flows; the flag is not synchronized.
func (p *Pool) EnableLogging(enabled bool) {
	if p == nil { return }
	p.loggingEnabled = enabled
	if enabled && p.logger == nil {
		p.logger = defaultLogger
	}
}

// SetLogger sets a custom logger for this pool. Hosts that embed the
// bridge usually hand in their own handler here.
func (p *Pool) SetLogger(logger *slog.Logger) {
	if p == nil { return }
	p.logger = logger
}

// logQuery logs one executed statement with structured fields. A
// statement slower than the configured threshold logs at WARN with
// the full query text and elapsed time.
func (p *Pool) logQuery(ctx context.Context, operation, query string, args []any, duration time.Duration, err error) {
	if p == nil || !p.loggingEnabled || p.logger == nil { return }

	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.String("query", query),
		slog.Float64("duration_ms", float64(duration.Nanoseconds())/1e6),
	}

	if len(args) > 0 {
		attrs = append(attrs, slog.Int("arg_count", len(args)))
	}

	if err != nil {
		attrs = append(attrs,
			slog.String("status", "error"),
			slog.String("error", err.Error()),
		)

		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) {
			attrs = append(attrs, slog.Int("error_code", int(mysqlErr.Number)))
		}
	} else {
		attrs = append(attrs, slog.String("status", "success"))
	}

	if threshold := p.slowThreshold(); threshold > 0 && duration > threshold {
		p.logger.LogAttrs(ctx, slog.LevelWarn, "slow query detected", attrs...)
	} else {
		level := slog.LevelInfo
		if err != nil {
			level = slog.LevelError
		}
		p.logger.LogAttrs(ctx, level, "database query executed", attrs...)
	}
}

// logConnection logs pool and connection lifecycle events.
func (p *Pool) logConnection(ctx context.Context, event string, duration time.Duration, err error) {
	if p == nil || !p.loggingEnabled || p.logger == nil { return }

	attrs := []slog.Attr{
		slog.String("event", event),
		slog.Float64("duration_ms", float64(duration.Nanoseconds())/1e6),
	}

	if err != nil {
		attrs = append(attrs,
			slog.String("status", "error"),
			slog.String("error", err.Error()),
		)
		p.logger.LogAttrs(ctx, slog.LevelError, "database connection event", attrs...)
	} else {
		attrs = append(attrs, slog.String("status", "success"))
		p.logger.LogAttrs(ctx, slog.LevelDebug, "database connection event", attrs...)
	}
}

// logTransaction logs batch/transaction outcomes.
func (p *Pool) logTransaction(ctx context.Context, event string, duration time.Duration, err error) {
	if p == nil || !p.loggingEnabled || p.logger == nil { return }

	attrs := []slog.Attr{
		slog.String("event", event),
		slog.Float64("duration_ms", float64(duration.Nanoseconds())/1e6),
	}

	if err != nil {
		attrs = append(attrs,
			slog.String("status", "error"),
			slog.String("error", err.Error()),
		)
		p.logger.LogAttrs(ctx, slog.LevelError, "database transaction event", attrs...)
	} else {
		attrs = append(attrs, slog.String("status", "success"))
		p.logger.LogAttrs(ctx, slog.LevelInfo, "database transaction event", attrs...)
	}
}

// logPoolStats logs a stats snapshot at DEBUG.
func (p *Pool) logPoolStats(ctx context.Context, stats PoolStats) {
	if p == nil || !p.loggingEnabled || p.logger == nil { return }

	attrs := []slog.Attr{
		slog.Int("size", stats.Size),
		slog.Int("idle", stats.Idle),
		slog.Int("in_use", stats.InUse),
		slog.Int("waiters", stats.Waiters),
		slog.Uint64("invalidations", stats.Invalidations),
		slog.Uint64("stmt_cache_hits", stats.StmtCacheHits),
		slog.Uint64("stmt_cache_misses", stats.StmtCacheMisses),
	}

	p.logger.LogAttrs(ctx, slog.LevelDebug, "connection pool stats", attrs...)
}
