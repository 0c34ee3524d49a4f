package sqlbridge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Pool owns a bounded set of live MySQL connections and everything
// hanging off them: per-connection statement caches, the session
// dispatcher, the slow query monitor, logging, metrics and tracing.
//
// The pinned slots are the real pool. Each slot holds one *sql.Conn
// for the pool's whole lifetime so prepared statement identity stays
// a pure function of (connection, text); the database/sql layer
// underneath only provides dial/handshake plumbing and headroom for
// replacing invalidated slots.
type Pool struct {
	db   *sql.DB
	cfg  Config
	size int
	free chan *poolConn

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conns   map[*poolConn]struct{}
	closing bool
	closed  bool

	dispatcher *dispatcher
	retry      RetryPolicy

	logger          *slog.Logger
	loggingEnabled  bool
	slowThresholdNS atomic.Int64
	slowRecorder    *SlowQueryRecorder

	metricsEnabled bool
	metrics        *Metrics
	meterProvider  metric.MeterProvider

	telemetryEnabled bool

	healthMu      sync.Mutex
	healthMonitor *HealthMonitor

	waiters       atomic.Int32
	invalidations atomic.Uint64
}

// NewPool connects to the configured server and pins the configured
// number of connections. It fails with a connection error once the
// bootstrap retry budget is exhausted.
func NewPool(ctx context.Context, cfg Config) (*Pool, error) {
	cfg = cfg.withDefaults()
	dsn, err := dsnFromConfig(cfg)
	if err != nil { return nil, wrapError(KindConnection, "", err) }

	db, err := openDB(cfg, dsn)
	if err != nil { return nil, wrapError(KindConnection, "", err) }

	// one spare above the pinned set, for slot replacement
	db.SetMaxOpenConns(cfg.Pool.Size + 1)
	db.SetMaxIdleConns(cfg.Pool.Size + 1)
	if cfg.Pool.ConnMaxLifetime > 0 { db.SetConnMaxLifetime(cfg.Pool.ConnMaxLifetime) }
	if cfg.Pool.ConnMaxIdleTime > 0 { db.SetConnMaxIdleTime(cfg.Pool.ConnMaxIdleTime) }

	poolCtx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		db:     db,
		cfg:    cfg,
		size:   cfg.Pool.Size,
		free:   make(chan *poolConn, cfg.Pool.Size),
		ctx:    poolCtx,
		cancel: cancel,
		conns:  make(map[*poolConn]struct{}),
		retry:  cfg.Retry,
	}
	p.slowThresholdNS.Store(int64(cfg.SlowQuery.Threshold))
	if cfg.Logging.Enabled { p.EnableLogging(true) }
	if cfg.Metrics.Enabled { p.EnableMetrics(true) }
	if cfg.Telemetry.Enabled { p.EnableTelemetry(true) }
	if cfg.SlowQuery.Enabled { p.EnableSlowQueryRecording(cfg.SlowQuery) }
	p.dispatcher = newDispatcher(p)

	if err := p.bootstrap(ctx); err != nil {
		cancel()
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// openDB opens the configured driver, instrumented through otelsql
// when telemetry is on so driver-level spans line up with ours.
func openDB(cfg Config, dsn string) (*sql.DB, error) {
	if cfg.Telemetry.Enabled && cfg.Driver == defaultDriver {
		return otelsql.Open(cfg.Driver, dsn,
			otelsql.WithAttributes(attribute.String("db.system", "mysql")),
			otelsql.WithSpanNameFormatter(func(ctx context.Context, method otelsql.Method, query string) string {
				return string(method)
			}),
		)
	}
	return sql.Open(cfg.Driver, dsn)
}

// bootstrap verifies the server answers, then pins the slots. The
// ping retries on the configured policy; a server that never answers
// is fatal.
func (p *Pool) bootstrap(ctx context.Context) error {
	start := time.Now()
	ping := func() error { return p.db.PingContext(ctx) }
	if err := backoff.Retry(ping, backoff.WithContext(p.retry.backOff(), ctx)); err != nil {
		p.logConnection(ctx, "bootstrap_failed", time.Since(start), err)
		return wrapError(KindConnection, "", fmt.Errorf("database unreachable after %d attempts: %w", p.retry.MaxAttempts, err))
	}
	for i := 0; i < p.size; i++ {
		pc, err := p.newSlot(ctx)
		if err != nil {
			p.closeAllSlots()
			return wrapError(KindConnection, "", fmt.Errorf("pin connection %d of %d: %w", i+1, p.size, err))
		}
		p.mu.Lock()
		p.conns[pc] = struct{}{}
		p.mu.Unlock()
		p.free <- pc
		p.recordConnectionOpened(ctx)
	}
	p.logConnection(ctx, "pool_ready", time.Since(start), nil)
	return nil
}

func (p *Pool) newSlot(ctx context.Context) (*poolConn, error) {
	inner, err := p.db.Conn(ctx)
	if err != nil { return nil, err }
	return newPoolConn(p, inner), nil
}

// acquire hands out a free slot, blocking while the pool is
// saturated. Blocked callers are served in arrival order.
func (p *Pool) acquire(ctx context.Context) (*poolConn, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed { return nil, wrapError(KindConnection, "", ErrPoolClosed) }
	p.waiters.Add(1)
	defer p.waiters.Add(-1)
	start := time.Now()
	select {
	case pc := <-p.free:
		pc.markAcquired()
		p.recordConnectionAcquired(ctx)
		p.logConnection(ctx, "acquire", time.Since(start), nil)
		return pc, nil
	case <-ctx.Done():
		return nil, wrapError(KindConnection, "", ctx.Err())
	case <-p.ctx.Done():
		return nil, wrapError(KindConnection, "", ErrPoolClosed)
	}
}

// release returns a slot to the free list, or rebuilds it when the
// last error on it says the connection is gone.
func (p *Pool) release(ctx context.Context, pc *poolConn, execErr error) {
	if pc == nil { return }
	if execErr != nil && isConnFatal(execErr) {
		p.invalidate(ctx, pc)
		return
	}
	p.recordConnectionReleased(ctx, pc.heldFor())
	p.free <- pc
}

// invalidate tears the slot down and starts an asynchronous
// replacement so the pool heals back to its configured size.
func (p *Pool) invalidate(ctx context.Context, pc *poolConn) {
	if pc == nil { return }
	p.invalidations.Add(1)
	p.mu.Lock()
	delete(p.conns, pc)
	closing := p.closing
	p.mu.Unlock()
	err := pc.teardown()
	p.recordConnectionReleased(ctx, pc.heldFor())
	p.logConnection(ctx, "invalidate", 0, err)
	if !closing {
		go p.replaceSlot()
	}
}

// replaceSlot keeps retrying until a fresh connection is pinned or
// the pool shuts down. The per-attempt policy is the configured one
// with the attempt cap removed: capacity must heal eventually.
func (p *Pool) replaceSlot() {
	pol := p.retry
	pol.MaxAttempts = 0
	pol.MaxElapsed = 0
	op := func() error {
		pc, err := p.newSlot(p.ctx)
		if err != nil { return err }
		p.mu.Lock()
		if p.closing {
			p.mu.Unlock()
			_ = pc.teardown()
			return nil
		}
		p.conns[pc] = struct{}{}
		p.mu.Unlock()
		p.free <- pc
		p.recordConnectionOpened(p.ctx)
		p.logConnection(p.ctx, "replace", 0, nil)
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(pol.backOff(), p.ctx)); err != nil {
		p.logConnection(p.ctx, "replace_abandoned", 0, err)
	}
}

func (p *Pool) closeAllSlots() {
	p.mu.Lock()
	conns := make([]*poolConn, 0, len(p.conns))
	for pc := range p.conns { conns = append(conns, pc) }
	p.conns = make(map[*poolConn]struct{})
	p.mu.Unlock()
	for _, pc := range conns { _ = pc.teardown() }
	for {
		select {
		case <-p.free:
		default:
			return
		}
	}
}

// Ping verifies server connectivity without borrowing a slot.
func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.db == nil { return ErrPoolClosed }
	return p.db.PingContext(ctx)
}

// Close stops intake, lets every accepted request run to completion,
// then closes the pinned connections and the underlying handle.
// Requests submitted after Close receive connection errors.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return nil
	}
	p.closing = true
	p.mu.Unlock()

	p.StopHealthMonitoring()
	// Drain before marking closed: accepted requests still acquire
	// slots while the dispatcher flushes its queues.
	p.dispatcher.stop()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()

	var errs *multierror.Error
	p.mu.Lock()
	conns := make([]*poolConn, 0, len(p.conns))
	for pc := range p.conns { conns = append(conns, pc) }
	p.conns = make(map[*poolConn]struct{})
	p.mu.Unlock()
	for _, pc := range conns {
		if err := pc.teardown(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for {
		select {
		case <-p.free:
			continue
		default:
		}
		break
	}
	if err := p.db.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	p.logConnection(context.Background(), "pool_closed", 0, nil)
	return errs.ErrorOrNil()
}

// SetSlowQueryThreshold changes the slow query threshold at runtime.
// Zero or negative disables slow query detection. An attached recorder
// follows the new threshold.
func (p *Pool) SetSlowQueryThreshold(d time.Duration) {
	if p == nil { return }
	p.slowThresholdNS.Store(int64(d))
	if p.slowRecorder != nil {
		p.slowRecorder.SetThreshold(d)
	}
}

func (p *Pool) slowThreshold() time.Duration {
	if p == nil { return 0 }
	return time.Duration(p.slowThresholdNS.Load())
}

// observeQuery funnels one executed statement through logging, metrics
// and the slow query monitor. Tracing happens at the call site, around
// the driver call itself.
func (p *Pool) observeQuery(ctx context.Context, operation, query string, args []any, duration time.Duration, err error) {
	if p == nil { return }
	p.logQuery(ctx, operation, query, args, duration, err)
	p.recordQuery(ctx, operation, duration, err)
	p.observeSlow(ctx, query, args, duration, err)
}

// PoolStats is a point-in-time snapshot of pool health counters.
type PoolStats struct {
	Size            int
	Idle            int
	InUse           int
	Waiters         int
	Invalidations   uint64
	StmtCacheHits   uint64
	StmtCacheMisses uint64
	StmtCacheSize   int
}

// Stats aggregates slot and statement cache counters.
func (p *Pool) Stats() PoolStats {
	if p == nil { return PoolStats{} }
	st := PoolStats{
		Size:          p.size,
		Idle:          len(p.free),
		Waiters:       int(p.waiters.Load()),
		Invalidations: p.invalidations.Load(),
	}
	st.InUse = st.Size - st.Idle
	p.mu.Lock()
	for pc := range p.conns {
		h, m, n := pc.stmts.stats()
		st.StmtCacheHits += h
		st.StmtCacheMisses += m
		st.StmtCacheSize += n
	}
	p.mu.Unlock()
	return st
}
