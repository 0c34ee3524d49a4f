package sqlbridge

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// poolConn is one pinned pool slot: a *sql.Conn held for the pool's
// lifetime plus the statement cache bound to it. Handles prepared on
// this slot never leave it.
type poolConn struct {
	id    string
	inner *sql.Conn
	p     *Pool
	stmts *stmtCache
	acqNS int64 // monotonic acquisition time (ns)
}

func (pc *poolConn) markAcquired() {
	if pc == nil || pc.p == nil { return }
	atomic.StoreInt64(&pc.acqNS, time.Now().UnixNano())
}

func (pc *poolConn) heldFor() time.Duration {
	ns := atomic.LoadInt64(&pc.acqNS)
	if ns == 0 { return 0 }
	return time.Duration(time.Now().UnixNano() - ns)
}

// teardown closes the slot's cached statements and the connection
// itself. Used on invalidate and at pool shutdown.
func (pc *poolConn) teardown() error {
	if pc == nil || pc.inner == nil { return nil }
	pc.stmts.closeAll()
	return pc.inner.Close()
}

// transient reports whether statements must be closed after use
// because caching is disabled.
func (pc *poolConn) transient() bool {
	return pc.stmts == nil || pc.stmts.cap == 0
}

// execPrepared runs a write statement through the slot's statement
// cache and funnels it through the pool's observation hooks.
func (pc *poolConn) execPrepared(ctx context.Context, text string, args []any) (sql.Result, error) {
	st, cached, err := pc.stmts.getOrPrepare(ctx, pc.inner, text)
	if err != nil { return nil, wrapError(KindStatementPrepare, text, err) }
	pc.p.recordStmtCache(ctx, cached)
	_, span := pc.p.startSpan(ctx, "exec", text)
	start := time.Now()
	res, err := st.ExecContext(ctx, args...)
	duration := time.Since(start)
	pc.p.finishSpan(span, err)
	pc.p.observeQuery(ctx, "exec", text, args, duration, err)
	if pc.transient() { _ = st.Close() }
	if err != nil { return nil, wrapError(KindExecution, text, err) }
	return res, nil
}

// queryPrepared runs a read statement through the slot's statement
// cache. Closing a transient statement here is safe: database/sql
// keeps the handle alive until the returned rows are closed.
func (pc *poolConn) queryPrepared(ctx context.Context, text string, args []any) (*sql.Rows, error) {
	st, cached, err := pc.stmts.getOrPrepare(ctx, pc.inner, text)
	if err != nil { return nil, wrapError(KindStatementPrepare, text, err) }
	pc.p.recordStmtCache(ctx, cached)
	_, span := pc.p.startSpan(ctx, "query", text)
	start := time.Now()
	rs, err := st.QueryContext(ctx, args...)
	duration := time.Since(start)
	pc.p.finishSpan(span, err)
	pc.p.observeQuery(ctx, "query", text, args, duration, err)
	if pc.transient() { _ = st.Close() }
	if err != nil { return nil, wrapError(KindExecution, text, err) }
	return rs, nil
}

// Conn is a borrowed pool slot. It is handed out by Acquire/WithConn
// for host-side work that bypasses sessions (schema setup, test
// fixtures); Close returns the slot to the pool.
type Conn struct {
	pc *poolConn
	p  *Pool
}

// WithConn acquires a connection, calls fn, and always returns the connection.
func (p *Pool) WithConn(ctx context.Context, fn func(*Conn) error) error {
	conn, err := p.Acquire(ctx)
	if err != nil { return err }
	defer conn.Close()
	return fn(conn)
}

// Acquire borrows a slot from the pool honoring context.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	pc, err := p.acquire(ctx)
	if err != nil { return nil, err }
	return &Conn{pc: pc, p: p}, nil
}

// Close returns the connection to the pool.
func (c *Conn) Close() error {
	if c == nil || c.pc == nil { return nil }
	pc := c.pc
	c.pc = nil
	c.p.release(context.Background(), pc, nil)
	return nil
}

// Exec executes a statement directly, without the statement cache.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c == nil || c.pc == nil { return nil, sql.ErrConnDone }
	_, span := c.p.startSpan(ctx, "exec", query)
	start := time.Now()
	res, err := c.pc.inner.ExecContext(ctx, query, args...)
	duration := time.Since(start)
	c.p.finishSpan(span, err)
	c.p.observeQuery(ctx, "exec", query, args, duration, err)
	return res, err
}

// Query runs a query and returns rows.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c == nil || c.pc == nil { return nil, sql.ErrConnDone }
	_, span := c.p.startSpan(ctx, "query", query)
	start := time.Now()
	rs, err := c.pc.inner.QueryContext(ctx, query, args...)
	duration := time.Since(start)
	c.p.finishSpan(span, err)
	c.p.observeQuery(ctx, "query", query, args, duration, err)
	return rs, err
}

// QueryRow runs a query and returns a single row.
func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	if c == nil || c.pc == nil { return &sql.Row{} }
	return c.pc.inner.QueryRowContext(ctx, query, args...)
}

// ExecCached executes a statement through the per-connection prepared
// statement cache.
func (c *Conn) ExecCached(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if c == nil || c.pc == nil { return nil, sql.ErrConnDone }
	return c.pc.execPrepared(ctx, query, args)
}

// QueryCached runs a query through the per-connection prepared
// statement cache.
func (c *Conn) QueryCached(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c == nil || c.pc == nil { return nil, sql.ErrConnDone }
	return c.pc.queryPrepared(ctx, query, args)
}

// EnableStmtCache replaces this connection's statement cache with one
// of the given capacity. Intended for setup, before traffic flows.
func (c *Conn) EnableStmtCache(capacity int) {
	if c == nil || c.pc == nil { return }
	if c.pc.stmts != nil { c.pc.stmts.closeAll() }
	c.pc.stmts = newStmtCache(capacity)
}

// QueryStream streams rows via callback; cb receives []any per row.
func (c *Conn) QueryStream(ctx context.Context, query string, cb func([]any) error, args ...any) error {
	rs, err := c.Query(ctx, query, args...)
	if err != nil { return err }
	defer rs.Close()
	cols, err := rs.Columns()
	if err != nil { return err }
	buf := make([]any, len(cols))
	scan := make([]any, len(cols))
	for i := range buf { scan[i] = &buf[i] }
	for rs.Next() {
		if err := rs.Scan(scan...); err != nil { return err }
		if err := cb(buf); err != nil { return err }
	}
	return rs.Err()
}

// BulkInsert inserts multiple rows using a single multi-values INSERT.
// table: table name; columns: column names; rows: len(rows) > 0 and each len == len(columns)
func (c *Conn) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) (sql.Result, error) {
	if c == nil || c.pc == nil { return nil, sql.ErrConnDone }
	query, args, err := buildMultiInsert(table, columns, rows, nil)
	if err != nil { return nil, err }
	return c.Exec(ctx, query, args...)
}

// InsertOnDuplicate is BulkInsert with ON DUPLICATE KEY UPDATE for the given updateCols.
func (c *Conn) InsertOnDuplicate(ctx context.Context, table string, columns []string, rows [][]any, updateCols []string) (sql.Result, error) {
	if c == nil || c.pc == nil { return nil, sql.ErrConnDone }
	query, args, err := buildMultiInsert(table, columns, rows, updateCols)
	if err != nil { return nil, err }
	return c.Exec(ctx, query, args...)
}

// NamedExec executes a statement with :name parameters bound from a
// struct or map. A slice argument runs the statement once per element.
func (c *Conn) NamedExec(ctx context.Context, query string, arg any) (sql.Result, error) {
	if c == nil || c.pc == nil { return nil, sql.ErrConnDone }
	shape, err := resolveShape(query)
	if err != nil { return nil, err }
	if shape.style != styleNamed {
		return nil, errorf(KindParameterMismatch, query, "query has no :name parameters")
	}
	v := reflect.ValueOf(arg)
	if v.IsValid() && v.Kind() == reflect.Slice {
		var last sql.Result
		for i := 0; i < v.Len(); i++ {
			args, err := shape.bind(v.Index(i).Interface())
			if err != nil { return nil, err }
			if last, err = c.Exec(ctx, shape.text, args...); err != nil { return nil, err }
		}
		if last == nil { return nil, fmt.Errorf("no rows to execute") }
		return last, nil
	}
	args, err := shape.bind(arg)
	if err != nil { return nil, err }
	return c.Exec(ctx, shape.text, args...)
}

// NamedQuery runs a select with :name parameters bound from a struct
// or map.
func (c *Conn) NamedQuery(ctx context.Context, query string, arg any) (*sql.Rows, error) {
	if c == nil || c.pc == nil { return nil, sql.ErrConnDone }
	shape, err := resolveShape(query)
	if err != nil { return nil, err }
	if shape.style != styleNamed {
		return nil, errorf(KindParameterMismatch, query, "query has no :name parameters")
	}
	args, err := shape.bind(arg)
	if err != nil { return nil, err }
	return c.Query(ctx, shape.text, args...)
}

// buildMultiInsert assembles a multi-values INSERT, optionally with an
// ON DUPLICATE KEY UPDATE clause.
func buildMultiInsert(table string, columns []string, rows [][]any, updateCols []string) (string, []any, error) {
	if len(rows) == 0 { return "", nil, fmt.Errorf("no rows to insert") }
	colN := len(columns)
	for i, r := range rows {
		if len(r) != colN { return "", nil, fmt.Errorf("row %d has %d values, want %d", i, len(r), colN) }
	}
	placeOne := "(" + strings.TrimRight(strings.Repeat("?,", colN), ",") + ")"
	var b strings.Builder
	b.Grow(64 + len(rows)*len(placeOne))
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ","))
	b.WriteString(") VALUES ")
	args := make([]any, 0, len(rows)*colN)
	for i, r := range rows {
		if i > 0 { b.WriteString(",") }
		b.WriteString(placeOne)
		args = append(args, r...)
	}
	if len(updateCols) > 0 {
		b.WriteString(" ON DUPLICATE KEY UPDATE ")
		for i, col := range updateCols {
			if i > 0 { b.WriteString(",") }
			b.WriteString(col)
			b.WriteString("=VALUES(")
			b.WriteString(col)
			b.WriteString(")")
		}
	}
	return b.String(), args, nil
}

func newPoolConn(p *Pool, inner *sql.Conn) *poolConn {
	return &poolConn{
		id:    uuid.NewString(),
		inner: inner,
		p:     p,
		stmts: newStmtCache(p.cfg.Pool.StmtCacheSize),
	}
}
